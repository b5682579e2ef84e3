package alerts

import (
	"sort"

	"soilguard/internal/model"
)

// Aggregate merges per-sensor alert lists into one feed ordered by alert ID,
// newest first. Nothing is dropped: duplicates pass through and the output
// length is the sum of the input lengths. Sensors are concatenated in
// ascending ID order so equal alert IDs keep a stable position.
func Aggregate(perSensor map[int64][]model.Alert) []model.Alert {
	sensors := make([]int64, 0, len(perSensor))
	total := 0
	for id, list := range perSensor {
		sensors = append(sensors, id)
		total += len(list)
	}
	sort.Slice(sensors, func(i, j int) bool { return sensors[i] < sensors[j] })

	out := make([]model.Alert, 0, total)
	for _, id := range sensors {
		out = append(out, perSensor[id]...)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out
}
