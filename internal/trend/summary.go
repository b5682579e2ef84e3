// Package trend computes the statistics shown in a metric's detail view.
package trend

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"soilguard/internal/model"
)

// ErrEmptySeries is returned when there is no usable value to summarize.
// Callers should render "no data" instead of statistics.
var ErrEmptySeries = errors.New("empty series")

// Weeks is the number of trailing weekly buckets in a Summary.
const Weeks = 4

type Week struct {
	Label  string    `json:"label"`
	Start  time.Time `json:"start"`
	End    time.Time `json:"end"`
	Values []float64 `json:"values"`
}

// Mean returns the bucket average, or false for an empty bucket.
func (w Week) Mean() (float64, bool) {
	if len(w.Values) == 0 {
		return 0, false
	}
	var sum float64
	for _, v := range w.Values {
		sum += v
	}
	return sum / float64(len(w.Values)), true
}

// Max returns the bucket maximum, or false for an empty bucket.
func (w Week) Max() (float64, bool) {
	if len(w.Values) == 0 {
		return 0, false
	}
	top := w.Values[0]
	for _, v := range w.Values[1:] {
		if v > top {
			top = v
		}
	}
	return top, true
}

type Summary struct {
	Metric model.Metric `json:"metric"`
	Count  int          `json:"count"`
	Min    float64      `json:"min"`
	Max    float64      `json:"max"`
	Mean   float64      `json:"mean"`
	Weekly []Week       `json:"weekly"`
}

// Summarize computes min, max and mean of metric over series and splits the
// last four weeks before now into buckets, oldest first. Bucket i covers
// [now-7(i+1) days, now-7i days); a reading on a shared edge belongs to the
// later bucket only. Readings without a finite value for metric are skipped.
func Summarize(series []model.Reading, metric model.Metric, now time.Time) (Summary, error) {
	if !metric.Valid() {
		return Summary{}, fmt.Errorf("summarize: %w: %q", model.ErrUnknownMetric, metric)
	}
	if len(series) == 0 {
		return Summary{}, ErrEmptySeries
	}
	sorted := make([]model.Reading, len(series))
	copy(sorted, series)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Timestamp.Before(sorted[j].Timestamp)
	})

	sum := Summary{Metric: metric}
	var total float64
	for _, r := range sorted {
		v, ok := r.Value(metric)
		if !ok {
			continue
		}
		if sum.Count == 0 || v < sum.Min {
			sum.Min = v
		}
		if sum.Count == 0 || v > sum.Max {
			sum.Max = v
		}
		total += v
		sum.Count++
	}
	if sum.Count == 0 {
		return Summary{}, ErrEmptySeries
	}
	sum.Mean = total / float64(sum.Count)
	sum.Weekly = weeklyBuckets(sorted, metric, now)
	return sum, nil
}

func weeklyBuckets(sorted []model.Reading, metric model.Metric, now time.Time) []Week {
	weeks := make([]Week, 0, Weeks)
	for i := Weeks - 1; i >= 0; i-- {
		w := Week{
			Label:  fmt.Sprintf("%d sem atrás", i+1),
			Start:  now.AddDate(0, 0, -7*(i+1)),
			End:    now.AddDate(0, 0, -7*i),
			Values: []float64{},
		}
		for _, r := range sorted {
			if r.Timestamp.Before(w.Start) || !r.Timestamp.Before(w.End) {
				continue
			}
			if v, ok := r.Value(metric); ok {
				w.Values = append(w.Values, v)
			}
		}
		weeks = append(weeks, w)
	}
	return weeks
}
