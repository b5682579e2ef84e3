package alerts

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"soilguard/internal/model"
)

func alert(id int64, level model.Severity) model.Alert {
	return model.Alert{ID: id, SensorID: 1, Level: level, Message: "m", Timestamp: time.Unix(id, 0).UTC()}
}

func ids(list []model.Alert) []int64 {
	out := make([]int64, 0, len(list))
	for _, a := range list {
		out = append(out, a.ID)
	}
	return out
}

func TestAggregateSortsNewestFirst(t *testing.T) {
	feed := Aggregate(map[int64][]model.Alert{
		2: {alert(4, model.SeverityAlerta), alert(9, model.SeverityOk)},
		1: {alert(7, model.SeverityCritico), alert(1, model.SeverityAlerta)},
		3: {},
	})
	require.Equal(t, []int64{9, 7, 4, 1}, ids(feed))
}

func TestAggregateKeepsDuplicates(t *testing.T) {
	a := alert(5, model.SeverityAlerta)
	b := a
	b.SensorID = 2
	feed := Aggregate(map[int64][]model.Alert{1: {a}, 2: {b}})
	require.Len(t, feed, 2)
	require.Equal(t, int64(1), feed[0].SensorID)
	require.Equal(t, int64(2), feed[1].SensorID)
}

func TestAggregateEmpty(t *testing.T) {
	require.Empty(t, Aggregate(nil))
}

func TestFilterNewSkipsSeen(t *testing.T) {
	batch := []model.Alert{alert(5, model.SeverityAlerta), alert(3, model.SeverityCritico)}
	seen := NewSeenSet(DefaultSeenCapacity, 3)

	toNotify, next := FilterNew(batch, seen)
	require.Equal(t, []int64{5}, ids(toNotify))
	require.Equal(t, []int64{3, 5}, next.IDs())
	require.Equal(t, []int64{3}, seen.IDs())
}

func TestFilterNewIgnoresOkLevel(t *testing.T) {
	toNotify, next := FilterNew([]model.Alert{alert(1, model.SeverityOk)}, NewSeenSet(0))
	require.NotNil(t, toNotify)
	require.Empty(t, toNotify)
	require.Zero(t, next.Len())
}

func TestFilterNewIsIdempotent(t *testing.T) {
	batch := []model.Alert{
		alert(9, model.SeverityCritico),
		alert(8, model.SeverityAlerta),
		alert(8, model.SeverityAlerta),
	}
	first, seen := FilterNew(batch, NewSeenSet(0))
	require.Equal(t, []int64{9, 8}, ids(first))

	second, again := FilterNew(batch, seen)
	require.Empty(t, second)
	require.Equal(t, seen.IDs(), again.IDs())
}

func TestSeenSetEvictsOldest(t *testing.T) {
	seen := NewSeenSet(3, 1, 2, 3)
	batch := []model.Alert{alert(5, model.SeverityAlerta), alert(4, model.SeverityAlerta)}

	toNotify, next := FilterNew(batch, seen)
	require.Len(t, toNotify, 2)
	require.Equal(t, 3, next.Len())
	require.Equal(t, []int64{3, 4, 5}, next.IDs())
}

func TestSeenSetCapacityDefault(t *testing.T) {
	ids := make([]int64, 0, 150)
	for i := int64(1); i <= 150; i++ {
		ids = append(ids, i)
	}
	seen := NewSeenSet(0, ids...)
	require.Equal(t, DefaultSeenCapacity, seen.Capacity())
	require.Equal(t, DefaultSeenCapacity, seen.Len())
	require.False(t, seen.Contains(50))
	require.True(t, seen.Contains(51))
}

func TestMarkSeenOnlyAddsGiven(t *testing.T) {
	seen := NewSeenSet(10, 1)
	next := MarkSeen(seen, []model.Alert{alert(7, model.SeverityCritico), alert(2, model.SeverityAlerta)})
	require.Equal(t, []int64{1, 2, 7}, next.IDs())
}

func TestStoreReplaceAndRemove(t *testing.T) {
	s := NewStore(2)
	s.Replace([]model.Alert{alert(3, model.SeverityAlerta), alert(2, model.SeverityAlerta), alert(1, model.SeverityAlerta)})
	require.Equal(t, []int64{3, 2}, ids(s.List(0)))
	require.Equal(t, []int64{3}, ids(s.List(1)))
	require.False(t, s.UpdatedAt().IsZero())

	require.Equal(t, 1, s.Remove(3))
	require.Equal(t, []int64{2}, ids(s.List(0)))
	require.Equal(t, []int64{2}, ids(s.Since(time.Unix(2, 0))))

	s.Clear()
	require.Empty(t, s.List(0))
}
