package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"soilguard/internal/model"
)

func TestStoreKeepsNewestReading(t *testing.T) {
	s := NewStore(10)
	now := time.Now()
	s.Update(model.Assessment{SensorID: 1, ReadingID: 2, Timestamp: now})
	s.Update(model.Assessment{SensorID: 1, ReadingID: 1, Timestamp: now.Add(-time.Minute)})

	a, updated, ok := s.Get(1)
	require.True(t, ok)
	require.Equal(t, int64(2), a.ReadingID)
	require.False(t, updated.IsZero())
}

func TestStoreEvictsLeastRecentlyUpdated(t *testing.T) {
	s := NewStore(2)
	s.Update(model.Assessment{SensorID: 1})
	time.Sleep(time.Millisecond)
	s.Update(model.Assessment{SensorID: 2})
	time.Sleep(time.Millisecond)
	s.Update(model.Assessment{SensorID: 3})

	require.Equal(t, 2, s.Len())
	_, _, ok := s.Get(1)
	require.False(t, ok)
	require.Len(t, s.GetAll(), 2)

	s.Clear()
	require.Zero(t, s.Len())
}

func TestRecordHelpers(t *testing.T) {
	before := testutil.ToFloat64(NotificationsTotal.WithLabelValues("mqtt", "failure"))
	RecordNotification("mqtt", false)
	require.Equal(t, before+1, testutil.ToFloat64(NotificationsTotal.WithLabelValues("mqtt", "failure")))

	RecordClassified(model.MetricPH, model.SeverityAlerta)
	require.GreaterOrEqual(t, testutil.ToFloat64(ReadingsClassifiedTotal.WithLabelValues("ph", "Alerta")), 1.0)

	RecordRefresh(time.Millisecond, "seenAlertIds", 3)
	require.Equal(t, 3.0, testutil.ToFloat64(SeenSetSize.WithLabelValues("seenAlertIds")))
}
