package thresholds

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	"soilguard/internal/model"
)

func TestDefaultTableIsValid(t *testing.T) {
	table := DefaultTable()
	require.NoError(t, Validate(table))
	require.Equal(t, DefaultVersion, table.Version)
	for _, m := range model.AllMetrics {
		_, ok := table.Band(m)
		require.True(t, ok, "missing band for %s", m)
	}
}

func TestValidateRejectsBadTables(t *testing.T) {
	cases := map[string]func(*Table){
		"no version": func(tb *Table) { tb.Version = "" },
		"missing metric": func(tb *Table) {
			delete(tb.Bands, model.MetricPH)
		},
		"unknown metric": func(tb *Table) {
			tb.Bands["airHumidity"] = Band{Ideal: Interval{1, 2}}
		},
		"inverted ideal": func(tb *Table) {
			b := tb.Bands[model.MetricPH]
			b.Ideal = Interval{7, 6}
			tb.Bands[model.MetricPH] = b
		},
		"nan intermediate": func(tb *Table) {
			b := tb.Bands[model.MetricTemperature]
			b.Intermediate = []Interval{{math.NaN(), 1}}
			tb.Bands[model.MetricTemperature] = b
		},
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			table := DefaultTable()
			mutate(table)
			require.Error(t, Validate(table))
		})
	}
	require.Error(t, Validate(nil))
}

func TestCloneIsDeep(t *testing.T) {
	orig := DefaultTable()
	cp := orig.Clone()
	b := cp.Bands[model.MetricSoilHumidity]
	b.Intermediate[0] = Interval{0, 1}
	cp.Bands[model.MetricSoilHumidity] = b

	require.Equal(t, Interval{15, 20}, orig.Bands[model.MetricSoilHumidity].Intermediate[0])
	require.Nil(t, (*Table)(nil).Clone())
}

func TestIntervalIsClosed(t *testing.T) {
	iv := Interval{20, 60}
	require.True(t, iv.Contains(20))
	require.True(t, iv.Contains(60))
	require.False(t, iv.Contains(19.999))
	require.Equal(t, 40.0, iv.Mid())
}
