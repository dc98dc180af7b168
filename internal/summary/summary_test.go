package summary

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xtxerr/mobility/internal/errors"
	"github.com/xtxerr/mobility/internal/metric"
)

func TestAccumulator_Result(t *testing.T) {
	acc, err := NewAccumulator(metric.WalkingSpeed, 0.01)
	require.NoError(t, err)

	for i := 1; i <= 100; i++ {
		acc.Add(metric.Sample{Value: float64(i), StartMs: int64(i * 10), EndMs: int64(i*10 + 5)})
	}

	st := acc.Result()
	assert.Equal(t, "walkingSpeed", st.Metric)
	assert.Equal(t, "m/s", st.Unit)
	assert.Equal(t, int64(100), st.Count)
	assert.Equal(t, 1.0, st.Min)
	assert.Equal(t, 100.0, st.Max)
	assert.InDelta(t, 50.5, st.Mean, 1e-9)
	assert.Equal(t, int64(10), st.FirstMs)
	assert.Equal(t, int64(1005), st.LastMs)

	assert.InEpsilon(t, 50, st.P50, 0.03)
	assert.InEpsilon(t, 90, st.P90, 0.03)
	assert.InEpsilon(t, 95, st.P95, 0.03)
	assert.InEpsilon(t, 99, st.P99, 0.03)
	assert.LessOrEqual(t, st.P99, st.Max)
}

func TestAccumulator_SkipsNonFinite(t *testing.T) {
	acc, err := NewAccumulator(metric.StepLength, DefaultAccuracy)
	require.NoError(t, err)

	acc.Add(metric.Sample{Value: math.NaN()})
	acc.Add(metric.Sample{Value: math.Inf(1)})
	acc.Add(metric.Sample{Value: 0.7, StartMs: 1, EndMs: 2})

	assert.Equal(t, int64(1), acc.Count())
	assert.Equal(t, 0.7, acc.Result().Mean)
}

func TestAccumulator_SkipsUnindexable(t *testing.T) {
	acc, err := NewAccumulator(metric.WalkingSteadiness, DefaultAccuracy)
	require.NoError(t, err)

	acc.Add(metric.Sample{Value: 80, StartMs: 1, EndMs: 2})
	acc.Add(metric.Sample{Value: math.MaxFloat64, StartMs: 3, EndMs: 4})

	assert.Equal(t, int64(1), acc.Count())
	assert.Equal(t, float64(acc.Count()), acc.sketch.GetCount())

	st := acc.Result()
	assert.Equal(t, 80.0, st.Max)
	assert.Equal(t, int64(2), st.LastMs)
}

func TestAccumulator_Empty(t *testing.T) {
	acc, err := NewAccumulator(metric.AsymmetryPercentage, DefaultAccuracy)
	require.NoError(t, err)

	st := acc.Result()
	assert.Equal(t, Stats{Metric: "asymmetryPercentage", Unit: "%"}, st)
}

func TestAccumulator_Merge(t *testing.T) {
	a, _ := NewAccumulator(metric.StepLength, DefaultAccuracy)
	b, _ := NewAccumulator(metric.StepLength, DefaultAccuracy)

	a.Add(metric.Sample{Value: 0.6, StartMs: 100, EndMs: 200})
	b.Add(metric.Sample{Value: 0.8, StartMs: 50, EndMs: 300})

	require.NoError(t, a.Merge(b))
	st := a.Result()
	assert.Equal(t, int64(2), st.Count)
	assert.Equal(t, 0.6, st.Min)
	assert.Equal(t, 0.8, st.Max)
	assert.Equal(t, int64(50), st.FirstMs)
	assert.Equal(t, int64(300), st.LastMs)

	c, _ := NewAccumulator(metric.WalkingSpeed, DefaultAccuracy)
	c.Add(metric.Sample{Value: 1})
	assert.ErrorIs(t, a.Merge(c), errors.ErrInvalidArgument)
}

func TestNewAccumulator_InvalidAccuracy(t *testing.T) {
	for _, acc := range []float64{0, -0.1, 1, 2} {
		_, err := NewAccumulator(metric.WalkingSpeed, acc)
		assert.ErrorIs(t, err, errors.ErrInvalidArgument, "accuracy %v", acc)
	}
}

func TestSummarize(t *testing.T) {
	rs := metric.NewResultSet(map[metric.Kind][]metric.Sample{
		metric.StepLength:   {{Value: 0.7, StartMs: 0, EndMs: 10}, {Value: 0.9, StartMs: 10, EndMs: 20}},
		metric.WalkingSpeed: nil,
	})

	stats, err := Summarize(rs, 0)
	require.NoError(t, err)
	require.Len(t, stats, 2)

	assert.Equal(t, "walkingSpeed", stats[0].Metric)
	assert.Equal(t, int64(0), stats[0].Count)

	assert.Equal(t, "stepLength", stats[1].Metric)
	assert.Equal(t, int64(2), stats[1].Count)
	assert.InDelta(t, 0.8, stats[1].Mean, 1e-9)
}
