package planner

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xtxerr/mobility/internal/errors"
	"github.com/xtxerr/mobility/internal/metric"
	"github.com/xtxerr/mobility/internal/store"
)

func kindsOf(descs []Descriptor) []metric.Kind {
	out := make([]metric.Kind, len(descs))
	for i, d := range descs {
		out[i] = d.Kind
	}
	return out
}

func TestPlan_AllExpandsToAvailable(t *testing.T) {
	descs, err := Plan(All(), metric.Unbounded(), 0, metric.V(17, 0))
	require.NoError(t, err)
	assert.Equal(t, metric.AllKinds(), kindsOf(descs))

	descs, err = Plan(All(), metric.Unbounded(), 0, metric.V(14, 2))
	require.NoError(t, err)
	assert.Equal(t, metric.Available(metric.V(14, 2)), kindsOf(descs))
	assert.NotContains(t, kindsOf(descs), metric.WalkingSteadiness)
}

func TestPlan_BelowBaseline(t *testing.T) {
	_, err := Plan(All(), metric.Unbounded(), 0, metric.V(12, 5))
	assert.ErrorIs(t, err, errors.ErrUnsupportedPlatform)

	_, err = Plan(KindsOf(metric.WalkingSpeed), metric.Unbounded(), 0, metric.V(12, 5))
	assert.ErrorIs(t, err, errors.ErrUnsupportedPlatform)
}

func TestPlan_ExplicitKeyAboveTier(t *testing.T) {
	_, err := Plan(KindsOf(metric.WalkingSteadiness), metric.Unbounded(), 0, metric.V(14, 0))
	assert.ErrorIs(t, err, errors.ErrUnsupportedPlatform)
}

func TestPlan_UnknownKey(t *testing.T) {
	_, err := Plan(Keys("walkingSpeed", "heartRate"), metric.Unbounded(), 0, metric.V(17, 0))
	assert.ErrorIs(t, err, errors.ErrUnknownMetric)
	assert.Contains(t, err.Error(), "heartRate")
}

func TestPlan_EmptyKeys(t *testing.T) {
	_, err := Plan(Keys(), metric.Unbounded(), 0, metric.V(17, 0))
	assert.ErrorIs(t, err, errors.ErrMissingField)
}

func TestPlan_DedupesAndOrders(t *testing.T) {
	descs, err := Plan(Keys("STEP_LENGTH", "walkingSpeed", "stepLength"), metric.Unbounded(), 0, metric.V(17, 0))
	require.NoError(t, err)
	assert.Equal(t, []metric.Kind{metric.WalkingSpeed, metric.StepLength}, kindsOf(descs))
}

func TestPlan_SharedWindowAndLimit(t *testing.T) {
	window := metric.Between(1000, 5000)

	descs, err := Plan(KindsOf(metric.WalkingSpeed, metric.AsymmetryPercentage), window, 50, metric.V(16, 0))
	require.NoError(t, err)
	require.Len(t, descs, 2)
	for _, d := range descs {
		assert.Equal(t, window, d.Window)
		assert.Equal(t, 50, d.Limit)
		assert.Equal(t, store.Query{Kind: d.Kind, Window: window, Limit: 50}, d.Query())
	}
}

func TestPlan_NonPositiveLimitIsUnbounded(t *testing.T) {
	for _, limit := range []int{0, -1, -100} {
		descs, err := Plan(All(), metric.Unbounded(), limit, metric.V(17, 0))
		require.NoError(t, err)
		for _, d := range descs {
			assert.Equal(t, store.NoLimit, d.Limit)
		}
	}
}

func TestParseSelection(t *testing.T) {
	assert.True(t, ParseSelection([]string{"all"}).All)
	assert.True(t, ParseSelection([]string{" ALL "}).All)

	sel := ParseSelection([]string{"all", "walkingSpeed"})
	assert.False(t, sel.All)
	assert.Equal(t, []string{"all", "walkingSpeed"}, sel.Keys)

	_, err := Plan(sel, metric.Unbounded(), 0, metric.V(17, 0))
	assert.ErrorIs(t, err, errors.ErrUnknownMetric)
}
