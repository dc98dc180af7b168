package pebble

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xtxerr/mobility/internal/errors"
	"github.com/xtxerr/mobility/internal/metric"
	"github.com/xtxerr/mobility/internal/store"
	"github.com/xtxerr/mobility/internal/unit"
)

func openStore(t *testing.T, v metric.Version) *Store {
	t.Helper()
	s, err := Open(Config{Version: v, DataDir: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestKeyOrdering(t *testing.T) {
	a := encodeKey(metric.StepLength, -5, -10, 1)
	b := encodeKey(metric.StepLength, 0, -10, 1)
	c := encodeKey(metric.StepLength, 10, 0, 1)
	d := encodeKey(metric.StepLength, 10, 5, 1)

	assert.True(t, string(a) < string(b))
	assert.True(t, string(b) < string(c))
	assert.True(t, string(c) < string(d))

	assert.Equal(t, int64(math.MinInt64), unflip(flip(math.MinInt64)))
	assert.Equal(t, int64(-1), unflip(flip(-1)))
}

func TestAppendAndQuery(t *testing.T) {
	ctx := context.Background()
	s := openStore(t, metric.V(17, 0))

	require.NoError(t, s.Append(ctx, metric.StepLength, []store.RawSample{
		{Value: 0.70, Unit: unit.Meter, StartMs: 1000, EndMs: 1100},
		{Value: 72, Unit: unit.Centimeter, StartMs: 2000, EndMs: 2100},
		{Value: 0.74, Unit: unit.Meter, StartMs: 3000, EndMs: 3100},
		{Value: 0.75, Unit: unit.Meter, StartMs: 3000, EndMs: 3100},
	}))
	require.NoError(t, s.Append(ctx, metric.WalkingSpeed, []store.RawSample{
		{Value: 1.2, Unit: unit.MetersPerSecond, StartMs: 1500, EndMs: 1600},
	}))

	n, err := s.Count(metric.StepLength)
	require.NoError(t, err)
	assert.Equal(t, 4, n, "samples with equal timestamps are kept")

	got, err := s.Query(ctx, store.Query{Kind: metric.StepLength})
	require.NoError(t, err)
	require.Len(t, got, 4)
	assert.Equal(t, int64(3100), got[0].EndMs)
	assert.Equal(t, int64(1100), got[3].EndMs)
	assert.Equal(t, store.RawSample{Value: 72, Unit: unit.Centimeter, StartMs: 2000, EndMs: 2100}, got[2])

	got, err = s.Query(ctx, store.Query{Kind: metric.StepLength, Window: metric.Between(1000, 3000), Limit: 1})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, int64(2000), got[0].StartMs)

	got, err = s.Query(ctx, store.Query{Kind: metric.StepLength, Window: metric.Since(1500)})
	require.NoError(t, err)
	assert.Len(t, got, 3)

	got, err = s.Query(ctx, store.Query{Kind: metric.AsymmetryPercentage})
	require.NoError(t, err)
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func TestReopenKeepsData(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	s, err := Open(Config{Version: metric.V(17, 0), DataDir: dir, Sync: true})
	require.NoError(t, err)
	require.NoError(t, s.Append(ctx, metric.WalkingSteadiness, []store.RawSample{{Value: 1, Unit: unit.Count, StartMs: 1, EndMs: 2}}))
	require.NoError(t, s.Close())

	s, err = Open(Config{Version: metric.V(17, 0), DataDir: dir})
	require.NoError(t, err)
	defer s.Close()

	got, err := s.Query(ctx, store.Query{Kind: metric.WalkingSteadiness})
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestReopenContinuesSequence(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	same := []store.RawSample{{Value: 80, Unit: unit.Count, StartMs: 1000, EndMs: 2000}}

	s, err := Open(Config{Version: metric.V(17, 0), DataDir: dir})
	require.NoError(t, err)
	require.NoError(t, s.Append(ctx, metric.WalkingSteadiness, same))
	require.NoError(t, s.Append(ctx, metric.WalkingSteadiness, same))
	require.Equal(t, uint64(2), s.seq.Load())
	require.NoError(t, s.Close())

	s, err = Open(Config{Version: metric.V(17, 0), DataDir: dir})
	require.NoError(t, err)
	defer s.Close()
	assert.Equal(t, uint64(2), s.seq.Load())

	// Equal timestamps written after a reopen must not overwrite earlier ones.
	require.NoError(t, s.Append(ctx, metric.WalkingSteadiness, same))
	n, err := s.Count(metric.WalkingSteadiness)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	got, err := s.Query(ctx, store.Query{Kind: metric.WalkingSteadiness})
	require.NoError(t, err)
	assert.Len(t, got, 3)
}

func TestQuery_TypeUnsupported(t *testing.T) {
	s := openStore(t, metric.V(13, 0))
	_, err := s.Query(context.Background(), store.Query{Kind: metric.WalkingSteadiness})
	assert.ErrorIs(t, err, errors.ErrTypeUnsupported)
}

func TestAppend_InvalidUnit(t *testing.T) {
	s := openStore(t, metric.V(17, 0))
	err := s.Append(context.Background(), metric.StepLength, []store.RawSample{{Value: 1, Unit: unit.Unknown}})
	assert.ErrorIs(t, err, errors.ErrInvalidArgument)
}
