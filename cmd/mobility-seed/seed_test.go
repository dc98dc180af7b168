package main

import (
	"context"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xtxerr/mobility/internal/metric"
	"github.com/xtxerr/mobility/internal/store"
	"github.com/xtxerr/mobility/internal/store/archive"
	"github.com/xtxerr/mobility/internal/store/duckdb"
	"github.com/xtxerr/mobility/internal/store/pebble"
	"github.com/xtxerr/mobility/internal/unit"
)

var day0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func TestGenerator_Deterministic(t *testing.T) {
	a := NewGenerator(42, day0, 7, 3)
	b := NewGenerator(42, day0, 7, 3)

	for _, k := range metric.AllKinds() {
		if diff := cmp.Diff(a.Generate(k), b.Generate(k)); diff != "" {
			t.Errorf("%s differs between equal seeds (-a +b):\n%s", k, diff)
		}
	}

	c := NewGenerator(43, day0, 7, 3)
	assert.NotEqual(t, NewGenerator(42, day0, 7, 3).Generate(metric.WalkingSpeed), c.Generate(metric.WalkingSpeed))
}

func TestGenerator_Shape(t *testing.T) {
	g := NewGenerator(1, day0, 10, 4)
	end := day0.AddDate(0, 0, 10).UnixMilli()

	for _, k := range metric.AllKinds() {
		samples := g.Generate(k)
		want := 40
		if profiles[k].daily {
			want = 10
		}
		require.Len(t, samples, want, k.String())

		for _, s := range samples {
			assert.GreaterOrEqual(t, s.StartMs, day0.UnixMilli())
			assert.Less(t, s.EndMs, end+int64(24*time.Hour/time.Millisecond))
			assert.Less(t, s.StartMs, s.EndMs)
			assert.Equal(t, k.Unit().Dimension(), s.Unit.Dimension(), "%s stored in %s", k, s.Unit)

			v, err := s.Convert(k)
			require.NoError(t, err)
			p := profiles[k]
			assert.GreaterOrEqual(t, v.Value, p.min-0.01, k.String())
			assert.LessOrEqual(t, v.Value, p.max+0.01, k.String())
		}
	}
}

func TestGenerator_MixedUnits(t *testing.T) {
	samples := NewGenerator(7, day0, 2, 2).Generate(metric.WalkingSpeed)
	seen := make(map[unit.Unit]bool)
	for _, s := range samples {
		seen[s.Unit] = true
	}
	assert.True(t, seen[unit.MetersPerSecond])
	assert.True(t, seen[unit.KilometersPerHour])
}

func TestSeed_Archive(t *testing.T) {
	dir := t.TempDir()
	n, err := seed(context.Background(), options{backend: "archive", dir: dir, days: 3, walks: 2, seed: 1, end: day0})
	require.NoError(t, err)
	assert.Equal(t, 4*6+3, n)

	files, err := archive.Files(dir)
	require.NoError(t, err)
	require.Len(t, files, 1)

	records, err := archive.ReadFile(files[0])
	require.NoError(t, err)
	assert.Len(t, records, n)
}

func TestSeed_DuckDB(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	_, err := seed(ctx, options{backend: "duckdb", dir: dir, days: 2, walks: 3, seed: 1, end: day0})
	require.NoError(t, err)

	s, err := duckdb.Open(duckdb.Config{Version: metric.V(17, 0), DataDir: dir})
	require.NoError(t, err)
	defer s.Close()

	got, err := s.Query(ctx, store.Query{Kind: metric.StepLength})
	require.NoError(t, err)
	assert.Len(t, got, 6)
}

func TestSeed_Pebble(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	n, err := seed(ctx, options{backend: "pebble", dir: dir, days: 2, walks: 3, seed: 1, end: day0})
	require.NoError(t, err)
	assert.Equal(t, 4*6+2, n)

	s, err := pebble.Open(pebble.Config{Version: metric.V(17, 0), DataDir: dir})
	require.NoError(t, err)
	defer s.Close()

	count, err := s.Count(metric.WalkingSteadiness)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestSeed_Invalid(t *testing.T) {
	_, err := seed(context.Background(), options{backend: "archive", dir: t.TempDir(), days: 0, walks: 1})
	assert.Error(t, err)

	_, err = seed(context.Background(), options{backend: "tape", dir: t.TempDir(), days: 1, walks: 1})
	assert.Error(t, err)
}
