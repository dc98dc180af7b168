package memory

import (
	"context"
	"sync"
	"testing"

	"github.com/xtxerr/mobility/internal/errors"
	"github.com/xtxerr/mobility/internal/metric"
	"github.com/xtxerr/mobility/internal/store"
	"github.com/xtxerr/mobility/internal/unit"
)

func raw(v float64, u unit.Unit, start, end int64) store.RawSample {
	return store.RawSample{Value: v, Unit: u, StartMs: start, EndMs: end}
}

func TestRingBuffer_Overwrite(t *testing.T) {
	rb := NewRingBuffer(3)
	for i := 0; i < 5; i++ {
		rb.Push(raw(float64(i), unit.Meter, int64(i), int64(i)+1))
	}

	if rb.Len() != 3 {
		t.Fatalf("expected len=3, got %d", rb.Len())
	}

	got := rb.Query(metric.Unbounded())
	for i, s := range got {
		if s.Value != float64(i+2) {
			t.Errorf("position %d: expected value %d, got %v", i, i+2, s.Value)
		}
	}

	stats := rb.Stats()
	if stats.PushCount != 5 || stats.DropCount != 2 {
		t.Errorf("unexpected stats: %+v", stats)
	}
}

func TestRingBuffer_QueryWindow(t *testing.T) {
	rb := NewRingBuffer(10)
	rb.Push(
		raw(1, unit.Meter, 999, 1200),
		raw(2, unit.Meter, 1000, 1200),
		raw(3, unit.Meter, 1999, 2200),
		raw(4, unit.Meter, 2000, 2200),
	)

	got := rb.Query(metric.Between(1000, 2000))
	if len(got) != 2 || got[0].Value != 2 || got[1].Value != 3 {
		t.Errorf("unexpected window result: %+v", got)
	}
}

func TestRingBuffer_EvictOlderThan(t *testing.T) {
	rb := NewRingBuffer(10)
	rb.Push(raw(1, unit.Meter, 0, 100), raw(2, unit.Meter, 100, 200), raw(3, unit.Meter, 200, 300))

	if n := rb.EvictOlderThan(200); n != 1 {
		t.Errorf("expected 1 evicted, got %d", n)
	}
	if rb.Len() != 2 {
		t.Errorf("expected len=2, got %d", rb.Len())
	}
}

func TestStore_QueryNewestFirstWithLimit(t *testing.T) {
	s := New(Config{Version: metric.V(17, 0), Capacity: 100})
	ctx := context.Background()

	err := s.Append(ctx, metric.WalkingSpeed, []store.RawSample{
		raw(1.0, unit.MetersPerSecond, 0, 100),
		raw(1.1, unit.MetersPerSecond, 200, 300),
		raw(1.2, unit.MetersPerSecond, 100, 200),
	})
	if err != nil {
		t.Fatalf("append: %v", err)
	}

	got, err := s.Query(ctx, store.Query{Kind: metric.WalkingSpeed, Limit: 2})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(got) != 2 || got[0].EndMs != 300 || got[1].EndMs != 200 {
		t.Errorf("expected two newest samples, got %+v", got)
	}

	empty, err := s.Query(ctx, store.Query{Kind: metric.StepLength})
	if err != nil || len(empty) != 0 {
		t.Errorf("expected no step length samples, got %v, %v", empty, err)
	}
}

func TestStore_AppendRejectsWrongDimension(t *testing.T) {
	s := New(Config{Version: metric.V(17, 0)})
	err := s.Append(context.Background(), metric.StepLength, []store.RawSample{raw(1, unit.MetersPerSecond, 0, 1)})
	if !errors.Is(err, errors.ErrInvalidArgument) {
		t.Errorf("expected ErrInvalidArgument, got %v", err)
	}

	err = s.Append(context.Background(), metric.StepLength, []store.RawSample{raw(1, unit.Meter, 10, 1)})
	if !errors.Is(err, errors.ErrInvalidArgument) {
		t.Errorf("expected ErrInvalidArgument for reversed sample, got %v", err)
	}
}

func TestStore_TypeUnsupportedOnTier(t *testing.T) {
	s := New(Config{Version: metric.V(14, 0)})
	_, err := s.Query(context.Background(), store.Query{Kind: metric.WalkingSteadiness})
	if !errors.Is(err, errors.ErrTypeUnsupported) {
		t.Errorf("expected ErrTypeUnsupported, got %v", err)
	}
}

func TestStore_Authorization(t *testing.T) {
	ctx := context.Background()
	s := New(Config{Version: metric.V(17, 0), RequireAuthorization: true})

	_, err := s.Query(ctx, store.Query{Kind: metric.WalkingSpeed})
	if !errors.Is(err, errors.ErrPermissionDenied) {
		t.Fatalf("expected ErrPermissionDenied before consent, got %v", err)
	}

	if err := s.RequestAuthorization(ctx, []metric.Kind{metric.WalkingSpeed}); err != nil {
		t.Fatalf("authorize: %v", err)
	}
	if _, err := s.Query(ctx, store.Query{Kind: metric.WalkingSpeed}); err != nil {
		t.Errorf("expected access after consent, got %v", err)
	}
	if _, err := s.Query(ctx, store.Query{Kind: metric.StepLength}); !errors.Is(err, errors.ErrPermissionDenied) {
		t.Errorf("step length was never granted, got %v", err)
	}

	denied := New(Config{Version: metric.V(17, 0), DenyAuthorization: true})
	if err := denied.RequestAuthorization(ctx, metric.AllKinds()); !errors.Is(err, errors.ErrAuthorizationFailed) {
		t.Errorf("expected ErrAuthorizationFailed, got %v", err)
	}
}

func TestStore_Closed(t *testing.T) {
	s := New(Config{Version: metric.V(17, 0)})
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Query(context.Background(), store.Query{Kind: metric.WalkingSpeed}); !errors.Is(err, errors.ErrStoreClosed) {
		t.Errorf("expected ErrStoreClosed, got %v", err)
	}
}

func TestStore_ConcurrentAppendQuery(t *testing.T) {
	s := New(Config{Version: metric.V(17, 0), Capacity: 1000})
	ctx := context.Background()

	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(2)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				ts := int64(w*1000 + i)
				_ = s.Append(ctx, metric.StepLength, []store.RawSample{raw(0.7, unit.Meter, ts, ts+1)})
			}
		}(w)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				_, _ = s.Query(ctx, store.Query{Kind: metric.StepLength, Limit: 10})
			}
		}()
	}
	wg.Wait()

	if n := s.Stats()[metric.StepLength].Count; n != 400 {
		t.Errorf("expected 400 samples, got %d", n)
	}
}
