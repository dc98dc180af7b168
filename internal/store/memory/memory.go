// Package memory implements an in-memory sample store with one ring buffer
// per metric kind.
//
// It backs tests and demos, and is the ingestion target when the daemon runs
// without a persistent backend. Stores created with RequireAuthorization
// deny reads of a kind until RequestAuthorization has granted it.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/xtxerr/mobility/config"
	"github.com/xtxerr/mobility/internal/errors"
	"github.com/xtxerr/mobility/internal/logging"
	"github.com/xtxerr/mobility/internal/metric"
	"github.com/xtxerr/mobility/internal/store"
)

var log = logging.Component("store.memory")

// Config configures a memory store.
type Config struct {
	// Version is the capability tier the store reports.
	Version metric.Version

	// Capacity is the per-kind ring buffer size.
	Capacity int

	// RequireAuthorization denies reads until access is granted.
	RequireAuthorization bool

	// DenyAuthorization makes RequestAuthorization fail, simulating a user
	// who declines consent.
	DenyAuthorization bool
}

// Store is an in-memory store.SampleStore.
type Store struct {
	store.PlatformVersion

	cfg     Config
	buffers map[metric.Kind]*RingBuffer

	mu         sync.RWMutex
	authorized map[metric.Kind]bool
	closed     bool
}

// New creates a memory store.
func New(cfg Config) *Store {
	if cfg.Capacity <= 0 {
		cfg.Capacity = config.DefaultMemoryCapacity
	}

	s := &Store{
		PlatformVersion: store.PlatformVersion{Version: cfg.Version},
		cfg:             cfg,
		buffers:         make(map[metric.Kind]*RingBuffer),
		authorized:      make(map[metric.Kind]bool),
	}
	for _, k := range metric.AllKinds() {
		s.buffers[k] = NewRingBuffer(cfg.Capacity)
	}
	return s
}

// Query implements store.SampleStore. Samples come back newest first.
func (s *Store) Query(ctx context.Context, q store.Query) ([]store.RawSample, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := s.check(q.Kind); err != nil {
		return nil, err
	}

	samples := s.buffers[q.Kind].Query(q.Window)
	store.SortNewestFirst(samples)
	return store.Limit(samples, q.Limit), nil
}

func (s *Store) check(kind metric.Kind) error {
	if !kind.Valid() {
		return errors.NewInvalidArgument("kind", fmt.Sprintf("%d", int(kind)))
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return errors.ErrStoreClosed
	}
	if err := store.CheckAvailable(kind, s.Version); err != nil {
		return err
	}
	if s.cfg.RequireAuthorization && !s.authorized[kind] {
		return fmt.Errorf("read %s: %w", kind.Key(), errors.ErrPermissionDenied)
	}
	return nil
}

// Append implements store.Appender.
func (s *Store) Append(ctx context.Context, kind metric.Kind, samples []store.RawSample) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !kind.Valid() {
		return errors.NewInvalidArgument("kind", fmt.Sprintf("%d", int(kind)))
	}

	s.mu.RLock()
	closed := s.closed
	s.mu.RUnlock()
	if closed {
		return errors.ErrStoreClosed
	}

	for i, r := range samples {
		if !r.Unit.Valid() || r.Unit.Dimension() != kind.Unit().Dimension() {
			return errors.NewInvalidArgument("unit", fmt.Sprintf("sample %d: %s is not a %s unit", i, r.Unit, kind.Unit().Dimension()))
		}
		if r.EndMs < r.StartMs {
			return errors.NewInvalidArgument("sample", fmt.Sprintf("sample %d ends before it starts", i))
		}
	}

	s.buffers[kind].Push(samples...)
	return nil
}

// RequestAuthorization implements store.Authorizer.
func (s *Store) RequestAuthorization(ctx context.Context, kinds []metric.Kind) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.cfg.DenyAuthorization {
		return fmt.Errorf("read access declined: %w", errors.ErrAuthorizationFailed)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range kinds {
		s.authorized[k] = true
	}
	log.Debug("read access granted", "metrics", len(kinds))
	return nil
}

// EvictOlderThan drops samples that ended before cutoffMs from every kind.
func (s *Store) EvictOlderThan(cutoffMs int64) int {
	total := 0
	for _, k := range metric.AllKinds() {
		total += s.buffers[k].EvictOlderThan(cutoffMs)
	}
	return total
}

// Stats returns per-kind buffer statistics.
func (s *Store) Stats() map[metric.Kind]BufferStats {
	out := make(map[metric.Kind]BufferStats, len(s.buffers))
	for k, b := range s.buffers {
		out[k] = b.Stats()
	}
	return out
}

// Close releases the buffers. Later calls fail with ErrStoreClosed.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	for _, b := range s.buffers {
		b.Clear()
	}
	return nil
}
