// Package pebble implements a sample store on an embedded Pebble key/value
// database, the on-device history backend.
//
// Keys sort by metric, then end time, then start time, so a reverse scan
// over one metric's key range yields samples newest first and a limited query
// stops after limit matches.
package pebble

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"sync"
	"sync/atomic"

	"github.com/cockroachdb/pebble"

	"github.com/xtxerr/mobility/internal/errors"
	"github.com/xtxerr/mobility/internal/logging"
	"github.com/xtxerr/mobility/internal/metric"
	"github.com/xtxerr/mobility/internal/store"
	"github.com/xtxerr/mobility/internal/unit"
)

var log = logging.Component("store.pebble")

// Key layout:
//
//	's' | kind (1) | end (8) | start (8) | seq (8)
//	'm' | "seq"                              -> highest seq written
//
// Timestamps are stored with the sign bit flipped so negative values sort
// before positive ones.
const (
	samplePrefix = 's'
	metaPrefix   = 'm'
	keyLen       = 1 + 1 + 8 + 8 + 8
	valueLen     = 8 + 1
)

var seqKey = []byte{metaPrefix, 's', 'e', 'q'}

// Config configures the store.
type Config struct {
	// Version is the capability tier the store reports.
	Version metric.Version

	// DataDir is the Pebble directory.
	DataDir string

	// Sync makes every Append durable before it returns.
	Sync bool
}

// Store is a Pebble-backed store.SampleStore.
type Store struct {
	store.PlatformVersion

	db        *pebble.DB
	writeOpts *pebble.WriteOptions

	// appendMu orders commits so the persisted seq never trails a
	// committed sample key.
	appendMu sync.Mutex
	seq      atomic.Uint64
}

// Open opens or creates the database in cfg.DataDir.
func Open(cfg Config) (*Store, error) {
	if cfg.DataDir == "" {
		return nil, errors.NewMissingField("data_dir")
	}

	db, err := pebble.Open(cfg.DataDir, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("open pebble: %w", err)
	}

	s := &Store{
		PlatformVersion: store.PlatformVersion{Version: cfg.Version},
		db:              db,
		writeOpts:       pebble.NoSync,
	}
	if cfg.Sync {
		s.writeOpts = pebble.Sync
	}
	// Sequence numbers break ties between equal timestamps and continue
	// across reopens.
	seq, err := loadSeq(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	s.seq.Store(seq)

	log.Info("pebble store opened", "data_dir", cfg.DataDir, "sync", cfg.Sync)
	return s, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Append implements store.Appender. The batch is committed atomically.
func (s *Store) Append(ctx context.Context, kind metric.Kind, samples []store.RawSample) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !kind.Valid() {
		return errors.NewInvalidArgument("kind", fmt.Sprintf("%d", int(kind)))
	}
	if len(samples) == 0 {
		return nil
	}

	for _, r := range samples {
		if !r.Unit.Valid() {
			return errors.NewInvalidArgument("unit", r.Unit.String())
		}
	}

	s.appendMu.Lock()
	defer s.appendMu.Unlock()

	b := s.db.NewBatch()
	defer b.Close()

	var seq uint64
	for _, r := range samples {
		seq = s.seq.Add(1)
		if err := b.Set(encodeKey(kind, r.EndMs, r.StartMs, seq), encodeValue(r), nil); err != nil {
			return fmt.Errorf("batch set: %w", err)
		}
	}
	if err := b.Set(seqKey, binary.BigEndian.AppendUint64(nil, seq), nil); err != nil {
		return fmt.Errorf("batch set: %w", err)
	}

	if err := b.Commit(s.writeOpts); err != nil {
		return fmt.Errorf("commit %s: %w", kind.Key(), err)
	}
	return nil
}

// Query implements store.SampleStore. Samples come back newest first.
func (s *Store) Query(ctx context.Context, q store.Query) ([]store.RawSample, error) {
	if err := store.CheckAvailable(q.Kind, s.Version); err != nil {
		return nil, err
	}

	// A sample ends no earlier than it starts, so nothing ending before the
	// window start can match.
	lower := kindPrefix(q.Kind)
	if q.Window.HasStart {
		lower = encodeKey(q.Kind, q.Window.Start, math.MinInt64, 0)
	}
	upper := kindPrefix(q.Kind + 1)

	iter, err := s.db.NewIter(&pebble.IterOptions{LowerBound: lower, UpperBound: upper})
	if err != nil {
		return nil, fmt.Errorf("open iterator: %w", err)
	}
	defer iter.Close()

	samples := []store.RawSample{}
	for valid := iter.Last(); valid; valid = iter.Prev() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		r, err := decode(iter.Key(), iter.Value())
		if err != nil {
			return nil, err
		}
		if !q.Window.Contains(r.StartMs) {
			continue
		}
		samples = append(samples, r)
		if q.Limit > 0 && len(samples) >= q.Limit {
			break
		}
	}
	if err := iter.Error(); err != nil {
		return nil, fmt.Errorf("iterate %s: %w", q.Kind.Key(), err)
	}
	return samples, nil
}

// Count returns the number of samples stored for kind.
func (s *Store) Count(kind metric.Kind) (int, error) {
	iter, err := s.db.NewIter(&pebble.IterOptions{LowerBound: kindPrefix(kind), UpperBound: kindPrefix(kind + 1)})
	if err != nil {
		return 0, fmt.Errorf("open iterator: %w", err)
	}
	defer iter.Close()

	n := 0
	for valid := iter.First(); valid; valid = iter.Next() {
		n++
	}
	return n, iter.Error()
}

func loadSeq(db *pebble.DB) (uint64, error) {
	v, closer, err := db.Get(seqKey)
	if errors.Is(err, pebble.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read sequence: %w", err)
	}
	defer closer.Close()

	if len(v) != 8 {
		return 0, fmt.Errorf("corrupt sequence value of %d bytes", len(v))
	}
	return binary.BigEndian.Uint64(v), nil
}

func kindPrefix(kind metric.Kind) []byte {
	return []byte{samplePrefix, byte(kind)}
}

func encodeKey(kind metric.Kind, endMs, startMs int64, seq uint64) []byte {
	key := make([]byte, keyLen)
	key[0] = samplePrefix
	key[1] = byte(kind)
	binary.BigEndian.PutUint64(key[2:10], flip(endMs))
	binary.BigEndian.PutUint64(key[10:18], flip(startMs))
	binary.BigEndian.PutUint64(key[18:26], seq)
	return key
}

func encodeValue(r store.RawSample) []byte {
	v := make([]byte, valueLen)
	binary.BigEndian.PutUint64(v[0:8], math.Float64bits(r.Value))
	v[8] = byte(r.Unit)
	return v
}

func decode(key, value []byte) (store.RawSample, error) {
	if len(key) != keyLen || len(value) != valueLen {
		return store.RawSample{}, fmt.Errorf("corrupt sample record (key %d bytes, value %d bytes)", len(key), len(value))
	}
	return store.RawSample{
		Value:   math.Float64frombits(binary.BigEndian.Uint64(value[0:8])),
		Unit:    unit.Unit(value[8]),
		EndMs:   unflip(binary.BigEndian.Uint64(key[2:10])),
		StartMs: unflip(binary.BigEndian.Uint64(key[10:18])),
	}, nil
}

func flip(v int64) uint64 {
	return uint64(v) ^ (1 << 63)
}

func unflip(u uint64) int64 {
	return int64(u ^ (1 << 63))
}
