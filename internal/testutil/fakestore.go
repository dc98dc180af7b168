package testutil

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/xtxerr/mobility/internal/errors"
	"github.com/xtxerr/mobility/internal/metric"
	"github.com/xtxerr/mobility/internal/store"
	"github.com/xtxerr/mobility/internal/unit"
)

// Response is the scripted answer to a query for one kind.
type Response struct {
	Samples []store.RawSample
	Err     error
	Delay   time.Duration
}

// FakeStore is a scripted store.SampleStore.
//
// Unscripted kinds return no samples. Hold makes queries for a kind block
// until Release, which lets tests force any completion order. Every query
// start and completion is announced on the Started and Completed channels.
type FakeStore struct {
	mu        sync.Mutex
	version   metric.Version
	responses map[metric.Kind]Response
	gates     map[metric.Kind]chan struct{}
	calls     map[metric.Kind]int
	queries   []store.Query
	completed []metric.Kind

	started   chan metric.Kind
	completes chan metric.Kind

	inFlight    int
	maxInFlight int

	// Capability probe
	VersionErr   error
	VersionDelay time.Duration
	versionCalls atomic.Int64

	// Authorization
	AuthErr    error
	authorized map[metric.Kind]bool
	authCalls  int
}

// NewFakeStore creates a fake store running on tier v.
func NewFakeStore(v metric.Version) *FakeStore {
	return &FakeStore{
		version:    v,
		responses:  make(map[metric.Kind]Response),
		gates:      make(map[metric.Kind]chan struct{}),
		calls:      make(map[metric.Kind]int),
		started:    make(chan metric.Kind, 1024),
		completes:  make(chan metric.Kind, 1024),
		authorized: make(map[metric.Kind]bool),
	}
}

// Respond scripts kind to return samples.
func (f *FakeStore) Respond(kind metric.Kind, samples ...store.RawSample) *FakeStore {
	f.mu.Lock()
	defer f.mu.Unlock()
	r := f.responses[kind]
	r.Samples, r.Err = samples, nil
	f.responses[kind] = r
	return f
}

// Fail scripts kind to return err.
func (f *FakeStore) Fail(kind metric.Kind, err error) *FakeStore {
	f.mu.Lock()
	defer f.mu.Unlock()
	r := f.responses[kind]
	r.Samples, r.Err = nil, err
	f.responses[kind] = r
	return f
}

// Delay makes queries for kind sleep before answering.
func (f *FakeStore) Delay(kind metric.Kind, d time.Duration) *FakeStore {
	f.mu.Lock()
	defer f.mu.Unlock()
	r := f.responses[kind]
	r.Delay = d
	f.responses[kind] = r
	return f
}

// Hold makes queries for kind block until Release(kind).
func (f *FakeStore) Hold(kinds ...metric.Kind) *FakeStore {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, k := range kinds {
		f.gates[k] = make(chan struct{})
	}
	return f
}

// Release unblocks queries for kind.
func (f *FakeStore) Release(kind metric.Kind) {
	f.mu.Lock()
	gate, ok := f.gates[kind]
	delete(f.gates, kind)
	f.mu.Unlock()
	if ok {
		close(gate)
	}
}

// Started announces each query as it begins.
func (f *FakeStore) Started() <-chan metric.Kind {
	return f.started
}

// Completed announces each query as it returns.
func (f *FakeStore) Completed() <-chan metric.Kind {
	return f.completes
}

// Calls returns the number of queries issued for kind.
func (f *FakeStore) Calls(kind metric.Kind) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[kind]
}

// TotalCalls returns the number of queries issued.
func (f *FakeStore) TotalCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.queries)
}

// Queries returns every query received, in arrival order.
func (f *FakeStore) Queries() []store.Query {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]store.Query, len(f.queries))
	copy(out, f.queries)
	return out
}

// CompletionOrder returns kinds in the order their queries returned.
func (f *FakeStore) CompletionOrder() []metric.Kind {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]metric.Kind, len(f.completed))
	copy(out, f.completed)
	return out
}

// MaxInFlight returns the peak number of concurrent queries.
func (f *FakeStore) MaxInFlight() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.maxInFlight
}

// VersionCalls returns the number of capability probes.
func (f *FakeStore) VersionCalls() int64 {
	return f.versionCalls.Load()
}

// CapabilityVersion implements store.SampleStore.
func (f *FakeStore) CapabilityVersion(ctx context.Context) (metric.Version, error) {
	f.versionCalls.Add(1)
	if f.VersionDelay > 0 {
		select {
		case <-time.After(f.VersionDelay):
		case <-ctx.Done():
			return metric.Version{}, ctx.Err()
		}
	}
	if f.VersionErr != nil {
		return metric.Version{}, f.VersionErr
	}
	return f.version, nil
}

// Query implements store.SampleStore.
func (f *FakeStore) Query(ctx context.Context, q store.Query) ([]store.RawSample, error) {
	f.mu.Lock()
	f.calls[q.Kind]++
	f.queries = append(f.queries, q)
	f.inFlight++
	if f.inFlight > f.maxInFlight {
		f.maxInFlight = f.inFlight
	}
	resp := f.responses[q.Kind]
	gate := f.gates[q.Kind]
	f.mu.Unlock()

	f.started <- q.Kind

	defer func() {
		f.mu.Lock()
		f.inFlight--
		f.completed = append(f.completed, q.Kind)
		f.mu.Unlock()
		f.completes <- q.Kind
	}()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if resp.Delay > 0 {
		select {
		case <-time.After(resp.Delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if resp.Err != nil {
		return nil, resp.Err
	}
	out := make([]store.RawSample, len(resp.Samples))
	copy(out, resp.Samples)
	return out, nil
}

// RequestAuthorization implements store.Authorizer.
func (f *FakeStore) RequestAuthorization(ctx context.Context, kinds []metric.Kind) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.authCalls++
	if f.AuthErr != nil {
		return errors.Wrap(f.AuthErr, "request authorization")
	}
	for _, k := range kinds {
		f.authorized[k] = true
	}
	return nil
}

// Authorized returns true if kind was granted by RequestAuthorization.
func (f *FakeStore) Authorized(kind metric.Kind) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.authorized[kind]
}

// AuthCalls returns the number of authorization requests.
func (f *FakeStore) AuthCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.authCalls
}

// Raw builds a raw sample.
func Raw(value float64, u unit.Unit, startMs, endMs int64) store.RawSample {
	return store.RawSample{Value: value, Unit: u, StartMs: startMs, EndMs: endMs}
}
