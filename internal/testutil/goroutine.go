// Package testutil provides test doubles and helpers shared by the mobility
// packages.
//
// t.Fatal inside a goroutine only exits that goroutine, so concurrent tests
// collect errors through GoroutineTest and report them from the test
// goroutine.
package testutil

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"
)

// GoroutineTest collects errors from goroutines started by a test.
//
//	gt := testutil.NewGoroutineTest(t, time.Second)
//	defer gt.Wait()
//
//	gt.Go(func(ctx context.Context) error {
//	    _, err := eng.RequestMetrics(ctx, req)
//	    return err
//	})
type GoroutineTest struct {
	t      testing.TB
	wg     sync.WaitGroup
	mu     sync.Mutex
	errs   []error
	ctx    context.Context
	cancel context.CancelFunc
}

// NewGoroutineTest creates a GoroutineTest whose context expires after timeout.
// A zero timeout means no deadline.
func NewGoroutineTest(t testing.TB, timeout time.Duration) *GoroutineTest {
	ctx, cancel := context.WithCancel(context.Background())
	if timeout > 0 {
		ctx, cancel = context.WithTimeout(context.Background(), timeout)
	}
	return &GoroutineTest{t: t, ctx: ctx, cancel: cancel}
}

// Go runs fn in a goroutine and records a non-nil error.
func (gt *GoroutineTest) Go(fn func(ctx context.Context) error) {
	gt.wg.Add(1)
	go func() {
		defer gt.wg.Done()
		if err := fn(gt.ctx); err != nil {
			gt.mu.Lock()
			gt.errs = append(gt.errs, err)
			gt.mu.Unlock()
		}
	}()
}

// Wait blocks until all goroutines return and fails the test if any of them
// reported an error.
func (gt *GoroutineTest) Wait() {
	gt.t.Helper()
	gt.wg.Wait()
	gt.cancel()

	gt.mu.Lock()
	defer gt.mu.Unlock()
	if len(gt.errs) == 0 {
		return
	}
	for i, err := range gt.errs {
		gt.t.Errorf("goroutine error [%d]: %v", i+1, err)
	}
	gt.t.FailNow()
}

// Context returns the context passed to goroutines.
func (gt *GoroutineTest) Context() context.Context {
	return gt.ctx
}

// Cancel cancels the shared context.
func (gt *GoroutineTest) Cancel() {
	gt.cancel()
}

// WithTimeout runs fn and returns its error, or a timeout error if fn has
// not returned after timeout.
func WithTimeout(timeout time.Duration, fn func() error) error {
	done := make(chan error, 1)
	go func() {
		done <- fn()
	}()

	select {
	case err := <-done:
		return err
	case <-time.After(timeout):
		return fmt.Errorf("operation timed out after %v", timeout)
	}
}

// Eventually polls condition until it is true or timeout elapses.
func Eventually(timeout, interval time.Duration, condition func() bool) error {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return nil
		}
		time.Sleep(interval)
	}
	return fmt.Errorf("condition not met within %v", timeout)
}

// Recv receives one value from ch, failing the test after timeout.
func Recv[T any](t testing.TB, ch <-chan T, timeout time.Duration) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(timeout):
		t.Fatalf("no value received within %v", timeout)
		var zero T
		return zero
	}
}
