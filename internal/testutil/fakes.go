package testutil

import (
	"sync"
	"testing"
	"time"
)

// Counter is a deterministic integer counter for tests.
type Counter struct {
	lock  sync.Mutex
	value int
}

// Next increments and returns counter value.
func (counter *Counter) Next() int {
	counter.lock.Lock()
	defer counter.lock.Unlock()
	counter.value++
	return counter.value
}

// Value returns the current counter value without incrementing it.
func (counter *Counter) Value() int {
	counter.lock.Lock()
	defer counter.lock.Unlock()
	return counter.value
}

// Recorder collects values delivered from any goroutine.
type Recorder[T any] struct {
	lock  sync.Mutex
	items []T
}

// Record appends item.
func (recorder *Recorder[T]) Record(item T) {
	recorder.lock.Lock()
	recorder.items = append(recorder.items, item)
	recorder.lock.Unlock()
}

// Items returns a copy of everything recorded so far.
func (recorder *Recorder[T]) Items() []T {
	recorder.lock.Lock()
	defer recorder.lock.Unlock()
	return append([]T(nil), recorder.items...)
}

// Len returns the number of recorded items.
func (recorder *Recorder[T]) Len() int {
	recorder.lock.Lock()
	defer recorder.lock.Unlock()
	return len(recorder.items)
}

// WaitFor blocks until at least count items are recorded and returns them, failing
// the test when timeout passes first.
func (recorder *Recorder[T]) WaitFor(t testing.TB, count int, timeout time.Duration) []T {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if items := recorder.Items(); len(items) >= count {
			return items
		}
		time.Sleep(2 * time.Millisecond)
	}
	items := recorder.Items()
	t.Fatalf("expected %d recorded items within %v, got %d", count, timeout, len(items))
	return items
}

// Eventually polls condition until it holds or timeout passes.
func Eventually(t testing.TB, timeout time.Duration, condition func() bool, format string, args ...any) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf(format, args...)
}
