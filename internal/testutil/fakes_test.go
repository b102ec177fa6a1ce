package testutil

import (
	"sync"
	"testing"
	"time"
)

func TestCounterNextCoverage(t *testing.T) {
	counter := &Counter{}
	if next := counter.Next(); next != 1 {
		t.Fatalf("expected first counter value 1, got %d", next)
	}
	if next := counter.Next(); next != 2 {
		t.Fatalf("expected second counter value 2, got %d", next)
	}
	if value := counter.Value(); value != 2 {
		t.Fatalf("expected value 2, got %d", value)
	}
}

func TestRecorderWaitForConcurrentWriters(t *testing.T) {
	recorder := &Recorder[int]{}
	var group sync.WaitGroup
	for index := 0; index < 8; index++ {
		group.Add(1)
		go func(value int) {
			defer group.Done()
			recorder.Record(value)
		}(index)
	}
	items := recorder.WaitFor(t, 8, time.Second)
	group.Wait()
	if len(items) != 8 || recorder.Len() != 8 {
		t.Fatalf("expected 8 items, got %d", len(items))
	}
}

func TestEventuallyReturnsOnceConditionHolds(t *testing.T) {
	calls := 0
	Eventually(t, time.Second, func() bool {
		calls++
		return calls == 3
	}, "condition never held")
	if calls != 3 {
		t.Fatalf("expected 3 calls, got %d", calls)
	}
}
