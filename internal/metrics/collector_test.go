package metrics

import (
	"sync"
	"testing"
	"time"
)

func TestCollectorCounts(t *testing.T) {
	c := New()
	c.RecordTiming("generation", 100*time.Millisecond)
	c.RecordTiming("generation", 200*time.Millisecond)
	c.CountError("generation")
	c.CountEvent("submit")
	c.CountEvent("submit")

	snap := c.Snapshot()
	if len(snap.Timings["generation"]) != 2 {
		t.Errorf("timings = %v", snap.Timings)
	}
	if snap.Errors["generation"] != 1 {
		t.Errorf("errors = %v", snap.Errors)
	}
	if snap.Events["submit"] != 2 {
		t.Errorf("events = %v", snap.Events)
	}
}

func TestNilCollectorIsNoOp(t *testing.T) {
	var c *Collector
	c.RecordTiming("op", time.Second)
	c.CountError("op")
	c.CountEvent("op")

	snap := c.Snapshot()
	if snap.Timings != nil || snap.Errors != nil || snap.Events != nil {
		t.Errorf("nil collector snapshot = %+v", snap)
	}
}

func TestSnapshotIsACopy(t *testing.T) {
	c := New()
	c.CountEvent("e")

	snap := c.Snapshot()
	snap.Events["e"] = 100

	if got := c.Snapshot().Events["e"]; got != 1 {
		t.Errorf("snapshot mutation leaked into collector: %d", got)
	}
}

func TestCollectorConcurrent(t *testing.T) {
	c := New()
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				c.CountEvent("e")
			}
		}()
	}
	wg.Wait()

	if got := c.Snapshot().Events["e"]; got != 1000 {
		t.Errorf("events = %d, want 1000", got)
	}
}
