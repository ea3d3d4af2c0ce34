// Package metrics holds an injected, explicitly scoped usage collector.
// Components receive a *Collector from whoever wires them up; there is no
// process-wide instance. A nil *Collector is valid and records nothing, so
// metrics stay optional everywhere.
package metrics

import (
	"sync"
	"time"
)

// Collector accumulates operation timings, error counts, and interaction
// counts. Safe for concurrent use.
type Collector struct {
	mu       sync.Mutex
	timings  map[string][]time.Duration
	errors   map[string]int
	events   map[string]int
	started  time.Time
}

// New returns an empty Collector with the session clock started.
func New() *Collector {
	return &Collector{
		timings: make(map[string][]time.Duration),
		errors:  make(map[string]int),
		events:  make(map[string]int),
		started: time.Now(),
	}
}

// RecordTiming appends one duration sample for the named operation.
func (c *Collector) RecordTiming(op string, d time.Duration) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.timings[op] = append(c.timings[op], d)
}

// CountError increments the error count for the named operation.
func (c *Collector) CountError(op string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.errors[op]++
}

// CountEvent increments the interaction count for the named event.
func (c *Collector) CountEvent(name string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events[name]++
}

// Snapshot is a point-in-time copy of collected metrics.
type Snapshot struct {
	SessionDuration time.Duration
	Timings         map[string][]time.Duration
	Errors          map[string]int
	Events          map[string]int
}

// Snapshot returns a deep copy of the current counters. A nil Collector
// yields a zero Snapshot.
func (c *Collector) Snapshot() Snapshot {
	if c == nil {
		return Snapshot{}
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	snap := Snapshot{
		SessionDuration: time.Since(c.started),
		Timings:         make(map[string][]time.Duration, len(c.timings)),
		Errors:          make(map[string]int, len(c.errors)),
		Events:          make(map[string]int, len(c.events)),
	}
	for k, v := range c.timings {
		snap.Timings[k] = append([]time.Duration(nil), v...)
	}
	for k, v := range c.errors {
		snap.Errors[k] = v
	}
	for k, v := range c.events {
		snap.Events[k] = v
	}
	return snap
}
