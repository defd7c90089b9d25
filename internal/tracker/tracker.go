// Package tracker implements the in-flight-query map: a fingerprint is
// present iff a query for it is currently in flight, and its sink is
// where the Listener delivers matching responses as they arrive.
package tracker

import (
	"fmt"
	"sync"

	"github.com/pebblemesh/beacon/internal/types"
)

// Result is what the Listener delivers on a Sink: a learned response
// and its TTL. A Result whose Response is nil is the sentinel meaning
// "query timed out"; the Querier ends its wait on it, as it does when
// its own timeout elapses.
type Result struct {
	Response *types.Response
	TTL      uint32
}

// Sink is the channel a waiting Querier reads Results from.
type Sink chan Result

// Tracker is a mutex-guarded map from fingerprint to sink, mirroring the
// registry's concurrency discipline: one sync.RWMutex, write-locked only
// for the duration of a single map operation.
type Tracker struct {
	mu    sync.RWMutex
	sinks map[types.Fingerprint]Sink
}

// New returns an empty Tracker.
func New() *Tracker {
	return &Tracker{sinks: make(map[types.Fingerprint]Sink)}
}

// Insert records that a query for k is now in flight, owned by sink. It
// returns an error instead of overwriting an existing entry; this is
// the mechanism the Querier uses to guarantee at most one in-flight
// query per fingerprint.
func (t *Tracker) Insert(k types.Fingerprint, sink Sink) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.sinks[k]; exists {
		return fmt.Errorf("tracker: query already in flight for %+v", k)
	}
	t.sinks[k] = sink
	return nil
}

// Remove drops the in-flight entry for k, if any.
func (t *Tracker) Remove(k types.Fingerprint) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.sinks, k)
}

// Contains reports whether a query for k is currently in flight.
func (t *Tracker) Contains(k types.Fingerprint) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.sinks[k]
	return ok
}

// Get returns the sink tracked for k, if any.
func (t *Tracker) Get(k types.Fingerprint) (Sink, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	sink, ok := t.sinks[k]
	return sink, ok
}
