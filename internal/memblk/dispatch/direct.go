// Copyright (C) 2021 Vojtech Aschenbrenner <v@asch.cz>

package dispatch

import (
	"sync"

	"github.com/asch/memblk/internal/memblk/request"
	"github.com/asch/memblk/internal/memblk/store"
)

// Direct serves each request synchronously on the goroutine which submits
// it. Concurrent submitters run in parallel and are serialized only by the
// store lock around each individual copy, hence there is no ordering
// between requests submitted concurrently.
type Direct struct {
	counters counters

	store *store.Store
	opts  Options

	// Read locked by every Submit in flight, write locked by Close.
	gate   sync.RWMutex
	closed bool
}

func NewDirect(s *store.Store, opts Options) *Direct {
	return &Direct{store: s, opts: opts}
}

// Submit serves the request and completes it before returning. Completion
// runs outside the gate, so EndIO may submit again.
func (d *Direct) Submit(r *request.Request) {
	r.Complete(d.serve(r))
}

func (d *Direct) serve(r *request.Request) error {
	d.gate.RLock()
	defer d.gate.RUnlock()

	if d.closed {
		return ErrStopped
	}

	return serve(d.store, r, d.opts, &d.counters)
}

// Close waits for requests being served and makes following submissions
// fail with ErrStopped.
func (d *Direct) Close() {
	d.gate.Lock()
	d.closed = true
	d.gate.Unlock()
}

func (d *Direct) Stats() Stats {
	return d.counters.snapshot()
}
