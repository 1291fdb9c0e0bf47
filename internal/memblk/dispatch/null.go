// Copyright (C) 2021 Vojtech Aschenbrenner <v@asch.cz>

package dispatch

import (
	"sync/atomic"

	"github.com/asch/memblk/internal/memblk/request"
)

// Null dispatcher acknowledges every request immediately and never touches
// the store. Reads return whatever the caller's buffers contained. Useful
// for measuring performance of the registration layer underneath, e.g.
// BUSE and the buse library. Otherwise useless.
type Null struct {
	counters counters
	closed   int32
}

func NewNull() *Null {
	return &Null{}
}

func (n *Null) Submit(r *request.Request) {
	if atomic.LoadInt32(&n.closed) != 0 {
		r.Complete(ErrStopped)
		return
	}

	atomic.AddUint64(&n.counters.requests, 1)
	atomic.AddUint64(&n.counters.segments, uint64(len(r.Segments)))
	r.Complete(nil)
}

func (n *Null) Close() {
	atomic.StoreInt32(&n.closed, 1)
}

func (n *Null) Stats() Stats {
	return n.counters.snapshot()
}
