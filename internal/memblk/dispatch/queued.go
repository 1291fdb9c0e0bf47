// Copyright (C) 2021 Vojtech Aschenbrenner <v@asch.cz>

package dispatch

import (
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog/log"

	"github.com/asch/memblk/internal/memblk/request"
	"github.com/asch/memblk/internal/memblk/store"
)

// State of the queued dispatcher worker.
type State int32

const (
	// Waiting for a wake up or a stop.
	Idle State = iota

	// Trying to take a request from the queue.
	Fetching

	// Serving one request.
	Processing

	// Terminal.
	Stopped
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Fetching:
		return "fetching"
	case Processing:
		return "processing"
	case Stopped:
		return "stopped"
	}

	return "unknown"
}

// Queued serves requests on one dedicated worker goroutine. Submitters
// append to a FIFO and wake the worker, the worker takes requests one by one
// and serves each of them completely before taking the next. Completion
// order is therefore the submission order.
//
// The queue has its own lock, distinct from the store lock, so submitting
// never contends with copying.
type Queued struct {
	counters counters
	state    int32

	store *store.Store
	opts  Options

	// Guards queue and closed.
	mu     sync.Mutex
	queue  []*request.Request
	closed bool

	// Wake up signal for the worker. It has capacity one and submitters
	// never block on it, so waking is idempotent: any number of wake ups
	// while the worker is busy collapse into one.
	wake chan struct{}

	// Closed once by Close to ask the worker to stop.
	stop     chan struct{}
	stopOnce sync.Once

	// Closed by the worker when it reaches Stopped.
	stopped chan struct{}
}

// NewQueued returns dispatcher with its worker already running.
func NewQueued(s *store.Store, opts Options) *Queued {
	q := Queued{
		store:   s,
		opts:    opts,
		wake:    make(chan struct{}, 1),
		stop:    make(chan struct{}),
		stopped: make(chan struct{}),
	}

	q.setState(Fetching)
	go q.worker()

	return &q
}

// Submit enqueues the request and wakes the worker. It never waits for the
// worker. Requests submitted after Close are completed with ErrStopped.
func (q *Queued) Submit(r *request.Request) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		r.Complete(ErrStopped)
		return
	}
	q.queue = append(q.queue, r)
	q.mu.Unlock()

	// Wake unconditionally, whether the worker sleeps or not.
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// Close stops the worker and waits until it is Stopped. A request being
// served finishes first. What happens to requests still queued depends on
// Options.OnStop.
func (q *Queued) Close() {
	q.stopOnce.Do(func() {
		q.mu.Lock()
		q.closed = true
		q.mu.Unlock()

		close(q.stop)
	})

	<-q.stopped
}

func (q *Queued) Stats() Stats {
	return q.counters.snapshot()
}

// State returns the current worker state.
func (q *Queued) State() State {
	return State(atomic.LoadInt32(&q.state))
}

// Pending returns number of requests waiting in the queue.
func (q *Queued) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	return len(q.queue)
}

func (q *Queued) setState(s State) {
	old := State(atomic.SwapInt32(&q.state, int32(s)))
	if old != s {
		log.Trace().Str("from", old.String()).Str("to", s.String()).Msg("Queue worker")
	}
}

// Non-blocking dequeue of the oldest request.
func (q *Queued) dequeue() *request.Request {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.queue) == 0 {
		return nil
	}

	r := q.queue[0]
	q.queue[0] = nil
	q.queue = q.queue[1:]

	return r
}

func (q *Queued) stopRequested() bool {
	select {
	case <-q.stop:
		return true
	default:
		return false
	}
}

// Worker loop. Stop is checked only between requests, never while one is
// being served.
func (q *Queued) worker() {
	defer close(q.stopped)

	for {
		if q.stopRequested() {
			q.finish()
			return
		}

		q.setState(Fetching)
		if r := q.dequeue(); r != nil {
			q.setState(Processing)
			r.Complete(serve(q.store, r, q.opts, &q.counters))
			continue
		}

		q.setState(Idle)
		select {
		case <-q.wake:
		case <-q.stop:
		}
	}
}

// Handles whatever is left in the queue after stop according to the stop
// policy and enters Stopped. Nothing can be enqueued anymore at this point
// because closed is set before stop is closed.
func (q *Queued) finish() {
	switch q.opts.OnStop {
	case Drain:
		for r := q.dequeue(); r != nil; r = q.dequeue() {
			q.setState(Processing)
			r.Complete(serve(q.store, r, q.opts, &q.counters))
		}

	case Fail:
		for r := q.dequeue(); r != nil; r = q.dequeue() {
			r.Complete(ErrStopped)
		}

	default:
		if n := q.Pending(); n > 0 {
			log.Info().Int("requests", n).Msg("Abandoning queued requests")
		}
	}

	q.setState(Stopped)
}
