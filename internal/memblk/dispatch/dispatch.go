// Copyright (C) 2021 Vojtech Aschenbrenner <v@asch.cz>

// Package dispatch drives submitted requests through the store to
// completion. Direct serves every request on the submitting goroutine,
// Queued hands requests to one worker goroutine which serves them strictly
// in submission order and Null acknowledges everything without touching
// the store.
package dispatch

import (
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/rs/zerolog/log"

	"github.com/asch/memblk/internal/memblk/request"
	"github.com/asch/memblk/internal/memblk/store"
)

var ErrStopped = errors.New("dispatcher stopped")

// Dispatcher accepts requests from any number of goroutines. Completion is
// signaled through the request itself.
type Dispatcher interface {
	// Submit hands the request over. It never blocks on I/O of other
	// requests. Ownership returns to the caller when the request completes.
	Submit(r *request.Request)

	// Close stops accepting requests and waits for in-flight work
	// according to the dispatcher semantics.
	Close()

	Stats() Stats
}

// StopPolicy decides what the queued dispatcher does with requests still
// queued when it is closed.
type StopPolicy int

const (
	// Queued requests are left alone, never serviced and never completed.
	Abandon StopPolicy = iota

	// Queued requests are serviced before the worker stops.
	Drain

	// Queued requests are completed with ErrStopped.
	Fail
)

func (p StopPolicy) String() string {
	switch p {
	case Abandon:
		return "abandon"
	case Drain:
		return "drain"
	case Fail:
		return "fail"
	}

	return "unknown"
}

// ParseStopPolicy is the inverse of StopPolicy.String.
func ParseStopPolicy(s string) (StopPolicy, error) {
	for _, p := range []StopPolicy{Abandon, Drain, Fail} {
		if p.String() == s {
			return p, nil
		}
	}

	return Abandon, fmt.Errorf("unknown stop policy %q", s)
}

// Options common to all dispatchers.
type Options struct {
	// Strict completes requests with an error wrapping the first transfer
	// failure, usually store.ErrOutOfRange, when any of their segments was
	// skipped. Without it such requests complete successfully.
	Strict bool

	// Only used by the queued dispatcher.
	OnStop StopPolicy
}

// Stats is a snapshot of dispatcher counters.
type Stats struct {
	Requests     uint64
	Segments     uint64
	BytesRead    uint64
	BytesWritten uint64
	Skipped      uint64
}

type counters struct {
	requests     uint64
	segments     uint64
	bytesRead    uint64
	bytesWritten uint64
	skipped      uint64
}

func (c *counters) snapshot() Stats {
	return Stats{
		Requests:     atomic.LoadUint64(&c.requests),
		Segments:     atomic.LoadUint64(&c.segments),
		BytesRead:    atomic.LoadUint64(&c.bytesRead),
		BytesWritten: atomic.LoadUint64(&c.bytesWritten),
		Skipped:      atomic.LoadUint64(&c.skipped),
	}
}

// Runs all spans of the request through the store and returns its
// completion status. Spans which do not fit are skipped, the rest is applied
// regardless. The request is not completed here.
func serve(s *store.Store, r *request.Request, opts Options, c *counters) error {
	var skipped int
	var first error

	spans := request.Iterate(r)
	for _, span := range spans {
		err := s.Transfer(span.Sector, span.Buf, r.Dir)
		if err != nil {
			if first == nil {
				first = err
			}
			skipped++
			log.Debug().Err(err).
				Uint64("sector", span.Sector).
				Int("length", len(span.Buf)).
				Uint64("capacity", s.Capacity()).
				Str("dir", r.Dir.String()).
				Msg("Segment skipped")
			continue
		}

		if r.Dir == request.Write {
			atomic.AddUint64(&c.bytesWritten, uint64(len(span.Buf)))
		} else {
			atomic.AddUint64(&c.bytesRead, uint64(len(span.Buf)))
		}
	}

	atomic.AddUint64(&c.requests, 1)
	atomic.AddUint64(&c.segments, uint64(len(spans)))
	atomic.AddUint64(&c.skipped, uint64(skipped))

	if skipped > 0 && opts.Strict {
		return fmt.Errorf("%d of %d segments skipped: %w", skipped, len(spans), first)
	}

	return nil
}
