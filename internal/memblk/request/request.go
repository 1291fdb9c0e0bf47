// Copyright (C) 2021 Vojtech Aschenbrenner <v@asch.cz>

// Package request describes a unit of block I/O submitted to the device: a
// starting sector, a direction and an ordered list of caller owned buffers.
package request

import (
	"sync"
)

const (
	// SectorSize is the addressing unit of the device. It is always 512 bytes
	// no matter what logical block size the host uses.
	SectorSize = 512

	// SectorShift converts between sectors and bytes.
	SectorShift = 9
)

// Direction of the transfer from the caller's point of view.
type Direction int

const (
	Read Direction = iota
	Write
)

func (d Direction) String() string {
	switch d {
	case Read:
		return "read"
	case Write:
		return "write"
	}

	return "unknown"
}

// Segment is one contiguous caller side buffer. Its length is the length
// of Buf and is expected to be a multiple of SectorSize.
type Segment struct {
	Buf []byte
}

// Request is one unit of work and must be created with New. It is owned by
// the dispatcher which received it until it is completed. After completion
// the dispatcher must not touch it anymore.
type Request struct {
	Sector   uint64
	Dir      Direction
	Segments []Segment

	// EndIO is called exactly once when the request completes, before
	// Done is closed. It runs on the completing goroutine and must not
	// block for long.
	EndIO func(r *Request, err error)

	once sync.Once
	done chan struct{}
	err  error
}

// New returns request starting at sector with segments in the given order.
func New(sector uint64, dir Direction, segments ...Segment) *Request {
	return &Request{
		Sector:   sector,
		Dir:      dir,
		Segments: segments,
		done:     make(chan struct{}),
	}
}

// Len returns the total number of bytes referenced by all segments.
func (r *Request) Len() int {
	n := 0
	for _, s := range r.Segments {
		n += len(s.Buf)
	}

	return n
}

// Complete signals completion to the submitter. Only the first call has
// any effect.
func (r *Request) Complete(err error) {
	r.once.Do(func() {
		r.err = err
		if r.EndIO != nil {
			r.EndIO(r, err)
		}
		close(r.done)
	})
}

// Done returns channel which is closed when the request is completed.
func (r *Request) Done() <-chan struct{} {
	return r.done
}

// Wait blocks until the request is completed and returns its status.
func (r *Request) Wait() error {
	<-r.done
	return r.err
}

// Err returns completion status. It is valid only after Done is closed.
func (r *Request) Err() error {
	return r.err
}

// Completed reports whether Complete was already called.
func (r *Request) Completed() bool {
	select {
	case <-r.done:
		return true
	default:
		return false
	}
}
