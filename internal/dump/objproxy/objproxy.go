// Copyright (C) 2021 Vojtech Aschenbrenner <v@asch.cz>

// Package objproxy is a proxy for ObjectUploader which limits the number of
// concurrent uploads and performs prioritization of requests.
package objproxy

import (
	"errors"
	"sync"
)

var ErrClosed = errors.New("object proxy closed")

// Interface for the object backend. Anything implementing this interface
// can be used as a dump target.
type ObjectUploader interface {
	// Uploads data in buf under the key identifier.
	Upload(key string, buf []byte) error
}

// Proxy for the object backend which prioritizes requests. Requests coming
// to the priority channel are handled first. Like this the final dump during
// teardown is not stuck behind a dump triggered earlier.
type ObjectProxy struct {
	Instance ObjectUploader

	// Internal channels.
	uploads     chan request
	uploadsPrio chan request

	// Closed by Close, stops all workers.
	quit      chan struct{}
	closeOnce sync.Once
	workers   sync.WaitGroup
}

// Request is internal structure for wrapping the communication into channels.
type request struct {
	key  string
	data []byte
	done chan error
}

// Return new instance of the proxy which can be directly used. It
// immediately spawns uploaders go routines for upload workers.
func New(instance ObjectUploader, uploaders int) *ObjectProxy {
	if uploaders < 1 {
		uploaders = 1
	}

	p := ObjectProxy{
		Instance:    instance,
		uploads:     make(chan request),
		uploadsPrio: make(chan request),
		quit:        make(chan struct{}),
	}

	p.workers.Add(uploaders)
	for i := 0; i < uploaders; i++ {
		go p.uploadWorker()
	}

	return &p
}

// Proxy function for uploading the object with key. It selects the right
// channel according to prio and waits for reply.
func (p *ObjectProxy) Upload(key string, body []byte, prio bool) error {
	c := p.uploads
	if prio {
		c = p.uploadsPrio
	}

	done := make(chan error, 1)
	select {
	case c <- request{key: key, data: body, done: done}:
	case <-p.quit:
		return ErrClosed
	}

	return <-done
}

// Put makes the proxy usable as a dump sink.
func (p *ObjectProxy) Put(name string, data []byte, prio bool) error {
	return p.Upload(name, data, prio)
}

// Close stops the workers after they finish uploads in progress.
func (p *ObjectProxy) Close() {
	p.closeOnce.Do(func() {
		close(p.quit)
	})
	p.workers.Wait()
}

// Prioritization used by the upload workers. The second return value is
// false when the proxy is closed.
func (p *ObjectProxy) receiveRequest() (request, bool) {
	var r request

	select {
	case r = <-p.uploadsPrio:
		return r, true
	default:
	}

	select {
	case r = <-p.uploadsPrio:
	case r = <-p.uploads:
	case <-p.quit:
		return r, false
	}

	return r, true
}

// Upload worker just calls Upload() on the instance provided in New().
func (p *ObjectProxy) uploadWorker() {
	defer p.workers.Done()

	for {
		r, ok := p.receiveRequest()
		if !ok {
			return
		}
		r.done <- p.Instance.Upload(r.key, r.data)
	}
}
