// Copyright (C) 2021 Vojtech Aschenbrenner <v@asch.cz>

// Package storetest provides allocators for tests of the store and of
// everything built on top of it.
package storetest

import (
	"errors"
	"sync"
)

var ErrInjected = errors.New("injected allocation failure")

// Tracker is an allocator which accounts for every byte it hands out. It
// can be told to fail, and it fills fresh buffers with garbage so callers
// relying on zeroed memory have to zero it themselves.
type Tracker struct {
	mu     sync.Mutex
	live   int64
	allocs int
	frees  int

	// Fail makes every following Alloc return ErrInjected.
	Fail bool
}

func (t *Tracker) Alloc(size int64) ([]byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.Fail {
		return nil, ErrInjected
	}

	buf := make([]byte, size)
	for i := range buf {
		buf[i] = 0xa5
	}

	t.live += size
	t.allocs++

	return buf, nil
}

func (t *Tracker) Free(buf []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.live -= int64(len(buf))
	t.frees++
}

// Live returns number of bytes allocated and not yet freed.
func (t *Tracker) Live() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.live
}

// Balanced reports whether every allocation was freed.
func (t *Tracker) Balanced() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.live == 0 && t.allocs == t.frees
}

// Allocs returns number of successful allocations.
func (t *Tracker) Allocs() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.allocs
}
