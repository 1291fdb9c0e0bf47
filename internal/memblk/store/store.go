// Copyright (C) 2021 Vojtech Aschenbrenner <v@asch.cz>

// Package store holds the contents of the device. Store is a fixed-size
// zeroed byte buffer guarded by one mutex. All reads and writes coming from
// the dispatchers go through Transfer, which validates the range first and
// then copies under the lock.
package store

import (
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/asch/memblk/internal/memblk/request"
)

var (
	ErrAllocation = errors.New("backing store allocation failed")
	ErrOutOfRange = errors.New("transfer out of range")
	ErrReleased   = errors.New("backing store released")
)

// Allocator provides the memory for the store. It exists so the memory can
// be accounted for, e.g. by tests verifying that teardown releases all of
// it.
type Allocator interface {
	// Alloc returns zeroed buffer of length size or an error.
	Alloc(size int64) ([]byte, error)

	// Free is called exactly once with the buffer returned by Alloc.
	Free(buf []byte)
}

type heapAllocator struct{}

// HeapAllocator allocates from the Go heap and leaves freeing to the
// garbage collector.
var HeapAllocator Allocator = heapAllocator{}

func (heapAllocator) Alloc(size int64) ([]byte, error) {
	if uint64(size) > uint64(math.MaxInt) {
		return nil, fmt.Errorf("%d bytes exceed address space", size)
	}

	return make([]byte, size), nil
}

func (heapAllocator) Free(buf []byte) {}

// Store is the backing store of one device.
type Store struct {
	// Guards bytes. Held only for the duration of a copy.
	mu    sync.Mutex
	bytes []byte

	// Fixed at allocation time, never changes.
	capacity uint64

	allocator Allocator
}

// Allocate returns a zeroed store of capacity bytes. Capacity has to be a
// positive multiple of the sector size. Either the whole capacity is
// obtained or nothing is retained and the returned error wraps
// ErrAllocation.
func Allocate(capacity int64, allocator Allocator) (*Store, error) {
	if allocator == nil {
		allocator = HeapAllocator
	}

	if capacity <= 0 || capacity%request.SectorSize != 0 {
		return nil, fmt.Errorf("%w: invalid capacity %d", ErrAllocation, capacity)
	}

	buf, err := allocator.Alloc(capacity)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrAllocation, err)
	}

	if int64(len(buf)) != capacity {
		allocator.Free(buf)
		return nil, fmt.Errorf("%w: got %d of %d bytes", ErrAllocation, len(buf), capacity)
	}

	// Allocators are not trusted to hand out clean memory.
	for i := range buf {
		buf[i] = 0
	}

	s := Store{
		bytes:     buf,
		capacity:  uint64(capacity),
		allocator: allocator,
	}

	return &s, nil
}

// Release gives the memory back to the allocator. Transfers after release
// fail with ErrReleased. Calling Release more than once is harmless.
func (s *Store) Release() {
	s.mu.Lock()
	buf := s.bytes
	s.bytes = nil
	s.mu.Unlock()

	if buf != nil {
		s.allocator.Free(buf)
	}
}

// Capacity returns size of the store in bytes.
func (s *Store) Capacity() uint64 {
	return s.capacity
}

// Sectors returns size of the store in sectors.
func (s *Store) Sectors() uint64 {
	return s.capacity >> request.SectorShift
}
