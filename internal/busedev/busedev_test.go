// Copyright (C) 2021 Vojtech Aschenbrenner <v@asch.cz>

package busedev

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/asch/memblk/internal/memblk/dispatch"
	"github.com/asch/memblk/internal/memblk/geometry"
	"github.com/asch/memblk/internal/memblk/registry"
	"github.com/asch/memblk/internal/memblk/request"
	"github.com/asch/memblk/internal/memblk/store"
)

const (
	capacity   = 64 * 1024
	writeChunk = 64 * 1024
)

func newDisk(t *testing.T, d dispatch.Dispatcher) registry.Disk {
	t.Helper()

	return registry.Disk{
		Name:            "test",
		CapacitySectors: capacity / request.SectorSize,
		SectorSize:      request.SectorSize,
		Geometry:        func() geometry.Geometry { return geometry.Compute(capacity) },
		Dispatch:        d.Submit,
	}
}

func newStore(t *testing.T) *store.Store {
	t.Helper()

	s, err := store.Allocate(capacity, nil)
	require.NoError(t, err)
	t.Cleanup(s.Release)

	return s
}

// Builds write chunk the way the kernel module lays it out.
func writeChunkOf(rw *readWriter, items []writeItem, data [][]byte) []byte {
	chunk := make([]byte, rw.metadataSize)
	for i, w := range items {
		binary.LittleEndian.PutUint64(chunk[i*writeItemSize:], w.sector)
		binary.LittleEndian.PutUint64(chunk[i*writeItemSize+8:], w.length)
		binary.LittleEndian.PutUint64(chunk[i*writeItemSize+16:], uint64(i))
	}

	for _, d := range data {
		chunk = append(chunk, d...)
	}

	return chunk
}

func TestWriteThenRead(t *testing.T) {
	t.Parallel()

	for _, blockSize := range []int64{512, 4096} {
		for name, build := range map[string]func(*store.Store) dispatch.Dispatcher{
			"direct": func(s *store.Store) dispatch.Dispatcher { return dispatch.NewDirect(s, dispatch.Options{}) },
			"queued": func(s *store.Store) dispatch.Dispatcher { return dispatch.NewQueued(s, dispatch.Options{}) },
		} {
			d := build(newStore(t))
			defer d.Close()

			rw := newReadWriter(newDisk(t, d), blockSize, writeChunk)
			require.Equal(t, writeChunk/blockSize*writeItemSize, rw.metadataSize)
			require.GreaterOrEqual(t, rw.metadataSize, int64(2*writeItemSize))

			first := bytes.Repeat([]byte{0x11}, 4096)
			second := bytes.Repeat([]byte{0x22}, 4096)
			chunk := writeChunkOf(rw, []writeItem{{8, 8}, {16, 8}}, [][]byte{first, second})

			require.NoError(t, rw.BuseWrite(2, chunk), name)

			out := make([]byte, 8192)
			block := 8 * 512 / blockSize
			require.NoError(t, rw.BuseRead(block, 8192/blockSize, out), name)
			assert.Equal(t, append(first, second...), out, name)
		}
	}
}

// Later writes in a chunk win over earlier ones to the same sectors.
func TestWriteOrderWithinChunk(t *testing.T) {
	t.Parallel()

	d := dispatch.NewQueued(newStore(t), dispatch.Options{})
	defer d.Close()

	rw := newReadWriter(newDisk(t, d), 512, writeChunk)
	chunk := writeChunkOf(rw,
		[]writeItem{{0, 1}, {0, 1}},
		[][]byte{bytes.Repeat([]byte{1}, 512), bytes.Repeat([]byte{2}, 512)})

	require.NoError(t, rw.BuseWrite(2, chunk))

	out := make([]byte, 512)
	require.NoError(t, rw.BuseRead(0, 1, out))
	assert.Equal(t, bytes.Repeat([]byte{2}, 512), out)
}

func TestMalformedChunks(t *testing.T) {
	t.Parallel()

	d := dispatch.NewDirect(newStore(t), dispatch.Options{})
	rw := newReadWriter(newDisk(t, d), 512, writeChunk)

	// More writes than fit into the metadata section.
	assert.ErrorIs(t, rw.BuseWrite(1000, make([]byte, writeChunk)), errMalformed)

	// Write claims more data than the chunk carries.
	chunk := writeChunkOf(rw, []writeItem{{0, 4}}, [][]byte{make([]byte, 512)})
	assert.ErrorIs(t, rw.BuseWrite(1, chunk), errMalformed)

	// Read buffer shorter than requested.
	assert.ErrorIs(t, rw.BuseRead(0, 2, make([]byte, 512)), errMalformed)

	// Negative counts.
	assert.ErrorIs(t, rw.BuseWrite(-1, make([]byte, writeChunk)), errMalformed)
	assert.ErrorIs(t, rw.BuseRead(0, -1, make([]byte, 512)), errMalformed)
	assert.ErrorIs(t, rw.BuseRead(-1, 1, make([]byte, 512)), errMalformed)
}

func TestStrictOutOfRangeReachesBuse(t *testing.T) {
	t.Parallel()

	d := dispatch.NewDirect(newStore(t), dispatch.Options{Strict: true})
	rw := newReadWriter(newDisk(t, d), 512, writeChunk)

	err := rw.BuseRead(capacity/512, 1, make([]byte, 512))
	assert.ErrorIs(t, err, store.ErrOutOfRange)
}

func TestUnregisterForeignHandle(t *testing.T) {
	t.Parallel()

	r := New(Options{BlockSize: 4096})
	assert.ErrorIs(t, r.Unregister("nope"), registry.ErrNotRegistered)
	assert.Nil(t, Done("nope"))
}

func TestRegisterRejectsBadBlockSize(t *testing.T) {
	t.Parallel()

	d := dispatch.NewNull()
	r := New(Options{BlockSize: 1000})

	_, err := r.Register(newDisk(t, d))
	assert.ErrorIs(t, err, registry.ErrInvalid)
}
