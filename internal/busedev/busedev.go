// Copyright (C) 2021 Vojtech Aschenbrenner <v@asch.cz>

// Package busedev registers disks with the BUSE kernel module through the
// golang buse library. BUSE calls back into BuseRead and BuseWrite from its
// own threads; both are translated into requests for the disk's dispatch
// function and wait for their completion, hence the same code path serves
// direct and queued dispatch.
package busedev

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/asch/buse/lib/go/buse"
	"github.com/rs/zerolog/log"

	"github.com/asch/memblk/internal/memblk/registry"
	"github.com/asch/memblk/internal/memblk/request"
)

const (
	// Size of the metadata for one write in the write chunk read from the
	// kernel.
	writeItemSize = 32
)

var errMalformed = errors.New("malformed write chunk")

// Options of the BUSE device. Sizes are in bytes.
type Options struct {
	Major         int64
	Threads       int
	BlockSize     int64
	QueueDepth    int64
	Scheduler     bool
	Durable       bool
	WriteChunk    int64
	WriteShmSize  int64
	ReadShmSize   int64
	CollisionArea int64
}

// Registrar registers disks as /dev/buse<Major>. One registrar serves one
// major, so it can hold only one disk at a time.
type Registrar struct {
	opts Options
}

func New(o Options) *Registrar {
	return &Registrar{opts: o}
}

type handle struct {
	name  string
	major int64
	dev   buse.Buse

	// Closed when Run returns.
	done chan struct{}
}

// Register creates the BUSE device and starts serving it in the background.
func (r *Registrar) Register(d registry.Disk) (registry.Handle, error) {
	if err := d.Validate(); err != nil {
		return nil, err
	}

	if r.opts.BlockSize != 512 && r.opts.BlockSize != 4096 {
		return nil, fmt.Errorf("%w: block size %d", registry.ErrInvalid, r.opts.BlockSize)
	}

	size := int64(d.CapacitySectors) * int64(d.SectorSize)
	if size%r.opts.BlockSize != 0 {
		return nil, fmt.Errorf("%w: %d bytes is not a multiple of block size %d",
			registry.ErrInvalid, size, r.opts.BlockSize)
	}

	rw := newReadWriter(d, r.opts.BlockSize, r.opts.WriteChunk)

	dev, err := buse.New(rw, buse.Options{
		Durable:        r.opts.Durable,
		WriteChunkSize: r.opts.WriteChunk,
		BlockSize:      r.opts.BlockSize,
		Threads:        r.opts.Threads,
		Major:          r.opts.Major,
		WriteShmSize:   r.opts.WriteShmSize,
		ReadShmSize:    r.opts.ReadShmSize,
		Size:           size,
		CollisionArea:  r.opts.CollisionArea,
		QueueDepth:     r.opts.QueueDepth,
		Scheduler:      r.opts.Scheduler,
	})
	if err != nil {
		return nil, err
	}

	g := d.Geometry()
	log.Info().Str("name", d.Name).Int64("major", r.opts.Major).
		Uint64("cylinders", g.Cylinders).Uint8("heads", g.Heads).Uint8("sectors", g.SectorsPerTrack).
		Msgf("BUSE device %d registered!", r.opts.Major)

	h := &handle{name: d.Name, major: r.opts.Major, dev: dev, done: make(chan struct{})}
	go func() {
		h.dev.Run()
		close(h.done)
	}()

	return h, nil
}

// Done returns channel closed when the BUSE device stops serving on its own,
// e.g. when it is stopped from outside.
func Done(h registry.Handle) <-chan struct{} {
	if bh, ok := h.(*handle); ok {
		return bh.done
	}

	return nil
}

// Unregister stops the device, waits until it stops serving and removes it.
// No BuseRead or BuseWrite is running after it returns.
func (r *Registrar) Unregister(h registry.Handle) error {
	bh, ok := h.(*handle)
	if !ok {
		return fmt.Errorf("%w: foreign handle %T", registry.ErrNotRegistered, h)
	}

	select {
	case <-bh.done:
	default:
		log.Info().Msgf("Stopping buse%d", bh.major)
		bh.dev.StopDevice()
		<-bh.done
	}

	log.Info().Msgf("Removing buse%d", bh.major)
	bh.dev.RemoveDevice()

	return nil
}

// readWriter implements BuseReadWriter interface which is passed to the
// buse package. Every call is turned into requests for the disk.
type readWriter struct {
	disk      registry.Disk
	blockSize int64

	// Size of the portion of the write chunk which contains all writes
	// metadata. After this offset real data are stored.
	metadataSize int64
}

func newReadWriter(d registry.Disk, blockSize, writeChunk int64) *readWriter {
	return &readWriter{
		disk:         d,
		blockSize:    blockSize,
		metadataSize: writeChunk / blockSize * writeItemSize,
	}
}

// One write from the metadata section of the chunk. Both values are in
// 512 byte sectors no matter what block size is.
type writeItem struct {
	sector uint64
	length uint64
}

// Parses write information from 32 bytes of raw memory. The remaining 16
// bytes carry sequence number and flags which a memory device does not
// need.
func parseWriteItem(b []byte) writeItem {
	return writeItem{
		sector: binary.LittleEndian.Uint64(b[:8]),
		length: binary.LittleEndian.Uint64(b[8:16]),
	}
}

// Handle writes coming from the buse library. writes contain number write
// commands in this call and chunk contains memory where these commands are
// stored together with their data. First part of the chunk are metadata,
// until metadataSize, and the rest are data of all writes in the same
// order.
//
// All writes are submitted first and then waited for, so with queued
// dispatch they are served in the order the kernel sent them.
func (rw *readWriter) BuseWrite(writes int64, chunk []byte) error {
	if writes < 0 || writes*writeItemSize > rw.metadataSize || int64(len(chunk)) < rw.metadataSize {
		return fmt.Errorf("%w: %d writes", errMalformed, writes)
	}

	metadata := chunk[:rw.metadataSize]
	data := chunk[rw.metadataSize:]
	reqs := make([]*request.Request, 0, writes)

	for i := int64(0); i < writes; i++ {
		w := parseWriteItem(metadata[:writeItemSize])
		metadata = metadata[writeItemSize:]

		size := w.length << request.SectorShift
		if size > uint64(len(data)) {
			rw.wait(reqs)
			return fmt.Errorf("%w: write %d overruns data", errMalformed, i)
		}

		r := request.New(w.sector, request.Write, request.Segment{Buf: data[:size]})
		rw.disk.Dispatch(r)
		reqs = append(reqs, r)

		data = data[size:]
	}

	return rw.wait(reqs)
}

// Read extent starting at sector with length length to the buffer chunk.
// Both are in blocks. The chunk is handed over as one segment per block.
func (rw *readWriter) BuseRead(sector, length int64, chunk []byte) error {
	size := length * rw.blockSize
	if sector < 0 || length < 0 || int64(len(chunk)) < size {
		return fmt.Errorf("%w: read buffer of %d bytes for %d blocks", errMalformed, len(chunk), length)
	}

	segments := make([]request.Segment, length)
	for i := range segments {
		segments[i] = request.Segment{Buf: chunk[:rw.blockSize]}
		chunk = chunk[rw.blockSize:]
	}

	start := uint64(sector) * uint64(rw.blockSize) >> request.SectorShift
	r := request.New(start, request.Read, segments...)
	rw.disk.Dispatch(r)

	return r.Wait()
}

func (rw *readWriter) wait(reqs []*request.Request) error {
	var first error
	for _, r := range reqs {
		if err := r.Wait(); err != nil && first == nil {
			first = err
		}
	}

	return first
}

func (rw *readWriter) BusePreRun() {
	log.Info().Str("name", rw.disk.Name).Msg("Serving BUSE requests")
}

func (rw *readWriter) BusePostRemove() {
	log.Info().Str("name", rw.disk.Name).Msg("BUSE device removed")
}
