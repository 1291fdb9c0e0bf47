// Copyright (C) 2021 Vojtech Aschenbrenner <v@asch.cz>

package store

import (
	"io"

	"github.com/asch/memblk/internal/memblk/request"
)

// Checks that len bytes starting at sector fit into the store and returns
// the byte offset. Sector is checked on its own first so the multiplication
// cannot overflow.
func (s *Store) offset(sector uint64, length int) (uint64, bool) {
	if sector > s.capacity>>request.SectorShift {
		return 0, false
	}

	off := sector << request.SectorShift
	if off+uint64(length) > s.capacity {
		return 0, false
	}

	return off, true
}

// Transfer copies len(buf) bytes between buf and the store starting at
// sector. For request.Write the store is the destination, for request.Read
// it is the source. If the range does not fit, nothing is copied and
// ErrOutOfRange is returned. Validation happens outside the lock, only the
// copy itself is serialized.
func (s *Store) Transfer(sector uint64, buf []byte, dir request.Direction) error {
	off, ok := s.offset(sector, len(buf))
	if !ok {
		return ErrOutOfRange
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.bytes == nil {
		return ErrReleased
	}

	dst := s.bytes[off : off+uint64(len(buf))]
	if dir == request.Write {
		copy(dst, buf)
	} else {
		copy(buf, dst)
	}

	return nil
}

// ByteAt returns the byte at offset. Diagnostics only, there is no write
// counterpart.
func (s *Store) ByteAt(offset uint64) (byte, error) {
	if offset >= s.capacity {
		return 0, ErrOutOfRange
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.bytes == nil {
		return 0, ErrReleased
	}

	return s.bytes[offset], nil
}

// ReadAt implements io.ReaderAt over the store contents for the
// diagnostics dump. Reads past the end are short and return io.EOF.
func (s *Store) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 || uint64(off) >= s.capacity {
		return 0, io.EOF
	}

	n := len(p)
	if rest := s.capacity - uint64(off); uint64(n) > rest {
		n = int(rest)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.bytes == nil {
		return 0, ErrReleased
	}

	copy(p, s.bytes[off:uint64(off)+uint64(n)])

	if n < len(p) {
		return n, io.EOF
	}

	return n, nil
}
