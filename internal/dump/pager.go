// Copyright (C) 2021 Vojtech Aschenbrenner <v@asch.cz>

// Package dump provides read-only diagnostic access to the device contents.
// The contents are split into fixed-size pages which can be fetched one by
// one over HTTP or written out as a whole to a sink, e.g. a directory or an
// s3 bucket. Nothing here can modify the device and nothing is ever read
// back into it.
package dump

import (
	"errors"
	"fmt"
	"io"
)

var ErrNoPage = errors.New("page out of range")

// Source is the read-only view of the device.
type Source interface {
	Capacity() uint64
	ReadAt(p []byte, off int64) (int, error)
}

// Pager splits the source into pages of equal size. The last page may be
// shorter.
type Pager struct {
	src      Source
	pageSize int
}

func NewPager(src Source, pageSize int) (*Pager, error) {
	if pageSize <= 0 {
		return nil, fmt.Errorf("invalid page size %d", pageSize)
	}

	return &Pager{src: src, pageSize: pageSize}, nil
}

func (p *Pager) PageSize() int {
	return p.pageSize
}

// Pages returns number of pages covering the whole source.
func (p *Pager) Pages() int {
	ps := uint64(p.pageSize)
	return int((p.src.Capacity() + ps - 1) / ps)
}

// Page returns content of page n.
func (p *Pager) Page(n int) ([]byte, error) {
	if n < 0 || n >= p.Pages() {
		return nil, fmt.Errorf("%w: %d of %d", ErrNoPage, n, p.Pages())
	}

	off := uint64(n) * uint64(p.pageSize)
	size := uint64(p.pageSize)
	if rest := p.src.Capacity() - off; rest < size {
		size = rest
	}

	buf := make([]byte, size)
	if _, err := p.src.ReadAt(buf, int64(off)); err != nil && err != io.EOF {
		return nil, err
	}

	return buf, nil
}

func zero(b []byte) bool {
	for _, v := range b {
		if v != 0 {
			return false
		}
	}

	return true
}
