// Copyright (C) 2021 Vojtech Aschenbrenner <v@asch.cz>

package dump

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/asch/memblk/internal/dump/key"
)

// Sink stores one named object. prio marks dumps which should not wait
// behind others, like the final one during teardown.
type Sink interface {
	Put(name string, data []byte, prio bool) error
}

// Manifest describes one dump generation. It is stored next to the pages.
// Pages which contain only zeroes are not stored and not listed.
type Manifest struct {
	Device     string    `json:"device"`
	Generation int64     `json:"generation"`
	Capacity   uint64    `json:"capacity"`
	PageSize   int       `json:"page_size"`
	Pages      []int     `json:"pages"`
	Time       time.Time `json:"time"`
}

// Dumper writes all non-zero pages of the device to the sink. Every dump
// gets a new generation number, and all its objects are named
// <device>/<generation>/<page> in hex.
type Dumper struct {
	device   string
	pager    *Pager
	sink     Sink
	parallel int

	seq key.Sequence

	// One dump at a time.
	mu sync.Mutex
}

func NewDumper(device string, pager *Pager, sink Sink, parallel int) *Dumper {
	if parallel < 1 {
		parallel = 1
	}

	return &Dumper{
		device:   device,
		pager:    pager,
		sink:     sink,
		parallel: parallel,
	}
}

func (d *Dumper) name(gen int64, object string) string {
	return fmt.Sprintf("%s/%08x/%s", d.device, gen, object)
}

// Generations returns number of dumps started so far.
func (d *Dumper) Generations() int64 {
	return d.seq.Current()
}

// Dump writes one generation and returns its manifest. Pages are uploaded
// by at most parallel goroutines. The manifest is written last, so a
// generation without manifest is incomplete.
func (d *Dumper) Dump(prio bool) (Manifest, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	m := Manifest{
		Device:     d.device,
		Generation: d.seq.Next(),
		Capacity:   d.pager.src.Capacity(),
		PageSize:   d.pager.PageSize(),
		Pages:      make([]int, 0),
		Time:       time.Now().UTC(),
	}

	gen := m.Generation

	var wg sync.WaitGroup
	var errOnce sync.Once
	var firstErr error
	sem := make(chan struct{}, d.parallel)

	for n := 0; n < d.pager.Pages(); n++ {
		page, err := d.pager.Page(n)
		if err != nil {
			errOnce.Do(func() { firstErr = err })
			break
		}

		if zero(page) {
			continue
		}
		m.Pages = append(m.Pages, n)

		sem <- struct{}{}
		wg.Add(1)
		go func(n int, page []byte) {
			defer wg.Done()
			defer func() { <-sem }()

			err := d.sink.Put(d.name(gen, fmt.Sprintf("%08x", n)), page, prio)
			if err != nil {
				log.Info().Err(err).Int("page", n).Send()
				errOnce.Do(func() { firstErr = err })
			}
		}(n, page)
	}

	wg.Wait()

	if firstErr != nil {
		return m, firstErr
	}

	manifest, err := json.Marshal(m)
	if err != nil {
		return m, err
	}

	if err := d.sink.Put(d.name(m.Generation, "manifest.json"), manifest, prio); err != nil {
		return m, err
	}

	log.Info().Str("device", d.device).Int64("generation", m.Generation).
		Int("pages", len(m.Pages)).Msg("Dump finished")

	return m, nil
}
