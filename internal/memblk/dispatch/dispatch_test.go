// Copyright (C) 2021 Vojtech Aschenbrenner <v@asch.cz>

package dispatch

import (
	"bytes"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/asch/memblk/internal/memblk/request"
	"github.com/asch/memblk/internal/memblk/store"
)

func newStore(t *testing.T, capacity int64) *store.Store {
	t.Helper()

	s, err := store.Allocate(capacity, nil)
	require.NoError(t, err)
	t.Cleanup(s.Release)

	return s
}

func fill(n int, b byte) []byte {
	return bytes.Repeat([]byte{b}, n)
}

func segment(n int, b byte) request.Segment {
	return request.Segment{Buf: fill(n, b)}
}

func read(t *testing.T, d Dispatcher, sector uint64, n int) []byte {
	t.Helper()

	r := request.New(sector, request.Read, request.Segment{Buf: make([]byte, n)})
	d.Submit(r)
	require.NoError(t, r.Wait())

	return r.Segments[0].Buf
}

// Builders for every dispatcher which serves the store.
var serving = map[string]func(*store.Store, Options) Dispatcher{
	"direct": func(s *store.Store, o Options) Dispatcher { return NewDirect(s, o) },
	"queued": func(s *store.Store, o Options) Dispatcher { return NewQueued(s, o) },
}

func TestScenario(t *testing.T) {
	t.Parallel()

	for name, build := range serving {
		build := build
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			d := build(newStore(t, 4096), Options{})
			defer d.Close()

			w := request.New(0, request.Write, segment(512, 0xaa))
			d.Submit(w)
			require.NoError(t, w.Wait())
			assert.Equal(t, fill(512, 0xaa), read(t, d, 0, 512))

			w = request.New(7, request.Write, segment(512, 0x77))
			d.Submit(w)
			require.NoError(t, w.Wait())

			w = request.New(8, request.Write, segment(512, 0x88))
			d.Submit(w)
			require.NoError(t, w.Wait())
			assert.Equal(t, fill(512, 0x77), read(t, d, 7, 512))

			st := d.Stats()
			assert.Equal(t, uint64(5), st.Requests)
			assert.Equal(t, uint64(1), st.Skipped)
			assert.Equal(t, uint64(1024), st.BytesWritten)
			assert.Equal(t, uint64(1024), st.BytesRead)
		})
	}
}

func TestOutOfRangeSegmentSkipped(t *testing.T) {
	t.Parallel()

	for name, build := range serving {
		build := build
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			d := build(newStore(t, 4096), Options{})
			defer d.Close()

			// Sectors 6, 7 fit, sectors 8, 9 do not, so only the first
			// segment is applied.
			w := request.New(6, request.Write, segment(1024, 0x11), segment(1024, 0x22))
			d.Submit(w)
			assert.NoError(t, w.Wait())

			assert.Equal(t, fill(1024, 0x11), read(t, d, 6, 1024))
		})
	}
}

func TestStrictReportsSkippedSegments(t *testing.T) {
	t.Parallel()

	for name, build := range serving {
		build := build
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			d := build(newStore(t, 4096), Options{Strict: true})
			defer d.Close()

			w := request.New(7, request.Write, segment(512, 0x11), segment(512, 0x22), segment(512, 0x33))
			d.Submit(w)
			err := w.Wait()
			assert.ErrorIs(t, err, store.ErrOutOfRange)
			assert.Contains(t, err.Error(), "2 of 3")

			// The segment which fits was still written.
			assert.Equal(t, fill(512, 0x11), read(t, d, 7, 512))
		})
	}
}

func TestMultiSegmentRead(t *testing.T) {
	t.Parallel()

	for name, build := range serving {
		build := build
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			d := build(newStore(t, 8192), Options{})
			defer d.Close()

			w := request.New(2, request.Write, segment(512, 1), segment(1024, 2), segment(512, 3))
			d.Submit(w)
			require.NoError(t, w.Wait())

			a, b := make([]byte, 1024), make([]byte, 1024)
			r := request.New(2, request.Read, request.Segment{Buf: a}, request.Segment{Buf: b})
			d.Submit(r)
			require.NoError(t, r.Wait())

			assert.Equal(t, append(fill(512, 1), fill(512, 2)...), a)
			assert.Equal(t, append(fill(512, 2), fill(512, 3)...), b)
		})
	}
}

func TestConcurrentSubmitters(t *testing.T) {
	t.Parallel()

	for name, build := range serving {
		build := build
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			const workers = 8
			d := build(newStore(t, workers*4096), Options{})
			defer d.Close()

			var wg sync.WaitGroup
			for w := 0; w < workers; w++ {
				wg.Add(1)
				go func(w int) {
					defer wg.Done()
					for i := 0; i < 50; i++ {
						r := request.New(uint64(w*8), request.Write, segment(4096, byte(w+i)))
						d.Submit(r)
						assert.NoError(t, r.Wait())
					}
				}(w)
			}
			wg.Wait()

			for w := 0; w < workers; w++ {
				assert.Equal(t, fill(4096, byte(w+49)), read(t, d, uint64(w*8), 4096))
			}
		})
	}
}

func TestSubmitAfterClose(t *testing.T) {
	t.Parallel()

	builders := map[string]func(*store.Store) Dispatcher{
		"direct": func(s *store.Store) Dispatcher { return NewDirect(s, Options{}) },
		"queued": func(s *store.Store) Dispatcher { return NewQueued(s, Options{}) },
		"null":   func(*store.Store) Dispatcher { return NewNull() },
	}

	for name, build := range builders {
		build := build
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			d := build(newStore(t, 4096))
			d.Close()
			d.Close()

			r := request.New(0, request.Write, segment(512, 1))
			d.Submit(r)
			assert.ErrorIs(t, r.Wait(), ErrStopped)
		})
	}
}

func TestNullLeavesBuffers(t *testing.T) {
	t.Parallel()

	d := NewNull()
	defer d.Close()

	buf := fill(512, 0x42)
	r := request.New(1<<40, request.Read, request.Segment{Buf: buf}, segment(512, 0))
	d.Submit(r)
	require.NoError(t, r.Wait())

	assert.Equal(t, fill(512, 0x42), buf)
	assert.Equal(t, Stats{Requests: 1, Segments: 2}, d.Stats())
}

func TestParseStopPolicy(t *testing.T) {
	t.Parallel()

	for _, p := range []StopPolicy{Abandon, Drain, Fail} {
		got, err := ParseStopPolicy(p.String())
		require.NoError(t, err)
		assert.Equal(t, p, got)
	}

	_, err := ParseStopPolicy("later")
	assert.Error(t, err)
}

// EndIO runs after the gate is released, so submitting from it while Close
// is in progress cannot deadlock.
func TestDirectResubmitFromEndIODuringClose(t *testing.T) {
	t.Parallel()

	d := NewDirect(newStore(t, 4096), Options{})

	entered := make(chan struct{})
	release := make(chan struct{})
	resubmitted := make(chan error, 1)

	r := request.New(0, request.Write, segment(512, 1))
	r.EndIO = func(*request.Request, error) {
		close(entered)
		<-release

		again := request.New(1, request.Write, segment(512, 2))
		d.Submit(again)
		resubmitted <- again.Wait()
	}
	go d.Submit(r)
	<-entered

	closed := make(chan struct{})
	go func() {
		d.Close()
		close(closed)
	}()

	select {
	case <-closed:
	case <-time.After(5 * time.Second):
		t.Fatal("Close blocked by a completion callback")
	}

	close(release)

	select {
	case err := <-resubmitted:
		assert.ErrorIs(t, err, ErrStopped)
	case <-time.After(5 * time.Second):
		t.Fatal("submission from completion callback never completed")
	}

	require.NoError(t, r.Wait())
}
