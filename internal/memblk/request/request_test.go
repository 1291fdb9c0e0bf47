// Copyright (C) 2021 Vojtech Aschenbrenner <v@asch.cz>

package request

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type spanView struct {
	Sector uint64
	Len    int
}

func view(spans []Span) []spanView {
	v := make([]spanView, len(spans))
	for i, s := range spans {
		v[i] = spanView{s.Sector, len(s.Buf)}
	}

	return v
}

func TestIterateTwoSegments(t *testing.T) {
	t.Parallel()

	r := New(0, Write, Segment{make([]byte, 512)}, Segment{make([]byte, 1024)})

	want := []spanView{{0, 512}, {1, 1024}}
	if diff := cmp.Diff(want, view(Iterate(r))); diff != "" {
		t.Fatalf("spans mismatch (-want +got):\n%s", diff)
	}
}

func TestIterateAdvancesByEachSegment(t *testing.T) {
	t.Parallel()

	lengths := []int{4096, 512, 1536, 512}
	segments := make([]Segment, len(lengths))
	for i, l := range lengths {
		segments[i] = Segment{make([]byte, l)}
	}

	r := New(100, Read, segments...)

	want := []spanView{{100, 4096}, {108, 512}, {109, 1536}, {112, 512}}
	got := view(Iterate(r))
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("spans mismatch (-want +got):\n%s", diff)
	}

	// Recomputing must not depend on the previous walk.
	if diff := cmp.Diff(got, view(Iterate(r))); diff != "" {
		t.Fatalf("iteration not restartable (-first +second):\n%s", diff)
	}
}

func TestIterateSharesCallerBuffers(t *testing.T) {
	t.Parallel()

	buf := make([]byte, 512)
	spans := Iterate(New(3, Write, Segment{buf}))

	require.Len(t, spans, 1)
	spans[0].Buf[0] = 0x42
	assert.Equal(t, byte(0x42), buf[0])
}

func TestIterateEmpty(t *testing.T) {
	t.Parallel()

	assert.Empty(t, Iterate(New(7, Read)))
}

func TestCompleteOnce(t *testing.T) {
	t.Parallel()

	calls := 0
	r := New(0, Read)
	r.EndIO = func(_ *Request, err error) {
		calls++
	}

	first := errors.New("first")
	assert.False(t, r.Completed())

	r.Complete(first)
	r.Complete(errors.New("second"))

	assert.True(t, r.Completed())
	assert.Equal(t, 1, calls)
	assert.Same(t, first, r.Wait())
	assert.Same(t, first, r.Err())
}

func TestLen(t *testing.T) {
	t.Parallel()

	r := New(0, Write, Segment{make([]byte, 512)}, Segment{make([]byte, 2048)})
	assert.Equal(t, 2560, r.Len())
	assert.Equal(t, "write", r.Dir.String())
}
