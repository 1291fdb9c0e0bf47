// Copyright (C) 2021 Vojtech Aschenbrenner <v@asch.cz>

package request

// Span is one piece of a request addressed by its own starting sector.
type Span struct {
	Sector uint64
	Buf    []byte
}

// Iterate decomposes the request into spans, one per segment and in the
// same order. The sector cursor starts at r.Sector and advances by the
// length of each segment in sectors. It does not modify the request, so
// calling it again yields the same sequence.
func Iterate(r *Request) []Span {
	spans := make([]Span, len(r.Segments))

	sector := r.Sector
	for i, s := range r.Segments {
		spans[i] = Span{Sector: sector, Buf: s.Buf}
		sector += uint64(len(s.Buf)) >> SectorShift
	}

	return spans
}
