// Copyright (C) 2021 Vojtech Aschenbrenner <v@asch.cz>

// Package geometry reports synthetic CHS geometry for tools which still ask
// for it. The device has no real geometry, so heads and sectors per track
// are fixed and cylinders follow from the capacity.
package geometry

const (
	Heads           = 4
	SectorsPerTrack = 16

	sectorUnit = 512
)

type Geometry struct {
	Heads           uint8
	SectorsPerTrack uint8
	Cylinders       uint64

	// First sector of the device, always 0.
	Start uint64
}

// Compute returns geometry for a device of capacity bytes. Cylinders are
// truncated, so the last partial cylinder is not reported.
func Compute(capacity uint64) Geometry {
	return Geometry{
		Heads:           Heads,
		SectorsPerTrack: SectorsPerTrack,
		Cylinders:       capacity / sectorUnit / (Heads * SectorsPerTrack),
	}
}

// Sectors returns number of sectors covered by the reported geometry.
func (g Geometry) Sectors() uint64 {
	return g.Cylinders * uint64(g.Heads) * uint64(g.SectorsPerTrack)
}
