// Copyright (C) 2021 Vojtech Aschenbrenner <v@asch.cz>

package geometry

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCompute(t *testing.T) {
	t.Parallel()

	cases := []struct {
		capacity  uint64
		cylinders uint64
	}{
		{100 * 1024 * 1024, 3200},
		{4096, 0},
		{32768, 1},
		{32768 + 512, 1},
		{65536, 2},
	}

	for _, c := range cases {
		g := Compute(c.capacity)
		assert.Equal(t, uint8(4), g.Heads)
		assert.Equal(t, uint8(16), g.SectorsPerTrack)
		assert.Equal(t, c.cylinders, g.Cylinders, "capacity %d", c.capacity)
		assert.Zero(t, g.Start)
		assert.LessOrEqual(t, g.Sectors()*512, c.capacity)
	}
}
