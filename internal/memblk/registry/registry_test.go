// Copyright (C) 2021 Vojtech Aschenbrenner <v@asch.cz>

package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/asch/memblk/internal/memblk/geometry"
	"github.com/asch/memblk/internal/memblk/request"
)

func disk(name string) Disk {
	return Disk{
		Name:            name,
		CapacitySectors: 8,
		SectorSize:      request.SectorSize,
		Geometry:        func() geometry.Geometry { return geometry.Compute(4096) },
		Dispatch:        func(r *request.Request) { r.Complete(nil) },
	}
}

func TestTableRegisterUnregister(t *testing.T) {
	t.Parallel()

	table := NewTable()

	h, err := table.Register(disk("a"))
	require.NoError(t, err)
	assert.Equal(t, 1, table.Len())

	d, ok := table.Lookup("a")
	require.True(t, ok)
	assert.Equal(t, uint64(8), d.CapacitySectors)

	r := request.New(0, request.Read)
	d.Dispatch(r)
	assert.NoError(t, r.Wait())

	_, err = table.Register(disk("a"))
	assert.ErrorIs(t, err, ErrExists)

	require.NoError(t, table.Unregister(h))
	assert.Zero(t, table.Len())
	assert.ErrorIs(t, table.Unregister(h), ErrNotRegistered)
	assert.ErrorIs(t, table.Unregister("bogus"), ErrNotRegistered)

	_, ok = table.Lookup("a")
	assert.False(t, ok)
}

func TestDiskValidate(t *testing.T) {
	t.Parallel()

	broken := map[string]func(*Disk){
		"name":     func(d *Disk) { d.Name = "" },
		"sector":   func(d *Disk) { d.SectorSize = 4096 },
		"capacity": func(d *Disk) { d.CapacitySectors = 0 },
		"dispatch": func(d *Disk) { d.Dispatch = nil },
		"geometry": func(d *Disk) { d.Geometry = nil },
	}

	for name, breakIt := range broken {
		d := disk("x")
		breakIt(&d)

		_, err := NewTable().Register(d)
		assert.ErrorIs(t, err, ErrInvalid, name)
	}
}
