// Copyright (C) 2021 Vojtech Aschenbrenner <v@asch.cz>

// Package registry defines how a device is made visible to the outside
// world. The device describes itself as a Disk and hands it to a
// Registrar, which from then on calls Dispatch for every incoming request.
package registry

import (
	"errors"
	"fmt"
	"sync"

	"github.com/asch/memblk/internal/memblk/geometry"
	"github.com/asch/memblk/internal/memblk/request"
)

var (
	ErrExists        = errors.New("disk already registered")
	ErrNotRegistered = errors.New("disk not registered")
	ErrInvalid       = errors.New("invalid disk")
)

// Disk is everything a registrar needs to know about a device.
type Disk struct {
	Name            string
	CapacitySectors uint64
	SectorSize      uint32

	// Geometry is called on demand by tools asking for CHS geometry.
	Geometry func() geometry.Geometry

	// Dispatch is called once per incoming request. Completion is signaled
	// through the request.
	Dispatch func(r *request.Request)
}

// Validate checks that the disk can be registered.
func (d Disk) Validate() error {
	switch {
	case d.Name == "":
		return fmt.Errorf("%w: empty name", ErrInvalid)
	case d.SectorSize != request.SectorSize:
		return fmt.Errorf("%w: sector size %d", ErrInvalid, d.SectorSize)
	case d.CapacitySectors == 0:
		return fmt.Errorf("%w: zero capacity", ErrInvalid)
	case d.Dispatch == nil:
		return fmt.Errorf("%w: no dispatch function", ErrInvalid)
	case d.Geometry == nil:
		return fmt.Errorf("%w: no geometry function", ErrInvalid)
	}

	return nil
}

// Handle identifies one registration. Its content is private to the
// registrar which returned it.
type Handle interface{}

// Registrar makes disks visible. After Unregister returns, Dispatch of the
// disk is not called anymore.
type Registrar interface {
	Register(d Disk) (Handle, error)
	Unregister(h Handle) error
}

// Table is an in-process registrar. Disks registered here are reachable
// only by name through Lookup, which is all that tests and the local mode
// of the daemon need.
type Table struct {
	mu    sync.RWMutex
	disks map[string]Disk
}

func NewTable() *Table {
	return &Table{disks: make(map[string]Disk)}
}

type tableHandle struct {
	name string
}

func (t *Table) Register(d Disk) (Handle, error) {
	if err := d.Validate(); err != nil {
		return nil, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.disks[d.Name]; ok {
		return nil, fmt.Errorf("%w: %s", ErrExists, d.Name)
	}

	t.disks[d.Name] = d

	return tableHandle{d.Name}, nil
}

func (t *Table) Unregister(h Handle) error {
	th, ok := h.(tableHandle)
	if !ok {
		return fmt.Errorf("%w: foreign handle %T", ErrNotRegistered, h)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.disks[th.name]; !ok {
		return fmt.Errorf("%w: %s", ErrNotRegistered, th.name)
	}

	delete(t.disks, th.name)

	return nil
}

// Lookup returns disk registered under name.
func (t *Table) Lookup(name string) (Disk, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	d, ok := t.disks[name]

	return d, ok
}

// Len returns number of registered disks.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return len(t.disks)
}
