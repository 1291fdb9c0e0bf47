// Copyright (C) 2021 Vojtech Aschenbrenner <v@asch.cz>

package memblk

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/asch/memblk/internal/memblk/dispatch"
	"github.com/asch/memblk/internal/memblk/geometry"
	"github.com/asch/memblk/internal/memblk/registry"
	"github.com/asch/memblk/internal/memblk/request"
	"github.com/asch/memblk/internal/memblk/store"
)

const (
	// Default capacity of the device, 100 MiB.
	DefaultCapacity = 100 * 1024 * 1024

	DefaultName = "memblk"
)

// Mode selects the dispatcher.
type Mode int

const (
	Direct Mode = iota
	Queued
	Null
)

func (m Mode) String() string {
	switch m {
	case Direct:
		return "direct"
	case Queued:
		return "queued"
	case Null:
		return "null"
	}

	return "unknown"
}

// ParseMode is the inverse of Mode.String.
func ParseMode(s string) (Mode, error) {
	for _, m := range []Mode{Direct, Queued, Null} {
		if m.String() == s {
			return m, nil
		}
	}

	return Direct, fmt.Errorf("unknown dispatch mode %q", s)
}

// Diagnostics is a read-only view of the device contents.
type Diagnostics interface {
	Capacity() uint64
	ByteAt(offset uint64) (byte, error)
	ReadAt(p []byte, off int64) (int, error)
}

// Options for Start. The zero value is not usable, at least Capacity has to
// be set.
type Options struct {
	Name     string
	Capacity int64
	Mode     Mode
	Dispatch dispatch.Options

	// Nil means the Go heap.
	Allocator store.Allocator

	// BeforeRelease is called during Stop once no request can reach the
	// store anymore and just before the store memory is released. Meant
	// for a final diagnostic dump.
	BeforeRelease func(Diagnostics)
}

// InitError is returned by Start. Step names the failed step.
type InitError struct {
	Step string
	Err  error
}

func (e *InitError) Error() string {
	return fmt.Sprintf("memblk: %s: %v", e.Step, e.Err)
}

func (e *InitError) Unwrap() error {
	return e.Err
}

// Device is one running memory-backed block device.
type Device struct {
	name string

	store      *store.Store
	dispatcher dispatch.Dispatcher
	registrar  registry.Registrar
	handle     registry.Handle

	beforeRelease func(Diagnostics)

	stopOnce sync.Once
	stopErr  error
}

// Start allocates the store, starts the dispatcher and registers the
// device. When any step fails, the steps already done are undone in
// reverse order and InitError is returned, so no partially constructed
// device is ever registered.
func Start(o Options, r registry.Registrar) (*Device, error) {
	var undo []func()
	fail := func(step string, err error) (*Device, error) {
		for i := len(undo) - 1; i >= 0; i-- {
			undo[i]()
		}
		log.Error().Err(err).Str("step", step).Msg("Device start failed")

		return nil, &InitError{Step: step, Err: err}
	}

	if o.Name == "" {
		o.Name = DefaultName
	}

	d := Device{
		name:          o.Name,
		registrar:     r,
		beforeRelease: o.BeforeRelease,
	}

	s, err := store.Allocate(o.Capacity, o.Allocator)
	if err != nil {
		return fail("allocate", err)
	}
	d.store = s
	undo = append(undo, s.Release)
	log.Info().Str("name", d.name).Uint64("bytes", s.Capacity()).Msg("Backing store allocated")

	switch o.Mode {
	case Direct:
		d.dispatcher = dispatch.NewDirect(s, o.Dispatch)
	case Queued:
		d.dispatcher = dispatch.NewQueued(s, o.Dispatch)
	case Null:
		d.dispatcher = dispatch.NewNull()
	default:
		return fail("dispatch", fmt.Errorf("unknown dispatch mode %d", o.Mode))
	}
	undo = append(undo, d.dispatcher.Close)
	log.Info().Str("mode", o.Mode.String()).Bool("strict", o.Dispatch.Strict).Msg("Dispatcher started")

	h, err := r.Register(d.disk())
	if err != nil {
		return fail("register", err)
	}
	d.handle = h
	log.Info().Str("name", d.name).Uint64("sectors", s.Sectors()).Msg("Device registered")

	return &d, nil
}

func (d *Device) disk() registry.Disk {
	return registry.Disk{
		Name:            d.name,
		CapacitySectors: d.store.Sectors(),
		SectorSize:      request.SectorSize,
		Geometry:        d.Geometry,
		Dispatch:        d.dispatcher.Submit,
	}
}

// Stop unregisters the device, stops the dispatcher and releases the store,
// i.e. exactly the reverse of Start. Only the first call does anything.
// The returned error is from unregistering; the rest of the teardown
// happens regardless.
func (d *Device) Stop() error {
	d.stopOnce.Do(func() {
		if err := d.registrar.Unregister(d.handle); err != nil {
			log.Error().Err(err).Str("name", d.name).Msg("Unregister failed")
			d.stopErr = err
		} else {
			log.Info().Str("name", d.name).Msg("Device unregistered")
		}

		d.dispatcher.Close()
		log.Info().Interface("stats", d.dispatcher.Stats()).Msg("Dispatcher stopped")

		if d.beforeRelease != nil {
			d.beforeRelease(d.store)
		}

		d.store.Release()
		log.Info().Str("name", d.name).Msg("Backing store released")
	})

	return d.stopErr
}

func (d *Device) Name() string {
	return d.name
}

// Handle returns what the registrar returned on registration.
func (d *Device) Handle() registry.Handle {
	return d.handle
}

// Geometry returns synthetic CHS geometry of the device.
func (d *Device) Geometry() geometry.Geometry {
	return geometry.Compute(d.store.Capacity())
}

// Submit passes request to the dispatcher, the same path the registrar
// uses.
func (d *Device) Submit(r *request.Request) {
	d.dispatcher.Submit(r)
}

func (d *Device) Stats() dispatch.Stats {
	return d.dispatcher.Stats()
}

// Diagnostics returns read-only view of the device contents.
func (d *Device) Diagnostics() Diagnostics {
	return d.store
}
