// Copyright (C) 2021 Vojtech Aschenbrenner <v@asch.cz>

// memblk is a userspace daemon exposing a block device backed by plain
// memory. It registers the device with BUSE and serves all reads and writes
// from a buffer allocated at start. Nothing is persisted.
//
// Project structure is following:
//
// - internal/memblk contains the device itself: the backing store, request
// model, dispatchers, geometry, the registration interface and the
// lifecycle tying them together.
//
// - internal/busedev registers the device with the BUSE kernel module.
//
// - internal/dump contains read-only diagnostics: paging over the device
// contents, an HTTP endpoint and dumps to a directory or an s3 bucket.
//
// - internal/config contains configuration package.
package main

import (
	"fmt"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/asch/memblk/internal/busedev"
	"github.com/asch/memblk/internal/config"
	"github.com/asch/memblk/internal/dump"
	"github.com/asch/memblk/internal/dump/objproxy"
	"github.com/asch/memblk/internal/dump/objproxy/s3"
	"github.com/asch/memblk/internal/memblk"
	"github.com/asch/memblk/internal/memblk/registry"
)

// Parse configuration from file and environment variables, start the device
// and register it. The device is served until it is signaled by SIGINT or
// SIGTERM to gracefully finish. SIGUSR1 dumps the device contents.
func main() {
	err := config.Configure()
	if err != nil {
		log.Panic().Err(err).Send()
	}

	loggerSetup(config.Cfg.Log.Pretty, config.Cfg.Log.Level)

	opts, err := memblk.NewOptions()
	if err != nil {
		log.Panic().Err(err).Send()
	}

	sink, closeSink, err := getDumpSink(config.Cfg.Dump.Target)
	if err != nil {
		log.Panic().Err(err).Send()
	}
	defer closeSink()

	// Shared by SIGUSR1 and the final dump, so generations keep counting.
	var dumper *dump.Dumper

	if sink != nil && config.Cfg.Dump.OnExit {
		opts.BeforeRelease = func(memblk.Diagnostics) {
			if _, err := dumper.Dump(true); err != nil {
				log.Info().Err(err).Msg("Final dump failed")
			}
		}
	}

	registrar := getRegistrar(config.Cfg.Registrar)

	dev, err := memblk.Start(opts, registrar)
	if err != nil {
		log.Panic().Err(err).Send()
	}

	if config.Cfg.Profiler {
		runProfiler(config.Cfg.ProfilerPort, dev)
	}

	if sink != nil {
		dumper = newDumper(dev.Diagnostics(), sink)
		registerSigUSR1Handler(dumper)
	}

	waitForStop(dev)

	if err := dev.Stop(); err != nil {
		log.Info().Err(err).Send()
	}
}

// Returns BUSE registrar unless user wants the device to stay in-process.
func getRegistrar(kind string) registry.Registrar {
	if kind == "local" {
		return registry.NewTable()
	}

	return busedev.New(busedev.Options{
		Major:         int64(config.Cfg.Buse.Major),
		Threads:       config.Cfg.Buse.Threads,
		BlockSize:     int64(config.Cfg.Buse.BlockSize),
		QueueDepth:    int64(config.Cfg.Buse.QueueDepth),
		Scheduler:     config.Cfg.Buse.Scheduler,
		Durable:       config.Cfg.Buse.Durable,
		WriteChunk:    int64(config.Cfg.Buse.ChunkSize),
		WriteShmSize:  int64(config.Cfg.Buse.WriteBufSize),
		ReadShmSize:   int64(config.Cfg.Buse.ReadBufSize),
		CollisionArea: int64(config.Cfg.Buse.CollisionSize),
	})
}

// Returns sink for dumps and function releasing it. Nil sink means dumps are
// disabled.
func getDumpSink(target string) (dump.Sink, func(), error) {
	switch target {
	case "file":
		return dump.FileSink{Dir: config.Cfg.Dump.Dir}, func() {}, nil

	case "s3":
		s3Handler, err := s3.New(s3.Options{
			Remote:    config.Cfg.Dump.S3.Remote,
			Region:    config.Cfg.Dump.S3.Region,
			Bucket:    config.Cfg.Dump.S3.Bucket,
			AccessKey: config.Cfg.Dump.S3.AccessKey,
			SecretKey: config.Cfg.Dump.S3.SecretKey,
		})
		if err != nil {
			return nil, nil, err
		}

		proxy := objproxy.New(s3Handler, config.Cfg.Dump.S3.Uploaders)

		return proxy, proxy.Close, nil
	}

	return nil, func() {}, nil
}

func newDumper(v memblk.Diagnostics, sink dump.Sink) *dump.Dumper {
	pager, err := dump.NewPager(v, config.Cfg.Dump.PageSize)
	if err != nil {
		log.Panic().Err(err).Send()
	}

	return dump.NewDumper(config.Cfg.Name, pager, sink, config.Cfg.Dump.Parallel)
}

// Register SIGUSR1 as a trigger for a dump.
func registerSigUSR1Handler(d *dump.Dumper) {
	dumpChan := make(chan os.Signal, 1)
	signal.Notify(dumpChan, syscall.SIGUSR1)

	go func() {
		for range dumpChan {
			log.Info().Msg("Dump started.")
			if _, err := d.Dump(false); err != nil {
				log.Info().Err(err).Msg("Dump failed.")
			}
		}
	}()
}

// Block until SIGINT or SIGTERM comes in, or until the BUSE device stops
// serving on its own.
func waitForStop(dev *memblk.Device) {
	stopChan := make(chan os.Signal, 1)
	signal.Notify(stopChan, os.Interrupt)
	signal.Notify(stopChan, syscall.SIGTERM)

	// Nil, hence never ready, for registrars other than BUSE.
	served := busedev.Done(dev.Handle())

	select {
	case <-stopChan:
		log.Info().Msgf("Received interrupt, stopping %s device!", dev.Name())
	case <-served:
		log.Info().Msgf("Device %s stopped serving", dev.Name())
	}
}

func loggerSetup(pretty bool, level int) {
	if pretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}

	zerolog.SetGlobalLevel(zerolog.Level(level))
}

// Enables remote profiling support and the dump endpoint. Useful for
// perfomance debugging and for looking at the device contents.
func runProfiler(port int, dev *memblk.Device) {
	pager, err := dump.NewPager(dev.Diagnostics(), config.Cfg.Dump.PageSize)
	if err != nil {
		log.Panic().Err(err).Send()
	}

	http.Handle("/debug/memblk/dump", dump.Handler(pager))

	go func() {
		log.Info().Err(http.ListenAndServe(fmt.Sprintf("localhost:%d", port), nil)).Send()
	}()
}
