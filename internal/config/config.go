// Copyright (C) 2021 Vojtech Aschenbrenner <v@asch.cz>

// Package config is a singleton and provides global access to the
// configuration values.
package config

import (
	"fmt"
	"os"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/spf13/pflag"
)

const (
	// Default config path. It does not need to exist, default values for all parameters will be
	// used instead.
	defaultConfig = "/etc/memblk/config.toml"

	sectorSize = 512
)

var Cfg Config

// Configuration structure for the program. We use toml format for file-based
// configuration and also all configuration options can be overriden by
// environment variable specified in this structure.
type Config struct {
	ConfigPath string

	Name      string `toml:"name" env:"MEMBLK_NAME" env-default:"memblk" env-description:"Device name."`
	Size      int64  `toml:"size" env:"MEMBLK_SIZE" env-default:"104857600" env-description:"Device size in bytes. Multiple of 512."`
	Dispatch  string `toml:"dispatch" env:"MEMBLK_DISPATCH" env-default:"direct" env-description:"Request dispatch: direct, queued or null."`
	Strict    bool   `toml:"strict" env:"MEMBLK_STRICT" env-default:"false" env-description:"Fail requests with out of range segments instead of silently skipping them."`
	OnStop    string `toml:"on_stop" env:"MEMBLK_ONSTOP" env-default:"abandon" env-description:"What queued dispatch does with pending requests on stop: abandon, drain or fail."`
	Registrar string `toml:"registrar" env:"MEMBLK_REGISTRAR" env-default:"buse" env-description:"Where the device is registered: buse or local."`

	Buse struct {
		Major         int  `toml:"major" env:"MEMBLK_BUSE_MAJOR" env-default:"0" env-description:"Device major. Decimal part of /dev/buse%d."`
		Threads       int  `toml:"threads" env:"MEMBLK_BUSE_THREADS" env-default:"0" env-description:"Number of user-space threads for serving queues."`
		BlockSize     int  `toml:"block_size" env:"MEMBLK_BUSE_BLOCKSIZE" env-default:"4096" env-description:"Block size, 512 or 4096."`
		Scheduler     bool `toml:"scheduler" env:"MEMBLK_BUSE_SCHEDULER" env-default:"false" env-description:"Use block layer scheduler."`
		QueueDepth    int  `toml:"queue_depth" env:"MEMBLK_BUSE_QUEUEDEPTH" env-default:"128" env-description:"Device IO queue depth."`
		Durable       bool `toml:"durable" env:"MEMBLK_BUSE_DURABLE" env-default:"false" env-description:"Flush semantics. True means durable, false means barrier only."`
		WriteBufSize  int  `toml:"write_shared_buffer_size" env:"MEMBLK_BUSE_WRITE_BUFSIZE" env-default:"32" env-description:"Write shared memory size in MB."`
		ChunkSize     int  `toml:"write_chunk_size" env:"MEMBLK_BUSE_WRITE_CHUNKSIZE" env-default:"4" env-description:"Write chunk size in MB."`
		CollisionSize int  `toml:"collision_chunk_size" env:"MEMBLK_BUSE_WRITE_COLSIZE" env-default:"1" env-description:"Collision size in MB."`
		ReadBufSize   int  `toml:"read_shared_buffer_size" env:"MEMBLK_BUSE_READ_BUFSIZE" env-default:"32" env-description:"Read shared memory size in MB."`
	} `toml:"buse"`

	Dump struct {
		PageSize int    `toml:"page_size" env:"MEMBLK_DUMP_PAGESIZE" env-default:"4096" env-description:"Size of one dump page in bytes."`
		Target   string `toml:"target" env:"MEMBLK_DUMP_TARGET" env-default:"none" env-description:"Where SIGUSR1 dumps go: none, file or s3."`
		Dir      string `toml:"dir" env:"MEMBLK_DUMP_DIR" env-default:"/var/lib/memblk/dump" env-description:"Directory for file dumps."`
		OnExit   bool   `toml:"on_exit" env:"MEMBLK_DUMP_ONEXIT" env-default:"false" env-description:"Dump the device once more during teardown."`
		Parallel int    `toml:"parallel" env:"MEMBLK_DUMP_PARALLEL" env-default:"1" env-description:"Number of pages stored concurrently during a dump."`

		S3 struct {
			Bucket    string `toml:"bucket" env:"MEMBLK_DUMP_S3_BUCKET" env-description:"S3 Bucket name." env-default:"memblk"`
			Remote    string `toml:"remote" env:"MEMBLK_DUMP_S3_REMOTE" env-description:"S3 Remote address. Empty string for AWS S3 endpoint." env-default:""`
			Region    string `toml:"region" env:"MEMBLK_DUMP_S3_REGION" env-description:"S3 Region." env-default:"us-east-1"`
			AccessKey string `toml:"access_key" env:"MEMBLK_DUMP_S3_ACCESSKEY" env-description:"S3 Access Key." env-default:""`
			SecretKey string `toml:"secret_key" env:"MEMBLK_DUMP_S3_SECRETKEY" env-description:"S3 Secret Key." env-default:""`
			Uploaders int    `toml:"uploaders" env:"MEMBLK_DUMP_S3_UPLOADERS" env-description:"S3 Max number of uploader threads." env-default:"4"`
		} `toml:"s3"`
	} `toml:"dump"`

	Log struct {
		Level  int  `toml:"level" env:"MEMBLK_LOG_LEVEL" env-description:"Log level." env-default:"-1"`
		Pretty bool `toml:"pretty" env:"MEMBLK_LOG_PRETTY" env-description:"Pretty logging." env-default:"true"`
	} `toml:"log"`

	Profiler     bool `toml:"profiler" env:"MEMBLK_PROFILER" env-description:"Enable golang web profiler and the dump endpoint." env-default:"false"`
	ProfilerPort int  `toml:"profiler_port" env:"MEMBLK_PROFILER_PORT" env-description:"Port to listen on." env-default:"6060"`
}

// Configure reads commandline flags and handles the configuration. The
// configuration file has the lower priotiry and the environment variables have
// the highest priority. It is perfetcly to fine to use just one of these or to
// combine them.
func Configure() error {
	flagSetup(os.Args[1:])
	err := parse()

	return err
}

// Parse the configuration file and reads the environment variable. After that
// it does some values postprocessing, validates them and fills the Cfg
// structure.
func parse() error {
	if err := cleanenv.ReadConfig(Cfg.ConfigPath, &Cfg); err != nil {
		if err := cleanenv.ReadEnv(&Cfg); err != nil {
			return err
		}
	}

	Cfg.Buse.WriteBufSize *= 1024 * 1024
	Cfg.Buse.ChunkSize *= 1024 * 1024
	Cfg.Buse.CollisionSize *= 1024 * 1024
	Cfg.Buse.ReadBufSize *= 1024 * 1024

	if Cfg.Buse.BlockSize != 512 {
		Cfg.Buse.BlockSize = 4096
	}

	return validate(&Cfg)
}

func validate(c *Config) error {
	if c.Size <= 0 || c.Size%sectorSize != 0 {
		return fmt.Errorf("size %d is not a positive multiple of %d", c.Size, sectorSize)
	}

	if c.Name == "" {
		return fmt.Errorf("empty device name")
	}

	if c.Dump.Parallel <= 0 {
		return fmt.Errorf("dump parallelism %d is not positive", c.Dump.Parallel)
	}

	if c.Dump.PageSize <= 0 {
		return fmt.Errorf("dump page size %d is not positive", c.Dump.PageSize)
	}

	enums := []struct {
		key     string
		value   string
		allowed []string
	}{
		{"dispatch", c.Dispatch, []string{"direct", "queued", "null"}},
		{"on_stop", c.OnStop, []string{"abandon", "drain", "fail"}},
		{"registrar", c.Registrar, []string{"buse", "local"}},
		{"dump.target", c.Dump.Target, []string{"none", "file", "s3"}},
	}

	for _, e := range enums {
		if !oneOf(e.value, e.allowed) {
			return fmt.Errorf("%s: %q is not one of %v", e.key, e.value, e.allowed)
		}
	}

	return nil
}

func oneOf(v string, allowed []string) bool {
	for _, a := range allowed {
		if v == a {
			return true
		}
	}

	return false
}

// Handle program flags.
func flagSetup(args []string) {
	f := pflag.NewFlagSet("memblk", pflag.ExitOnError)
	f.StringVarP(&Cfg.ConfigPath, "config", "c", defaultConfig, "Path to configuration file")
	f.Usage = cleanenv.FUsage(f.Output(), &Cfg, nil, f.Usage)
	f.Parse(args)
}
