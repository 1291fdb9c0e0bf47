// Copyright (C) 2021 Vojtech Aschenbrenner <v@asch.cz>

package memblk

import (
	"github.com/asch/memblk/internal/config"
	"github.com/asch/memblk/internal/memblk/dispatch"
)

// NewOptions returns options filled from the global configuration. The
// configuration is expected to be already validated.
func NewOptions() (Options, error) {
	mode, err := ParseMode(config.Cfg.Dispatch)
	if err != nil {
		return Options{}, err
	}

	onStop, err := dispatch.ParseStopPolicy(config.Cfg.OnStop)
	if err != nil {
		return Options{}, err
	}

	o := Options{
		Name:     config.Cfg.Name,
		Capacity: config.Cfg.Size,
		Mode:     mode,
		Dispatch: dispatch.Options{
			Strict: config.Cfg.Strict,
			OnStop: onStop,
		},
	}

	return o, nil
}
