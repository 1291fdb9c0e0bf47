// Copyright (C) 2021 Vojtech Aschenbrenner <v@asch.cz>

package dump

import (
	"bytes"
	"os"
	"path/filepath"

	"github.com/natefinch/atomic"
)

// FileSink stores objects as files below Dir. Object names map to relative
// paths. Each file appears atomically, so a reader never sees a half
// written page.
type FileSink struct {
	Dir string
}

func (f FileSink) Put(name string, data []byte, prio bool) error {
	path := filepath.Join(f.Dir, filepath.FromSlash(name))

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	return atomic.WriteFile(path, bytes.NewReader(data))
}
