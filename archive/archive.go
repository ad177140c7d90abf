// Package archive reads gridded forecast archives into in-memory arrays.
//
// The on-disk format is a gob-encoded, version-checked container holding the
// dynamic predictors, the lead-time-independent static predictors, the target
// mean field, and the axis name/coordinate arrays. Everything downstream of
// this package only sees the Reader capability: load predictors and targets
// for file index i, with a dimension-limit specification applied identically
// for metadata resolution and batch reads.
package archive

import (
	"encoding/gob"
	"fmt"
	"os"
	"path/filepath"

	maelstrom "github.com/4castRenewables/maelstrom-train"
)

// formatVersion is bumped whenever the on-disk layout changes.
const formatVersion = 1

// File is the in-memory content of one archive file.
//
// Flat buffers are row-major:
//
//	Predictors       (leadtime, y, x, predictor)
//	StaticPredictors (y, x, static_predictor)
//	TargetMean       (leadtime, y, x)
type File struct {
	PredictorNames       []string
	StaticPredictorNames []string
	// Leadtimes holds the lead-time coordinate values, e.g. forecast hours.
	Leadtimes []float32
	YSize     int
	XSize     int

	Predictors       []float32
	StaticPredictors []float32
	TargetMean       []float32
}

// NumLeadtimes returns the length of the lead-time axis.
func (f *File) NumLeadtimes() int { return len(f.Leadtimes) }

// Validate checks that the declared axis lengths agree with the stored
// buffer sizes.
func (f *File) Validate() error {
	nl, ny, nx := len(f.Leadtimes), f.YSize, f.XSize
	if want := nl * ny * nx * len(f.PredictorNames); len(f.Predictors) != want {
		return fmt.Errorf("%w: predictors hold %d values, axes (%d, %d, %d, %d) declare %d",
			maelstrom.ErrDataFormat, len(f.Predictors), nl, ny, nx, len(f.PredictorNames), want)
	}
	if want := ny * nx * len(f.StaticPredictorNames); len(f.StaticPredictors) != want {
		return fmt.Errorf("%w: static predictors hold %d values, axes (%d, %d, %d) declare %d",
			maelstrom.ErrDataFormat, len(f.StaticPredictors), ny, nx, len(f.StaticPredictorNames), want)
	}
	if want := nl * ny * nx; len(f.TargetMean) != want {
		return fmt.Errorf("%w: target mean holds %d values, axes (%d, %d, %d) declare %d",
			maelstrom.ErrDataFormat, len(f.TargetMean), nl, ny, nx, want)
	}
	return nil
}

type container struct {
	Version int
	File    File
}

// Open reads and validates one archive file.
func Open(path string) (*File, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: open archive %s: %v", maelstrom.ErrIO, path, err)
	}
	defer fh.Close()

	var c container
	if err := gob.NewDecoder(fh).Decode(&c); err != nil {
		return nil, fmt.Errorf("%w: decode archive %s: %v", maelstrom.ErrDataFormat, path, err)
	}
	if c.Version != formatVersion {
		return nil, fmt.Errorf("%w: archive %s has format version %d, expected %d",
			maelstrom.ErrDataFormat, path, c.Version, formatVersion)
	}
	if err := c.File.Validate(); err != nil {
		return nil, fmt.Errorf("archive %s: %w", path, err)
	}
	return &c.File, nil
}

// Write stores an archive file atomically (temp file, then rename).
func Write(path string, f *File) error {
	if err := f.Validate(); err != nil {
		return err
	}
	dir := filepath.Dir(path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("%w: mkdir %s: %v", maelstrom.ErrIO, dir, err)
		}
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp.*")
	if err != nil {
		return fmt.Errorf("%w: create temp archive: %v", maelstrom.ErrIO, err)
	}
	tmpName := tmp.Name()
	defer func() {
		tmp.Close()
		_ = os.Remove(tmpName)
	}()

	if err := gob.NewEncoder(tmp).Encode(&container{Version: formatVersion, File: *f}); err != nil {
		return fmt.Errorf("%w: encode archive: %v", maelstrom.ErrIO, err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("%w: sync temp archive: %v", maelstrom.ErrIO, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("%w: close temp archive: %v", maelstrom.ErrIO, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("%w: rename temp archive to %s: %v", maelstrom.ErrIO, path, err)
	}
	return nil
}
