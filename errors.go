// Package maelstrom holds the error taxonomy shared by the data-loading
// packages.
//
// Errors fall into three classes:
//   - ErrConfig: invalid or contradictory construction options. Always fatal
//     at construction time.
//   - ErrDataFormat: archive contents disagree with the resolved metadata.
//     Fatal during metadata resolution, terminal for the affected stream
//     otherwise.
//   - ErrIO: a file could not be opened or read.
//
// Callers classify with errors.Is; all wrapping uses fmt.Errorf with %w.
package maelstrom

import "errors"

var (
	// ErrConfig marks invalid construction options.
	ErrConfig = errors.New("invalid configuration")

	// ErrDataFormat marks archive contents inconsistent with resolved metadata.
	ErrDataFormat = errors.New("data format mismatch")

	// ErrIO marks an unreadable or missing file.
	ErrIO = errors.New("i/o failure")
)
