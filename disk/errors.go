package disk

import "errors"

// Image-level errors. Decode failures below this level are absorbed into
// partial results; these are the conditions that reach a caller.
var (
	ErrUnknownContainer = errors.New("unknown container format")
	ErrGeometryMismatch = errors.New("declared and observed geometry disagree")
	ErrChunkNotFound    = errors.New("chunk not present in image")
	ErrOutOfRange       = errors.New("address out of range")
	ErrReadOnly         = errors.New("medium is write protected")
	ErrTrackUnreadable  = errors.New("track has no readable sectors")
)

// File-system level errors. These abort only the requesting operation and
// never leave allocation state half-mutated.
var (
	ErrVolumeInconsistent = errors.New("volume structures failed validation")
	ErrNotFound           = errors.New("file not found")
	ErrNotAFile           = errors.New("not a file")
	ErrNameConflict       = errors.New("name already exists")
	ErrNoSpace            = errors.New("insufficient free space")
	ErrInvalidType        = errors.New("file type invalid for this file system")
	ErrInvalidName        = errors.New("name not legal for this file system")
	ErrUnsupported        = errors.New("operation not supported by this file system")
)
