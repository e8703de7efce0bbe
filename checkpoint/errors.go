package checkpoint

import (
	"errors"
	"fmt"
)

var (
	// ErrNoCheckpoint is returned when no "last" checkpoint exists locally or in the mirror.
	ErrNoCheckpoint = errors.New("checkpoint: no checkpoint found")

	errBadMagic   = errors.New("invalid magic number")
	errBadVersion = errors.New("unsupported version")
	errChecksum   = errors.New("checksum mismatch")
	errTruncated  = errors.New("truncated file")
)

// CorruptError reports a checkpoint that exists but cannot be decoded.
type CorruptError struct {
	Path string
	Err  error
}

func (e *CorruptError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("checkpoint corrupt: %v", e.Err)
	}
	return fmt.Sprintf("checkpoint corrupt: %s: %v", e.Path, e.Err)
}

func (e *CorruptError) Unwrap() error { return e.Err }
