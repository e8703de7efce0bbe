package speechunit

import (
	"github.com/hupe1980/speechunit/checkpoint"
	"github.com/hupe1980/speechunit/clustering"
	"github.com/hupe1980/speechunit/codebook"
	"github.com/hupe1980/speechunit/config"
	"github.com/hupe1980/speechunit/feature"
	"github.com/hupe1980/speechunit/quantize"
)

// Error types returned by the pipeline. They are aliases, so errors.As works
// with either the root or the package name.
type (
	// InsufficientDataError reports fewer points than clusters at initialization.
	InsufficientDataError = clustering.InsufficientDataError
	// ExtractionError reports a feature extraction failure for one file.
	ExtractionError = feature.ExtractionError
	// DimensionMismatchError reports embeddings that do not fit the codebook.
	DimensionMismatchError = codebook.DimensionMismatchError
	// CorruptError reports a checkpoint file that cannot be decoded.
	CorruptError = checkpoint.CorruptError
	// OutputConflictError reports an existing output file without resume.
	OutputConflictError = quantize.OutputConflictError
)

var (
	// ErrInvalidConfig wraps configuration file errors.
	ErrInvalidConfig = config.ErrInvalid
	// ErrInvalidTraining wraps unusable training parameters, including a
	// start codebook or checkpoint whose size differs from k.
	ErrInvalidTraining = clustering.ErrInvalidConfig
	// ErrNoCheckpoint is returned when nothing can be resumed or loaded.
	ErrNoCheckpoint = checkpoint.ErrNoCheckpoint
	// ErrNoFiles is returned when nothing is left to quantize.
	ErrNoFiles = quantize.ErrNoFiles
)
