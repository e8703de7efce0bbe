package clustering

import (
	"errors"
	"fmt"
)

// ErrInvalidConfig is returned by NewTrainer for unusable configurations.
var ErrInvalidConfig = errors.New("clustering: invalid config")

// InsufficientDataError reports fewer points than clusters during initialization.
type InsufficientDataError struct {
	Want int // clusters
	Have int // points available in the initialization batches
}

func (e *InsufficientDataError) Error() string {
	return fmt.Sprintf("insufficient data: need at least %d points to initialize, have %d", e.Want, e.Have)
}
