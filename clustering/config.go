package clustering

import (
	"fmt"

	"github.com/hupe1980/speechunit/internal/blockcodec"
)

// Config holds the k-means training parameters.
type Config struct {
	K        int     `json:"k"`
	NGroup   int     `json:"n_group"`
	MaxIter  int     `json:"MAX_ITER"`
	Epsilon  float64 `json:"EPSILON"`
	Save     bool    `json:"save"`
	Load     bool    `json:"load"`
	SaveDir  string  `json:"save_dir"`
	SaveLast int     `json:"save_last"`
	// Layer is passed through to the feature source and recorded in checkpoints.
	Layer int   `json:"layer"`
	Seed  int64 `json:"seed"`
	// Devices is the number of shards each batch is split into.
	Devices     int             `json:"devices"`
	Compression blockcodec.Type `json:"compression"`
}

// DefaultConfig returns the reference defaults.
func DefaultConfig() Config {
	return Config{
		K:           50,
		NGroup:      1,
		MaxIter:     100,
		Epsilon:     1e-4,
		SaveLast:    5,
		Devices:     1,
		Compression: blockcodec.ZSTD,
	}
}

// Validate checks that the configuration can drive a run.
func (c Config) Validate() error {
	switch {
	case c.K < 1:
		return fmt.Errorf("%w: k must be >= 1, got %d", ErrInvalidConfig, c.K)
	case c.NGroup < 1:
		return fmt.Errorf("%w: n_group must be >= 1, got %d", ErrInvalidConfig, c.NGroup)
	case c.MaxIter < 1:
		return fmt.Errorf("%w: MAX_ITER must be >= 1, got %d", ErrInvalidConfig, c.MaxIter)
	case c.Epsilon < 0:
		return fmt.Errorf("%w: EPSILON must be >= 0, got %g", ErrInvalidConfig, c.Epsilon)
	case (c.Save || c.Load) && c.SaveDir == "":
		return fmt.Errorf("%w: save and load require save_dir", ErrInvalidConfig)
	}
	return nil
}
