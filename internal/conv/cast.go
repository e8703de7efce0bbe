package conv

import (
	"fmt"
	"math"
)

// IntToUint32 converts v for the named field, failing on negatives and
// values above math.MaxUint32.
func IntToUint32(field string, v int) (uint32, error) {
	if v < 0 || uint64(v) > math.MaxUint32 {
		return 0, fmt.Errorf("%s: %d does not fit in uint32", field, v)
	}
	return uint32(v), nil
}

// Uint32ToInt converts v, failing where int is narrower than uint32.
func Uint32ToInt(field string, v uint32) (int, error) {
	if uint64(v) > uint64(math.MaxInt) {
		return 0, fmt.Errorf("%s: %d does not fit in int", field, v)
	}
	return int(v), nil
}
