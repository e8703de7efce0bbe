package feature

import (
	"errors"
	"fmt"
	"math"
	"os"

	"github.com/go-audio/wav"
)

// SampleRate is the sample rate every encoder expects.
const SampleRate = 16000

// ErrInvalidWAV is returned for files that are not PCM WAV.
var ErrInvalidWAV = errors.New("feature: not a valid wav file")

// ReadWAV decodes a PCM WAV file to mono float32 samples in [-1, 1].
// Multi-channel audio is averaged.
func ReadWAV(path string) ([]float32, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, err
	}
	defer f.Close()

	d := wav.NewDecoder(f)
	if !d.IsValidFile() {
		return nil, 0, fmt.Errorf("%w: %s", ErrInvalidWAV, path)
	}
	buf, err := d.FullPCMBuffer()
	if err != nil {
		return nil, 0, fmt.Errorf("feature: decode %s: %w", path, err)
	}

	chans := max(int(d.NumChans), 1)
	scale := float32(math.Exp2(float64(d.BitDepth) - 1))
	if scale == 0 {
		return nil, 0, fmt.Errorf("%w: %s has bit depth 0", ErrInvalidWAV, path)
	}

	n := len(buf.Data) / chans
	out := make([]float32, n)
	for i := range n {
		var sum float32
		for c := range chans {
			sum += float32(buf.Data[i*chans+c])
		}
		out[i] = sum / float32(chans) / scale
	}
	return out, int(d.SampleRate), nil
}
