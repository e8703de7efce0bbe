package spectral

import (
	"context"
	"fmt"
	"math"
	"runtime"
	"sync"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/stat"

	"github.com/hupe1980/speechunit/feature"
)

// Config describes the filterbank.
type Config struct {
	SampleRate  int     `yaml:"sample_rate"`
	FrameLength int     `yaml:"frame_length"` // samples per frame
	FrameShift  int     `yaml:"frame_shift"`  // samples between frame starts
	NumMel      int     `yaml:"num_mel"`
	PreEmphasis float64 `yaml:"pre_emphasis"`
	LowFreq     float64 `yaml:"low_freq"`
	HighFreq    float64 `yaml:"high_freq"` // 0 means Nyquist
	CMVN        bool    `yaml:"cmvn"`
	Stack       int     `yaml:"stack"` // consecutive frames concatenated into one row
	Workers     int     `yaml:"workers"`
}

// DefaultConfig returns 25 ms / 10 ms frames with 80 mel bins at 16 kHz.
func DefaultConfig() Config {
	return Config{
		SampleRate:  feature.SampleRate,
		FrameLength: 400,
		FrameShift:  160,
		NumMel:      80,
		PreEmphasis: 0.97,
		LowFreq:     20,
		Stack:       1,
	}
}

const logFloor = 1e-10

// Extractor is a feature.Source producing log-mel rows of dimension Dim().
type Extractor struct {
	cfg    Config
	nfft   int
	window []float64
	bank   [][]float64 // NumMel × (nfft/2+1)
	ffts   sync.Pool
}

// New validates cfg and precomputes the window and filter bank.
func New(cfg Config) (*Extractor, error) {
	if cfg.SampleRate <= 0 || cfg.FrameLength <= 0 || cfg.FrameShift <= 0 || cfg.NumMel <= 0 {
		return nil, fmt.Errorf("spectral: invalid config %+v", cfg)
	}
	if cfg.Stack < 1 {
		cfg.Stack = 1
	}
	if cfg.HighFreq <= 0 {
		cfg.HighFreq = float64(cfg.SampleRate) / 2
	}
	if cfg.LowFreq < 0 || cfg.LowFreq >= cfg.HighFreq {
		return nil, fmt.Errorf("spectral: invalid frequency range [%g, %g]", cfg.LowFreq, cfg.HighFreq)
	}
	if cfg.Workers <= 0 {
		cfg.Workers = runtime.GOMAXPROCS(0)
	}

	nfft := 1
	for nfft < cfg.FrameLength {
		nfft <<= 1
	}

	e := &Extractor{
		cfg:    cfg,
		nfft:   nfft,
		window: hamming(cfg.FrameLength),
		bank:   melBank(cfg.NumMel, nfft, cfg.SampleRate, cfg.LowFreq, cfg.HighFreq),
	}
	e.ffts.New = func() any { return fourier.NewFFT(nfft) }
	return e, nil
}

// Dim returns the row dimension.
func (e *Extractor) Dim() int { return e.cfg.NumMel * e.cfg.Stack }

// Embed reads every WAV in b and returns its feature rows.
func (e *Extractor) Embed(ctx context.Context, b feature.Batch) (*feature.Tensor, error) {
	rows := make([][]float32, b.Len())

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.Workers)
	for i, p := range b.Paths {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			samples, rate, err := feature.ReadWAV(p)
			if err != nil {
				return &feature.ExtractionError{ID: b.IDs[i], Path: p, Err: err}
			}
			if rate != e.cfg.SampleRate {
				return &feature.ExtractionError{ID: b.IDs[i], Path: p, Err: fmt.Errorf("sample rate %d, want %d", rate, e.cfg.SampleRate)}
			}
			rows[i] = e.Compute(samples)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	t := feature.NewTensor(e.Dim())
	for _, r := range rows {
		if err := t.Append(r); err != nil {
			return nil, err
		}
	}
	return t, nil
}

// NumFrames returns the number of filterbank frames for n samples before stacking.
func (e *Extractor) NumFrames(n int) int {
	if n == 0 {
		return 0
	}
	if n < e.cfg.FrameLength {
		return 1
	}
	return 1 + (n-e.cfg.FrameLength)/e.cfg.FrameShift
}

// Compute returns the feature rows of samples, row-major with Dim() columns.
func (e *Extractor) Compute(samples []float32) []float32 {
	nf := e.NumFrames(len(samples))
	nm := e.cfg.NumMel
	feats := make([]float64, nf*nm)

	fft := e.ffts.Get().(*fourier.FFT)
	defer e.ffts.Put(fft)

	frame := make([]float64, e.nfft)
	var coeffs []complex128
	power := make([]float64, e.nfft/2+1)

	for f := range nf {
		start := f * e.cfg.FrameShift
		clear(frame)
		var mean float64
		n := 0
		for i := 0; i < e.cfg.FrameLength && start+i < len(samples); i++ {
			frame[i] = float64(samples[start+i])
			mean += frame[i]
			n++
		}
		mean /= float64(e.cfg.FrameLength)
		for i := range n {
			frame[i] -= mean
		}
		for i := e.cfg.FrameLength - 1; i > 0; i-- {
			frame[i] -= e.cfg.PreEmphasis * frame[i-1]
		}
		frame[0] -= e.cfg.PreEmphasis * frame[0]
		for i, w := range e.window {
			frame[i] *= w
		}

		coeffs = fft.Coefficients(coeffs, frame)
		for i := range power {
			re, im := real(coeffs[i]), imag(coeffs[i])
			power[i] = re*re + im*im
		}

		row := feats[f*nm : (f+1)*nm]
		for m, filt := range e.bank {
			var energy float64
			for i, w := range filt {
				energy += w * power[i]
			}
			row[m] = math.Log(math.Max(energy, logFloor))
		}
	}

	if e.cfg.CMVN && nf > 1 {
		cmvn(feats, nf, nm)
	}
	return stack(feats, nf, nm, e.cfg.Stack)
}

// cmvn normalizes every coefficient to zero mean and unit variance over the utterance.
func cmvn(feats []float64, nf, nm int) {
	col := make([]float64, nf)
	for m := range nm {
		for f := range nf {
			col[f] = feats[f*nm+m]
		}
		mean, std := stat.MeanStdDev(col, nil)
		if std < 1e-8 {
			std = 1
		}
		for f := range nf {
			feats[f*nm+m] = (col[f] - mean) / std
		}
	}
}

// stack concatenates s consecutive frames into one row, dropping the remainder.
func stack(feats []float64, nf, nm, s int) []float32 {
	rows := nf / s
	out := make([]float32, rows*s*nm)
	for i := range out {
		out[i] = float32(feats[i])
	}
	return out
}

func hamming(n int) []float64 {
	w := make([]float64, n)
	if n == 1 {
		w[0] = 1
		return w
	}
	for i := range w {
		w[i] = 0.54 - 0.46*math.Cos(2*math.Pi*float64(i)/float64(n-1))
	}
	return w
}

func hzToMel(f float64) float64 { return 1127 * math.Log1p(f/700) }

// melBank returns num triangular filters over the nfft/2+1 power bins.
func melBank(num, nfft, sampleRate int, low, high float64) [][]float64 {
	bins := nfft/2 + 1
	lowMel, highMel := hzToMel(low), hzToMel(high)
	step := (highMel - lowMel) / float64(num+1)

	bank := make([][]float64, num)
	for m := range bank {
		left := lowMel + float64(m)*step
		center := left + step
		right := center + step
		filt := make([]float64, bins)
		for i := range filt {
			mel := hzToMel(float64(i) * float64(sampleRate) / float64(nfft))
			switch {
			case mel > left && mel <= center:
				filt[i] = (mel - left) / (center - left)
			case mel > center && mel < right:
				filt[i] = (right - mel) / (right - center)
			}
		}
		bank[m] = filt
	}
	return bank
}
