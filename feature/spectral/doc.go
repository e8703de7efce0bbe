// Package spectral computes log-mel filterbank features in process.
//
// It is the dependency-free feature.Source: no neural encoder, just framing,
// pre-emphasis, a Hamming window, a power spectrum (gonum dsp/fourier) and a
// triangular mel filter bank, with optional per-utterance CMVN and frame
// stacking. Useful for tests, smoke runs and as a baseline unit inventory.
package spectral
