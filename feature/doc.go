// Package feature defines the contract between speech encoders and the
// clustering pipeline, plus the file plumbing around it.
//
// A Source turns a Batch of audio files into a ragged Tensor of per-frame
// embeddings. Adapters live in subpackages:
//
//   - spectral: in-process log-mel filterbank features
//   - remote: HTTP client for a service hosting neural encoders
//   - cache: read-through LRU + SQLite cache around any Source
//
// Discover and FileLoader produce the deterministic, re-iterable batch
// sequence that every k-means iteration walks in full.
package feature
