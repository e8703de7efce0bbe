// Package cache wraps a feature.Source with a two-level read-through cache.
//
// Every k-means iteration re-reads the whole dataset, so encoder output is
// worth keeping: an in-memory LRU (hashicorp/golang-lru) sits in front of a
// SQLite table (modernc.org/sqlite) of LZ4-compressed embeddings keyed by
// namespace and file path. The namespace should identify the encoder and
// layer, e.g. "xlsr/18".
package cache
