// Package metrics collects operational metrics of training and quantization runs.
//
// Implement [Collector] to integrate with a monitoring system, or use the
// bundled [Basic] (in-memory atomics) and [Prometheus] collectors.
package metrics

import (
	"math"
	"sync/atomic"
	"time"
)

// Collector defines an interface for collecting operational metrics.
type Collector interface {
	// RecordIteration is called after each full k-means pass.
	RecordIteration(iter int, duration time.Duration, items int64, lastDiff float64, emptyClusters int)

	// RecordCheckpoint is called after each checkpoint save. bytes is the file size.
	RecordCheckpoint(duration time.Duration, bytes int, err error)

	// RecordExtraction is called after each feature source call.
	RecordExtraction(duration time.Duration, frames int, err error)

	// RecordQuantize is called after each quantized file.
	RecordQuantize(duration time.Duration, tokens int, backend string, err error)
}

// Noop is a no-op implementation of Collector.
type Noop struct{}

func (Noop) RecordIteration(int, time.Duration, int64, float64, int) {}
func (Noop) RecordCheckpoint(time.Duration, int, error)              {}
func (Noop) RecordExtraction(time.Duration, int, error)              {}
func (Noop) RecordQuantize(time.Duration, int, string, error)        {}

// Basic provides simple in-memory metrics collection.
type Basic struct {
	Iterations        atomic.Int64
	IterationNanos    atomic.Int64
	LastItems         atomic.Int64
	lastDiffBits      atomic.Uint64
	LastEmpty         atomic.Int64
	Checkpoints       atomic.Int64
	CheckpointErrors  atomic.Int64
	CheckpointBytes   atomic.Int64
	Extractions       atomic.Int64
	ExtractionErrors  atomic.Int64
	ExtractionFrames  atomic.Int64
	ExtractionNanos   atomic.Int64
	QuantizedFiles    atomic.Int64
	QuantizeErrors    atomic.Int64
	QuantizedTokens   atomic.Int64
	HostFallbackFiles atomic.Int64
}

// RecordIteration implements Collector.
func (b *Basic) RecordIteration(_ int, duration time.Duration, items int64, lastDiff float64, empty int) {
	b.Iterations.Add(1)
	b.IterationNanos.Add(duration.Nanoseconds())
	b.LastItems.Store(items)
	b.lastDiffBits.Store(math.Float64bits(lastDiff))
	b.LastEmpty.Store(int64(empty))
}

// RecordCheckpoint implements Collector.
func (b *Basic) RecordCheckpoint(_ time.Duration, bytes int, err error) {
	b.Checkpoints.Add(1)
	if err != nil {
		b.CheckpointErrors.Add(1)
		return
	}
	b.CheckpointBytes.Add(int64(bytes))
}

// RecordExtraction implements Collector.
func (b *Basic) RecordExtraction(duration time.Duration, frames int, err error) {
	b.Extractions.Add(1)
	b.ExtractionNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.ExtractionErrors.Add(1)
		return
	}
	b.ExtractionFrames.Add(int64(frames))
}

// RecordQuantize implements Collector.
func (b *Basic) RecordQuantize(_ time.Duration, tokens int, backend string, err error) {
	if err != nil {
		b.QuantizeErrors.Add(1)
		return
	}
	b.QuantizedFiles.Add(1)
	b.QuantizedTokens.Add(int64(tokens))
	if backend == "host" {
		b.HostFallbackFiles.Add(1)
	}
}

// GetStats returns a snapshot of current metrics.
func (b *Basic) GetStats() Stats {
	return Stats{
		Iterations:         b.Iterations.Load(),
		IterationAvgNanos:  avg(b.IterationNanos.Load(), b.Iterations.Load()),
		LastItems:          b.LastItems.Load(),
		LastDiff:           math.Float64frombits(b.lastDiffBits.Load()),
		LastEmpty:          b.LastEmpty.Load(),
		Checkpoints:        b.Checkpoints.Load(),
		CheckpointErrors:   b.CheckpointErrors.Load(),
		CheckpointBytes:    b.CheckpointBytes.Load(),
		Extractions:        b.Extractions.Load(),
		ExtractionErrors:   b.ExtractionErrors.Load(),
		ExtractionFrames:   b.ExtractionFrames.Load(),
		ExtractionAvgNanos: avg(b.ExtractionNanos.Load(), b.Extractions.Load()),
		QuantizedFiles:     b.QuantizedFiles.Load(),
		QuantizeErrors:     b.QuantizeErrors.Load(),
		QuantizedTokens:    b.QuantizedTokens.Load(),
		HostFallbackFiles:  b.HostFallbackFiles.Load(),
	}
}

func avg(total, count int64) int64 {
	if count == 0 {
		return 0
	}
	return total / count
}

// Stats is a snapshot of Basic state.
type Stats struct {
	Iterations         int64
	IterationAvgNanos  int64
	LastItems          int64
	LastDiff           float64
	LastEmpty          int64
	Checkpoints        int64
	CheckpointErrors   int64
	CheckpointBytes    int64
	Extractions        int64
	ExtractionErrors   int64
	ExtractionFrames   int64
	ExtractionAvgNanos int64
	QuantizedFiles     int64
	QuantizeErrors     int64
	QuantizedTokens    int64
	HostFallbackFiles  int64
}
