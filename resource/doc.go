// Package resource bounds the memory, worker and IO budget of a run.
//
// The quantizer reserves GEMM scratch memory before choosing the accelerated
// backend and falls back to the host backend when the reservation fails. The
// runner bounds concurrent extractions with worker slots, and checkpoint
// mirroring paces uploads with the IO limiter.
package resource
