// Package mem allocates 64-byte aligned float32 buffers for centroid tables
// and distance scratch space.
package mem
