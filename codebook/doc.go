// Package codebook holds a k-means centroid set and performs nearest-centroid
// assignment.
//
// A Codebook is k centroids of dimension Dim stored row-major in one flat
// []float32. Assignment comes in two backends:
//
//   - Accelerated: batched BLAS GEMM (gonum blas32). Fast, but needs a
//     rows×k float32 scratch matrix per chunk.
//   - Host: one point at a time with SIMD distance kernels. Constant extra memory.
//
// Both backends return the lowest index among equidistant centroids.
package codebook
