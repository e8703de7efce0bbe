// Package distance provides the vector distances used by clustering and quantization.
//
// Kernels are backed by github.com/viterin/vek, which dispatches to AVX2/FMA
// implementations when the CPU supports them and falls back to pure Go otherwise.
//
// Nearest-centroid search ranks by SquaredL2; centroid movement is reported
// with Euclidean.
//
//	d := distance.SquaredL2(a, b)
//	move := distance.Euclidean(old, updated)
package distance
