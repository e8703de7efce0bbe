// Package testutil provides seeded data generators for tests.
//
// This package is intended for use in tests and benchmarks only.
//
// # Random Points
//
//	rng := testutil.NewRNG(seed)
//	pts := rng.GaussianPoints(1000, 16)              // flat, row-major
//	pts, labels := rng.ClusteredPoints(1000, 16, 8, 0.05)
//
// # Synthetic Audio
//
//	samples := rng.Samples(16000, 440, 16000)
//	err := testutil.WriteWAV(path, samples, 16000)
//
// # Ground Truth
//
//	assign := testutil.BruteForceAssign(pts, centroids, dim)
package testutil
