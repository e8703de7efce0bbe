// Package kmeans implements the building blocks of full-pass Lloyd's k-means.
//
// An iteration zeroes a Stats, folds every point of the dataset into it with
// Reduce (sharded assignment, partial statistics merged in shard order), and
// calls Step to turn the statistics into the next codebook. Nothing is shared
// between iterations: Step reads the previous codebook and returns a new one.
package kmeans
