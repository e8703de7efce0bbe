// Package clustering trains a k-means codebook over a full embedding stream.
//
// A Trainer runs Lloyd's algorithm where every iteration is one complete pass
// over the dataset: each batch is embedded by a feature.Source, split into
// n_group sub-vectors, assigned to its nearest centroid and folded into
// per-cluster sums and counts. Shards of a batch run concurrently and their
// partial statistics are merged in shard order, so results are reproducible
// for a given seed and data order.
//
// Initialization takes, in order of precedence:
//
//  1. an explicit start codebook (WithStartCodebook)
//  2. the "last" checkpoint in the save directory (or its mirror) when Load is set
//  3. k points sampled with a seeded RNG from the first k+1 batches
//
// With Save set, every iteration writes checkpoint_{iter}.bin and overwrites
// checkpoint_last.bin atomically, keeping SaveLast numbered checkpoints.
// Progress is appended to training_logs.txt in the save directory.
//
// # Usage
//
//	tr, err := clustering.NewTrainer(cfg, src, feature.NewFileLoader(files, 8),
//	    clustering.WithLogger(logger))
//	res, err := tr.Run(ctx)
package clustering
