// Package speechunit learns discrete speech units from audio.
//
// A codebook of k centroids is trained with full-pass k-means over frame
// embeddings, checkpointed after every iteration, and then used to map each
// audio file to a sequence of unit IDs.
//
// # Quick Start
//
//	cfg, _ := config.Load("train.yaml")
//	p, _ := speechunit.New(ctx, cfg)
//	defer p.Close()
//
//	files, _ := p.Files()
//	res, _ := p.Train(ctx, files)
//	fmt.Println(res.Iterations, res.LastDiff)
//
//	out, _ := p.Quantize(ctx, "ckpt/checkpoint_last.bin", "units", files)
//	fmt.Println(out.Output, out.Written)
//
// # Training
//
// Each iteration embeds every batch, assigns frames to their nearest centroid
// and replaces the centroids with the assigned means. Training stops when no
// centroid moved more than EPSILON or after MAX_ITER iterations. With save
// enabled, checkpoint_last.bin and checkpoint_{iter}.bin are written
// atomically to save_dir and the oldest numbered checkpoints are pruned; with
// load enabled, a run resumes from checkpoint_last.bin, falling back to the
// configured mirror.
//
// Embeddings wider than the codebook are split into n_group groups that are
// quantized independently, so one frame yields n_group unit IDs.
//
// # Quantization
//
// Output files hold one "{id}\t{units}" line per audio file. Frames are
// separated by "," and groups within a frame by "-". With resume enabled,
// files already present in the output are skipped. A split "i-n" quantizes
// the i-th of n contiguous slices of the file list.
//
// # Feature Sources
//
// The spectral source computes log-mel filterbanks locally. The remote source
// requests hidden states from an embedding service. Either may be fronted by
// a SQLite feature cache.
package speechunit
