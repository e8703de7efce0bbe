// Package config loads the YAML configuration shared by the train and
// quantize commands.
//
// The file has one section per concern:
//
//	data:      pathDB, file_extension, pathSeq, split, batch_size
//	feature:   type (spectral | remote), spectral, remote, cache
//	kmeans:    k, n_group, MAX_ITER, EPSILON, save, load, save_dir, save_last,
//	           layer, seed, devices, compression, start_codebook
//	runner:    debug, resume, workers, host_threshold, backend
//	resources: memory_limit_bytes, max_workers, io_limit_bytes_per_sec
//	mirror:    type (local | s3 | minio), bucket, prefix, ...
//	logging:   level, format
//	metrics:   addr, namespace
//
// Missing keys keep the values of Default.
package config
