// Package quantize maps audio files to discrete unit sequences with a frozen
// codebook.
//
// Every embedding row is split into n_group sub-vectors of the centroid
// dimension and each sub-vector becomes the index of its nearest centroid.
// A file turns into one output line:
//
//	{id}\t{frame},{frame},...      frame = {group}-{group}-...
//
// e.g. "utt1\t3-7,3-7,12-0" for n_group=2.
//
// Runner quantizes a file list in parallel, writes lines in input order,
// supports split selection and resume, and records per-file failures without
// aborting the run.
package quantize
