// Package blockcodec compresses self-describing byte blocks.
//
// A block is an 8-byte header followed by the payload:
//
//	[UncompressedSize uint32][CompressedSize uint32][Data...]
//
// A CompressedSize of 0 means the payload is stored raw. Blocks that do not shrink
// below 90% of their input are stored raw, so decoding never costs more than a copy
// for incompressible data such as dense float32 centroids.
package blockcodec
