// Package checkpoint persists k-means training state.
//
// A checkpoint file is a fixed 64-byte little-endian header followed by a JSON
// metadata section and the centroid payload:
//
//	0  magic "SUC1"      uint32
//	4  version           uint16
//	6  metadata codec    uint8 (codec.ID)
//	7  compression       uint8 (blockcodec.Type)
//	8  k                 uint32
//	12 dim               uint32
//	16 iteration         uint32
//	20 n_group           uint32
//	24 lastDiff          float64
//	32 metadata length   uint32
//	36 payload length    uint32
//	40 body CRC32        uint32 (IEEE, metadata + payload)
//	44 reserved
//	60 header CRC32      uint32 (IEEE, bytes 0..59)
//
// The payload holds k*dim float32 values row-major, wrapped in a blockcodec
// block. Files are written atomically, so a reader sees either the previous or
// the new checkpoint.
//
// The Manager owns a save directory: checkpoint_last.bin, numbered
// checkpoint_{iter}.bin files with a retention window, and an optional mirror
// in a blobstore.Store.
package checkpoint
