// Package hash provides the CRC32-Castagnoli checksums used by the
// checkpoint file format.
package hash
