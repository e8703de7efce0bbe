// Package blobstore mirrors checkpoints to remote object storage.
//
// Store is the minimal interface the checkpoint mirror needs. Names are
// slash-separated and relative to the store root. Implementations must be safe
// for concurrent use.
//
// # Built-in Implementations
//
//   - MemoryStore: in-memory, for tests
//   - LocalStore: a directory, e.g. on a network file system
//   - s3.Store: Amazon S3 (with s3.DDBCommitStore for atomic "last" pointers)
//   - minio.Store: MinIO and other S3-compatible storage
package blobstore
