// Package minio mirrors checkpoints to MinIO or another S3-compatible server
// through minio-go.
//
//	store, err := minio.Dial("localhost:9000", "minioadmin", "minioadmin", false,
//	    "checkpoints", "librispeech/k50")
//	if err != nil {
//	    log.Fatal(err)
//	}
package minio
