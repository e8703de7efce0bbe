// Package s3 provides an Amazon S3 implementation of blobstore.Store.
//
// # Usage
//
//	store, err := s3.New(ctx, "my-bucket",
//	    s3.WithPrefix("runs/librispeech-k50/"),
//	    s3.WithRegion("us-east-1"),
//	)
//
// Uploads go through the transfer manager, so large checkpoints are sent as
// multipart uploads. For shared mirrors, wrap the store in a DDBCommitStore
// to move the "last" pointer with a DynamoDB conditional write.
package s3
