package minio

import (
	"context"
	"testing"

	"github.com/minio/minio-go/v7"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/speechunit/blobstore"
)

var _ blobstore.Store = (*Store)(nil)

func TestStore_Key(t *testing.T) {
	s := NewStore(nil, "bucket", "runs/k50/")
	assert.Equal(t, "runs/k50/checkpoint_last.bin", s.key("checkpoint_last.bin"))
}

// TestMinioStore_Integration requires a running MinIO instance.
// Skip if not available.
func TestMinioStore_Integration(t *testing.T) {
	bucket := "test-speechunit"
	store, err := Dial("localhost:9000", "minioadmin", "minioadmin", false, bucket, "test-prefix/")
	if err != nil {
		t.Skipf("MinIO client creation failed: %v", err)
	}

	ctx := context.Background()
	if _, err := store.client.ListBuckets(ctx); err != nil {
		t.Skipf("MinIO not available: %v", err)
	}

	exists, err := store.client.BucketExists(ctx, bucket)
	require.NoError(t, err)
	if !exists {
		require.NoError(t, store.client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}))
	}

	_, err = store.Get(ctx, "missing.bin")
	assert.ErrorIs(t, err, blobstore.ErrNotFound)

	data := []byte("hello minio world")
	require.NoError(t, store.Put(ctx, "checkpoint_1.bin", data))

	got, err := store.Get(ctx, "checkpoint_1.bin")
	require.NoError(t, err)
	assert.Equal(t, data, got)

	names, err := store.List(ctx, "checkpoint_")
	require.NoError(t, err)
	assert.Contains(t, names, "checkpoint_1.bin")

	require.NoError(t, store.Delete(ctx, "checkpoint_1.bin"))
	require.NoError(t, store.Delete(ctx, "checkpoint_1.bin"))
}
