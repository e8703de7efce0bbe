package s3

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"

	"github.com/hupe1980/speechunit/blobstore"
)

// DDBCommitStore wraps an S3 Store and moves one pointer blob (typically
// checkpoint_last.bin) through DynamoDB conditional writes.
//
// Each Put of the pointer uploads a new versioned object and then commits
// version N+1 with attribute_not_exists(version). Two trainers writing the same
// mirror therefore never silently overwrite each other: the loser gets
// ErrConcurrentModification.
//
// Table schema:
//   - Partition key: base_uri (string) - the S3 prefix/path
//   - Sort key: version (number) - monotonically increasing version
//
// Create table with:
//
//	aws dynamodb create-table \
//	  --table-name speechunit-commits \
//	  --attribute-definitions AttributeName=base_uri,AttributeType=S AttributeName=version,AttributeType=N \
//	  --key-schema AttributeName=base_uri,KeyType=HASH AttributeName=version,KeyType=RANGE \
//	  --billing-mode PAY_PER_REQUEST
type DDBCommitStore struct {
	s3Store    *Store
	ddbClient  DDBClient
	tableName  string
	baseURI    string
	commitName string
}

// DDBClient is the interface for DynamoDB operations.
type DDBClient interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
}

// ErrConcurrentModification is returned when a concurrent write is detected.
var ErrConcurrentModification = errors.New("concurrent modification detected")

// NewDDBCommitStore creates a new S3+DynamoDB commit store.
// baseURI ("s3://bucket/prefix") is the partition key; commitName is the blob
// whose writes are versioned.
func NewDDBCommitStore(s3Store *Store, ddbClient DDBClient, tableName, baseURI, commitName string) *DDBCommitStore {
	return &DDBCommitStore{
		s3Store:    s3Store,
		ddbClient:  ddbClient,
		tableName:  tableName,
		baseURI:    baseURI,
		commitName: commitName,
	}
}

// NewCommitStore loads the default AWS configuration once and returns an S3
// store for bucket whose commitName blob is versioned through table.
func NewCommitStore(ctx context.Context, bucket, table, commitName string, optFns ...Option) (*DDBCommitStore, error) {
	store, cfg, err := newStore(ctx, bucket, optFns)
	if err != nil {
		return nil, err
	}
	baseURI := "s3://" + bucket
	if store.prefix != "" {
		baseURI += "/" + store.prefix
	}
	return NewDDBCommitStore(store, dynamodb.NewFromConfig(cfg), table, baseURI, commitName), nil
}

// versionedName is unique per attempt so that a losing writer never clobbers
// the object the winner committed.
func (s *DDBCommitStore) versionedName(v uint64) string {
	return fmt.Sprintf("%s.v%08d-%s", s.commitName, v, uuid.NewString())
}

func (s *DDBCommitStore) isVersioned(name string) bool {
	return strings.HasPrefix(name, s.commitName+".v")
}

// Get reads a blob. The commit blob resolves through the latest DynamoDB version.
func (s *DDBCommitStore) Get(ctx context.Context, name string) ([]byte, error) {
	if name != s.commitName {
		return s.s3Store.Get(ctx, name)
	}
	version, objectPath, err := s.latest(ctx)
	if err != nil {
		return nil, err
	}
	if version == 0 {
		return nil, blobstore.ErrNotFound
	}
	return s.s3Store.Get(ctx, objectPath)
}

// Put writes a blob. For the commit blob, uses a DynamoDB conditional write.
func (s *DDBCommitStore) Put(ctx context.Context, name string, data []byte) error {
	if name != s.commitName {
		return s.s3Store.Put(ctx, name, data)
	}
	return s.commit(ctx, data)
}

// Delete deletes a blob. The commit blob is never deleted.
func (s *DDBCommitStore) Delete(ctx context.Context, name string) error {
	if name == s.commitName {
		return nil
	}
	return s.s3Store.Delete(ctx, name)
}

// List lists blobs with prefix. Versioned objects are reported as the commit blob.
func (s *DDBCommitStore) List(ctx context.Context, prefix string) ([]string, error) {
	names, err := s.s3Store.List(ctx, prefix)
	if err != nil {
		return nil, err
	}
	out := names[:0]
	for _, n := range names {
		if !s.isVersioned(n) {
			out = append(out, n)
		}
	}
	if strings.HasPrefix(s.commitName, prefix) {
		version, _, err := s.latest(ctx)
		if err != nil {
			return nil, err
		}
		if version > 0 {
			out = append(out, s.commitName)
			sort.Strings(out)
		}
	}
	return out, nil
}

// latest queries DynamoDB for the latest committed version.
func (s *DDBCommitStore) latest(ctx context.Context) (uint64, string, error) {
	resp, err := s.ddbClient.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(s.tableName),
		KeyConditionExpression: aws.String("base_uri = :uri"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":uri": &types.AttributeValueMemberS{Value: s.baseURI},
		},
		ScanIndexForward: aws.Bool(false), // Descending order
		Limit:            aws.Int32(1),
	})
	if err != nil {
		return 0, "", fmt.Errorf("failed to query DynamoDB: %w", err)
	}

	if len(resp.Items) == 0 {
		return 0, "", nil
	}

	item := resp.Items[0]
	versionAttr, ok := item["version"].(*types.AttributeValueMemberN)
	if !ok {
		return 0, "", errors.New("invalid version attribute in DynamoDB")
	}
	pathAttr, ok := item["object_path"].(*types.AttributeValueMemberS)
	if !ok {
		return 0, "", errors.New("invalid object_path attribute in DynamoDB")
	}

	version, err := strconv.ParseUint(versionAttr.Value, 10, 64)
	if err != nil {
		return 0, "", fmt.Errorf("failed to parse version: %w", err)
	}
	return version, pathAttr.Value, nil
}

func (s *DDBCommitStore) commit(ctx context.Context, data []byte) error {
	current, previousPath, err := s.latest(ctx)
	if err != nil {
		return err
	}

	next := current + 1
	objectPath := s.versionedName(next)
	if err := s.s3Store.Put(ctx, objectPath, data); err != nil {
		return err
	}

	_, err = s.ddbClient.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.tableName),
		Item: map[string]types.AttributeValue{
			"base_uri":    &types.AttributeValueMemberS{Value: s.baseURI},
			"version":     &types.AttributeValueMemberN{Value: strconv.FormatUint(next, 10)},
			"object_path": &types.AttributeValueMemberS{Value: objectPath},
		},
		ConditionExpression: aws.String("attribute_not_exists(version)"),
	})
	if err != nil {
		var condErr *types.ConditionalCheckFailedException
		if errors.As(err, &condErr) {
			_ = s.s3Store.Delete(ctx, objectPath)
			return ErrConcurrentModification
		}
		return fmt.Errorf("failed to commit version to DynamoDB: %w", err)
	}

	if previousPath != "" {
		_ = s.s3Store.Delete(ctx, previousPath)
	}
	return nil
}
