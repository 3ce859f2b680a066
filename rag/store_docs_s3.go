package rag

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	smithyhttp "github.com/aws/smithy-go/transport/http"
)

// S3DocumentStore implements the read-only DocumentStore over an S3 bucket.
// Writes stay out of scope: ingestion acquires documents, it never publishes
// them.
type S3DocumentStore struct {
	Client *s3.Client
	Bucket string
	Prefix string
}

// NewS3DocumentStore creates an S3-backed document store. The prefix is
// optional and is prepended to all keys.
func NewS3DocumentStore(client *s3.Client, bucket, prefix string) *S3DocumentStore {
	return &S3DocumentStore{Client: client, Bucket: bucket, Prefix: prefix}
}

func (s *S3DocumentStore) fullKey(key string) string {
	if s.Prefix == "" {
		return key
	}
	return s.Prefix + key
}

func (s *S3DocumentStore) List(ctx context.Context, prefix string) ([]DocumentInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	fullPrefix := s.fullKey(prefix)
	var infos []DocumentInfo

	paginator := s3.NewListObjectsV2Paginator(s.Client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.Bucket),
		Prefix: aws.String(fullPrefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("list objects with prefix %s: %w", prefix, err)
		}
		for _, object := range page.Contents {
			if object.Key == nil {
				continue
			}
			key := strings.TrimPrefix(*object.Key, s.Prefix)
			updatedAt := time.Now().UTC()
			if object.LastModified != nil {
				updatedAt = *object.LastModified
			}
			size := int64(0)
			if object.Size != nil {
				size = *object.Size
			}
			infos = append(infos, DocumentInfo{Key: key, Size: size, UpdatedAt: updatedAt})
		}
	}

	sort.Slice(infos, func(i, j int) bool { return infos[i].Key < infos[j].Key })
	return infos, nil
}

func (s *S3DocumentStore) Download(ctx context.Context, key, dest string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	result, err := s.Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.Bucket),
		Key:    aws.String(s.fullKey(key)),
	})
	if err != nil {
		if isS3NotFound(err) {
			return fmt.Errorf("%w: %s", ErrDocumentNotFound, key)
		}
		return fmt.Errorf("get object %s: %w", key, err)
	}
	defer result.Body.Close()

	file, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("create destination file: %w", err)
	}
	defer file.Close()

	if _, err := io.Copy(file, result.Body); err != nil {
		return fmt.Errorf("download object %s: %w", key, err)
	}
	return nil
}

func isS3NotFound(err error) bool {
	var notFound *types.NotFound
	var noSuchKey *types.NoSuchKey
	if errors.As(err, &notFound) || errors.As(err, &noSuchKey) {
		return true
	}
	var responseErr *smithyhttp.ResponseError
	return errors.As(err, &responseErr) && responseErr.HTTPStatusCode() == 404
}
