package blobstore

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/perch-social/perch/models"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// S3Blobstore stores blobs as objects in a single S3 (or S3-compatible)
// bucket, keyed directly by handle.
type S3Blobstore struct {
	client *s3.Client
	bucket string
}

type S3Config struct {
	Region    string
	Endpoint  string
	Bucket    string
	AccessKey string
	SecretKey string
}

func NewS3Blobstore(cfg S3Config) (*S3Blobstore, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 blobstore requires a bucket")
	}
	opts := s3.Options{
		Region:       cfg.Region,
		UsePathStyle: true,
	}
	if cfg.Endpoint != "" {
		opts.BaseEndpoint = aws.String(cfg.Endpoint)
	}
	if cfg.AccessKey != "" {
		opts.Credentials = credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")
	}
	return &S3Blobstore{
		client: s3.New(opts),
		bucket: cfg.Bucket,
	}, nil
}

var _ Blobstore = (*S3Blobstore)(nil)

func (s *S3Blobstore) PutBlob(ctx context.Context, handle string, mimeType string, r io.Reader) error {
	// S3 PUT of an existing key is a full overwrite with identical bytes
	// (derived handles are deterministic), so no existence check is needed
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(handle),
		Body:        r,
		ContentType: aws.String(mimeType),
	})
	if err != nil {
		return fmt.Errorf("writing blob %s: %w", handle, err)
	}
	return nil
}

func (s *S3Blobstore) GetBlob(ctx context.Context, handle string) (io.ReadCloser, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(handle),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, fmt.Errorf("%w: blob %s", models.ErrNotFound, handle)
		}
		return nil, fmt.Errorf("reading blob %s: %w", handle, err)
	}
	return out.Body, nil
}

func (s *S3Blobstore) DeleteBlob(ctx context.Context, handle string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(handle),
	})
	return err
}

func (s *S3Blobstore) HasBlob(ctx context.Context, handle string) (bool, error) {
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(handle),
	})
	if err != nil {
		var nf *types.NotFound
		if errors.As(err, &nf) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}
