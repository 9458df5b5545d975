package blob

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/rupee/rupee/internal/config"
	"github.com/rupee/rupee/internal/domain"
)

// S3API is the subset of the S3 client used by S3Store. Tests substitute a mock.
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	HeadBucket(ctx context.Context, params *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
}

// S3Store keeps each blob as its own object, named {prefix}{blob id}, in a
// single S3 bucket.
type S3Store struct {
	// Bucket is the upstream S3 bucket name.
	Bucket string
	// Prefix is prepended to every object key.
	Prefix string
	client S3API
}

// NewS3Store creates an S3Store using the default AWS credential chain, with
// optional overrides for static credentials, a custom endpoint and
// path-style addressing. The bucket must be reachable.
func NewS3Store(ctx context.Context, cfg *config.S3Config) (*S3Store, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("%w: s3 bucket is required", ErrStorageConfig)
	}

	var loadOpts []func(*awsconfig.LoadOptions) error
	loadOpts = append(loadOpts, awsconfig.WithRegion(cfg.Region))
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("%w: loading AWS config: %v", ErrCreateStorage, err)
	}

	var s3Opts []func(*s3.Options)
	if cfg.EndpointURL != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.EndpointURL)
		})
	}
	if cfg.UsePathStyle {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.UsePathStyle = true
		})
	}

	client := s3.NewFromConfig(awsCfg, s3Opts...)
	if _, err := client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(cfg.Bucket)}); err != nil {
		return nil, fmt.Errorf("%w: cannot access S3 bucket %q: %v", ErrCreateStorage, cfg.Bucket, err)
	}

	slog.Info("S3 blob store initialized", "bucket", cfg.Bucket, "region", cfg.Region, "prefix", cfg.Prefix)
	return NewS3StoreWithClient(cfg, client), nil
}

// NewS3StoreWithClient creates an S3Store around a pre-configured client.
func NewS3StoreWithClient(cfg *config.S3Config, client S3API) *S3Store {
	return &S3Store{Bucket: cfg.Bucket, Prefix: cfg.Prefix, client: client}
}

func (s *S3Store) objectKey(meta domain.BlobMeta) string {
	return s.Prefix + meta.ID.String()
}

// Put uploads data as a new object.
func (s *S3Store) Put(ctx context.Context, meta domain.BlobMeta, data []byte) (Ref, error) {
	key := s.objectKey(meta)
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.Bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: uploading %s to S3: %v", ErrWrite, key, err)
	}
	return S3Ref{Key: key, Size: int64(len(data))}, nil
}

// Get downloads the object named by ref.
func (s *S3Store) Get(ctx context.Context, meta domain.BlobMeta, ref Ref) ([]byte, error) {
	r, ok := ref.(S3Ref)
	if !ok {
		return nil, fmt.Errorf("%w: s3 store got %s", ErrRefMismatch, refString(ref))
	}
	if r.Size != meta.Size {
		return nil, fmt.Errorf("%w: %s has size %d but %s has size %d", ErrReadStorage, r, r.Size, meta, meta.Size)
	}

	resp, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.Bucket),
		Key:    aws.String(r.Key),
	})
	if err != nil {
		if isAWSNotFound(err) {
			return nil, fmt.Errorf("%w: object %s not found", ErrReadStorage, r.Key)
		}
		return nil, fmt.Errorf("%w: getting %s from S3: %v", ErrReadStorage, r.Key, err)
	}
	defer resp.Body.Close()
	return readExactly(resp.Body, r.Size, r.Key)
}

// Delete removes the object named by ref. A missing object is not an error.
func (s *S3Store) Delete(ctx context.Context, meta domain.BlobMeta, ref Ref) error {
	r, ok := ref.(S3Ref)
	if !ok {
		return fmt.Errorf("%w: s3 store got %s", ErrRefMismatch, refString(ref))
	}
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.Bucket),
		Key:    aws.String(r.Key),
	})
	if err != nil && !isAWSNotFound(err) {
		return fmt.Errorf("deleting %s from S3: %w", r.Key, err)
	}
	return nil
}

// Close is a no-op; the SDK client holds no per-handle resources.
func (s *S3Store) Close() error {
	return nil
}

// readExactly reads size bytes from r and fails with ErrReadStorage when the
// stream is shorter or longer.
func readExactly(r io.Reader, size int64, name string) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, size+1))
	if err != nil {
		return nil, fmt.Errorf("%w: reading %s: %v", ErrReadStorage, name, err)
	}
	if int64(len(data)) != size {
		return nil, fmt.Errorf("%w: %s holds %d bytes, expected %d", ErrReadStorage, name, len(data), size)
	}
	return data, nil
}

// isAWSNotFound checks if an AWS error is a 404/NoSuchKey/NotFound error.
func isAWSNotFound(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound", "404":
			return true
		}
	}
	var noSuchKey *types.NoSuchKey
	if errors.As(err, &noSuchKey) {
		return true
	}
	var respErr interface{ HTTPStatusCode() int }
	if errors.As(err, &respErr) && respErr.HTTPStatusCode() == 404 {
		return true
	}
	return false
}

var _ Store = (*S3Store)(nil)
