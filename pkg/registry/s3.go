package registry

import (
	"bytes"
	"context"
	"io"
	"os"
	"path"
	"strings"

	"github.com/ajitpratap0/gridcast/pkg/config"
	"github.com/ajitpratap0/gridcast/pkg/errors"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.uber.org/zap"
)

// S3Store keeps model and preprocessor artifacts in a bucket.
type S3Store struct {
	bucket     string
	prefix     string
	client     *s3.Client
	uploader   *manager.Uploader
	downloader *manager.Downloader
	logger     *zap.Logger
}

// NewS3Store loads AWS credentials from the environment and creates a store
// for cfg.Bucket. A custom endpoint (MinIO, LocalStack) switches to path
// style addressing.
func NewS3Store(ctx context.Context, cfg config.ArtifactsConfig, logger *zap.Logger) (*S3Store, error) {
	if cfg.Bucket == "" {
		return nil, errors.New(errors.ErrorTypeConfig, "artifacts bucket is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	opts := []func(*awsconfig.LoadOptions) error{}
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "load aws configuration")
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})
	return &S3Store{
		bucket:     cfg.Bucket,
		prefix:     strings.Trim(cfg.Prefix, "/"),
		client:     client,
		uploader:   manager.NewUploader(client),
		downloader: manager.NewDownloader(client),
		logger:     logger.With(zap.String("component", "s3_store"), zap.String("bucket", cfg.Bucket)),
	}, nil
}

// Key joins the store prefix and name.
func (s *S3Store) Key(name string) string {
	return joinKey(s.prefix, name)
}

func joinKey(prefix, name string) string {
	name = strings.TrimLeft(name, "/")
	if prefix == "" {
		return name
	}
	return path.Join(prefix, name)
}

// URI returns the s3:// location of name.
func (s *S3Store) URI(name string) string {
	return "s3://" + s.bucket + "/" + s.Key(name)
}

// Put uploads body under name and returns its URI.
func (s *S3Store) Put(ctx context.Context, name string, body io.Reader) (string, error) {
	if err := s.PutObject(ctx, s.bucket, s.Key(name), body); err != nil {
		return "", err
	}
	return s.URI(name), nil
}

// PutObject uploads body to s3://bucket/key.
func (s *S3Store) PutObject(ctx context.Context, bucket, key string, body io.Reader) error {
	if _, err := s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
		Body:   body,
	}); err != nil {
		return errors.Wrap(err, errors.ErrorTypeConnection, "s3 upload failed").
			WithDetail("bucket", bucket).
			WithDetail("key", key)
	}
	s.logger.Info("artifact uploaded", zap.String("bucket", bucket), zap.String("key", key))
	return nil
}

// PutFile uploads a local file under name.
func (s *S3Store) PutFile(ctx context.Context, name, localPath string) (string, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return "", errors.Wrap(err, errors.ErrorTypeFile, "open artifact").WithDetail("path", localPath)
	}
	defer f.Close()
	return s.Put(ctx, name, f)
}

// GetObject downloads s3://bucket/key.
func (s *S3Store) GetObject(ctx context.Context, bucket, key string) ([]byte, error) {
	buf := manager.NewWriteAtBuffer(nil)
	if _, err := s.downloader.Download(ctx, buf, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	}); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "s3 download failed").
			WithDetail("bucket", bucket).
			WithDetail("key", key)
	}
	return buf.Bytes(), nil
}

// Get downloads name from the store's bucket.
func (s *S3Store) Get(ctx context.Context, name string) ([]byte, error) {
	return s.GetObject(ctx, s.bucket, s.Key(name))
}

// ParseS3URI splits s3://bucket/key.
func ParseS3URI(uri string) (bucket, key string, err error) {
	rest, ok := strings.CutPrefix(uri, "s3://")
	if !ok {
		return "", "", errors.Newf(errors.ErrorTypeValidation, "not an s3 uri: %q", uri)
	}
	bucket, key, _ = strings.Cut(rest, "/")
	if bucket == "" || key == "" {
		return "", "", errors.Newf(errors.ErrorTypeValidation, "s3 uri needs a bucket and key: %q", uri)
	}
	return bucket, key, nil
}

func readerOf(data []byte) io.Reader { return bytes.NewReader(data) }
