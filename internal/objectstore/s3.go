package objectstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/kebairia/tenantbackup/internal/backup"
	"github.com/kebairia/tenantbackup/internal/logger"
)

// maxDeleteBatch is the S3 DeleteObjects limit.
const maxDeleteBatch = 1000

// S3Config holds connection settings for an S3-compatible endpoint.
type S3Config struct {
	Endpoint     string
	Region       string
	Bucket       string
	AccessKey    string
	SecretKey    string
	UsePathStyle bool
}

// S3 implements Store against an S3-compatible bucket.
type S3 struct {
	client  *s3.Client
	presign *s3.PresignClient
	bucket  string
	log     logger.Logger
}

var _ Store = (*S3)(nil)

// NewS3 builds a client for cfg. No request is made until first use.
func NewS3(cfg S3Config, log logger.Logger) (*S3, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("%w: object store bucket is required", backup.ErrConfiguration)
	}
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}
	opts := s3.Options{
		Region:       region,
		UsePathStyle: cfg.UsePathStyle,
	}
	if cfg.Endpoint != "" {
		opts.BaseEndpoint = aws.String(cfg.Endpoint)
	}
	if cfg.AccessKey != "" {
		opts.Credentials = credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")
	}
	client := s3.New(opts)
	return &S3{
		client:  client,
		presign: s3.NewPresignClient(client),
		bucket:  cfg.Bucket,
		log:     log,
	}, nil
}

func (s *S3) List(ctx context.Context, prefix string, opts ListOptions) ([]Object, error) {
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(prefix),
	})
	var objs []Object
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("%w: list %q: %v", backup.ErrStorage, prefix, err)
		}
		for _, o := range page.Contents {
			objs = append(objs, Object{
				Name:      aws.ToString(o.Key),
				CreatedAt: aws.ToTime(o.LastModified),
				Size:      aws.ToInt64(o.Size),
			})
		}
	}
	return paginate(objs, opts), nil
}

func (s *S3) Upload(ctx context.Context, name string, body io.Reader, size int64, opts UploadOptions) error {
	input := &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(name),
		Body:          body,
		ContentLength: aws.Int64(size),
	}
	if opts.ContentType != "" {
		input.ContentType = aws.String(opts.ContentType)
	}
	if !opts.Upsert {
		input.IfNoneMatch = aws.String("*")
	}
	if _, err := s.client.PutObject(ctx, input); err != nil {
		var apiErr smithy.APIError
		if errors.As(err, &apiErr) && apiErr.ErrorCode() == "PreconditionFailed" {
			return fmt.Errorf("%w: upload %q: %w", backup.ErrStorage, name, ErrExists)
		}
		return fmt.Errorf("%w: upload %q: %v", backup.ErrStorage, name, err)
	}
	return nil
}

func (s *S3) Download(ctx context.Context, name string) ([]byte, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(name),
	})
	if err != nil {
		var noKey *s3types.NoSuchKey
		if errors.As(err, &noKey) {
			return nil, fmt.Errorf("%w: download %q: %w", backup.ErrStorage, name, ErrNotFound)
		}
		return nil, fmt.Errorf("%w: download %q: %v", backup.ErrStorage, name, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read %q: %v", backup.ErrStorage, name, err)
	}
	return data, nil
}

func (s *S3) Delete(ctx context.Context, names []string) ([]string, error) {
	var (
		deleted []string
		failed  []string
	)
	for start := 0; start < len(names); start += maxDeleteBatch {
		end := min(start+maxDeleteBatch, len(names))
		objects := make([]s3types.ObjectIdentifier, 0, end-start)
		for _, n := range names[start:end] {
			objects = append(objects, s3types.ObjectIdentifier{Key: aws.String(n)})
		}
		out, err := s.client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
			Bucket: aws.String(s.bucket),
			Delete: &s3types.Delete{Objects: objects},
		})
		if err != nil {
			failed = append(failed, names[start:end]...)
			s.log.Warn("delete batch failed", "count", end-start, "error", err.Error())
			continue
		}
		for _, d := range out.Deleted {
			deleted = append(deleted, aws.ToString(d.Key))
		}
		for _, e := range out.Errors {
			failed = append(failed, aws.ToString(e.Key))
			s.log.Warn("delete object failed",
				"name", aws.ToString(e.Key),
				"code", aws.ToString(e.Code),
				"message", aws.ToString(e.Message),
			)
		}
	}
	if len(failed) > 0 {
		return deleted, fmt.Errorf("%w: delete failed for %d of %d objects: %s",
			backup.ErrStorage, len(failed), len(names), strings.Join(failed, ", "))
	}
	return deleted, nil
}

func (s *S3) SignedURL(ctx context.Context, name string, ttl time.Duration) (string, error) {
	req, err := s.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(name),
	}, s3.WithPresignExpires(ttl))
	if err != nil {
		return "", fmt.Errorf("%w: sign %q: %v", backup.ErrStorage, name, err)
	}
	return req.URL, nil
}
