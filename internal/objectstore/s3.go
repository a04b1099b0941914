package objectstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"sentinel/internal/services"
)

// S3Options configures the S3 backend. Endpoint is optional and targets
// S3-compatible servers such as MinIO.
type S3Options struct {
	Bucket       string
	Endpoint     string
	Region       string
	AccessKey    string
	SecretKey    string
	UsePathStyle bool
}

// S3 stores artifacts in a single bucket.
type S3 struct {
	client *s3.Client
	bucket string
	now    func() time.Time
}

// NewS3 connects an S3 client. Static credentials are used when provided;
// otherwise the client relies on anonymous access against the endpoint.
func NewS3(opts S3Options) (*S3, error) {
	if strings.TrimSpace(opts.Bucket) == "" {
		return nil, services.Wrap(services.ErrConfiguration, "objectstore", "new s3", "bucket is required", nil)
	}
	region := opts.Region
	if region == "" {
		region = "us-east-1"
	}
	client := s3.NewFromConfig(aws.Config{Region: region}, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
		}
		if opts.AccessKey != "" {
			o.Credentials = credentials.NewStaticCredentialsProvider(opts.AccessKey, opts.SecretKey, "")
		}
		o.UsePathStyle = opts.UsePathStyle
	})
	return &S3{client: client, bucket: opts.Bucket, now: time.Now}, nil
}

// Put uploads data and returns its s3:// handle.
func (s *S3) Put(ctx context.Context, data []byte, meta Metadata) (Handle, error) {
	key := newKey(s.now())
	input := &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
	}
	if meta.MediaType != "" {
		input.ContentType = aws.String(meta.MediaType)
	}
	if meta.SubmitterID != "" {
		input.Metadata = map[string]string{"submitter-id": meta.SubmitterID}
	}
	if _, err := s.client.PutObject(ctx, input); err != nil {
		return "", services.Wrap(services.ErrInfrastructure, "objectstore", "put",
			fmt.Sprintf("s3://%s/%s", s.bucket, key), err)
	}
	return Handle(fmt.Sprintf("%s://%s/%s", schemeS3, s.bucket, key)), nil
}

// Get downloads the artifact referenced by handle.
func (s *S3) Get(ctx context.Context, handle Handle) ([]byte, error) {
	scheme, bucket, key, err := ParseHandle(handle)
	if err != nil {
		return nil, err
	}
	if scheme != schemeS3 {
		return nil, services.Invalid("artifact_handle", fmt.Sprintf("s3 backend cannot read %s handles", scheme))
	}
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var missing *types.NoSuchKey
		if errors.As(err, &missing) {
			return nil, services.Wrap(services.ErrNotFound, "objectstore", "get", string(handle), nil)
		}
		return nil, services.Wrap(services.ErrInfrastructure, "objectstore", "get", string(handle), err)
	}
	defer out.Body.Close()
	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, services.Wrap(services.ErrInfrastructure, "objectstore", "get", "read body", err)
	}
	return data, nil
}
