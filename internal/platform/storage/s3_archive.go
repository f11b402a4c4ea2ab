package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3PutAPI is the subset of the S3 client used by the archive.
type S3PutAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Config configures an S3 or S3-compatible (MinIO) client.
type S3Config struct {
	Region         string
	Endpoint       string
	ForcePathStyle bool
}

// NewS3Client builds a client from the default AWS credential chain.
func NewS3Client(ctx context.Context, cfg S3Config) (*s3.Client, error) {
	region := strings.TrimSpace(cfg.Region)
	if region == "" {
		region = "us-east-1"
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("storage s3: load aws config: %w", err)
	}
	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.ForcePathStyle
		if endpoint := strings.TrimSpace(cfg.Endpoint); endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	}), nil
}

// S3Archive writes export files to an S3 bucket.
type S3Archive struct {
	client S3PutAPI
	bucket string
	prefix string
}

// NewS3Archive constructs an archive writing into bucket.
func NewS3Archive(client S3PutAPI, bucket, prefix string) (*S3Archive, error) {
	if client == nil {
		return nil, errors.New("storage s3 archive: client is required")
	}
	bucket = strings.TrimSpace(bucket)
	if bucket == "" {
		return nil, errInvalidBucket
	}
	return &S3Archive{client: client, bucket: bucket, prefix: prefix}, nil
}

// Put uploads data under key and returns its s3:// URI.
func (a *S3Archive) Put(ctx context.Context, key string, contentType string, data []byte) (string, error) {
	if a == nil || a.client == nil {
		return "", errors.New("storage s3 archive: client is not initialised")
	}
	object, err := CleanObjectKey(JoinKey(a.prefix, key))
	if err != nil {
		return "", err
	}
	input := &s3.PutObjectInput{
		Bucket:        aws.String(a.bucket),
		Key:           aws.String(object),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
	}
	if contentType != "" {
		input.ContentType = aws.String(contentType)
	}
	if _, err := a.client.PutObject(ctx, input); err != nil {
		return "", fmt.Errorf("storage s3 archive: put %s: %w", object, err)
	}
	return fmt.Sprintf("s3://%s/%s", a.bucket, object), nil
}
