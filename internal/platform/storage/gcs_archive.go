package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	gcs "cloud.google.com/go/storage"
)

// GCSArchive writes export files to a Cloud Storage bucket.
type GCSArchive struct {
	client *gcs.Client
	bucket string
	prefix string
}

// NewGCSArchive constructs an archive backed by the provided Cloud Storage client.
func NewGCSArchive(client *gcs.Client, bucket, prefix string) (*GCSArchive, error) {
	if client == nil {
		return nil, errors.New("storage gcs archive: client is required")
	}
	bucket = strings.TrimSpace(bucket)
	if bucket == "" {
		return nil, errInvalidBucket
	}
	return &GCSArchive{client: client, bucket: bucket, prefix: prefix}, nil
}

// Put uploads data under key and returns its gs:// URI.
func (a *GCSArchive) Put(ctx context.Context, key string, contentType string, data []byte) (string, error) {
	if a == nil || a.client == nil {
		return "", errors.New("storage gcs archive: client is not initialised")
	}
	object, err := CleanObjectKey(JoinKey(a.prefix, key))
	if err != nil {
		return "", err
	}

	w := a.client.Bucket(a.bucket).Object(object).NewWriter(ctx)
	w.ContentType = contentType
	w.CacheControl = "private, max-age=0"
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return "", fmt.Errorf("storage gcs archive: write %s: %w", object, err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("storage gcs archive: close %s: %w", object, err)
	}
	return fmt.Sprintf("gs://%s/%s", a.bucket, object), nil
}
