package docstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"cloud.google.com/go/storage"
)

// GCSStore keeps documents as objects in a Cloud Storage bucket.
// It assumes Application Default Credentials are configured.
type GCSStore struct {
	client *storage.Client
	bucket string
	prefix string
}

// NewGCSStore creates a store for location, which is either a bucket name
// or a URI such as "gs://bucket/uploads".
func NewGCSStore(ctx context.Context, location string) (*GCSStore, error) {
	bucket, prefix, err := ParseGCSURI(location)
	if err != nil {
		return nil, fmt.Errorf("NewGCSStore: %w", err)
	}

	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("NewGCSStore: create storage client: %w", err)
	}

	return &GCSStore{client: client, bucket: bucket, prefix: prefix}, nil
}

// Close releases the storage client.
func (s *GCSStore) Close() error {
	return s.client.Close()
}

// Save implements pipeline.DocumentStore.
func (s *GCSStore) Save(ctx context.Context, key string, content []byte, mimeType string) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	w := s.client.Bucket(s.bucket).Object(s.objectName(key)).NewWriter(ctx)
	w.ContentType = mimeType

	if _, err := w.Write(content); err != nil {
		_ = w.Close()
		return fmt.Errorf("GCSStore.Save: write %s: %w", s.URI(key), err)
	}
	// Close finalizes the upload.
	if err := w.Close(); err != nil {
		return fmt.Errorf("GCSStore.Save: finalize %s: %w", s.URI(key), err)
	}
	return nil
}

// Read implements pipeline.DocumentStore.
func (s *GCSStore) Read(ctx context.Context, key string) ([]byte, error) {
	r, err := s.client.Bucket(s.bucket).Object(s.objectName(key)).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("GCSStore.Read: open %s: %w", s.URI(key), err)
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("GCSStore.Read: read %s: %w", s.URI(key), err)
	}
	return data, nil
}

// Delete implements pipeline.DocumentStore. Deleting a missing object is not an error.
func (s *GCSStore) Delete(ctx context.Context, key string) error {
	err := s.client.Bucket(s.bucket).Object(s.objectName(key)).Delete(ctx)
	if err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
		return fmt.Errorf("GCSStore.Delete: %s: %w", s.URI(key), err)
	}
	return nil
}

// URI returns the gs:// URI of the object holding key.
func (s *GCSStore) URI(key string) string {
	return "gs://" + s.bucket + "/" + s.objectName(key)
}

func (s *GCSStore) objectName(key string) string {
	return path.Join(s.prefix, path.Base(key))
}

// ParseGCSURI splits "gs://bucket/some/prefix" into bucket and prefix.
// A bare bucket name is accepted too.
func ParseGCSURI(uri string) (bucket, prefix string, err error) {
	trimmed := strings.TrimPrefix(strings.TrimSpace(uri), "gs://")
	trimmed = strings.Trim(trimmed, "/")
	if trimmed == "" {
		return "", "", fmt.Errorf("invalid GCS location %q", uri)
	}

	parts := strings.SplitN(trimmed, "/", 2)
	bucket = parts[0]
	if len(parts) == 2 {
		prefix = strings.Trim(parts[1], "/")
	}
	return bucket, prefix, nil
}
