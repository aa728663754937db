// Package gcs implements the storage port on Google Cloud Storage.
package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"

	gcstorage "cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/marloq/riptide/pkg/batch/adapter/storage"
	"github.com/marloq/riptide/pkg/batch/support/exception"
	"github.com/marloq/riptide/pkg/batch/support/logger"
)

const moduleName = "gcs_storage"

// Store is a bucket-scoped view onto Google Cloud Storage.
type Store struct {
	client *gcstorage.Client
	bucket string
}

var _ storage.Store = (*Store)(nil)

// NewStore opens a client against the given bucket. When credentialsFile is
// empty the client falls back to application default credentials.
func NewStore(ctx context.Context, bucket string, credentialsFile string) (*Store, error) {
	if bucket == "" {
		return nil, exception.NewBatchError(moduleName, "bucket is not configured", nil, exception.ClassConfig)
	}
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	client, err := gcstorage.NewClient(ctx, opts...)
	if err != nil {
		return nil, exception.NewBatchError(moduleName, "failed to create storage client", err, exception.ClassConfig)
	}
	logger.Debugf("gcs storage initialized for bucket '%s'", bucket)
	return &Store{client: client, bucket: bucket}, nil
}

func (s *Store) Upload(ctx context.Context, objectName string, data io.Reader, contentType string) error {
	w := s.client.Bucket(s.bucket).Object(objectName).NewWriter(ctx)
	w.ContentType = contentType
	if _, err := io.Copy(w, data); err != nil {
		w.Close()
		return exception.NewBatchError(moduleName, fmt.Sprintf("failed to write object '%s'", objectName), err, exception.ClassTransient)
	}
	if err := w.Close(); err != nil {
		return exception.NewBatchError(moduleName, fmt.Sprintf("failed to finalize object '%s'", objectName), err, exception.ClassTransient)
	}
	logger.Debugf("uploaded object '%s' to bucket '%s'", objectName, s.bucket)
	return nil
}

func (s *Store) Download(ctx context.Context, objectName string) (io.ReadCloser, error) {
	r, err := s.client.Bucket(s.bucket).Object(objectName).NewReader(ctx)
	if err != nil {
		return nil, exception.NewBatchError(moduleName, fmt.Sprintf("failed to open object '%s'", objectName), err, exception.ClassTransient)
	}
	return r, nil
}

func (s *Store) List(ctx context.Context, prefix string, fn func(objectName string) error) error {
	it := s.client.Bucket(s.bucket).Objects(ctx, &gcstorage.Query{Prefix: prefix})
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			return nil
		}
		if err != nil {
			return exception.NewBatchError(moduleName, fmt.Sprintf("failed to list objects under '%s'", prefix), err, exception.ClassTransient)
		}
		if err := fn(attrs.Name); err != nil {
			return err
		}
	}
}

func (s *Store) Delete(ctx context.Context, objectName string) error {
	if err := s.client.Bucket(s.bucket).Object(objectName).Delete(ctx); err != nil {
		return exception.NewBatchError(moduleName, fmt.Sprintf("failed to delete object '%s'", objectName), err, exception.ClassTransient)
	}
	return nil
}

func (s *Store) Close() error {
	return s.client.Close()
}
