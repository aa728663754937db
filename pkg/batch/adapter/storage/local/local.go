// Package local implements the storage port on top of a local directory.
package local

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/marloq/riptide/pkg/batch/adapter/storage"
	"github.com/marloq/riptide/pkg/batch/support/exception"
	"github.com/marloq/riptide/pkg/batch/support/logger"
)

const moduleName = "local_storage"

// Store writes objects as files under a base directory. Object names map to
// relative paths, so partitioned layouts like "dt=2026-08-30/part-0.parquet"
// become nested directories.
type Store struct {
	baseDir string
}

var _ storage.Store = (*Store)(nil)

// NewStore validates the base directory, creating it when absent.
func NewStore(baseDir string) (*Store, error) {
	if baseDir == "" {
		return nil, exception.NewBatchError(moduleName, "base directory is not configured", nil, exception.ClassConfig)
	}
	info, err := os.Stat(baseDir)
	switch {
	case os.IsNotExist(err):
		if err := os.MkdirAll(baseDir, 0o755); err != nil {
			return nil, exception.NewBatchError(moduleName, fmt.Sprintf("failed to create base directory '%s'", baseDir), err, exception.ClassConfig)
		}
	case err != nil:
		return nil, exception.NewBatchError(moduleName, fmt.Sprintf("failed to stat base directory '%s'", baseDir), err, exception.ClassConfig)
	case !info.IsDir():
		return nil, exception.NewBatchError(moduleName, fmt.Sprintf("base directory '%s' is not a directory", baseDir), nil, exception.ClassConfig)
	}
	logger.Debugf("local storage initialized at '%s'", baseDir)
	return &Store{baseDir: baseDir}, nil
}

// resolve maps an object name onto the base directory and rejects names that
// would escape it.
func (s *Store) resolve(objectName string) (string, error) {
	cleaned := filepath.Clean(filepath.FromSlash(objectName))
	if cleaned == "." || strings.HasPrefix(cleaned, "..") || filepath.IsAbs(cleaned) {
		return "", exception.NewBatchError(moduleName, fmt.Sprintf("invalid object name '%s'", objectName), nil, exception.ClassValidation)
	}
	return filepath.Join(s.baseDir, cleaned), nil
}

func (s *Store) Upload(ctx context.Context, objectName string, data io.Reader, contentType string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	path, err := s.resolve(objectName)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return exception.NewBatchError(moduleName, fmt.Sprintf("failed to create directory for '%s'", objectName), err, exception.ClassTransient)
	}
	f, err := os.Create(path)
	if err != nil {
		return exception.NewBatchError(moduleName, fmt.Sprintf("failed to create object '%s'", objectName), err, exception.ClassTransient)
	}
	if _, err := io.Copy(f, data); err != nil {
		f.Close()
		return exception.NewBatchError(moduleName, fmt.Sprintf("failed to write object '%s'", objectName), err, exception.ClassTransient)
	}
	if err := f.Close(); err != nil {
		return exception.NewBatchError(moduleName, fmt.Sprintf("failed to close object '%s'", objectName), err, exception.ClassTransient)
	}
	logger.Debugf("uploaded object '%s' to local storage", objectName)
	return nil
}

func (s *Store) Download(ctx context.Context, objectName string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path, err := s.resolve(objectName)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, exception.NewBatchError(moduleName, fmt.Sprintf("failed to open object '%s'", objectName), err, exception.ClassTransient)
	}
	return f, nil
}

func (s *Store) List(ctx context.Context, prefix string, fn func(objectName string) error) error {
	return filepath.WalkDir(s.baseDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(s.baseDir, path)
		if err != nil {
			return err
		}
		name := filepath.ToSlash(rel)
		if !strings.HasPrefix(name, prefix) {
			return nil
		}
		return fn(name)
	})
}

func (s *Store) Delete(ctx context.Context, objectName string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	path, err := s.resolve(objectName)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil {
		return exception.NewBatchError(moduleName, fmt.Sprintf("failed to delete object '%s'", objectName), err, exception.ClassTransient)
	}
	return nil
}

func (s *Store) Close() error { return nil }
