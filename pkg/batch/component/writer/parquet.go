package writer

import (
	"bytes"
	"context"
	"fmt"
	"math/rand"
	"path"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/xitongsys/parquet-go/parquet"
	parquetwriter "github.com/xitongsys/parquet-go/writer"

	"github.com/marloq/riptide/pkg/batch/adapter/storage"
	"github.com/marloq/riptide/pkg/batch/core/model"
	"github.com/marloq/riptide/pkg/batch/core/port"
	"github.com/marloq/riptide/pkg/batch/core/tx"
	"github.com/marloq/riptide/pkg/batch/support/exception"
	"github.com/marloq/riptide/pkg/batch/support/logger"
)

// ParquetWriterConfig configures a ParquetWriter.
type ParquetWriterConfig struct {
	// OutputBaseDir is the object name prefix for exported files.
	OutputBaseDir string `mapstructure:"outputBaseDir"`
	// CompressionType selects the Parquet codec: SNAPPY, GZIP, or NONE.
	// Empty means SNAPPY.
	CompressionType string `mapstructure:"compressionType"`
}

// ParquetWriter buffers items by partition key and, on Close, renders one
// Parquet file per partition and uploads it to object storage under a
// Hive-style path (outputBaseDir/<partitionKey>/data_<ts>_<rand>.parquet).
//
// The upload happens outside the chunk transaction: Parquet files are
// immutable blobs, so the all-or-nothing unit here is the whole step, not the
// chunk. A failed step leaves no files because nothing uploads before Close.
type ParquetWriter[T any] struct {
	name          string
	config        ParquetWriterConfig
	store         storage.Store
	itemPrototype *T
	partitionKey  func(T) (string, error)

	buffered map[string][]T
	total    int64
}

var _ port.ItemWriter[any] = (*ParquetWriter[any])(nil)

func NewParquetWriter[T any](
	name string,
	config ParquetWriterConfig,
	store storage.Store,
	itemPrototype *T,
	partitionKey func(T) (string, error),
) (*ParquetWriter[T], error) {
	if config.OutputBaseDir == "" {
		return nil, exception.NewBatchError(moduleName, fmt.Sprintf("ParquetWriter '%s' requires an output base directory", name), nil, exception.ClassConfig)
	}
	if _, err := compressionCodec(config.CompressionType); err != nil {
		return nil, exception.NewBatchError(moduleName, fmt.Sprintf("invalid compression type for ParquetWriter '%s'", name), err, exception.ClassConfig)
	}
	return &ParquetWriter[T]{
		name:          name,
		config:        config,
		store:         store,
		itemPrototype: itemPrototype,
		partitionKey:  partitionKey,
		buffered:      make(map[string][]T),
	}, nil
}

func (w *ParquetWriter[T]) Open(ctx context.Context, ec model.ExecutionContext) error {
	w.buffered = make(map[string][]T)
	w.total = 0
	logger.Debugf("ParquetWriter '%s': opened, writing under '%s'", w.name, w.config.OutputBaseDir)
	return nil
}

// Write buffers the chunk by partition key. No file is produced here.
func (w *ParquetWriter[T]) Write(ctx context.Context, _ tx.Tx, items []T) error {
	for _, item := range items {
		key, err := w.partitionKey(item)
		if err != nil {
			return exception.NewBatchError(moduleName, fmt.Sprintf("failed to derive partition key in ParquetWriter '%s'", w.name), err, exception.ClassMalformed)
		}
		w.buffered[key] = append(w.buffered[key], item)
		w.total++
	}
	logger.Debugf("ParquetWriter '%s': buffered %d items (%d total)", w.name, len(items), w.total)
	return nil
}

// Close renders and uploads every buffered partition. Partitions fail
// independently; the errors are aggregated so one bad partition does not
// silently swallow the others.
func (w *ParquetWriter[T]) Close(ctx context.Context) error {
	if w.total == 0 {
		logger.Infof("ParquetWriter '%s': nothing buffered, no files produced", w.name)
		return nil
	}

	codec, err := compressionCodec(w.config.CompressionType)
	if err != nil {
		return exception.NewBatchError(moduleName, fmt.Sprintf("invalid compression type for ParquetWriter '%s'", w.name), err, exception.ClassConfig)
	}

	var errs error
	for key, items := range w.buffered {
		if err := w.flushPartition(ctx, key, items, codec); err != nil {
			errs = multierror.Append(errs, err)
		}
	}

	w.buffered = make(map[string][]T)
	w.total = 0
	return errs
}

func (w *ParquetWriter[T]) flushPartition(ctx context.Context, key string, items []T, codec parquet.CompressionCodec) (err error) {
	// The parquet library panics on schema mismatches instead of returning
	// an error; contain that to the partition being flushed.
	defer func() {
		if r := recover(); r != nil {
			err = exception.NewBatchError(moduleName, fmt.Sprintf("parquet rendering panicked for partition '%s' in ParquetWriter '%s': %v", key, w.name, r), nil, "")
		}
	}()

	buf := new(bytes.Buffer)
	pw, err := parquetwriter.NewParquetWriterFromWriter(buf, w.itemPrototype, int64(len(items)))
	if err != nil {
		return exception.NewBatchError(moduleName, fmt.Sprintf("failed to create parquet writer for partition '%s' in ParquetWriter '%s'", key, w.name), err, "")
	}
	pw.CompressionType = codec

	for _, item := range items {
		if err := pw.Write(item); err != nil {
			return exception.NewBatchError(moduleName, fmt.Sprintf("failed to render item for partition '%s' in ParquetWriter '%s'", key, w.name), err, "")
		}
	}
	if err := pw.WriteStop(); err != nil {
		return exception.NewBatchError(moduleName, fmt.Sprintf("failed to finalize parquet file for partition '%s' in ParquetWriter '%s'", key, w.name), err, "")
	}

	fileName := fmt.Sprintf("data_%s_%s.parquet", time.Now().UTC().Format("20060102150405"), randomSuffix(8))
	objectName := path.Join(w.config.OutputBaseDir, key, fileName)

	if err := w.store.Upload(ctx, objectName, buf, "application/octet-stream"); err != nil {
		return exception.NewBatchError(moduleName, fmt.Sprintf("failed to upload parquet file '%s' from ParquetWriter '%s'", objectName, w.name), err, exception.ClassTransient)
	}
	logger.Infof("ParquetWriter '%s': uploaded %d items for partition '%s' to '%s'", w.name, len(items), key, objectName)
	return nil
}

func compressionCodec(compressionType string) (parquet.CompressionCodec, error) {
	switch strings.ToUpper(compressionType) {
	case "", "SNAPPY":
		return parquet.CompressionCodec_SNAPPY, nil
	case "GZIP":
		return parquet.CompressionCodec_GZIP, nil
	case "NONE":
		return parquet.CompressionCodec_UNCOMPRESSED, nil
	default:
		return 0, fmt.Errorf("unsupported compression type: %s", compressionType)
	}
}

const suffixCharset = "abcdefghijklmnopqrstuvwxyz0123456789"

func randomSuffix(length int) string {
	b := make([]byte, length)
	for i := range b {
		b[i] = suffixCharset[rand.Intn(len(suffixCharset))]
	}
	return string(b)
}
