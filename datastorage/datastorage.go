// Package datastorage implements the DataStorage facade:
// it composes a storage.FileStorage, a codec.Registry and the pipeline
// package into the two operations callers actually want — "give me a
// pipeline that reads this copy as record batches" and "give me a
// pipeline that writes these record batches as this copy" — enforcing
// the download size limit and the chunk-0 storage layout along the way.
package datastorage

import (
	"context"
	"fmt"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/tracdap/storage-core/codec"
	"github.com/tracdap/storage-core/futures"
	"github.com/tracdap/storage-core/pipeline"
	"github.com/tracdap/storage-core/sterr"
	"github.com/tracdap/storage-core/storage"
	"github.com/tracdap/storage-core/storagepath"
	"github.com/tracdap/storage-core/storelog"
	"github.com/tracdap/storage-core/stream"
)

// DefaultDownloadSizeLimit is the default downloadSizeLimit config
// value (1 GiB).
const DefaultDownloadSizeLimit = 1073741824

// StorageCopy identifies one physical copy of a dataset: the directory
// it lives in and the wire format it was (or will be) written with.
type StorageCopy struct {
	StoragePath   string
	StorageFormat string // codec registry key, e.g. "ARROW_STREAM"
}

// Config carries the recognised per-bucket configuration keys.
type Config struct {
	DownloadSizeLimit int64 // bytes; 0 disables the limit
	ReadOnly          bool
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{DownloadSizeLimit: DefaultDownloadSizeLimit}
}

// DataStorage composes a FileStorage backend with a codec registry.
type DataStorage struct {
	fs     storage.FileStorage
	codecs *codec.Registry
	alloc  memory.Allocator
	cfg    Config
	logger *storelog.Logger
}

// New builds a DataStorage facade. If cfg.ReadOnly is set, fs should
// already be wrapped in storage.NewReadOnly by the caller — DataStorage
// itself does not re-check the flag beyond what fs enforces; rejecting
// mutations is a FileStorage-level concern.
func New(fs storage.FileStorage, codecs *codec.Registry, alloc memory.Allocator, cfg Config) *DataStorage {
	return &DataStorage{fs: fs, codecs: codecs, alloc: alloc, cfg: cfg}
}

// WithLogger attaches l so every pipeline this DataStorage builds logs
// its first classified error once, at the point it is surfaced. Returns
// d for chaining onto New.
func (d *DataStorage) WithLogger(l *storelog.Logger) *DataStorage {
	d.logger = l
	return d
}

func chunkPath(copy StorageCopy, ext string) (storagepath.Path, error) {
	dir := copy.StoragePath
	if dir != "" && dir[len(dir)-1] != '/' {
		dir += "/"
	}
	return storagepath.Resolve(dir+"chunk-0."+ext, storagepath.OpMutate)
}

// PipelineReader builds a ReadPipeline for copy, enforcing the
// downloadSizeLimit and applying an optional RangeSelector for non-zero
// offset/limit. sink receives the decoded record batches.
func (d *DataStorage) PipelineReader(ctx context.Context, copy StorageCopy, schema *arrow.Schema, offset, limit int64, sink stream.Subscriber[arrow.Record]) (*pipeline.ReadPipeline, error) {
	c, err := d.codecs.Get(copy.StorageFormat)
	if err != nil {
		return nil, err
	}
	path, err := chunkPath(copy, c.DefaultFileExtension())
	if err != nil {
		return nil, err
	}

	if d.cfg.DownloadSizeLimit > 0 {
		size, err := d.fs.Size(path).Get(ctx)
		if err != nil {
			return nil, err
		}
		if int64(size) > d.cfg.DownloadSizeLimit {
			return nil, sterr.New(sterr.DownloadTooLarge, "pipelineReader", path.Key(), fmt.Errorf(
				"File size of %s exceeds the configured download limit of %s",
				formatBytes(int64(size)), formatBytes(d.cfg.DownloadSizeLimit)))
		}
	}

	decoder, err := c.NewDecoder(d.alloc, schema, nil)
	if err != nil {
		return nil, err
	}

	var selector *pipeline.RangeSelector
	if offset != 0 || limit != 0 {
		selector = pipeline.NewRangeSelector(offset, limit)
	}

	reader := d.fs.Reader(path)
	return pipeline.NewReadPipeline(reader, decoder, selector, sink).WithLogger(d.logger), nil
}

// PipelineWriter builds a WritePipeline for copy: encoder is appended to
// source, and the backend writer is gated on mkdir(copy.StoragePath,
// recursive=true) completing before any byte reaches the backend.
func (d *DataStorage) PipelineWriter(ctx context.Context, copy StorageCopy, schema *arrow.Schema, source stream.Publisher[arrow.Record]) (*pipeline.WritePipeline, *futures.Future[int64], error) {
	c, err := d.codecs.Get(copy.StorageFormat)
	if err != nil {
		return nil, nil, err
	}
	path, err := chunkPath(copy, c.DefaultFileExtension())
	if err != nil {
		return nil, nil, err
	}

	dirPath, err := storagepath.Resolve(copy.StoragePath, storagepath.OpRead)
	if err != nil {
		return nil, nil, err
	}

	encoder, err := c.NewEncoder(d.alloc, schema, nil)
	if err != nil {
		return nil, nil, err
	}

	signal := futures.New[int64]()
	gatedWriter := newMkdirGatedWriter(d.fs, dirPath, path, signal)

	return pipeline.NewWritePipeline(source, encoder, gatedWriter).WithLogger(d.logger), signal, nil
}

// formatBytes renders n using 1024-based units with one decimal place
// for the DOWNLOAD_TOO_LARGE message.
func formatBytes(n int64) string {
	const unit = 1024.0
	units := []string{"bytes", "KB", "MB", "GB", "TB"}
	f := float64(n)
	i := 0
	for f >= unit && i < len(units)-1 {
		f /= unit
		i++
	}
	if i == 0 {
		return fmt.Sprintf("%d bytes", n)
	}
	return fmt.Sprintf("%.1f %s", f, units[i])
}
