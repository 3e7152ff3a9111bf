package storage

import (
	"github.com/tracdap/storage-core/buffer"
	"github.com/tracdap/storage-core/execctx"
	"github.com/tracdap/storage-core/futures"
	"github.com/tracdap/storage-core/storagepath"
	"github.com/tracdap/storage-core/storelog"
	"github.com/tracdap/storage-core/stream"
)

// Bucket is a FileStorage over an object-store backend (S3 or
// S3-compatible): no real directories, no parent-must-exist rule, a
// file and a directory sharing one key may coexist, and directory
// existence is always inferred from a prefix listing.
type Bucket struct {
	engine *engine
}

var _ FileStorage = (*Bucket)(nil)

// NewBucket wires backend (expected to be SemanticsBucket) into a
// Bucket, allocating buffers from alloc and dispatching stream callbacks
// on loop.
func NewBucket(backend Backend, alloc *buffer.Allocator, loop *execctx.Loop) *Bucket {
	return &Bucket{engine: newEngine(backend, alloc, loop, false)}
}

// SetLogger attaches l so reader/writer errors this Bucket's streams
// surface are logged once, at the point they're raised.
func (b *Bucket) SetLogger(l *storelog.Logger) { b.engine.logger = l }

func (b *Bucket) Exists(path storagepath.Path) *futures.Future[bool] { return b.engine.Exists(path) }
func (b *Bucket) Size(path storagepath.Path) *futures.Future[uint64] { return b.engine.Size(path) }
func (b *Bucket) Stat(path storagepath.Path) *futures.Future[FileStat] {
	return b.engine.Stat(path)
}
func (b *Bucket) Ls(path storagepath.Path) *futures.Future[[]FileStat] { return b.engine.Ls(path) }
func (b *Bucket) Mkdir(path storagepath.Path, recursive bool) *futures.Future[struct{}] {
	return b.engine.Mkdir(path, recursive)
}
func (b *Bucket) Rm(path storagepath.Path) *futures.Future[struct{}]    { return b.engine.Rm(path) }
func (b *Bucket) Rmdir(path storagepath.Path) *futures.Future[struct{}] { return b.engine.Rmdir(path) }
func (b *Bucket) ReadChunk(path storagepath.Path, offset, size int64) *futures.Future[*buffer.Buffer] {
	return b.engine.ReadChunk(path, offset, size)
}
func (b *Bucket) Reader(path storagepath.Path) stream.Publisher[*buffer.Buffer] {
	return b.engine.Reader(path)
}
func (b *Bucket) Writer(path storagepath.Path, signal *futures.Future[int64]) stream.Subscriber[*buffer.Buffer] {
	return b.engine.Writer(path, signal)
}
