package storage

import (
	"github.com/tracdap/storage-core/buffer"
	"github.com/tracdap/storage-core/execctx"
	"github.com/tracdap/storage-core/futures"
	"github.com/tracdap/storage-core/storagepath"
	"github.com/tracdap/storage-core/storelog"
	"github.com/tracdap/storage-core/stream"
)

// Filesystem is a FileStorage over a POSIX-style backend: parents must
// exist for a non-recursive Mkdir or Writer, and directories are real
// (not inferred from prefixes).
type Filesystem struct {
	engine *engine
}

var _ FileStorage = (*Filesystem)(nil)

// NewFilesystem wires backend (expected to be SemanticsFilesystem) into
// a Filesystem, allocating buffers from alloc and dispatching stream
// callbacks on loop.
func NewFilesystem(backend Backend, alloc *buffer.Allocator, loop *execctx.Loop) *Filesystem {
	return &Filesystem{engine: newEngine(backend, alloc, loop, true)}
}

// SetLogger attaches l so reader/writer errors this Filesystem's streams
// surface are logged once, at the point they're raised.
func (f *Filesystem) SetLogger(l *storelog.Logger) { f.engine.logger = l }

func (f *Filesystem) Exists(path storagepath.Path) *futures.Future[bool] { return f.engine.Exists(path) }
func (f *Filesystem) Size(path storagepath.Path) *futures.Future[uint64] { return f.engine.Size(path) }
func (f *Filesystem) Stat(path storagepath.Path) *futures.Future[FileStat] {
	return f.engine.Stat(path)
}
func (f *Filesystem) Ls(path storagepath.Path) *futures.Future[[]FileStat] { return f.engine.Ls(path) }
func (f *Filesystem) Mkdir(path storagepath.Path, recursive bool) *futures.Future[struct{}] {
	return f.engine.Mkdir(path, recursive)
}
func (f *Filesystem) Rm(path storagepath.Path) *futures.Future[struct{}] { return f.engine.Rm(path) }
func (f *Filesystem) Rmdir(path storagepath.Path) *futures.Future[struct{}] {
	return f.engine.Rmdir(path)
}
func (f *Filesystem) ReadChunk(path storagepath.Path, offset, size int64) *futures.Future[*buffer.Buffer] {
	return f.engine.ReadChunk(path, offset, size)
}
func (f *Filesystem) Reader(path storagepath.Path) stream.Publisher[*buffer.Buffer] {
	return f.engine.Reader(path)
}
func (f *Filesystem) Writer(path storagepath.Path, signal *futures.Future[int64]) stream.Subscriber[*buffer.Buffer] {
	return f.engine.Writer(path, signal)
}
