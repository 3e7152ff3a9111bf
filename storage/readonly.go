package storage

import (
	"github.com/tracdap/storage-core/buffer"
	"github.com/tracdap/storage-core/futures"
	"github.com/tracdap/storage-core/sterr"
	"github.com/tracdap/storage-core/storagepath"
	"github.com/tracdap/storage-core/stream"
)

// ReadOnly wraps a FileStorage, rejecting every mutating operation
// (Mkdir, Rm, Rmdir, Writer) with sterr.AccessDenied while delegating
// read operations unchanged. Used when a bucket's configuration sets
// readOnly: true (§9 configuration keys).
type ReadOnly struct {
	inner FileStorage
}

var _ FileStorage = (*ReadOnly)(nil)

// NewReadOnly wraps inner as a read-only view.
func NewReadOnly(inner FileStorage) *ReadOnly {
	return &ReadOnly{inner: inner}
}

func (r *ReadOnly) Exists(path storagepath.Path) *futures.Future[bool] { return r.inner.Exists(path) }
func (r *ReadOnly) Size(path storagepath.Path) *futures.Future[uint64] { return r.inner.Size(path) }
func (r *ReadOnly) Stat(path storagepath.Path) *futures.Future[FileStat] {
	return r.inner.Stat(path)
}
func (r *ReadOnly) Ls(path storagepath.Path) *futures.Future[[]FileStat] { return r.inner.Ls(path) }

func (r *ReadOnly) Mkdir(path storagepath.Path, recursive bool) *futures.Future[struct{}] {
	return futures.Failed[struct{}](sterr.New(sterr.AccessDenied, "mkdir", path.Key(), nil))
}

func (r *ReadOnly) Rm(path storagepath.Path) *futures.Future[struct{}] {
	return futures.Failed[struct{}](sterr.New(sterr.AccessDenied, "rm", path.Key(), nil))
}

func (r *ReadOnly) Rmdir(path storagepath.Path) *futures.Future[struct{}] {
	return futures.Failed[struct{}](sterr.New(sterr.AccessDenied, "rmdir", path.Key(), nil))
}

func (r *ReadOnly) ReadChunk(path storagepath.Path, offset, size int64) *futures.Future[*buffer.Buffer] {
	return r.inner.ReadChunk(path, offset, size)
}

func (r *ReadOnly) Reader(path storagepath.Path) stream.Publisher[*buffer.Buffer] {
	return r.inner.Reader(path)
}

func (r *ReadOnly) Writer(path storagepath.Path, signal *futures.Future[int64]) stream.Subscriber[*buffer.Buffer] {
	signal.Fail(sterr.New(sterr.AccessDenied, "writer", path.Key(), nil))
	return rejectedWriter{}
}

// rejectedWriter is handed back by Writer on a read-only store; its
// signal has already failed, so the upstream pipeline should cancel
// immediately, but it tolerates being driven anyway.
type rejectedWriter struct{}

func (rejectedWriter) OnSubscribe(sub stream.Subscription) { sub.Cancel() }
func (rejectedWriter) OnNext(buf *buffer.Buffer) { buf.Release() }
func (rejectedWriter) OnComplete() {}
func (rejectedWriter) OnError(error) {}
