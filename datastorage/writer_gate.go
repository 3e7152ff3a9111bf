package datastorage

import (
	"github.com/tracdap/storage-core/buffer"
	"github.com/tracdap/storage-core/futures"
	"github.com/tracdap/storage-core/storage"
	"github.com/tracdap/storage-core/storagepath"
	"github.com/tracdap/storage-core/stream"
)

// gatedWriter delays activating the backend writer until
// mkdir(dirPath, recursive=true) completes:
// the upstream subscription is only handed to the real writer once mkdir
// succeeds, so the pipeline's source never receives a Request and
// therefore never produces a single byte before the directory exists. A
// failing mkdir fails signal directly and cancels upstream without ever
// touching the backend writer.
type gatedWriter struct {
	fs       storage.FileStorage
	dirPath  storagepath.Path
	filePath storagepath.Path
	signal   *futures.Future[int64]

	inner  stream.Subscriber[*buffer.Buffer]
	failed bool
}

func newMkdirGatedWriter(fs storage.FileStorage, dirPath, filePath storagepath.Path, signal *futures.Future[int64]) *gatedWriter {
	return &gatedWriter{
		fs:       fs,
		dirPath:  dirPath,
		filePath: filePath,
		signal:   signal,
		inner:    fs.Writer(filePath, signal),
	}
}

var _ stream.Subscriber[*buffer.Buffer] = (*gatedWriter)(nil)

func (g *gatedWriter) OnSubscribe(sub stream.Subscription) {
	g.fs.Mkdir(g.dirPath, true).Then(func(_ struct{}, err error) {
		if err != nil {
			g.failed = true
			g.signal.Fail(err)
			sub.Cancel()
			return
		}
		g.inner.OnSubscribe(sub)
	})
}

func (g *gatedWriter) OnNext(buf *buffer.Buffer) {
	if g.failed {
		buf.Release()
		return
	}
	g.inner.OnNext(buf)
}

func (g *gatedWriter) OnComplete() {
	if g.failed {
		return
	}
	g.inner.OnComplete()
}

func (g *gatedWriter) OnError(err error) {
	if g.failed {
		return
	}
	g.inner.OnError(err)
}
