package storage

import (
	"github.com/tracdap/storage-core/buffer"
	"github.com/tracdap/storage-core/execctx"
	"github.com/tracdap/storage-core/futures"
	"github.com/tracdap/storage-core/sterr"
	"github.com/tracdap/storage-core/storelog"
	"github.com/tracdap/storage-core/stream"
)

// backendWriter is the minimal surface writeSubscriber drains into: hand
// it bytes, ask it to close on success, or abort it on failure. Backed
// by backendSink (common.go), which lazily opens the backend's output
// stream on the first write.
type backendWriter interface {
	write(data []byte) (int, error)
	close() error
	abort()
}

// writeSubscriber is the mirror image of chunked.Reader: it consumes
// buffers from an upstream Publisher and drains each into a backend
// sink, completing an external signal future with the total byte count
// on success or failing it on error. All state below is only mutated on
// loop, matching the reader's single-goroutine discipline.
type writeSubscriber struct {
	loop    *execctx.Loop
	sink    backendWriter
	signal  *futures.Future[int64]
	path    string
	gate    func() error // run once before the first byte is written (mkdir)
	gateRun bool
	gateErr error
	logger  *storelog.Logger

	sub stream.Subscription

	written  int64
	terminal bool
}

// newWriteSubscriber builds a writeSubscriber. gate is invoked exactly
// once, lazily, before the first buffer is drained, so no byte reaches
// the backend until the parent directory check has passed. logger may
// be nil, disabling error logging.
func newWriteSubscriber(loop *execctx.Loop, sink backendWriter, signal *futures.Future[int64], path string, gate func() error, logger *storelog.Logger) stream.Subscriber[*buffer.Buffer] {
	return &writeSubscriber{loop: loop, sink: sink, signal: signal, path: path, gate: gate, logger: logger}
}

var _ stream.Subscriber[*buffer.Buffer] = (*writeSubscriber)(nil)

func (w *writeSubscriber) OnSubscribe(sub stream.Subscription) {
	w.sub = sub
	sub.Request(1 << 30) // writers have no downstream backpressure of their own; request effectively unbounded
}

func (w *writeSubscriber) OnNext(buf *buffer.Buffer) {
	defer buf.Release()
	if w.terminal {
		return
	}
	if err := w.ensureGate(); err != nil {
		w.fail(err)
		return
	}

	data := buf.Bytes()
	n, err := w.sink.write(data)
	if err != nil {
		w.fail(sterr.New(sterr.Classify(err), "write", w.path, err))
		return
	}
	if n != len(data) {
		w.fail(sterr.New(sterr.ChunkNotFullyWritten, "write", w.path, nil))
		return
	}
	w.written += int64(n)
}

func (w *writeSubscriber) OnComplete() {
	if w.terminal {
		return
	}
	if err := w.ensureGate(); err != nil {
		w.fail(err)
		return
	}
	if err := w.sink.close(); err != nil {
		w.fail(sterr.New(sterr.Classify(err), "write", w.path, err))
		return
	}
	w.terminal = true
	w.signal.Complete(w.written)
}

func (w *writeSubscriber) OnError(err error) {
	if w.terminal {
		return
	}
	w.fail(sterr.New(sterr.Classify(err), "write", w.path, err))
}

// ensureGate runs the mkdir gate exactly once, memoising its result so a
// failing gate fails every subsequent call identically without
// re-invoking the backend.
func (w *writeSubscriber) ensureGate() error {
	if w.gate == nil {
		return nil
	}
	if !w.gateRun {
		w.gateRun = true
		w.gateErr = w.gate()
	}
	return w.gateErr
}

// fail marks the subscriber terminal, aborts the backend sink (closing
// whatever stream it may have opened) and fails signal with err. err is
// already classified by the caller (either via sterr.Classify at the
// point it was produced, or pre-classified by the mkdir gate), so fail
// never re-wraps it. The error is logged once, here, at the point it is
// surfaced to signal's waiters.
func (w *writeSubscriber) fail(err error) {
	w.terminal = true
	w.sink.abort()
	if w.logger != nil {
		w.logger.Error("chunked write failed", err, map[string]any{"path": w.path})
	}
	w.signal.Fail(err)
}
