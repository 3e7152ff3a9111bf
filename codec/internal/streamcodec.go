package internal

import (
	"io"
	"sync"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/tracdap/storage-core/buffer"
	"github.com/tracdap/storage-core/sterr"
	"github.com/tracdap/storage-core/stream"
)

// RecordSource is the minimal pull-based record batch reader surface
// shared by arrow/csv.Reader, arrow/ipc.Reader and the JSON codec's
// line reader:
// Next advances to the next record, Record returns it, Err reports the
// terminal error (nil on clean EOF).
type RecordSource interface {
	Next() bool
	Record() arrow.Record
	Err() error
}

// RecordSink is the minimal push-based record batch writer surface
// shared by arrow/csv.Writer, arrow/ipc.Writer and the JSON codec's
// line writer.
type RecordSink interface {
	Write(arrow.Record) error
	Close() error
}

// StreamDecoder adapts a RecordSource-based format (CSV, JSON Lines,
// Arrow IPC stream) to a Decoder: bytes pushed via OnNext feed a
// ChanReader that a background goroutine drains through the format's own
// reader, delivering decoded batches through a demand-accounted pending
// queue. This is the generic form of the ChunkedReader pattern
// (chunked.Reader) lifted one level: a push-based byte Subscriber driving
// a pull-based decoder instead of a pull-based backend driving a
// push-based Publisher.
type StreamDecoder struct {
	r *ChanReader

	mu         sync.Mutex
	subscriber stream.Subscriber[arrow.Record]
	upstream   stream.Subscription

	pending    []arrow.Record
	nRequested int64
	nDelivered int64

	gotCancel        bool
	hadError         bool
	gotComplete      bool
	completedEmitted bool
}

// NewStreamDecoder starts a background goroutine that builds src from an
// internal ChanReader (fed by OnNext) via newSource, then drains it.
// op annotates classified decode errors. When project is
// non-nil, every decoded record is reshaped onto it via ProjectRecord
// before being handed downstream — needed by formats (Arrow IPC) whose
// reader always decodes to the chunk's embedded schema rather than a
// caller-supplied one; formats that already conform their own reader to
// the required schema (CSV, JSON) pass a nil project and pay nothing
// extra.
func NewStreamDecoder(newSource func(io.Reader) (RecordSource, error), op string, project *arrow.Schema, alloc memory.Allocator) *StreamDecoder {
	d := &StreamDecoder{r: NewChanReader()}
	go d.run(newSource, op, project, alloc)
	return d
}

func (d *StreamDecoder) run(newSource func(io.Reader) (RecordSource, error), op string, project *arrow.Schema, alloc memory.Allocator) {
	src, err := newSource(d.r)
	if err != nil {
		d.apply(nil, sterr.New(sterr.DataCorruption, op, "", err), false)
		return
	}
	for src.Next() {
		rec := src.Record()
		rec.Retain()
		if project != nil {
			projected, perr := ProjectRecord(rec, project, alloc)
			rec.Release()
			if perr != nil {
				d.apply(nil, sterr.New(sterr.DataCorruption, op, "", perr), false)
				return
			}
			rec = projected
		}
		d.apply(rec, nil, false)
	}
	if err := src.Err(); err != nil && err != io.EOF {
		d.apply(nil, sterr.New(sterr.DataCorruption, op, "", err), false)
		return
	}
	d.apply(nil, nil, true)
}

func (d *StreamDecoder) apply(rec arrow.Record, err error, eof bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.terminal() {
		if rec != nil {
			rec.Release()
		}
		return
	}
	switch {
	case err != nil:
		d.hadError = true
		d.releasePendingLocked()
		d.subscriber.OnError(err)
	case eof:
		if len(d.pending) == 0 {
			d.emitCompleteLocked()
		} else {
			d.gotComplete = true
		}
	default:
		d.enqueueLocked(rec)
	}
}

func (d *StreamDecoder) terminal() bool {
	return d.gotCancel || d.hadError || d.completedEmitted
}

func (d *StreamDecoder) enqueueLocked(rec arrow.Record) {
	if len(d.pending) == 0 && d.nDelivered < d.nRequested {
		d.subscriber.OnNext(rec)
		d.nDelivered++
		return
	}
	d.pending = append(d.pending, rec)
}

func (d *StreamDecoder) drainPendingLocked() {
	for len(d.pending) > 0 && d.nDelivered < d.nRequested {
		rec := d.pending[0]
		d.pending = d.pending[1:]
		d.subscriber.OnNext(rec)
		d.nDelivered++
	}
	if d.gotComplete && len(d.pending) == 0 {
		d.emitCompleteLocked()
	}
}

func (d *StreamDecoder) emitCompleteLocked() {
	if d.completedEmitted {
		return
	}
	d.completedEmitted = true
	d.subscriber.OnComplete()
}

func (d *StreamDecoder) releasePendingLocked() {
	for _, rec := range d.pending {
		rec.Release()
	}
	d.pending = nil
}

// OnSubscribe implements stream.Subscriber[*buffer.Buffer].
func (d *StreamDecoder) OnSubscribe(sub stream.Subscription) {
	d.upstream = sub
	sub.Request(1 << 30)
}

// OnNext implements stream.Subscriber[*buffer.Buffer].
func (d *StreamDecoder) OnNext(buf *buffer.Buffer) {
	defer buf.Release()
	d.r.Push(buf.Bytes())
}

// OnComplete implements stream.Subscriber[*buffer.Buffer].
func (d *StreamDecoder) OnComplete() { d.r.Close(nil) }

// OnError implements stream.Subscriber[*buffer.Buffer].
func (d *StreamDecoder) OnError(err error) { d.r.Close(err) }

// Subscribe implements stream.Publisher[arrow.Record].
func (d *StreamDecoder) Subscribe(sub stream.Subscriber[arrow.Record]) {
	d.subscriber = sub
	sub.OnSubscribe(&streamDecoderSub{d: d})
}

type streamDecoderSub struct{ d *StreamDecoder }

func (s *streamDecoderSub) Request(n int64) {
	d := s.d
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.terminal() {
		return
	}
	d.nRequested += n
	d.drainPendingLocked()
}

func (s *streamDecoderSub) Cancel() {
	d := s.d
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.terminal() {
		return
	}
	d.gotCancel = true
	d.releasePendingLocked()
	if d.upstream != nil {
		d.upstream.Cancel()
	}
}

// StreamEncoder is the push-based mirror of StreamDecoder: record
// batches arrive via OnNext and are written synchronously into a
// RecordSink wrapping an io.Pipe; a background goroutine drains the
// pipe's read side into demand-accounted output buffers.
type StreamEncoder struct {
	pw *io.PipeWriter
	pr *io.PipeReader
	w  RecordSink

	op string

	mu         sync.Mutex
	subscriber stream.Subscriber[*buffer.Buffer]
	upstream   stream.Subscription

	pending    []*buffer.Buffer
	nRequested int64
	nDelivered int64

	gotCancel        bool
	hadError         bool
	gotComplete      bool
	completedEmitted bool
}

// NewStreamEncoder builds a StreamEncoder writing through w, constructed
// by newSink against an io.Writer driven by this encoder's pipe.
func NewStreamEncoder(newSink func(io.Writer) (RecordSink, error), op string) (*StreamEncoder, error) {
	pr, pw := io.Pipe()
	w, err := newSink(pw)
	if err != nil {
		return nil, sterr.New(sterr.DataCorruption, op, "", err)
	}
	return &StreamEncoder{pw: pw, pr: pr, w: w, op: op}, nil
}

func (e *StreamEncoder) terminal() bool {
	return e.gotCancel || e.hadError || e.completedEmitted
}

// OnSubscribe implements stream.Subscriber[arrow.Record].
func (e *StreamEncoder) OnSubscribe(sub stream.Subscription) {
	e.upstream = sub
	sub.Request(1 << 30)
}

// OnNext implements stream.Subscriber[arrow.Record].
func (e *StreamEncoder) OnNext(rec arrow.Record) {
	defer rec.Release()
	e.mu.Lock()
	terminal := e.terminal()
	e.mu.Unlock()
	if terminal {
		return
	}
	if err := e.w.Write(rec); err != nil {
		e.fail(sterr.New(sterr.DataCorruption, e.op, "", err))
	}
}

// OnComplete implements stream.Subscriber[arrow.Record]. Closing the
// pipe's write end is the only completion signal: the pump goroutine
// emits downstream OnComplete once it has drained every byte the sink
// flushed, so the final buffer can never race the completion event.
func (e *StreamEncoder) OnComplete() {
	if err := e.w.Close(); err != nil {
		_ = e.pw.CloseWithError(err)
		e.fail(sterr.New(sterr.DataCorruption, e.op, "", err))
		return
	}
	_ = e.pw.Close()
}

// OnError implements stream.Subscriber[arrow.Record].
func (e *StreamEncoder) OnError(err error) {
	_ = e.pw.CloseWithError(err)
	e.fail(err)
}

func (e *StreamEncoder) fail(err error) {
	e.mu.Lock()
	if e.terminal() {
		e.mu.Unlock()
		return
	}
	e.hadError = true
	e.releasePendingLocked()
	e.mu.Unlock()
	if e.subscriber != nil {
		e.subscriber.OnError(err)
	}
}

func (e *StreamEncoder) releasePendingLocked() {
	for _, buf := range e.pending {
		buf.Release()
	}
	e.pending = nil
}

func (e *StreamEncoder) emitCompleteLocked() {
	if e.completedEmitted {
		return
	}
	e.completedEmitted = true
	go e.subscriber.OnComplete()
}

// Subscribe implements stream.Publisher[*buffer.Buffer].
func (e *StreamEncoder) Subscribe(sub stream.Subscriber[*buffer.Buffer]) {
	e.subscriber = sub
	sub.OnSubscribe(&streamEncoderSub{e: e})
	go e.pump()
}

func (e *StreamEncoder) pump() {
	const segSize = 256 * 1024
	alloc := buffer.NewAllocator()
	for {
		buf := alloc.Alloc(segSize)
		n, err := e.pr.Read(buf.Bytes())
		if n > 0 {
			out := buf.Slice(0, n)
			buf.Release()
			e.enqueue(out)
		} else {
			buf.Release()
		}
		if err != nil {
			e.mu.Lock()
			if e.terminal() {
				e.mu.Unlock()
				return
			}
			if err != io.EOF {
				e.hadError = true
				e.mu.Unlock()
				e.subscriber.OnError(sterr.New(sterr.DataCorruption, e.op, "", err))
				return
			}
			if len(e.pending) == 0 {
				e.completedEmitted = true
				e.mu.Unlock()
				e.subscriber.OnComplete()
				return
			}
			e.gotComplete = true
			e.mu.Unlock()
			return
		}
	}
}

func (e *StreamEncoder) enqueue(buf *buffer.Buffer) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.terminal() {
		buf.Release()
		return
	}
	if len(e.pending) == 0 && e.nDelivered < e.nRequested {
		e.nDelivered++
		sub := e.subscriber
		e.mu.Unlock()
		sub.OnNext(buf)
		e.mu.Lock()
		return
	}
	e.pending = append(e.pending, buf)
}

func (e *StreamEncoder) drainPendingLocked() {
	for len(e.pending) > 0 && e.nDelivered < e.nRequested {
		buf := e.pending[0]
		e.pending = e.pending[1:]
		e.nDelivered++
		sub := e.subscriber
		e.mu.Unlock()
		sub.OnNext(buf)
		e.mu.Lock()
	}
	if e.gotComplete && len(e.pending) == 0 {
		e.emitCompleteLocked()
	}
}

type streamEncoderSub struct{ e *StreamEncoder }

func (s *streamEncoderSub) Request(n int64) {
	e := s.e
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.terminal() {
		return
	}
	e.nRequested += n
	e.drainPendingLocked()
}

func (s *streamEncoderSub) Cancel() {
	e := s.e
	e.mu.Lock()
	if e.terminal() {
		e.mu.Unlock()
		return
	}
	e.gotCancel = true
	e.releasePendingLocked()
	e.mu.Unlock()
	if e.upstream != nil {
		e.upstream.Cancel()
	}
	_ = e.pw.CloseWithError(io.ErrClosedPipe)
}
