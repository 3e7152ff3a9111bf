package pipeline

import (
	"github.com/apache/arrow-go/v18/arrow"
	"github.com/google/uuid"

	"github.com/tracdap/storage-core/buffer"
	"github.com/tracdap/storage-core/futures"
	"github.com/tracdap/storage-core/storelog"
	"github.com/tracdap/storage-core/stream"
)

// Decoder is the upstream half of a read pipeline: it turns raw byte
// buffers into record batches. codec.Decoder satisfies this directly.
type Decoder interface {
	stream.Subscriber[*buffer.Buffer]
	stream.Publisher[arrow.Record]
}

// Encoder is the downstream half of a write pipeline: it turns record
// batches into raw byte buffers. codec.Encoder satisfies this directly.
type Encoder interface {
	stream.Subscriber[arrow.Record]
	stream.Publisher[*buffer.Buffer]
}

// ReadPipeline wires a byte-level source through a codec decoder,
// optionally a RangeSelector, into a caller-supplied batch sink:
// source, decoder, optional selector, sink.
type ReadPipeline struct {
	// RunID identifies this run on the error log line its terminal sink
	// writes (the "run_id" field).
	RunID uuid.UUID
	// Logger, if set via WithLogger, receives the first classified error
	// this pipeline's terminal sink surfaces, tagged with RunID.
	Logger *storelog.Logger

	source   stream.Publisher[*buffer.Buffer]
	decoder  Decoder
	selector *RangeSelector
	sink     stream.Subscriber[arrow.Record]
}

// NewReadPipeline assembles a ReadPipeline. selector may be nil to
// disable row windowing.
func NewReadPipeline(source stream.Publisher[*buffer.Buffer], decoder Decoder, selector *RangeSelector, sink stream.Subscriber[arrow.Record]) *ReadPipeline {
	return &ReadPipeline{RunID: uuid.New(), source: source, decoder: decoder, selector: selector, sink: sink}
}

// WithLogger attaches l and returns p, for chaining onto NewReadPipeline.
func (p *ReadPipeline) WithLogger(l *storelog.Logger) *ReadPipeline {
	p.Logger = l
	return p
}

// Execute schedules the source on the pipeline and returns a future that
// completes when the sink's stream finishes, or fails with the first
// error raised by any stage.
func (p *ReadPipeline) Execute() *futures.Future[struct{}] {
	done := futures.New[struct{}]()
	term := &terminalSink[arrow.Record]{inner: p.sink, done: done, logger: p.Logger, runID: p.RunID}

	if p.selector != nil {
		p.selector.Subscribe(term)
		p.decoder.Subscribe(p.selector)
	} else {
		p.decoder.Subscribe(term)
	}
	p.source.Subscribe(p.decoder)

	return done
}

// WritePipeline wires a caller-supplied batch source through a codec
// encoder into a byte-level sink.
type WritePipeline struct {
	// RunID identifies this run on the error log line its terminal sink
	// writes (the "run_id" field).
	RunID uuid.UUID
	// Logger, if set via WithLogger, receives the first classified error
	// this pipeline's terminal sink surfaces, tagged with RunID.
	Logger *storelog.Logger

	source  stream.Publisher[arrow.Record]
	encoder Encoder
	sink    stream.Subscriber[*buffer.Buffer]
}

// NewWritePipeline assembles a WritePipeline.
func NewWritePipeline(source stream.Publisher[arrow.Record], encoder Encoder, sink stream.Subscriber[*buffer.Buffer]) *WritePipeline {
	return &WritePipeline{RunID: uuid.New(), source: source, encoder: encoder, sink: sink}
}

// WithLogger attaches l and returns p, for chaining onto NewWritePipeline.
func (p *WritePipeline) WithLogger(l *storelog.Logger) *WritePipeline {
	p.Logger = l
	return p
}

// Execute schedules the source on the pipeline and returns a future that
// completes when the sink's stream finishes, or fails with the first
// error raised by any stage.
func (p *WritePipeline) Execute() *futures.Future[struct{}] {
	done := futures.New[struct{}]()
	term := &terminalSink[*buffer.Buffer]{inner: p.sink, done: done, logger: p.Logger, runID: p.RunID}

	p.encoder.Subscribe(term)
	p.source.Subscribe(p.encoder)

	return done
}

// terminalSink wraps the pipeline's real sink so Execute's caller learns
// exactly once whether the pipeline finished or failed, without the sink
// itself needing a completion future of its own.
type terminalSink[T any] struct {
	inner  stream.Subscriber[T]
	done   *futures.Future[struct{}]
	logger *storelog.Logger
	runID  uuid.UUID
}

func (t *terminalSink[T]) OnSubscribe(sub stream.Subscription) { t.inner.OnSubscribe(sub) }
func (t *terminalSink[T]) OnNext(item T) { t.inner.OnNext(item) }

func (t *terminalSink[T]) OnComplete() {
	t.inner.OnComplete()
	t.done.Complete(struct{}{})
}

func (t *terminalSink[T]) OnError(err error) {
	if t.logger != nil {
		t.logger.Error("pipeline failed", err, map[string]any{"run_id": t.runID.String()})
	}
	t.inner.OnError(err)
	t.done.Fail(err)
}
