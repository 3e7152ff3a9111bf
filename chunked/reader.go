// Package chunked implements the chunked-read engine: a Publisher of
// owned buffers driven by a backend BackendClient. This is the hardest
// component in the core — it bridges a callback-based backend to a
// demand-driven stream of owned buffers, with precise request-count
// accounting and guaranteed buffer release on every exit path (cancel,
// error, or complete).
package chunked

import (
	"fmt"

	"github.com/tracdap/storage-core/buffer"
	"github.com/tracdap/storage-core/execctx"
	"github.com/tracdap/storage-core/sterr"
	"github.com/tracdap/storage-core/storelog"
	"github.com/tracdap/storage-core/stream"
)

// DefaultChunkSize is the target size of each chunk delivered downstream.
const DefaultChunkSize = 2 * 1024 * 1024

// DefaultChunkBufferTarget is the number of outstanding full chunks the
// reader tries to keep buffered ahead of downstream demand.
const DefaultChunkBufferTarget = 2

// DefaultClientBufferTarget is the number of provider-side reads the
// reader keeps outstanding against the backend.
const DefaultClientBufferTarget = 32

// Config tunes a Reader's buffering behaviour.
type Config struct {
	ChunkSize          int
	ChunkBufferTarget  int
	ClientBufferTarget int
}

// DefaultConfig returns the default buffering tuning.
func DefaultConfig() Config {
	return Config{
		ChunkSize:          DefaultChunkSize,
		ChunkBufferTarget:  DefaultChunkBufferTarget,
		ClientBufferTarget: DefaultClientBufferTarget,
	}
}

func (c Config) withDefaults() Config {
	if c.ChunkSize <= 0 {
		c.ChunkSize = DefaultChunkSize
	}
	if c.ChunkBufferTarget <= 0 {
		c.ChunkBufferTarget = DefaultChunkBufferTarget
	}
	if c.ClientBufferTarget <= 0 {
		c.ClientBufferTarget = DefaultClientBufferTarget
	}
	return c
}

// Reader is a Publisher<Buffer> backed by a BackendClient. All mutable
// state below is only ever touched from tasks run on loop; public
// methods (Subscribe, and the Subscription handed to the subscriber)
// only ever post tasks onto loop, so Reader is safe to call from any
// goroutine.
type Reader struct {
	loop   *execctx.Loop
	alloc  *buffer.Allocator
	client BackendClient
	cfg    Config
	path   string
	logger *storelog.Logger

	subscriber stream.Subscriber[*buffer.Buffer]

	pending    []*buffer.Buffer
	current    *buffer.Buffer
	currentLen int

	nRequested int64
	nDelivered int64

	clientRequested int
	bytesReceived   int64

	gotCancel        bool
	hadError         bool
	gotComplete      bool // backend signalled completion; may still have pending to drain
	completedEmitted bool
}

var _ stream.Publisher[*buffer.Buffer] = (*Reader)(nil)
var _ ChunkSink = (*Reader)(nil)

// NewReader creates a Reader over client, dispatching all callbacks on
// loop and allocating chunks from alloc. path is used only to annotate
// classified errors.
func NewReader(loop *execctx.Loop, alloc *buffer.Allocator, client BackendClient, path string, cfg Config) *Reader {
	return &Reader{
		loop:   loop,
		alloc:  alloc,
		client: client,
		cfg:    cfg.withDefaults(),
		path:   path,
	}
}

// SetLogger attaches l so the first error this Reader surfaces is
// logged once, at the point OnError is emitted. A nil Reader logger
// (the default) disables logging entirely.
func (r *Reader) SetLogger(l *storelog.Logger) { r.logger = l }

// Subscribe implements stream.Publisher. If a subscriber is already
// attached, sub receives a duplicate-subscription error and the existing
// subscriber is unaffected. Otherwise, backend Start is scheduled as a
// follow-up loop task (so an immediate backend failure surfaces via
// OnError rather than a hard exception) and OnSubscribe is invoked
// synchronously within this task.
func (r *Reader) Subscribe(sub stream.Subscriber[*buffer.Buffer]) {
	r.loop.Schedule(func() { r.subscribeOnLoop(sub) })
}

func (r *Reader) subscribeOnLoop(sub stream.Subscriber[*buffer.Buffer]) {
	if r.subscriber != nil {
		sub.OnSubscribe(noopSubscription{})
		sub.OnError(sterr.New(sterr.DuplicateSubscription, "subscribe", r.path, nil))
		return
	}

	r.subscriber = sub
	r.loop.Schedule(func() {
		r.client.Start(r)
		// Prime the backend with twice the steady-state read-ahead so the
		// first downstream Request finds data already in flight.
		initial := 2 * r.cfg.ClientBufferTarget
		r.client.Request(initial)
		r.clientRequested += initial
	})
	sub.OnSubscribe(&subscription{r: r})
}

// OnChunk implements ChunkSink. May be called from any goroutine; hops
// onto the owning loop before mutating state.
func (r *Reader) OnChunk(data []byte) {
	r.loop.Schedule(func() { r.onChunk(data) })
}

// OnComplete implements ChunkSink.
func (r *Reader) OnComplete() {
	r.loop.Schedule(func() { r.onBackendComplete() })
}

// OnError implements ChunkSink.
func (r *Reader) OnError(err error) {
	r.loop.Schedule(func() { r.onBackendError(err) })
}

func (r *Reader) terminal() bool {
	return r.gotCancel || r.hadError || r.completedEmitted
}

func (r *Reader) onChunk(data []byte) {
	if r.terminal() {
		return
	}

	for len(data) > 0 {
		if r.current == nil {
			r.current = r.alloc.Alloc(r.cfg.ChunkSize)
			r.currentLen = 0
		}

		space := r.cfg.ChunkSize - r.currentLen
		n := len(data)
		if n > space {
			n = space
		}
		copy(r.current.Bytes()[r.currentLen:], data[:n])
		r.currentLen += n
		data = data[n:]
		r.bytesReceived += int64(n)

		if r.currentLen == r.cfg.ChunkSize {
			full := r.current
			r.current = nil
			r.currentLen = 0
			r.enqueue(full)
		}
	}
}

// enqueue hands buf to the subscriber immediately if there is outstanding
// demand and no chunk is already waiting; otherwise it joins the pending
// queue for a later Request to drain.
func (r *Reader) enqueue(buf *buffer.Buffer) {
	if len(r.pending) == 0 && r.nDelivered < r.nRequested {
		r.subscriber.OnNext(buf)
		r.nDelivered++
		return
	}
	r.pending = append(r.pending, buf)
}

func (r *Reader) onBackendComplete() {
	if r.terminal() {
		return
	}
	if r.current != nil && r.currentLen > 0 {
		partial := r.current.Slice(0, r.currentLen)
		r.current.Release()
		r.current = nil
		r.currentLen = 0
		r.enqueue(partial)
	} else if r.current != nil {
		r.current.Release()
		r.current = nil
	}

	if len(r.pending) == 0 {
		r.emitComplete()
		return
	}
	r.gotComplete = true
}

// emitComplete signals OnComplete at most once, guarding against
// reentrant scheduling from a Request that arrives after completion.
func (r *Reader) emitComplete() {
	if r.completedEmitted {
		return
	}
	r.completedEmitted = true
	r.subscriber.OnComplete()
}

func (r *Reader) onBackendError(cause error) {
	if r.terminal() {
		// First error wins; subsequent ones are logged upstream of this
		// package (the backend client owns its own logging) and swallowed
		// here.
		return
	}
	r.hadError = true
	r.releaseAll()
	classified := sterr.New(sterr.Classify(cause), "read", r.path, cause)
	if r.logger != nil {
		r.logger.Error("chunked read failed", classified, map[string]any{"path": r.path})
	}
	r.subscriber.OnError(classified)
}

func (r *Reader) onRequest(n int64) {
	if r.terminal() {
		return
	}
	r.nRequested += n
	r.drainPending()

	if len(r.pending) < r.cfg.ChunkBufferTarget {
		r.client.Request(r.cfg.ClientBufferTarget)
		r.clientRequested += r.cfg.ClientBufferTarget
	}
}

func (r *Reader) drainPending() {
	for len(r.pending) > 0 && r.nDelivered < r.nRequested {
		buf := r.pending[0]
		r.pending = r.pending[1:]
		r.subscriber.OnNext(buf)
		r.nDelivered++
	}
	if r.gotComplete && len(r.pending) == 0 {
		r.emitComplete()
	}
}

func (r *Reader) onCancel() {
	if r.terminal() {
		return
	}
	r.gotCancel = true
	r.client.Cancel()
	r.releaseAll()
}

func (r *Reader) releaseAll() {
	for _, b := range r.pending {
		b.Release()
	}
	r.pending = nil
	if r.current != nil {
		r.current.Release()
		r.current = nil
		r.currentLen = 0
	}
}

// subscription is the demand handle a Reader hands its live subscriber.
type subscription struct {
	r *Reader
}

var _ stream.Subscription = (*subscription)(nil)

func (s *subscription) Request(n int64) {
	s.r.loop.Schedule(func() { s.r.onRequest(n) })
}

func (s *subscription) Cancel() {
	s.r.loop.Schedule(func() { s.r.onCancel() })
}

// noopSubscription is handed to a rejected duplicate subscriber: it
// never reaches Reader state, so Request/Cancel on it can never disturb
// the live subscription.
type noopSubscription struct{}

var _ stream.Subscription = noopSubscription{}

func (noopSubscription) Request(int64) {}
func (noopSubscription) Cancel() {}

// String aids debugging/log messages; not used for control flow.
func (r *Reader) String() string {
	return fmt.Sprintf("chunked.Reader{path=%s, delivered=%d/%d}", r.path, r.nDelivered, r.nRequested)
}
