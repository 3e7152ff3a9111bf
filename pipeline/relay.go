// Package pipeline implements the directed stage graph (source → codec
// → optional range selector → sink) that turns a byte stream into
// record batches and back, with demand propagation and guaranteed
// resource release on every terminal path.
package pipeline

import (
	"github.com/tracdap/storage-core/sterr"
	"github.com/tracdap/storage-core/stream"
)

// Relay is the transform-stage engine behind RangeSelector: it is to
// record batches what chunked.Reader is to raw backend segments — a
// demand-counted pending queue with a terminal-once guarantee,
// generalised over the item types on either side of the transform. The
// codec decoders and encoders do not use it; each keeps its own pending
// queue and demand counters.
//
// A Relay is both the Subscriber its upstream Publisher drives and the
// Publisher its own downstream Subscriber attaches to; wiring one stage
// to the next is exactly upstream.Subscribe(relay) followed by
// relay.Subscribe(next), the same capability composition chunked.Reader
// already uses.
type Relay[In, Out any] struct {
	// Process is called once per upstream item. It may call emit zero or
	// more times. Returning an error terminates the stream with that
	// error (classified by the caller as DATA_CORRUPTION or otherwise).
	Process func(item In, emit func(Out)) error

	// Flush is called once when upstream completes, before OnComplete is
	// forwarded downstream, to let the stage drain any buffered partial
	// output (e.g. a final not-yet-full record batch).
	Flush func(emit func(Out)) error

	// CloseFn releases stage-owned resources (e.g. a codec's decoder
	// state) exactly once, on every terminal outcome.
	CloseFn func()

	// ReleaseItem, if set, releases one Out item that was enqueued but
	// never delivered downstream (e.g. an arrow.Record.Release()).
	// Invoked over whatever is left in pending when a cancel or error
	// discards it, so buffer/record ownership is never silently leaked.
	ReleaseItem func(Out)

	upstream   stream.Subscription
	downstream stream.Subscriber[Out]

	pending    []Out
	nRequested int64
	nDelivered int64

	gotCancel        bool
	hadError         bool
	gotComplete      bool
	completedEmitted bool
}

// OnSubscribe implements stream.Subscriber: the upstream Publisher hands
// Relay its subscription.
func (r *Relay[In, Out]) OnSubscribe(sub stream.Subscription) {
	r.upstream = sub
}

// OnNext implements stream.Subscriber: one upstream item arrives.
func (r *Relay[In, Out]) OnNext(item In) {
	if r.terminal() {
		return
	}
	if err := r.Process(item, r.enqueue); err != nil {
		r.fail(err)
	}
}

// OnComplete implements stream.Subscriber: upstream is exhausted.
func (r *Relay[In, Out]) OnComplete() {
	if r.terminal() {
		return
	}
	if r.Flush != nil {
		if err := r.Flush(r.enqueue); err != nil {
			r.fail(err)
			return
		}
	}
	if len(r.pending) == 0 {
		r.emitComplete()
		return
	}
	r.gotComplete = true
}

// OnError implements stream.Subscriber: upstream failed.
func (r *Relay[In, Out]) OnError(err error) {
	r.fail(err)
}

// Subscribe implements stream.Publisher: attach this relay's downstream
// consumer. Relay accepts only one subscriber: a second Subscribe hands
// the offending subscriber an inert subscription followed by a
// duplicate-subscription error, and the attached subscriber is
// unaffected.
func (r *Relay[In, Out]) Subscribe(sub stream.Subscriber[Out]) {
	if r.downstream != nil {
		sub.OnSubscribe(&relaySubscription[In, Out]{r: &Relay[In, Out]{gotCancel: true}})
		sub.OnError(sterr.New(sterr.DuplicateSubscription, "subscribe", "", nil))
		return
	}
	r.downstream = sub
	sub.OnSubscribe(&relaySubscription[In, Out]{r: r})
}

func (r *Relay[In, Out]) terminal() bool {
	return r.gotCancel || r.hadError || r.completedEmitted
}

func (r *Relay[In, Out]) enqueue(item Out) {
	if len(r.pending) == 0 && r.nDelivered < r.nRequested {
		r.downstream.OnNext(item)
		r.nDelivered++
		return
	}
	r.pending = append(r.pending, item)
}

func (r *Relay[In, Out]) drainPending() {
	for len(r.pending) > 0 && r.nDelivered < r.nRequested {
		item := r.pending[0]
		r.pending = r.pending[1:]
		r.downstream.OnNext(item)
		r.nDelivered++
	}
	if r.gotComplete && len(r.pending) == 0 {
		r.emitComplete()
	}
}

func (r *Relay[In, Out]) emitComplete() {
	if r.completedEmitted {
		return
	}
	r.completedEmitted = true
	r.close()
	r.downstream.OnComplete()
}

func (r *Relay[In, Out]) fail(err error) {
	if r.terminal() {
		return
	}
	r.hadError = true
	r.close()
	r.downstream.OnError(err)
}

// CancelUpstreamAndComplete cancels the upstream subscription but
// signals downstream completion rather than a cancellation: for a stage
// that stops consuming upstream early by its own choice (RangeSelector
// reaching its limit), as opposed to a downstream-initiated Cancel.
// Items already enqueued are still delivered as downstream demand
// allows; completion follows the last of them.
func (r *Relay[In, Out]) CancelUpstreamAndComplete() {
	if r.terminal() {
		return
	}
	if r.upstream != nil {
		r.upstream.Cancel()
	}
	if len(r.pending) == 0 {
		r.emitComplete()
		return
	}
	r.gotComplete = true
}

func (r *Relay[In, Out]) cancel() {
	if r.terminal() {
		return
	}
	r.gotCancel = true
	r.close()
	if r.upstream != nil {
		r.upstream.Cancel()
	}
}

func (r *Relay[In, Out]) close() {
	if r.ReleaseItem != nil {
		for _, item := range r.pending {
			r.ReleaseItem(item)
		}
	}
	r.pending = nil
	if r.CloseFn != nil {
		r.CloseFn()
		r.CloseFn = nil
	}
}

type relaySubscription[In, Out any] struct {
	r *Relay[In, Out]
}

func (s *relaySubscription[In, Out]) Request(n int64) {
	r := s.r
	if r.terminal() {
		return
	}
	r.nRequested += n
	r.drainPending()
	if r.upstream != nil {
		r.upstream.Request(n)
	}
}

func (s *relaySubscription[In, Out]) Cancel() {
	s.r.cancel()
}
