// Package stream defines the demand-driven Publisher/Subscriber protocol
// used throughout the storage core: a capability interface rather than a
// class hierarchy, so a chunked reader or a pipeline stage can compose a
// backend client without inheriting from it.
package stream

// Subscriber receives buffers from a single Publisher. Events on one
// stream are strictly ordered: OnSubscribe precedes any OnNext, and
// exactly one of OnComplete/OnError follows the last OnNext.
type Subscriber[T any] interface {
	// OnSubscribe is called at most once, before any OnNext, with a
	// Subscription the subscriber uses to signal demand or cancel.
	OnSubscribe(sub Subscription)

	// OnNext delivers one item. Never called before OnSubscribe, never
	// called after OnComplete/OnError, and never called more times than
	// the subscriber has requested.
	OnNext(item T)

	// OnComplete signals successful stream exhaustion. Called at most
	// once, and never together with OnError on the same stream.
	OnComplete()

	// OnError signals a terminal failure, classified per the sterr
	// taxonomy. Called at most once, and never together with OnComplete.
	OnError(err error)
}

// Subscription is the demand-signalling handle a Publisher gives a
// Subscriber via OnSubscribe.
type Subscription interface {
	// Request signals the subscriber is ready to accept up to n further
	// OnNext calls, in addition to any outstanding demand. A no-op once
	// the stream has reached a terminal state.
	Request(n int64)

	// Cancel is a one-shot, cooperative unsubscribe: it stops the
	// publisher as soon as practical and releases any buffers it is
	// still holding, without ever calling OnComplete/OnError afterwards.
	Cancel()
}

// Publisher is a subscribe-once capability that delivers owned items to a
// Subscriber under the demand contract above.
type Publisher[T any] interface {
	// Subscribe attaches sub. A Publisher accepts only one live
	// subscriber; a second Subscribe call delivers a duplicate-subscription
	// error to the offending subscriber only.
	Subscribe(sub Subscriber[T])
}
