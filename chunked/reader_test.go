package chunked

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/tracdap/storage-core/buffer"
	"github.com/tracdap/storage-core/execctx"
	"github.com/tracdap/storage-core/sterr"
	"github.com/tracdap/storage-core/stream"
)

// fakeBackend is a hand-rolled BackendClient test double driven entirely
// by direct calls from the test goroutine; it never starts its own
// goroutine so tests can feed chunks at precise points in the protocol.
type fakeBackend struct {
	mu        sync.Mutex
	sink      ChunkSink
	started   bool
	cancelled bool
	requests  []int
}

func (f *fakeBackend) Start(sink ChunkSink) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sink = sink
	f.started = true
}

func (f *fakeBackend) Request(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, n)
}

func (f *fakeBackend) Cancel() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled = true
}

func (f *fakeBackend) push(data []byte) {
	f.mu.Lock()
	sink := f.sink
	f.mu.Unlock()
	sink.OnChunk(data)
}

func (f *fakeBackend) complete() {
	f.mu.Lock()
	sink := f.sink
	f.mu.Unlock()
	sink.OnComplete()
}

func (f *fakeBackend) fail(err error) {
	f.mu.Lock()
	sink := f.sink
	f.mu.Unlock()
	sink.OnError(err)
}

// recordingSubscriber collects every event delivered to it; safe for
// concurrent use since events may arrive from the reader's loop
// goroutine while the test goroutine inspects state.
type recordingSubscriber struct {
	mu         sync.Mutex
	sub        stream.Subscription
	onNext     [][]byte
	completed  int
	errs       []error
	subscribed int
}

func (s *recordingSubscriber) OnSubscribe(sub stream.Subscription) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sub = sub
	s.subscribed++
}

func (s *recordingSubscriber) OnNext(item *buffer.Buffer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := append([]byte(nil), item.Bytes()...)
	s.onNext = append(s.onNext, cp)
	item.Release()
}

func (s *recordingSubscriber) OnComplete() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.completed++
}

func (s *recordingSubscriber) OnError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errs = append(s.errs, err)
}

func (s *recordingSubscriber) snapshot() (nNext, nComplete, nErr int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.onNext), s.completed, len(s.errs)
}

func (s *recordingSubscriber) request(n int64) {
	s.mu.Lock()
	sub := s.sub
	s.mu.Unlock()
	sub.Request(n)
}

func (s *recordingSubscriber) cancel() {
	s.mu.Lock()
	sub := s.sub
	s.mu.Unlock()
	sub.Cancel()
}

func waitUntil(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func newTestReader(t *testing.T, client BackendClient, cfg Config) (*Reader, *execctx.Loop, *buffer.Allocator) {
	t.Helper()
	loop := execctx.NewLoop()
	alloc := buffer.NewAllocator()
	r := NewReader(loop, alloc, client, "test/object.bin", cfg)
	t.Cleanup(loop.Close)
	return r, loop, alloc
}

func TestReader_DeliversChunksUpToChunkSize(t *testing.T) {
	backend := &fakeBackend{}
	r, _, alloc := newTestReader(t, backend, Config{ChunkSize: 4, ChunkBufferTarget: 2, ClientBufferTarget: 8})

	sub := &recordingSubscriber{}
	r.Subscribe(sub)
	waitUntil(t, func() bool { return backend.started })

	sub.request(10)
	backend.push([]byte("abcdefgh"))
	backend.complete()

	waitUntil(t, func() bool {
		_, nComplete, _ := sub.snapshot()
		return nComplete == 1
	})

	sub.mu.Lock()
	got := sub.onNext
	sub.mu.Unlock()

	if len(got) != 2 {
		t.Fatalf("got %d chunks, want 2: %v", len(got), got)
	}
	if string(got[0]) != "abcd" || string(got[1]) != "efgh" {
		t.Fatalf("unexpected chunk contents: %q %q", got[0], got[1])
	}
	if alloc.Outstanding() != 0 {
		t.Fatalf("outstanding = %d, want 0 after release", alloc.Outstanding())
	}
}

func TestReader_DuplicateSubscriptionRejected(t *testing.T) {
	backend := &fakeBackend{}
	r, _, _ := newTestReader(t, backend, DefaultConfig())

	first := &recordingSubscriber{}
	r.Subscribe(first)
	waitUntil(t, func() bool { return backend.started })

	second := &recordingSubscriber{}
	r.Subscribe(second)

	waitUntil(t, func() bool {
		_, _, nErr := second.snapshot()
		return nErr == 1
	})

	second.mu.Lock()
	err := second.errs[0]
	second.mu.Unlock()

	if !sterr.Is(err, sterr.DuplicateSubscription) {
		t.Fatalf("second subscriber err = %v, want DuplicateSubscription", err)
	}

	// The original subscriber is unaffected: it can still receive data.
	first.request(1)
	backend.push([]byte("x"))
	backend.complete()
	waitUntil(t, func() bool {
		_, nComplete, _ := first.snapshot()
		return nComplete == 1
	})
}

func TestReader_CancelStopsDeliveryAndReleasesBuffers(t *testing.T) {
	backend := &fakeBackend{}
	r, _, alloc := newTestReader(t, backend, Config{ChunkSize: 1, ChunkBufferTarget: 10, ClientBufferTarget: 10})

	sub := &recordingSubscriber{}
	r.Subscribe(sub)
	waitUntil(t, func() bool { return backend.started })

	sub.request(2)
	backend.push([]byte("ab"))

	waitUntil(t, func() bool {
		n, _, _ := sub.snapshot()
		return n == 2
	})

	sub.cancel()
	waitUntil(t, func() bool {
		backend.mu.Lock()
		defer backend.mu.Unlock()
		return backend.cancelled
	})

	// Further chunks after cancel must never reach the subscriber.
	backend.push([]byte("cd"))
	time.Sleep(20 * time.Millisecond)

	n, nComplete, nErr := sub.snapshot()
	if n != 2 {
		t.Fatalf("onNext count = %d, want exactly 2 (delivered before cancel)", n)
	}
	if nComplete != 0 || nErr != 0 {
		t.Fatalf("cancel must not emit a terminal event: complete=%d err=%d", nComplete, nErr)
	}
	waitUntil(t, func() bool { return alloc.Outstanding() == 0 })
}

func TestReader_DeliveredNeverExceedsRequested(t *testing.T) {
	backend := &fakeBackend{}
	r, _, _ := newTestReader(t, backend, Config{ChunkSize: 1, ChunkBufferTarget: 100, ClientBufferTarget: 100})

	sub := &recordingSubscriber{}
	r.Subscribe(sub)
	waitUntil(t, func() bool { return backend.started })

	sub.request(3)
	backend.push([]byte("abcdefgh"))
	time.Sleep(20 * time.Millisecond)

	n, _, _ := sub.snapshot()
	if n > 3 {
		t.Fatalf("delivered %d chunks on demand of 3", n)
	}

	sub.request(5)
	backend.complete()
	waitUntil(t, func() bool {
		_, nComplete, _ := sub.snapshot()
		return nComplete == 1
	})
	n, _, _ = sub.snapshot()
	if n != 8 {
		t.Fatalf("delivered %d chunks, want all 8 once demand caught up", n)
	}
}

func TestReader_ErrorIsClassifiedAndTerminalOnce(t *testing.T) {
	backend := &fakeBackend{}
	r, _, alloc := newTestReader(t, backend, DefaultConfig())

	sub := &recordingSubscriber{}
	r.Subscribe(sub)
	waitUntil(t, func() bool { return backend.started })

	sub.request(10)
	backend.fail(errors.New("NoSuchKey: object not found"))
	backend.fail(errors.New("a second, ignored error"))

	waitUntil(t, func() bool {
		_, _, nErr := sub.snapshot()
		return nErr == 1
	})

	time.Sleep(20 * time.Millisecond)
	_, _, nErr := sub.snapshot()
	if nErr != 1 {
		t.Fatalf("error count = %d, want exactly 1 (first error wins)", nErr)
	}

	sub.mu.Lock()
	got := sub.errs[0]
	sub.mu.Unlock()
	if !sterr.Is(got, sterr.ObjectNotFound) {
		t.Fatalf("classified err = %v, want ObjectNotFound", got)
	}
	waitUntil(t, func() bool { return alloc.Outstanding() == 0 })
}

func TestReader_PartialFinalChunkDelivered(t *testing.T) {
	backend := &fakeBackend{}
	r, _, _ := newTestReader(t, backend, Config{ChunkSize: 4, ChunkBufferTarget: 4, ClientBufferTarget: 4})

	sub := &recordingSubscriber{}
	r.Subscribe(sub)
	waitUntil(t, func() bool { return backend.started })

	sub.request(10)
	backend.push([]byte("abcde"))
	backend.complete()

	waitUntil(t, func() bool {
		_, nComplete, _ := sub.snapshot()
		return nComplete == 1
	})

	sub.mu.Lock()
	got := sub.onNext
	sub.mu.Unlock()
	if len(got) != 2 || string(got[0]) != "abcd" || string(got[1]) != "e" {
		t.Fatalf("unexpected chunks: %v", got)
	}
}
