// Package main implements storagectl, a small inspection CLI over the
// storage core: ls/stat a StorageCopy's backing objects, cat (decode and
// dump rows), and put (encode and write rows), mirroring the command
// command structure of comparable operational CLIs.
package main

import (
	"github.com/apache/arrow-go/v18/arrow"

	"github.com/tracdap/storage-core/buffer"
	"github.com/tracdap/storage-core/stream"
)

// memoryBufferSource is a one-shot stream.Publisher[*buffer.Buffer] over
// an already-loaded byte slice, used by `storagectl put` to feed a local
// file's bytes into a decoder without opening a FileStorage reader.
type memoryBufferSource struct {
	data []byte
}

var _ stream.Publisher[*buffer.Buffer] = (*memoryBufferSource)(nil)

func (m *memoryBufferSource) Subscribe(sub stream.Subscriber[*buffer.Buffer]) {
	sub.OnSubscribe(&memoryBufferSubscription{sub: sub, buf: buffer.Wrap(m.data)})
}

type memoryBufferSubscription struct {
	sub    stream.Subscriber[*buffer.Buffer]
	buf    *buffer.Buffer
	sent   bool
	cancel bool
}

func (s *memoryBufferSubscription) Request(n int64) {
	if s.cancel || n <= 0 {
		return
	}
	if !s.sent {
		s.sent = true
		s.sub.OnNext(s.buf)
		s.sub.OnComplete()
		return
	}
}

func (s *memoryBufferSubscription) Cancel() {
	if s.cancel {
		return
	}
	s.cancel = true
	if !s.sent {
		s.buf.Release()
	}
}

// sliceRecordSource replays a pre-decoded slice of record batches as a
// stream.Publisher[arrow.Record], used to feed `storagectl put`'s source
// records (already decoded from the local input file) into
// DataStorage.PipelineWriter's target-codec encoder.
type sliceRecordSource struct {
	records []arrow.Record
}

var _ stream.Publisher[arrow.Record] = (*sliceRecordSource)(nil)

func (s *sliceRecordSource) Subscribe(sub stream.Subscriber[arrow.Record]) {
	sub.OnSubscribe(&sliceRecordSubscription{sub: sub, records: s.records})
}

type sliceRecordSubscription struct {
	sub     stream.Subscriber[arrow.Record]
	records []arrow.Record
	idx     int
	done    bool
}

func (s *sliceRecordSubscription) Request(n int64) {
	if s.done {
		return
	}
	for ; n > 0 && s.idx < len(s.records); n-- {
		s.sub.OnNext(s.records[s.idx])
		s.idx++
	}
	if s.idx >= len(s.records) && !s.done {
		s.done = true
		s.sub.OnComplete()
	}
}

func (s *sliceRecordSubscription) Cancel() {
	if s.done {
		return
	}
	s.done = true
	for ; s.idx < len(s.records); s.idx++ {
		s.records[s.idx].Release()
	}
}

// collectingSink is a stream.Subscriber[arrow.Record] that gathers
// every batch it receives and reports completion or failure on done.
type collectingSink struct {
	records []arrow.Record
	done    chan error
}

var _ stream.Subscriber[arrow.Record] = (*collectingSink)(nil)

func newCollectingSink() *collectingSink {
	return &collectingSink{done: make(chan error, 1)}
}

func (c *collectingSink) OnSubscribe(sub stream.Subscription) { sub.Request(1 << 30) }

// OnNext takes ownership of rec; callers drain c.records and release
// each record once they are done with it.
func (c *collectingSink) OnNext(rec arrow.Record) {
	c.records = append(c.records, rec)
}

func (c *collectingSink) OnComplete() { c.done <- nil }
func (c *collectingSink) OnError(err error) { c.done <- err }
