package pipeline

import (
	"github.com/apache/arrow-go/v18/arrow"

	"github.com/tracdap/storage-core/stream"
)

// RangeSelector drops the first Offset rows and forwards at most Limit
// rows (Limit == 0 means no limit). It works across batch boundaries,
// zero-copy-slicing a batch at the offset/limit boundary via
// arrow.Record.NewSlice, and once the limit is reached it cancels
// upstream and signals downstream completion — it never waits for
// upstream to exhaust itself once enough rows have been seen.
type RangeSelector struct {
	relay Relay[arrow.Record, arrow.Record]

	offset    int64
	limit     int64
	seen      int64 // rows seen from upstream so far (pre-offset included)
	forwarded int64 // rows forwarded downstream so far
}

var _ stream.Subscriber[arrow.Record] = (*RangeSelector)(nil)
var _ stream.Publisher[arrow.Record] = (*RangeSelector)(nil)

// NewRangeSelector builds a selector that drops the first offset rows
// and forwards at most limit rows (0 = unlimited).
func NewRangeSelector(offset, limit int64) *RangeSelector {
	s := &RangeSelector{offset: offset, limit: limit}
	s.relay.Process = s.process
	s.relay.ReleaseItem = func(rec arrow.Record) { rec.Release() }
	return s
}

// OnSubscribe, OnNext, OnComplete, OnError, Subscribe delegate to the
// embedded Relay, which owns demand accounting and the terminal-once
// guarantee; RangeSelector supplies only the row-windowing logic.
func (s *RangeSelector) OnSubscribe(sub stream.Subscription) { s.relay.OnSubscribe(sub) }
func (s *RangeSelector) OnNext(rec arrow.Record) { s.relay.OnNext(rec) }
func (s *RangeSelector) OnComplete() { s.relay.OnComplete() }
func (s *RangeSelector) OnError(err error) { s.relay.OnError(err) }
func (s *RangeSelector) Subscribe(sub stream.Subscriber[arrow.Record]) {
	s.relay.Subscribe(sub)
}

func (s *RangeSelector) process(rec arrow.Record, emit func(arrow.Record)) error {
	defer rec.Release()

	rows := rec.NumRows()
	start := int64(0)

	// Skip rows until past the offset.
	remaining := s.offset - s.seen
	if remaining > 0 {
		skip := remaining
		if skip > rows {
			skip = rows
		}
		start = skip
		s.seen += skip
	} else {
		s.seen += rows
	}

	if start >= rows {
		return nil
	}

	end := rows
	if s.limit != 0 {
		want := s.limit - s.forwarded
		if want <= 0 {
			s.cancelUpstreamAndComplete()
			return nil
		}
		if end-start > want {
			end = start + want
		}
	}

	if end > start {
		slice := rec.NewSlice(start, end)
		s.forwarded += end - start
		emit(slice)
	}

	if s.limit != 0 && s.forwarded >= s.limit {
		s.cancelUpstreamAndComplete()
	}
	return nil
}

// cancelUpstreamAndComplete implements the limit-reached edge case:
// upstream receives exactly one cancel, downstream sees
// OnComplete, and no further OnNext is processed even if more batches
// are already in flight from upstream.
func (s *RangeSelector) cancelUpstreamAndComplete() {
	s.relay.CancelUpstreamAndComplete()
}
