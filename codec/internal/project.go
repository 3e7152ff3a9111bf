package internal

import (
	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
)

// ProjectRecord reshapes rec onto target: columns rec and target share by
// name are reused zero-copy (retained, not recopied); columns target
// requires but rec lacks are null-filled for rec's row count; columns
// rec has but target does not are dropped. This is the decoder-side
// projection contract codec.Codec.NewDecoder promises,
// needed by codecs (Arrow IPC stream/file) whose underlying reader always
// decodes to the chunk's embedded schema rather than a caller-supplied
// one. The returned record holds its own reference; rec's ref count is
// unaffected.
func ProjectRecord(rec arrow.Record, target *arrow.Schema, alloc memory.Allocator) (arrow.Record, error) {
	// A nil or zero-field target means "accept the chunk's own schema":
	// callers that have no column requirements (self-describing formats
	// read for inspection) get the embedded schema back untouched.
	if target == nil || target.NumFields() == 0 || rec.Schema().Equal(target) {
		rec.Retain()
		return rec, nil
	}

	nrows := rec.NumRows()
	cols := make([]arrow.Array, target.NumFields())
	for i, f := range target.Fields() {
		idxs := rec.Schema().FieldIndices(f.Name)
		if len(idxs) > 0 {
			col := rec.Column(idxs[0])
			col.Retain()
			cols[i] = col
			continue
		}
		b := array.NewBuilder(alloc, f.Type)
		for r := int64(0); r < nrows; r++ {
			b.AppendNull()
		}
		cols[i] = b.NewArray()
	}

	out := array.NewRecord(target, cols, nrows)
	for _, c := range cols {
		c.Release()
	}
	return out, nil
}
