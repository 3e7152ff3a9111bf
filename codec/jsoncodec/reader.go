package jsoncodec

import (
	"encoding/json"
	"io"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/tracdap/storage-core/sterr"
)

// batchRows bounds how many decoded rows are assembled into one record
// before it is handed downstream.
const batchRows = 1024

// jsonReader decodes newline-delimited JSON objects into records
// conforming to a required schema: object keys the schema lacks are
// ignored, schema columns the object omits are null-filled. Numbers are
// decoded as json.Number so integer columns survive values outside
// float64's exact range.
type jsonReader struct {
	dec    *json.Decoder
	schema *arrow.Schema
	alloc  memory.Allocator

	rec arrow.Record
	err error
	eof bool
}

func newJSONReader(r io.Reader, schema *arrow.Schema, alloc memory.Allocator) *jsonReader {
	dec := json.NewDecoder(r)
	dec.UseNumber()
	return &jsonReader{dec: dec, schema: schema, alloc: alloc}
}

// Next decodes the next batch of rows. Returns false at end of stream or
// on error; Err distinguishes the two.
func (r *jsonReader) Next() bool {
	if r.rec != nil {
		r.rec.Release()
		r.rec = nil
	}
	if r.err != nil || r.eof {
		return false
	}

	b := array.NewRecordBuilder(r.alloc, r.schema)
	defer b.Release()

	rows := 0
	for rows < batchRows {
		var obj map[string]any
		if err := r.dec.Decode(&obj); err != nil {
			if err == io.EOF {
				r.eof = true
				break
			}
			r.err = sterr.New(sterr.DataCorruption, "decode.json", "", err)
			return false
		}
		if err := appendObject(b, r.schema, obj); err != nil {
			r.err = err
			return false
		}
		rows++
	}

	if rows == 0 {
		return false
	}
	r.rec = b.NewRecord()
	return true
}

func (r *jsonReader) Record() arrow.Record { return r.rec }

func (r *jsonReader) Err() error { return r.err }

func appendObject(b *array.RecordBuilder, schema *arrow.Schema, obj map[string]any) error {
	for i, f := range schema.Fields() {
		v, ok := obj[f.Name]
		if !ok || v == nil {
			b.Field(i).AppendNull()
			continue
		}
		if err := appendValue(b.Field(i), f, v); err != nil {
			return err
		}
	}
	return nil
}

func appendValue(fb array.Builder, f arrow.Field, v any) error {
	switch builder := fb.(type) {
	case *array.BooleanBuilder:
		val, ok := v.(bool)
		if !ok {
			return corrupt(f)
		}
		builder.Append(val)
	case *array.Int32Builder:
		n, err := asJSONInt(v)
		if err != nil {
			return corrupt(f)
		}
		builder.Append(int32(n))
	case *array.Int64Builder:
		n, err := asJSONInt(v)
		if err != nil {
			return corrupt(f)
		}
		builder.Append(n)
	case *array.Float32Builder:
		n, err := asJSONFloat(v)
		if err != nil {
			return corrupt(f)
		}
		builder.Append(float32(n))
	case *array.Float64Builder:
		n, err := asJSONFloat(v)
		if err != nil {
			return corrupt(f)
		}
		builder.Append(n)
	case *array.StringBuilder:
		s, ok := v.(string)
		if !ok {
			return corrupt(f)
		}
		builder.Append(s)
	case *array.BinaryBuilder:
		s, ok := v.(string)
		if !ok {
			return corrupt(f)
		}
		builder.Append([]byte(s))
	default:
		return sterr.New(sterr.ParamsInvalid, "decode.json", f.Name, nil)
	}
	return nil
}

func corrupt(f arrow.Field) error {
	return sterr.New(sterr.DataCorruption, "decode.json", f.Name, nil)
}

func asJSONInt(v any) (int64, error) {
	n, ok := v.(json.Number)
	if !ok {
		return 0, errNotANumber
	}
	return n.Int64()
}

func asJSONFloat(v any) (float64, error) {
	n, ok := v.(json.Number)
	if !ok {
		return 0, errNotANumber
	}
	return n.Float64()
}

var errNotANumber = jsonError("value is not a number")

type jsonError string

func (e jsonError) Error() string { return string(e) }
