// Package codec composes decoders and encoders for the supported
// on-wire record batch formats (Arrow IPC stream, Arrow IPC file,
// Parquet, CSV, JSON) into pipeline stages: a decoder consumes byte
// buffers and emits record batches conforming to a required schema; an
// encoder consumes record batches and emits byte buffers in the
// corresponding wire format.
package codec

import (
	"strings"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/tracdap/storage-core/buffer"
	"github.com/tracdap/storage-core/sterr"
	"github.com/tracdap/storage-core/stream"
)

// Decoder is a pipeline stage that decodes byte buffers into record
// batches conforming to a required schema: missing non-required columns
// are null-filled, extra columns are dropped.
type Decoder interface {
	stream.Subscriber[*buffer.Buffer]
	stream.Publisher[arrow.Record]
}

// Encoder is a pipeline stage that encodes record batches into the
// wire format's byte buffers.
type Encoder interface {
	stream.Subscriber[arrow.Record]
	stream.Publisher[*buffer.Buffer]
}

// Options carries codec-specific tuning (e.g. the CSV "delimiter" key).
// Unrecognised keys are ignored by every codec in this package, and so
// is a recognised key whose value a codec cannot use: a CSV delimiter
// that is not exactly one byte leaves the default comma in place.
type Options map[string]string

// Codec resolves one on-wire format (an entry in CodecRegistry) to
// concrete decoder/encoder stage factories.
type Codec interface {
	// Key is the codec's case-insensitive registry key (e.g. "PARQUET").
	Key() string

	// DefaultFileExtension is the chunk file extension this codec
	// writes (e.g. "parquet"), used to build chunk-0.{ext} paths.
	DefaultFileExtension() string

	// NewDecoder builds a Decoder targeting requiredSchema.
	NewDecoder(alloc memory.Allocator, requiredSchema *arrow.Schema, opts Options) (Decoder, error)

	// NewEncoder builds an Encoder writing batches conforming to schema.
	NewEncoder(alloc memory.Allocator, schema *arrow.Schema, opts Options) (Encoder, error)
}

// Registry resolves a case-insensitive format key to a Codec.
type Registry struct {
	codecs map[string]Codec
}

// NewRegistry creates an empty registry. Use Register to populate it, or
// allcodecs.Default for the standard set of built-in codecs.
func NewRegistry() *Registry {
	return &Registry{codecs: make(map[string]Codec)}
}

// Register adds c under its own Key(), upper-cased. Re-registering the
// same key replaces the previous entry.
func (r *Registry) Register(c Codec) {
	r.codecs[strings.ToUpper(c.Key())] = c
}

// Get resolves key (case-insensitive) to a Codec, or
// STORAGE_PARAMS_INVALID if the key is unregistered.
func (r *Registry) Get(key string) (Codec, error) {
	c, ok := r.codecs[strings.ToUpper(key)]
	if !ok {
		return nil, sterr.New(sterr.ParamsInvalid, "codec.get", key, nil)
	}
	return c, nil
}
