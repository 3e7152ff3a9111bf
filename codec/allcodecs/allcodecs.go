// Package allcodecs wires every concrete codec into one registry. It is
// a separate package from codec itself so that package codec (the
// interfaces) never has to import any concrete codec's dependency set
// (arrow/ipc, arrow/csv, parquet-go) and a caller that only
// needs one format can import that codec package directly instead.
package allcodecs

import (
	"github.com/tracdap/storage-core/codec"
	"github.com/tracdap/storage-core/codec/arrowfile"
	"github.com/tracdap/storage-core/codec/arrowstream"
	"github.com/tracdap/storage-core/codec/csvcodec"
	"github.com/tracdap/storage-core/codec/jsoncodec"
	"github.com/tracdap/storage-core/codec/parquetcodec"
)

// Default returns a Registry with every built-in codec registered under
// its standard key (ARROW_STREAM, ARROW_FILE, PARQUET, CSV, JSON).
func Default() *codec.Registry {
	r := codec.NewRegistry()
	r.Register(arrowstream.New())
	r.Register(arrowfile.New())
	r.Register(csvcodec.New())
	r.Register(jsoncodec.New())
	r.Register(parquetcodec.New())
	return r
}
