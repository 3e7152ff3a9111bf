package storage

import (
	"context"
	"io"
	"time"
)

// Backend exposes the low-level primitives §4.3 names
// (fsExists/fsGetFileInfo/fsListContents/...): everything a concrete
// bucket or filesystem implementation needs to provide, and nothing
// more. The engine in common.go builds the full FileStorage contract
// (parent checks, directory inference, error classification) on top of
// these without ever calling out to the backend SDK directly.
type Backend interface {
	// Semantics reports whether this backend models real directories
	// (Filesystem) or infers them from key prefixes (Bucket).
	Semantics() Semantics

	// FsExists reports whether key names a file. Must not return an
	// error for "not found"; that is expressed by returning false.
	FsExists(ctx context.Context, key string) (bool, error)

	// FsDirExists reports whether key (already suffixed with "/" by the
	// caller, or empty for root) names a directory. For Bucket
	// semantics this is inferred from a one-item prefix listing.
	FsDirExists(ctx context.Context, key string) (bool, error)

	// FsGetFileInfo returns size and modification time for the file at
	// key. The caller has already established key is a file.
	FsGetFileInfo(ctx context.Context, key string) (size uint64, modTime time.Time, err error)

	// FsGetDirInfo returns modification time for the directory at key
	// (best-effort; bucket backends may return the zero time).
	FsGetDirInfo(ctx context.Context, key string) (modTime time.Time, err error)

	// FsListContents lists the direct children of the directory named by
	// key (already suffixed with "/", or empty for root). Returned
	// names are relative to key, with a trailing "/" for directories.
	FsListContents(ctx context.Context, key string) ([]BackendEntry, error)

	// FsCreateDir creates the directory named by key. For Bucket
	// semantics this is a no-op success (directories are inferred, never
	// materialised); Filesystem backends create a real directory.
	FsCreateDir(ctx context.Context, key string) error

	// FsDeleteFile deletes the file at key.
	FsDeleteFile(ctx context.Context, key string) error

	// FsDeleteDir deletes the (assumed empty, or recursively-emptiable
	// per backend policy) directory at key.
	FsDeleteDir(ctx context.Context, key string) error

	// FsReadChunk reads exactly size bytes starting at offset from key.
	FsReadChunk(ctx context.Context, key string, offset, size int64) ([]byte, error)

	// FsOpenInputStream opens key for streaming read. Returns
	// io.ReadCloser; the caller drives it from a chunked.BackendClient
	// adapter.
	FsOpenInputStream(ctx context.Context, key string) (io.ReadCloser, error)

	// FsOpenOutputStream opens key for streaming write (truncate-create
	// semantics). The caller is responsible for closing it once the
	// upstream publisher completes.
	FsOpenOutputStream(ctx context.Context, key string) (io.WriteCloser, error)
}

// Semantics distinguishes bucket-style object stores (no real
// directories; parents never need creation) from POSIX-style
// filesystems (parents must exist; mkdir is non-recursive by default).
type Semantics int

const (
	// SemanticsBucket: no real directories, a file and a directory with
	// the same key may coexist, directory existence is inferred by
	// listing with the key as a prefix.
	SemanticsBucket Semantics = iota
	// SemanticsFilesystem: POSIX-style, parents must exist unless
	// mkdir(..., recursive=true), directory sentinels are implicit.
	SemanticsFilesystem
)

// BackendEntry is one child returned by FsListContents.
type BackendEntry struct {
	Name    string // relative to the listed prefix; directories end in "/"
	IsDir   bool
	Size    uint64
	ModTime time.Time
}
