// Package storage implements the virtual file storage abstraction: a
// uniform exists/stat/size/ls/mkdir/rm/rmdir/readChunk/reader/writer
// contract over either bucket-semantics object stores or POSIX
// filesystems, delegating only to a small set of low-level backend
// primitives (see Backend).
package storage

import (
	"time"

	"github.com/tracdap/storage-core/buffer"
	"github.com/tracdap/storage-core/futures"
	"github.com/tracdap/storage-core/storagepath"
	"github.com/tracdap/storage-core/stream"
)

// Kind classifies a FileStat as a file or a directory.
type Kind int

const (
	KindFile Kind = iota
	KindDirectory
)

func (k Kind) String() string {
	if k == KindDirectory {
		return "directory"
	}
	return "file"
}

// FileStat describes one entry returned by Stat or Ls. Size is only
// meaningful for KindFile; a directory's size is undefined (always
// reported as zero here, never load-bearing).
type FileStat struct {
	Path    storagepath.Path
	Kind    Kind
	Size    uint64
	ModTime time.Time
}

// FileStorage is the uniform contract every backend (bucket or
// filesystem semantics) satisfies. Every operation is either a Future
// that completes exactly once, or (for reader/writer) a stream
// Publisher/Subscriber under the demand contract in package stream.
type FileStorage interface {
	// Exists reports whether path names a file or directory.
	Exists(path storagepath.Path) *futures.Future[bool]

	// Size returns the byte size of path. Fails with sterr.NotAFile if
	// path names a directory.
	Size(path storagepath.Path) *futures.Future[uint64]

	// Stat returns metadata for path.
	Stat(path storagepath.Path) *futures.Future[FileStat]

	// Ls lists path's children. On a file, returns a single-element
	// slice describing that file.
	Ls(path storagepath.Path) *futures.Future[[]FileStat]

	// Mkdir creates path as a directory. If recursive, missing parents
	// are created too; otherwise a missing parent fails with
	// sterr.ObjectNotFound. Fails with sterr.ObjectAlreadyExists if path
	// already names a file.
	Mkdir(path storagepath.Path, recursive bool) *futures.Future[struct{}]

	// Rm deletes the file at path. Fails with sterr.NotAFile on a
	// directory.
	Rm(path storagepath.Path) *futures.Future[struct{}]

	// Rmdir deletes the directory at path. Fails with
	// sterr.NotADirectory on a file.
	Rmdir(path storagepath.Path) *futures.Future[struct{}]

	// ReadChunk reads exactly size bytes starting at offset. offset must
	// be >= 0 and size > 0. Fails with sterr.NotAFile on a directory.
	ReadChunk(path storagepath.Path, offset, size int64) *futures.Future[*buffer.Buffer]

	// Reader returns a lazy Publisher of the file's contents: nothing is
	// opened on the backend until a Subscriber attaches.
	Reader(path storagepath.Path) stream.Publisher[*buffer.Buffer]

	// Writer returns a Subscriber that drains its upstream into the file
	// at path, completing signal with the total byte count on success or
	// failing it on error. The file is not opened until the first buffer
	// arrives.
	Writer(path storagepath.Path, signal *futures.Future[int64]) stream.Subscriber[*buffer.Buffer]
}
