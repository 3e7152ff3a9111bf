// Package iox provides small helpers for closing I/O resources where
// the close error has no caller that could act on it.
package iox

import "io"

// DiscardClose closes c and discards the error. Use in defer statements
// on read-side streams whose close failure changes nothing for the
// caller (the data was already consumed or the operation already failed):
//
//	defer iox.DiscardClose(rc)
func DiscardClose(c io.Closer) { _ = c.Close() }

// CloseFunc returns a cleanup function that closes c, for t.Cleanup
// registration in tests:
//
//	t.Cleanup(iox.CloseFunc(stream))
func CloseFunc(c io.Closer) func() {
	return func() { _ = c.Close() }
}

// DiscardErr calls fn and discards the returned error, for non-Close
// cleanup calls (e.g. a flush after a write that already failed):
//
//	defer iox.DiscardErr(w.Flush)
func DiscardErr(fn func() error) { _ = fn() }
