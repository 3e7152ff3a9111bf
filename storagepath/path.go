// Package storagepath validates and normalises logical storage paths and
// converts them into backend object keys.
package storagepath

import (
	"strings"

	"github.com/tracdap/storage-core/sterr"
)

const separator = "/"

// illegalChars is rejected anywhere in a raw path.
const illegalChars = `<>:'"|?*\`

// Path is a normalised, validated logical storage path: an ordered list
// of non-empty segments plus a directory flag. It never contains "." or
// unresolved ".." segments and never starts with "/".
type Path struct {
	segments []string
	isDir    bool
}

// Root is the empty path (no segments), representing the storage root.
func Root() Path { return Path{} }

// IsRoot reports whether p has no segments.
func (p Path) IsRoot() bool { return len(p.segments) == 0 }

// IsDir reports whether p was written with a trailing separator.
func (p Path) IsDir() bool { return p.isDir }

// Segments returns a copy of p's path segments.
func (p Path) Segments() []string {
	out := make([]string, len(p.segments))
	copy(out, p.segments)
	return out
}

// Key renders p as a "/"-joined backend object key with no leading or
// trailing separator (directory-ness is a caller concern: use KeyAsDir
// for listing prefixes).
func (p Path) Key() string {
	return strings.Join(p.segments, separator)
}

// KeyAsDir renders p as a prefix suitable for a bucket-semantics listing
// call: the joined key suffixed with "/", or "" for the root (meaning:
// list everything).
func (p Path) KeyAsDir() string {
	k := p.Key()
	if k == "" {
		return ""
	}
	return k + separator
}

// Join appends a child segment to p, returning a new Path. The result is
// not re-validated; callers that build paths from already-trusted
// segments may use this freely, but untrusted input must go through
// Resolve.
func (p Path) Join(segment string) Path {
	out := Path{segments: append(append([]string(nil), p.segments...), segment)}
	return out
}

// op identifies the storage operation a Resolve call is being made on
// behalf of, used only to decide whether the root directory is an
// acceptable target.
type Op int

const (
	// OpRead covers exists/stat/ls: may target the root.
	OpRead Op = iota
	// OpMutate covers write/delete/chunk-read: may not target the root.
	OpMutate
)

// Resolve validates and normalises a raw, user-supplied relative path for
// the given operation.
func Resolve(raw string, op Op) (Path, error) {
	if strings.TrimSpace(raw) == "" {
		return Path{}, sterr.New(sterr.PathNullOrBlank, "resolve", raw, nil)
	}

	if strings.HasPrefix(raw, separator) {
		return Path{}, sterr.New(sterr.PathNotRelative, "resolve", raw, nil)
	}

	if err := checkIllegalChars(raw); err != nil {
		return Path{}, sterr.New(sterr.PathInvalid, "resolve", raw, err)
	}

	isDir := strings.HasSuffix(raw, separator)

	segments, err := normalise(strings.Split(raw, separator))
	if err != nil {
		return Path{}, err
	}

	if len(segments) == 0 && op == OpMutate {
		return Path{}, sterr.New(sterr.PathIsRoot, "resolve", raw, nil)
	}

	return Path{segments: segments, isDir: isDir}, nil
}

// checkIllegalChars rejects any of the disallowed punctuation or control
// code points.
func checkIllegalChars(raw string) error {
	if strings.ContainsAny(raw, illegalChars) {
		return errInvalidChar
	}
	for _, r := range raw {
		if r <= 0x1F || r == 0x7F || (r >= 0x80 && r <= 0x9F) {
			return errInvalidChar
		}
	}
	return nil
}

var errInvalidChar = pathError("path contains an illegal character")

type pathError string

func (e pathError) Error() string { return string(e) }

// normalise splits raw path parts into resolved segments: drops "." and
// empty parts, pops one segment per ".." without ever going below the
// virtual root.
func normalise(parts []string) ([]string, error) {
	var out []string
	for _, part := range parts {
		switch part {
		case "", ".":
			continue
		case "..":
			if len(out) == 0 {
				return nil, sterr.New(sterr.PathOutsideRoot, "resolve", strings.Join(parts, separator), nil)
			}
			out = out[:len(out)-1]
		default:
			out = append(out, part)
		}
	}
	return out, nil
}
