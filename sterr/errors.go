// Package sterr classifies storage and I/O failures into a fixed taxonomy
// of error kinds. Backend and stdlib errors are mapped once, at the
// boundary where they are produced; every layer above compares
// classified kinds with errors.Is, never raw causes or message
// substrings.
package sterr

import (
	"errors"
	"fmt"
	"strings"
)

// Kind is a classified storage error kind. Kind values are sentinel errors
// so callers can use errors.Is(err, sterr.ObjectNotFound) for typed checks.
type Kind struct {
	name string
}

func (k *Kind) Error() string { return k.name }

// Kinds surfaced externally to callers of the storage core.
var (
	ObjectNotFound        = &Kind{"OBJECT_NOT_FOUND"}
	ObjectAlreadyExists   = &Kind{"OBJECT_ALREADY_EXISTS"}
	NotAFile              = &Kind{"NOT_A_FILE"}
	NotADirectory         = &Kind{"NOT_A_DIRECTORY"}
	NotAFileOrDirectory   = &Kind{"NOT_A_FILE_OR_DIRECTORY"}
	AccessDenied          = &Kind{"ACCESS_DENIED"}
	PathNullOrBlank       = &Kind{"STORAGE_PATH_NULL_OR_BLANK"}
	PathNotRelative       = &Kind{"STORAGE_PATH_NOT_RELATIVE"}
	PathOutsideRoot       = &Kind{"STORAGE_PATH_OUTSIDE_ROOT"}
	PathIsRoot            = &Kind{"STORAGE_PATH_IS_ROOT"}
	PathInvalid           = &Kind{"STORAGE_PATH_INVALID"}
	ParamsInvalid         = &Kind{"STORAGE_PARAMS_INVALID"}
	IOError               = &Kind{"IO_ERROR"}
	DataCorruption        = &Kind{"DATA_CORRUPTION"}
	DownloadTooLarge      = &Kind{"DOWNLOAD_TOO_LARGE"}
	DuplicateSubscription = &Kind{"DUPLICATE_SUBSCRIPTION"}
	ChunkNotFullyWritten  = &Kind{"CHUNK_NOT_FULLY_WRITTEN"}
	Unknown               = &Kind{"UNKNOWN"}
)

// Error wraps an underlying cause with a classified Kind, the operation
// that failed, and the storage key/path involved. It implements errors.Is
// against the Kind sentinels and errors.As/Unwrap against the cause.
type Error struct {
	Kind Kind
	Op   string
	Path string
	Err  error
}

func (e *Error) Error() string {
	if e.Path != "" {
		if e.Err != nil {
			return fmt.Sprintf("%s %s: %s: %v", e.Op, e.Path, e.Kind.name, e.Err)
		}
		return fmt.Sprintf("%s %s: %s", e.Op, e.Path, e.Kind.name)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind.name, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Kind.name)
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is the same classified Kind as e.
func (e *Error) Is(target error) bool {
	k, ok := target.(*Kind)
	if !ok {
		return false
	}
	return e.Kind.name == k.name
}

// New creates a classified storage error. If cause is already a *Error,
// its Kind is preserved unchanged (already-classified errors pass through)
// and op/path are only filled in where the existing error left them blank.
func New(kind *Kind, op, path string, cause error) *Error {
	var existing *Error
	if errors.As(cause, &existing) {
		out := *existing
		if out.Op == "" {
			out.Op = op
		}
		if out.Path == "" {
			out.Path = path
		}
		return &out
	}
	return &Error{Kind: *kind, Op: op, Path: path, Err: cause}
}

// Is reports whether err is classified as kind.
func Is(err error, kind *Kind) bool {
	return errors.Is(err, kind)
}

// errorPattern pairs message substrings with the Kind they classify to.
// Order matters: more specific patterns are listed before general ones,
// so "AccessDenied"/"403" is never shadowed by a more generic "denied"
// match.
type errorPattern struct {
	patterns []string
	kind     *Kind
}

var classifierTable = []errorPattern{
	{[]string{"AccessDenied", "Forbidden", "403"}, AccessDenied},
	{[]string{"permission denied", "EACCES"}, AccessDenied},
	{[]string{"no such file", "does not exist", "not found", "ENOENT", "404", "NoSuchKey", "NoSuchBucket"}, ObjectNotFound},
	{[]string{"already exists", "BucketAlreadyOwnedByYou", "EEXIST"}, ObjectAlreadyExists},
	{[]string{"not a directory", "ENOTDIR"}, NotADirectory},
	{[]string{"is a directory", "EISDIR"}, NotAFile},
	{[]string{"NoCredentialProviders", "credentials", "InvalidAccessKeyId",
		"SignatureDoesNotMatch", "ExpiredToken", "401", "Unauthorized"}, AccessDenied},
}

// Classify maps a raw backend/stdlib error to a Kind using a declarative
// substring table. Already-classified *Error values are returned
// unchanged by Classify's caller (New).
func Classify(err error) *Kind {
	if err == nil {
		return nil
	}
	var existing *Error
	if errors.As(err, &existing) {
		return &existing.Kind
	}

	var timeoutErr interface{ Timeout() bool }
	if errors.As(err, &timeoutErr) && timeoutErr.Timeout() {
		return IOError
	}

	msg := err.Error()
	for _, entry := range classifierTable {
		if containsAny(msg, entry.patterns...) {
			return entry.kind
		}
	}
	return Unknown
}

func containsAny(s string, substrs ...string) bool {
	lower := strings.ToLower(s)
	for _, sub := range substrs {
		if strings.Contains(lower, strings.ToLower(sub)) {
			return true
		}
	}
	return false
}
