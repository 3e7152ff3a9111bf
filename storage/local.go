package storage

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/tracdap/storage-core/iox"
)

// LocalBackend implements Backend over a POSIX directory tree rooted at
// Root. All keys are relative to Root; callers (the engine) are
// responsible for path validation via storagepath before any key
// reaches this type.
type LocalBackend struct {
	Root string
}

var _ Backend = (*LocalBackend)(nil)

// NewLocalBackend creates a LocalBackend rooted at root. root must
// already exist; callers are responsible for creating it.
func NewLocalBackend(root string) *LocalBackend {
	return &LocalBackend{Root: root}
}

func (l *LocalBackend) Semantics() Semantics { return SemanticsFilesystem }

func (l *LocalBackend) abs(key string) string {
	return filepath.Join(l.Root, filepath.FromSlash(key))
}

func (l *LocalBackend) FsExists(_ context.Context, key string) (bool, error) {
	info, err := os.Stat(l.abs(key))
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return !info.IsDir(), nil
}

func (l *LocalBackend) FsDirExists(_ context.Context, key string) (bool, error) {
	info, err := os.Stat(l.abs(trimTrailingSlash(key)))
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return info.IsDir(), nil
}

func (l *LocalBackend) FsGetFileInfo(_ context.Context, key string) (uint64, time.Time, error) {
	info, err := os.Stat(l.abs(key))
	if err != nil {
		return 0, time.Time{}, err
	}
	return uint64(info.Size()), info.ModTime(), nil
}

func (l *LocalBackend) FsGetDirInfo(_ context.Context, key string) (time.Time, error) {
	info, err := os.Stat(l.abs(trimTrailingSlash(key)))
	if err != nil {
		return time.Time{}, err
	}
	return info.ModTime(), nil
}

func (l *LocalBackend) FsListContents(_ context.Context, key string) ([]BackendEntry, error) {
	dir := l.abs(trimTrailingSlash(key))
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	out := make([]BackendEntry, 0, len(entries))
	for _, entry := range entries {
		info, err := entry.Info()
		if err != nil {
			return nil, err
		}
		name := entry.Name()
		if entry.IsDir() {
			name += "/"
		}
		out = append(out, BackendEntry{
			Name:    name,
			IsDir:   entry.IsDir(),
			Size:    uint64(info.Size()),
			ModTime: info.ModTime(),
		})
	}
	return out, nil
}

func (l *LocalBackend) FsCreateDir(_ context.Context, key string) error {
	return os.MkdirAll(l.abs(trimTrailingSlash(key)), 0o755)
}

func (l *LocalBackend) FsDeleteFile(_ context.Context, key string) error {
	return os.Remove(l.abs(key))
}

func (l *LocalBackend) FsDeleteDir(_ context.Context, key string) error {
	return os.Remove(l.abs(trimTrailingSlash(key)))
}

func (l *LocalBackend) FsReadChunk(_ context.Context, key string, offset, size int64) ([]byte, error) {
	f, err := os.Open(l.abs(key))
	if err != nil {
		return nil, err
	}
	defer iox.DiscardClose(f)

	buf := make([]byte, size)
	n, err := f.ReadAt(buf, offset)
	if err != nil && err != io.EOF {
		return nil, err
	}
	return buf[:n], nil
}

func (l *LocalBackend) FsOpenInputStream(_ context.Context, key string) (io.ReadCloser, error) {
	return os.Open(l.abs(key))
}

func (l *LocalBackend) FsOpenOutputStream(_ context.Context, key string) (io.WriteCloser, error) {
	return os.Create(l.abs(key))
}
