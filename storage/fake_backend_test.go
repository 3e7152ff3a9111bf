package storage

import (
	"bytes"
	"context"
	"io"
	"sort"
	"strings"
	"sync"
	"time"
)

// fakeBackend is an in-memory Backend double, hand-rolled in the
// hand-rolled-double style rather than a mocking
// framework. semantics selects which mode the fake emulates; callers
// exercise both Bucket and Filesystem against the same fake by flipping
// it, since the interesting differences live in the engine, not the
// backend.
type fakeBackend struct {
	mu        sync.Mutex
	semantics Semantics
	files     map[string][]byte
	dirs      map[string]bool
	failNext  map[string]error
}

var _ Backend = (*fakeBackend)(nil)

func newFakeBackend(sem Semantics) *fakeBackend {
	return &fakeBackend{
		semantics: sem,
		files:     make(map[string][]byte),
		dirs:      map[string]bool{"": true},
		failNext:  make(map[string]error),
	}
}

func (f *fakeBackend) Semantics() Semantics { return f.semantics }

func (f *fakeBackend) takeFailure(op string) error {
	if err, ok := f.failNext[op]; ok {
		delete(f.failNext, op)
		return err
	}
	return nil
}

func (f *fakeBackend) FsExists(_ context.Context, key string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.files[key]
	return ok, nil
}

func (f *fakeBackend) FsDirExists(_ context.Context, key string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key = strings.TrimSuffix(key, "/")
	if key == "" {
		return true, nil
	}
	if f.dirs[key] {
		return true, nil
	}
	if f.semantics == SemanticsBucket {
		prefix := key + "/"
		for name := range f.files {
			if strings.HasPrefix(name, prefix) {
				return true, nil
			}
		}
	}
	return false, nil
}

func (f *fakeBackend) FsGetFileInfo(_ context.Context, key string) (uint64, time.Time, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.files[key]
	if !ok {
		return 0, time.Time{}, errNotFound
	}
	return uint64(len(data)), time.Time{}, nil
}

func (f *fakeBackend) FsGetDirInfo(context.Context, string) (time.Time, error) {
	return time.Time{}, nil
}

func (f *fakeBackend) FsListContents(_ context.Context, key string) ([]BackendEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	prefix := strings.TrimSuffix(key, "/")
	if prefix != "" {
		prefix += "/"
	}
	seen := map[string]bool{}
	var out []BackendEntry
	for name, data := range f.files {
		if !strings.HasPrefix(name, prefix) {
			continue
		}
		rest := strings.TrimPrefix(name, prefix)
		if rest == "" {
			continue
		}
		if idx := strings.Index(rest, "/"); idx >= 0 {
			dirName := rest[:idx+1]
			if !seen[dirName] {
				seen[dirName] = true
				out = append(out, BackendEntry{Name: dirName, IsDir: true})
			}
			continue
		}
		out = append(out, BackendEntry{Name: rest, IsDir: false, Size: uint64(len(data))})
	}
	for dir := range f.dirs {
		if dir == prefix || dir == "" {
			continue
		}
		if !strings.HasPrefix(dir, prefix) {
			continue
		}
		rest := strings.TrimPrefix(dir, prefix)
		if rest == "" || strings.Contains(rest, "/") {
			continue
		}
		name := rest + "/"
		if !seen[name] {
			seen[name] = true
			out = append(out, BackendEntry{Name: name, IsDir: true})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (f *fakeBackend) FsCreateDir(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dirs[strings.TrimSuffix(key, "/")] = true
	return nil
}

func (f *fakeBackend) FsDeleteFile(_ context.Context, key string) error {
	if err := f.takeFailure("delete:" + key); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.files[key]; !ok {
		return errNotFound
	}
	delete(f.files, key)
	return nil
}

func (f *fakeBackend) FsDeleteDir(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.dirs, strings.TrimSuffix(key, "/"))
	return nil
}

func (f *fakeBackend) FsReadChunk(_ context.Context, key string, offset, size int64) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.files[key]
	if !ok {
		return nil, errNotFound
	}
	end := offset + size
	if end > int64(len(data)) {
		end = int64(len(data))
	}
	return append([]byte(nil), data[offset:end]...), nil
}

func (f *fakeBackend) FsOpenInputStream(_ context.Context, key string) (io.ReadCloser, error) {
	f.mu.Lock()
	data, ok := f.files[key]
	f.mu.Unlock()
	if !ok {
		return nil, errNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (f *fakeBackend) FsOpenOutputStream(_ context.Context, key string) (io.WriteCloser, error) {
	return &fakeOutputStream{backend: f, key: key}, nil
}

func (f *fakeBackend) put(key string, data []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.files[key] = data
}

type fakeOutputStream struct {
	backend *fakeBackend
	key     string
	buf     bytes.Buffer
}

func (o *fakeOutputStream) Write(p []byte) (int, error) { return o.buf.Write(p) }

func (o *fakeOutputStream) Close() error {
	o.backend.put(o.key, o.buf.Bytes())
	return nil
}

type notFoundErr struct{}

func (notFoundErr) Error() string { return "no such file" }

var errNotFound = notFoundErr{}
