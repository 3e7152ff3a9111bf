package storage

import (
	"context"
	"testing"
	"time"

	"github.com/tracdap/storage-core/buffer"
	"github.com/tracdap/storage-core/execctx"
	"github.com/tracdap/storage-core/futures"
	"github.com/tracdap/storage-core/sterr"
	"github.com/tracdap/storage-core/storagepath"
	"github.com/tracdap/storage-core/stream"
)

func mustPath(t *testing.T, raw string, op storagepath.Op) storagepath.Path {
	t.Helper()
	p, err := storagepath.Resolve(raw, op)
	if err != nil {
		t.Fatalf("Resolve(%q) = %v", raw, err)
	}
	return p
}

func newTestFilesystem(t *testing.T) (*Filesystem, *fakeBackend) {
	t.Helper()
	loop := execctx.NewLoop()
	t.Cleanup(loop.Close)
	backend := newFakeBackend(SemanticsFilesystem)
	return NewFilesystem(backend, buffer.NewAllocator(), loop), backend
}

func newTestBucket(t *testing.T) (*Bucket, *fakeBackend) {
	t.Helper()
	loop := execctx.NewLoop()
	t.Cleanup(loop.Close)
	backend := newFakeBackend(SemanticsBucket)
	return NewBucket(backend, buffer.NewAllocator(), loop), backend
}

func await[T any](t *testing.T, f *futures.Future[T]) (T, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return f.Get(ctx)
}

func TestFilesystem_ExistsAndStat(t *testing.T) {
	fs, backend := newTestFilesystem(t)
	backend.put("a/b.txt", []byte("hello"))
	backend.dirs["a"] = true

	p := mustPath(t, "a/b.txt", storagepath.OpRead)
	exists, err := await(t, fs.Exists(p))
	if err != nil || !exists {
		t.Fatalf("Exists = %v, %v", exists, err)
	}

	stat, err := await(t, fs.Stat(p))
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if stat.Kind != KindFile || stat.Size != 5 {
		t.Fatalf("stat = %+v", stat)
	}
}

func TestFilesystem_SizeOnDirectoryFails(t *testing.T) {
	fs, backend := newTestFilesystem(t)
	backend.dirs["a"] = true

	p := mustPath(t, "a", storagepath.OpRead)
	_, err := await(t, fs.Size(p))
	if !sterr.Is(err, sterr.NotAFile) {
		t.Fatalf("Size on dir err = %v, want NotAFile", err)
	}
}

func TestFilesystem_MkdirRequiresParentUnlessRecursive(t *testing.T) {
	fs, _ := newTestFilesystem(t)

	p := mustPath(t, "a/b/c", storagepath.OpMutate)
	_, err := await(t, fs.Mkdir(p, false))
	if !sterr.Is(err, sterr.ObjectNotFound) {
		t.Fatalf("non-recursive mkdir without parent err = %v, want ObjectNotFound", err)
	}

	_, err = await(t, fs.Mkdir(p, true))
	if err != nil {
		t.Fatalf("recursive mkdir: %v", err)
	}

	// Idempotent: applying recursive mkdir again still succeeds.
	_, err = await(t, fs.Mkdir(p, true))
	if err != nil {
		t.Fatalf("second recursive mkdir: %v", err)
	}
}

func TestFilesystem_RmThenRmFails(t *testing.T) {
	fs, backend := newTestFilesystem(t)
	backend.put("f.txt", []byte("x"))

	p := mustPath(t, "f.txt", storagepath.OpMutate)
	if _, err := await(t, fs.Rm(p)); err != nil {
		t.Fatalf("first rm: %v", err)
	}
	_, err := await(t, fs.Rm(p))
	if !sterr.Is(err, sterr.ObjectNotFound) {
		t.Fatalf("second rm err = %v, want ObjectNotFound", err)
	}
}

func TestFilesystem_RmOnDirectoryFails(t *testing.T) {
	fs, backend := newTestFilesystem(t)
	backend.dirs["a"] = true
	p := mustPath(t, "a", storagepath.OpMutate)
	_, err := await(t, fs.Rm(p))
	if !sterr.Is(err, sterr.NotAFile) {
		t.Fatalf("rm on dir err = %v, want NotAFile", err)
	}
}

func TestFilesystem_RmdirOnFileFails(t *testing.T) {
	fs, backend := newTestFilesystem(t)
	backend.put("f.txt", []byte("x"))
	p := mustPath(t, "f.txt", storagepath.OpMutate)
	_, err := await(t, fs.Rmdir(p))
	if !sterr.Is(err, sterr.NotADirectory) {
		t.Fatalf("rmdir on file err = %v, want NotADirectory", err)
	}
}

func TestBucket_DirectoryInferredFromPrefix(t *testing.T) {
	b, backend := newTestBucket(t)
	backend.put("a/b/c.txt", []byte("data"))

	p := mustPath(t, "a/b", storagepath.OpRead)
	exists, err := await(t, b.Exists(p))
	if err != nil || !exists {
		t.Fatalf("Exists(dir) = %v, %v", exists, err)
	}
}

func TestBucket_LsOnFileReturnsSingleEntry(t *testing.T) {
	b, backend := newTestBucket(t)
	backend.put("f.txt", []byte("hello"))

	p := mustPath(t, "f.txt", storagepath.OpRead)
	entries, err := await(t, b.Ls(p))
	if err != nil {
		t.Fatalf("Ls: %v", err)
	}
	if len(entries) != 1 || entries[0].Kind != KindFile {
		t.Fatalf("Ls(file) = %+v", entries)
	}
}

func TestReadOnly_RejectsMutationsButAllowsReads(t *testing.T) {
	fs, backend := newTestFilesystem(t)
	backend.put("f.txt", []byte("hi"))
	ro := NewReadOnly(fs)

	p := mustPath(t, "f.txt", storagepath.OpRead)
	if _, err := await(t, ro.Size(p)); err != nil {
		t.Fatalf("read through read-only store: %v", err)
	}

	mp := mustPath(t, "f.txt", storagepath.OpMutate)
	_, err := await(t, ro.Rm(mp))
	if !sterr.Is(err, sterr.AccessDenied) {
		t.Fatalf("rm on read-only store err = %v, want AccessDenied", err)
	}
}

func TestFilesystem_ReaderDeliversFileContents(t *testing.T) {
	fs, backend := newTestFilesystem(t)
	backend.put("f.txt", []byte("abcdefgh"))

	p := mustPath(t, "f.txt", storagepath.OpRead)
	pub := fs.Reader(p)

	sub := &collectingSubscriber{done: make(chan struct{})}
	pub.Subscribe(sub)

	select {
	case <-sub.done:
	case <-time.After(2 * time.Second):
		t.Fatal("reader never completed")
	}
	if sub.err != nil {
		t.Fatalf("reader error: %v", sub.err)
	}
	if string(sub.data) != "abcdefgh" {
		t.Fatalf("read data = %q", sub.data)
	}
}

func TestFilesystem_WriterGatesOnMkdir(t *testing.T) {
	fs, _ := newTestFilesystem(t)

	p := mustPath(t, "a/b/out.txt", storagepath.OpMutate)
	mkdirParent := mustPath(t, "a/b", storagepath.OpRead)

	signal := futures.New[int64]()
	// mkdir has not happened yet: the writer subscriber's gate must fail
	// closed, never touching the backend stream.
	sub := fs.Writer(p, signal)
	drive(sub, []byte("data"))

	_, err := await(t, signal)
	if !sterr.Is(err, sterr.ObjectNotFound) {
		t.Fatalf("writer without mkdir err = %v, want ObjectNotFound", err)
	}

	if _, err := await(t, fs.Mkdir(mkdirParent, true)); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	signal2 := futures.New[int64]()
	sub2 := fs.Writer(p, signal2)
	drive(sub2, []byte("data"))

	n, err := await(t, signal2)
	if err != nil {
		t.Fatalf("writer after mkdir: %v", err)
	}
	if n != 4 {
		t.Fatalf("bytes written = %d, want 4", n)
	}
}

// collectingSubscriber is a minimal stream.Subscriber used to exercise
// FileStorage.Reader end to end.
type collectingSubscriber struct {
	data []byte
	err  error
	done chan struct{}
}

var _ stream.Subscriber[*buffer.Buffer] = (*collectingSubscriber)(nil)

func (c *collectingSubscriber) OnSubscribe(sub stream.Subscription) {
	sub.Request(1 << 20)
}
func (c *collectingSubscriber) OnNext(buf *buffer.Buffer) {
	c.data = append(c.data, buf.Bytes()...)
	buf.Release()
}
func (c *collectingSubscriber) OnComplete() { close(c.done) }
func (c *collectingSubscriber) OnError(err error) {
	c.err = err
	close(c.done)
}

// drive feeds a single buffer through sub and completes it, for tests
// that only care about the writer's gate/audit logic rather than full
// pipeline wiring: no real upstream Publisher is involved.
func drive(sub stream.Subscriber[*buffer.Buffer], data []byte) {
	sub.OnSubscribe(noSubscription{})
	buf := buffer.Wrap(data)
	sub.OnNext(buf)
	sub.OnComplete()
}

type noSubscription struct{}

func (noSubscription) Request(int64) {}
func (noSubscription) Cancel() {}

func TestFilesystem_TrailingSlashChecksDirectoryNamespace(t *testing.T) {
	fs, backend := newTestFilesystem(t)
	backend.put("f.txt", []byte("hi"))
	backend.dirs["a"] = true

	// A trailing slash asks about a directory: the file under the same
	// key must not satisfy the check.
	asDir := mustPath(t, "f.txt/", storagepath.OpRead)
	exists, err := await(t, fs.Exists(asDir))
	if err != nil {
		t.Fatalf("Exists(f.txt/): %v", err)
	}
	if exists {
		t.Fatal("Exists(f.txt/) = true, want false for a plain file")
	}

	_, err = await(t, fs.Stat(asDir))
	if !sterr.Is(err, sterr.ObjectNotFound) {
		t.Fatalf("Stat(f.txt/) err = %v, want ObjectNotFound", err)
	}

	dirPath := mustPath(t, "a/", storagepath.OpRead)
	exists, err = await(t, fs.Exists(dirPath))
	if err != nil || !exists {
		t.Fatalf("Exists(a/) = %v, %v, want true", exists, err)
	}
	st, err := await(t, fs.Stat(dirPath))
	if err != nil {
		t.Fatalf("Stat(a/): %v", err)
	}
	if st.Kind != KindDirectory {
		t.Fatalf("Stat(a/) kind = %v, want directory", st.Kind)
	}
}

func TestBucket_TrailingSlashChecksDirectoryNamespace(t *testing.T) {
	b, backend := newTestBucket(t)
	backend.put("a/b/c.txt", []byte("data"))

	exists, err := await(t, b.Exists(mustPath(t, "a/b/", storagepath.OpRead)))
	if err != nil || !exists {
		t.Fatalf("Exists(a/b/) = %v, %v, want true from prefix inference", exists, err)
	}

	// The object a/b/c.txt exists, but a/b/c.txt/ names a directory
	// which nothing backs.
	exists, err = await(t, b.Exists(mustPath(t, "a/b/c.txt/", storagepath.OpRead)))
	if err != nil {
		t.Fatalf("Exists(a/b/c.txt/): %v", err)
	}
	if exists {
		t.Fatal("Exists(a/b/c.txt/) = true, want false")
	}

	entries, err := await(t, b.Ls(mustPath(t, "a/b/", storagepath.OpRead)))
	if err != nil {
		t.Fatalf("Ls(a/b/): %v", err)
	}
	if len(entries) != 1 || entries[0].Path.Key() != "a/b/c.txt" {
		t.Fatalf("Ls(a/b/) = %+v, want the single child object", entries)
	}
}
