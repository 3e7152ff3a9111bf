package storage

import (
	"context"
	"io"
	"sync"

	"github.com/tracdap/storage-core/buffer"
	"github.com/tracdap/storage-core/chunked"
	"github.com/tracdap/storage-core/execctx"
	"github.com/tracdap/storage-core/futures"
	"github.com/tracdap/storage-core/iox"
	"github.com/tracdap/storage-core/sterr"
	"github.com/tracdap/storage-core/storagepath"
	"github.com/tracdap/storage-core/storelog"
	"github.com/tracdap/storage-core/stream"
)

// engine is the shared implementation backing both bucket- and
// filesystem-semantics FileStorage. It is never exported directly:
// Bucket and Filesystem stay distinct concrete types (storage/bucket.go,
// storage/filesystem.go), each embedding an engine configured with its
// own Backend and mode-specific hooks rather than branching on a
// semantics flag inline at every call site.
type engine struct {
	backend Backend
	alloc   *buffer.Allocator
	loop    *execctx.Loop
	cfg     chunked.Config
	logger  *storelog.Logger
	// requireParent, when true, fails Mkdir(recursive=false) and Writer
	// with ObjectNotFound if the immediate parent directory is absent
	// (filesystem semantics). Bucket semantics never requires a parent.
	requireParent bool
}

func newEngine(backend Backend, alloc *buffer.Allocator, loop *execctx.Loop, requireParent bool) *engine {
	return &engine{
		backend:       backend,
		alloc:         alloc,
		loop:          loop,
		cfg:           chunked.DefaultConfig(),
		requireParent: requireParent,
	}
}

func runAsync[T any](fn func() (T, error)) *futures.Future[T] {
	f := futures.New[T]()
	go func() {
		v, err := fn()
		if err != nil {
			f.Fail(err)
			return
		}
		f.Complete(v)
	}()
	return f
}

func (e *engine) Exists(path storagepath.Path) *futures.Future[bool] {
	return runAsync(func() (bool, error) {
		return e.exists(context.Background(), path)
	})
}

func (e *engine) exists(ctx context.Context, path storagepath.Path) (bool, error) {
	if path.IsRoot() {
		return true, nil
	}
	// A trailing "/" on the original path means the caller is asking
	// about a directory: a file under the same key does not count.
	if !path.IsDir() {
		isFile, err := e.backend.FsExists(ctx, path.Key())
		if err != nil {
			return false, sterr.New(sterr.Classify(err), "exists", path.Key(), err)
		}
		if isFile {
			return true, nil
		}
	}
	isDir, err := e.backend.FsDirExists(ctx, path.KeyAsDir())
	if err != nil {
		return false, sterr.New(sterr.Classify(err), "exists", path.Key(), err)
	}
	return isDir, nil
}

func (e *engine) Size(path storagepath.Path) *futures.Future[uint64] {
	return runAsync(func() (uint64, error) {
		isFile, err := e.backend.FsExists(context.Background(), path.Key())
		if err != nil {
			return 0, sterr.New(sterr.Classify(err), "size", path.Key(), err)
		}
		if !isFile {
			isDir, derr := e.backend.FsDirExists(context.Background(), path.KeyAsDir())
			if derr == nil && isDir {
				return 0, sterr.New(sterr.NotAFile, "size", path.Key(), nil)
			}
			return 0, sterr.New(sterr.ObjectNotFound, "size", path.Key(), nil)
		}
		size, _, err := e.backend.FsGetFileInfo(context.Background(), path.Key())
		if err != nil {
			return 0, sterr.New(sterr.Classify(err), "size", path.Key(), err)
		}
		return size, nil
	})
}

func (e *engine) Stat(path storagepath.Path) *futures.Future[FileStat] {
	return runAsync(func() (FileStat, error) {
		return e.stat(context.Background(), path)
	})
}

func (e *engine) stat(ctx context.Context, path storagepath.Path) (FileStat, error) {
	if path.IsRoot() {
		return FileStat{Path: path, Kind: KindDirectory}, nil
	}
	// Directory-flagged paths (trailing "/") are only ever resolved
	// against the directory namespace; see exists.
	if !path.IsDir() {
		isFile, err := e.backend.FsExists(ctx, path.Key())
		if err != nil {
			return FileStat{}, sterr.New(sterr.Classify(err), "stat", path.Key(), err)
		}
		if isFile {
			size, mtime, err := e.backend.FsGetFileInfo(ctx, path.Key())
			if err != nil {
				return FileStat{}, sterr.New(sterr.Classify(err), "stat", path.Key(), err)
			}
			return FileStat{Path: path, Kind: KindFile, Size: size, ModTime: mtime}, nil
		}
	}
	isDir, err := e.backend.FsDirExists(ctx, path.KeyAsDir())
	if err != nil {
		return FileStat{}, sterr.New(sterr.Classify(err), "stat", path.Key(), err)
	}
	if !isDir {
		return FileStat{}, sterr.New(sterr.ObjectNotFound, "stat", path.Key(), nil)
	}
	mtime, err := e.backend.FsGetDirInfo(ctx, path.KeyAsDir())
	if err != nil {
		return FileStat{}, sterr.New(sterr.Classify(err), "stat", path.Key(), err)
	}
	return FileStat{Path: path, Kind: KindDirectory, ModTime: mtime}, nil
}

func (e *engine) Ls(path storagepath.Path) *futures.Future[[]FileStat] {
	return runAsync(func() ([]FileStat, error) {
		ctx := context.Background()
		st, err := e.stat(ctx, path)
		if err != nil {
			return nil, err
		}
		if st.Kind == KindFile {
			return []FileStat{st}, nil
		}
		entries, err := e.backend.FsListContents(ctx, path.KeyAsDir())
		if err != nil {
			return nil, sterr.New(sterr.Classify(err), "ls", path.Key(), err)
		}
		out := make([]FileStat, 0, len(entries))
		for _, entry := range entries {
			child := path.Join(trimTrailingSlash(entry.Name))
			kind := KindFile
			if entry.IsDir {
				kind = KindDirectory
			}
			out = append(out, FileStat{Path: child, Kind: kind, Size: entry.Size, ModTime: entry.ModTime})
		}
		return out, nil
	})
}

func trimTrailingSlash(s string) string {
	if len(s) > 0 && s[len(s)-1] == '/' {
		return s[:len(s)-1]
	}
	return s
}

func (e *engine) Mkdir(path storagepath.Path, recursive bool) *futures.Future[struct{}] {
	return runAsync(func() (struct{}, error) {
		ctx := context.Background()
		isFile, err := e.backend.FsExists(ctx, path.Key())
		if err != nil {
			return struct{}{}, sterr.New(sterr.Classify(err), "mkdir", path.Key(), err)
		}
		if isFile {
			return struct{}{}, sterr.New(sterr.ObjectAlreadyExists, "mkdir", path.Key(), nil)
		}

		if e.requireParent && !recursive {
			if !path.IsRoot() {
				segs := path.Segments()
				parent := storagepath.Root()
				for _, s := range segs[:len(segs)-1] {
					parent = parent.Join(s)
				}
				parentExists, err := e.backend.FsDirExists(ctx, parent.KeyAsDir())
				if err != nil {
					return struct{}{}, sterr.New(sterr.Classify(err), "mkdir", path.Key(), err)
				}
				if !parentExists && !parent.IsRoot() {
					return struct{}{}, sterr.New(sterr.ObjectNotFound, "mkdir", parent.Key(), nil)
				}
			}
		}

		if recursive {
			segs := path.Segments()
			cur := storagepath.Root()
			for _, s := range segs {
				cur = cur.Join(s)
				if err := e.backend.FsCreateDir(ctx, cur.KeyAsDir()); err != nil {
					return struct{}{}, sterr.New(sterr.Classify(err), "mkdir", cur.Key(), err)
				}
			}
			return struct{}{}, nil
		}

		if err := e.backend.FsCreateDir(ctx, path.KeyAsDir()); err != nil {
			return struct{}{}, sterr.New(sterr.Classify(err), "mkdir", path.Key(), err)
		}
		return struct{}{}, nil
	})
}

func (e *engine) Rm(path storagepath.Path) *futures.Future[struct{}] {
	return runAsync(func() (struct{}, error) {
		ctx := context.Background()
		isFile, err := e.backend.FsExists(ctx, path.Key())
		if err != nil {
			return struct{}{}, sterr.New(sterr.Classify(err), "rm", path.Key(), err)
		}
		if !isFile {
			isDir, _ := e.backend.FsDirExists(ctx, path.KeyAsDir())
			if isDir {
				return struct{}{}, sterr.New(sterr.NotAFile, "rm", path.Key(), nil)
			}
			return struct{}{}, sterr.New(sterr.ObjectNotFound, "rm", path.Key(), nil)
		}
		if err := e.backend.FsDeleteFile(ctx, path.Key()); err != nil {
			return struct{}{}, sterr.New(sterr.Classify(err), "rm", path.Key(), err)
		}
		return struct{}{}, nil
	})
}

func (e *engine) Rmdir(path storagepath.Path) *futures.Future[struct{}] {
	return runAsync(func() (struct{}, error) {
		ctx := context.Background()
		isFile, err := e.backend.FsExists(ctx, path.Key())
		if err != nil {
			return struct{}{}, sterr.New(sterr.Classify(err), "rmdir", path.Key(), err)
		}
		if isFile {
			return struct{}{}, sterr.New(sterr.NotADirectory, "rmdir", path.Key(), nil)
		}
		isDir, err := e.backend.FsDirExists(ctx, path.KeyAsDir())
		if err != nil {
			return struct{}{}, sterr.New(sterr.Classify(err), "rmdir", path.Key(), err)
		}
		if !isDir {
			return struct{}{}, sterr.New(sterr.ObjectNotFound, "rmdir", path.Key(), nil)
		}
		if err := e.backend.FsDeleteDir(ctx, path.KeyAsDir()); err != nil {
			return struct{}{}, sterr.New(sterr.Classify(err), "rmdir", path.Key(), err)
		}
		return struct{}{}, nil
	})
}

func (e *engine) ReadChunk(path storagepath.Path, offset, size int64) *futures.Future[*buffer.Buffer] {
	return runAsync(func() (*buffer.Buffer, error) {
		ctx := context.Background()
		st, err := e.stat(ctx, path)
		if err != nil {
			return nil, err
		}
		if st.Kind != KindFile {
			return nil, sterr.New(sterr.NotAFile, "readChunk", path.Key(), nil)
		}
		data, err := e.backend.FsReadChunk(ctx, path.Key(), offset, size)
		if err != nil {
			return nil, sterr.New(sterr.Classify(err), "readChunk", path.Key(), err)
		}
		buf := e.alloc.Alloc(len(data))
		copy(buf.Bytes(), data)
		return buf, nil
	})
}

func (e *engine) Reader(path storagepath.Path) stream.Publisher[*buffer.Buffer] {
	client := newStreamBackendClient(e.backend, path.Key(), e.cfg)
	r := chunked.NewReader(e.loop, e.alloc, client, path.Key(), e.cfg)
	r.SetLogger(e.logger)
	return r
}

func (e *engine) Writer(path storagepath.Path, signal *futures.Future[int64]) stream.Subscriber[*buffer.Buffer] {
	mkdirParent := func() error {
		if !e.requireParent {
			return nil
		}
		segs := path.Segments()
		if len(segs) <= 1 {
			return nil
		}
		parent := storagepath.Root()
		for _, s := range segs[:len(segs)-1] {
			parent = parent.Join(s)
		}
		dirExists, err := e.backend.FsDirExists(context.Background(), parent.KeyAsDir())
		if err != nil {
			return sterr.New(sterr.Classify(err), "writer", parent.Key(), err)
		}
		if !dirExists {
			return sterr.New(sterr.ObjectNotFound, "writer", parent.Key(), nil)
		}
		return nil
	}
	sink := &backendSink{backend: e.backend, key: path.Key()}
	return newWriteSubscriber(e.loop, sink, signal, path.Key(), mkdirParent, e.logger)
}

// streamBackendClient adapts Backend.FsOpenInputStream into a
// chunked.BackendClient: it reads fixed-size segments on a goroutine of
// its own and reports them to the sink handed by chunked.Reader, which
// itself hops every callback back onto the owning loop. Reads are gated
// one-per-credit on the accumulated Request(n) count, so a downstream
// that throttles demand throttles the backend read loop too, rather than
// letting it race ahead filling Reader.pending unboundedly.
type streamBackendClient struct {
	backend Backend
	key     string
	cfg     chunked.Config

	mu        sync.Mutex
	cond      *sync.Cond
	requested int
	cancelled bool
}

var _ chunked.BackendClient = (*streamBackendClient)(nil)

func newStreamBackendClient(backend Backend, key string, cfg chunked.Config) *streamBackendClient {
	c := &streamBackendClient{backend: backend, key: key, cfg: cfg}
	c.cond = sync.NewCond(&c.mu)
	return c
}

func (c *streamBackendClient) Start(sink chunked.ChunkSink) {
	go c.run(sink)
}

func (c *streamBackendClient) run(sink chunked.ChunkSink) {
	rc, err := c.backend.FsOpenInputStream(context.Background(), c.key)
	if err != nil {
		sink.OnError(err)
		return
	}
	defer iox.DiscardClose(rc)

	// Provider-side reads are deliberately small relative to the chunk
	// size: with the default tuning, one client-buffer-target's worth of
	// segments assembles roughly one full chunk, keeping the reader's
	// pending queue near its chunk-buffer target.
	segSize := 64 * 1024
	if c.cfg.ChunkSize > 0 && c.cfg.ChunkSize < segSize {
		segSize = c.cfg.ChunkSize
	}
	buf := make([]byte, segSize)
	for {
		if !c.acquireCredit() {
			return
		}

		n, err := rc.Read(buf)
		if n > 0 {
			sink.OnChunk(append([]byte(nil), buf[:n]...))
		}
		if err != nil {
			if err == io.EOF {
				sink.OnComplete()
				return
			}
			sink.OnError(err)
			return
		}
	}
}

// acquireCredit blocks until Request has granted at least one
// outstanding read credit, consumes exactly one, and returns true; it
// returns false without consuming anything once Cancel has been called.
func (c *streamBackendClient) acquireCredit() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for c.requested <= 0 && !c.cancelled {
		c.cond.Wait()
	}
	if c.cancelled {
		return false
	}
	c.requested--
	return true
}

func (c *streamBackendClient) Request(n int) {
	c.mu.Lock()
	c.requested += n
	c.mu.Unlock()
	c.cond.Broadcast()
}

func (c *streamBackendClient) Cancel() {
	c.mu.Lock()
	c.cancelled = true
	c.mu.Unlock()
	c.cond.Broadcast()
}

// backendSink adapts Backend.FsOpenOutputStream into the BackendSink
// interface writeSubscriber drains into.
type backendSink struct {
	backend Backend
	key     string
	stream  io.WriteCloser
}

func (s *backendSink) open() error {
	if s.stream != nil {
		return nil
	}
	w, err := s.backend.FsOpenOutputStream(context.Background(), s.key)
	if err != nil {
		return err
	}
	s.stream = w
	return nil
}

func (s *backendSink) write(data []byte) (int, error) {
	if err := s.open(); err != nil {
		return 0, err
	}
	return s.stream.Write(data)
}

func (s *backendSink) close() error {
	if s.stream == nil {
		return nil
	}
	return s.stream.Close()
}

func (s *backendSink) abort() {
	if s.stream != nil {
		iox.DiscardClose(s.stream)
	}
}
