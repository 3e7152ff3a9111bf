package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/tracdap/storage-core/buffer"
	"github.com/tracdap/storage-core/chunked"
	"github.com/tracdap/storage-core/iox"
	"github.com/tracdap/storage-core/storagepath"
	"github.com/tracdap/storage-core/stream"
)

// frameDumpSink streams a chunk's raw buffers to w as length-prefixed
// msgpack ChunkFrames, one frame per delivered buffer, closing with an
// empty Final frame. This is the `cat --raw` debug path: it bypasses
// codec decoding entirely so a chunk can be inspected (or replayed)
// offline even when its payload is corrupt.
type frameDumpSink struct {
	w    io.Writer
	seq  int
	done chan error
}

var _ stream.Subscriber[*buffer.Buffer] = (*frameDumpSink)(nil)

func newFrameDumpSink(w io.Writer) *frameDumpSink {
	return &frameDumpSink{w: w, done: make(chan error, 1)}
}

func (s *frameDumpSink) OnSubscribe(sub stream.Subscription) { sub.Request(1 << 30) }

func (s *frameDumpSink) OnNext(buf *buffer.Buffer) {
	defer buf.Release()
	frame, err := chunked.EncodeChunkFrame(chunked.ChunkFrame{Seq: s.seq, Data: buf.Bytes()})
	if err != nil {
		s.done <- err
		return
	}
	s.seq++
	if _, err := s.w.Write(frame); err != nil {
		s.done <- err
	}
}

func (s *frameDumpSink) OnComplete() {
	frame, err := chunked.EncodeChunkFrame(chunked.ChunkFrame{Seq: s.seq, Final: true})
	if err == nil {
		_, err = s.w.Write(frame)
	}
	s.done <- err
}

func (s *frameDumpSink) OnError(err error) { s.done <- err }

// rawDump streams the chunk object backing copy to w as ChunkFrames.
func rawDump(e *env, storagePath, ext string, w io.Writer) error {
	chunkKey := storagePath
	if chunkKey != "" && chunkKey[len(chunkKey)-1] != '/' {
		chunkKey += "/"
	}
	path, err := storagepath.Resolve(chunkKey+"chunk-0."+ext, storagepath.OpMutate)
	if err != nil {
		return err
	}

	sink := newFrameDumpSink(w)
	e.fs.Reader(path).Subscribe(sink)
	return <-sink.done
}

func framesCommand() *cli.Command {
	return &cli.Command{
		Name:      "frames",
		Usage:     "Summarise a raw frame dump produced by cat --raw",
		ArgsUsage: "<dump-file>",
		Action: func(c *cli.Context) error {
			if c.Args().Len() < 1 {
				return cli.Exit("usage: storagectl frames <dump-file>", 2)
			}
			f, err := os.Open(c.Args().Get(0))
			if err != nil {
				return err
			}
			defer iox.DiscardClose(f)

			dec := chunked.NewFrameDecoder(f)
			var total int
			for {
				frame, err := dec.ReadFrame()
				if errors.Is(err, io.EOF) {
					break
				}
				if err != nil {
					return fmt.Errorf("frame %d: %w", total, err)
				}
				fmt.Printf("seq=%d len=%d final=%t\n", frame.Seq, len(frame.Data), frame.Final)
				if frame.Final {
					break
				}
				total += len(frame.Data)
			}
			fmt.Printf("total payload: %d bytes\n", total)
			return nil
		},
	}
}
