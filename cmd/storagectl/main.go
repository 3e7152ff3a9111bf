package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
	"github.com/urfave/cli/v2"

	"github.com/tracdap/storage-core/buffer"
	"github.com/tracdap/storage-core/codec"
	"github.com/tracdap/storage-core/codec/allcodecs"
	"github.com/tracdap/storage-core/datastorage"
	"github.com/tracdap/storage-core/execctx"
	"github.com/tracdap/storage-core/storage"
	"github.com/tracdap/storage-core/storageconfig"
	"github.com/tracdap/storage-core/storagepath"
	"github.com/tracdap/storage-core/storelog"
)

// Commit is set via ldflags at build time.
var commit = "unknown"

func main() {
	app := &cli.App{
		Name:           "storagectl",
		Usage:          "Inspect and manipulate StorageCopy data through the storage core",
		Version:        fmt.Sprintf("0.1.0 (commit: %s)", commit),
		ExitErrHandler: exitErrHandler,
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Usage: "Path to storage.yaml", Value: "storage.yaml"},
			&cli.StringFlag{Name: "bucket", Usage: "Bucket name to operate against", Required: true},
		},
		Commands: []*cli.Command{
			lsCommand(),
			statCommand(),
			catCommand(),
			putCommand(),
			framesCommand(),
		},
	}

	if err := app.Run(os.Args); err != nil {
		os.Exit(1)
	}
}

func exitErrHandler(_ *cli.Context, err error) {
	if err == nil {
		return
	}
	var exitCoder cli.ExitCoder
	if errors.As(err, &exitCoder) {
		code := exitCoder.ExitCode()
		msg := exitCoder.Error()
		if msg != "" && msg != fmt.Sprintf("exit status %d", code) {
			fmt.Fprintln(os.Stderr, msg)
		}
		os.Exit(code)
	}
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}

// env bundles the wiring every command needs, built fresh per invocation
// from the --config/--bucket flags.
type env struct {
	fs     storage.FileStorage
	codecs *codec.Registry
	alloc  memory.Allocator
	balloc *buffer.Allocator
	loop   *execctx.Loop
	log    *storelog.Logger
	dsCfg  datastorage.Config
}

func buildEnv(c *cli.Context) (*env, error) {
	cfg, err := storageconfig.Load(c.String("config"))
	if err != nil {
		return nil, err
	}
	bucketCfg, err := cfg.Bucket(c.String("bucket"))
	if err != nil {
		return nil, err
	}

	balloc := buffer.NewAllocator()
	loop := execctx.NewLoop()

	backend, err := buildBackend(c.Context, bucketCfg)
	if err != nil {
		return nil, err
	}

	log := storelog.New(uuid.New())

	var fs storage.FileStorage
	switch backend.Semantics() {
	case storage.SemanticsBucket:
		b := storage.NewBucket(backend, balloc, loop)
		b.SetLogger(log)
		fs = b
	default:
		f := storage.NewFilesystem(backend, balloc, loop)
		f.SetLogger(log)
		fs = f
	}
	if bucketCfg.ReadOnly {
		fs = storage.NewReadOnly(fs)
	}

	return &env{
		fs:     fs,
		codecs: allcodecs.Default(),
		alloc:  memory.NewGoAllocator(),
		balloc: balloc,
		loop:   loop,
		log:    log,
		dsCfg:  bucketCfg.DataStorageConfig(),
	}, nil
}

func buildBackend(ctx context.Context, b storageconfig.BucketConfig) (storage.Backend, error) {
	switch strings.ToLower(b.Backend) {
	case "local":
		return storage.NewLocalBackend(b.RootOrBucket), nil
	case "s3":
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(b.Region))
		if err != nil {
			return nil, fmt.Errorf("load AWS config: %w", err)
		}
		client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
			if b.Endpoint != "" {
				o.BaseEndpoint = &b.Endpoint
			}
		})
		return storage.NewS3Backend(client, b.RootOrBucket, b.Prefix), nil
	default:
		return nil, fmt.Errorf("unrecognised backend kind %q", b.Backend)
	}
}

func (e *env) close() { e.loop.Close() }

func lsCommand() *cli.Command {
	return &cli.Command{
		Name:      "ls",
		Usage:     "List the children of a storage path",
		ArgsUsage: "<path>",
		Action: func(c *cli.Context) error {
			e, err := buildEnv(c)
			if err != nil {
				return err
			}
			defer e.close()

			path, err := storagepath.Resolve(argOrRoot(c), storagepath.OpRead)
			if err != nil {
				return err
			}
			entries, err := e.fs.Ls(path).Get(c.Context)
			if err != nil {
				return err
			}
			for _, entry := range entries {
				fmt.Printf("%-10s %10d  %s\n", entry.Kind, entry.Size, entry.Path.Key())
			}
			return nil
		},
	}
}

func statCommand() *cli.Command {
	return &cli.Command{
		Name:      "stat",
		Usage:     "Print metadata for a storage path",
		ArgsUsage: "<path>",
		Action: func(c *cli.Context) error {
			e, err := buildEnv(c)
			if err != nil {
				return err
			}
			defer e.close()

			path, err := storagepath.Resolve(argOrRoot(c), storagepath.OpRead)
			if err != nil {
				return err
			}
			st, err := e.fs.Stat(path).Get(c.Context)
			if err != nil {
				return err
			}
			fmt.Printf("path: %s\nkind: %s\nsize: %d\nmtime: %s\n", st.Path.Key(), st.Kind, st.Size, st.ModTime)
			return nil
		},
	}
}

func catCommand() *cli.Command {
	return &cli.Command{
		Name:      "cat",
		Usage:     "Decode a StorageCopy and dump its rows",
		ArgsUsage: "<storage-path> <format>",
		Flags: []cli.Flag{
			&cli.Int64Flag{Name: "offset", Usage: "Skip this many leading rows"},
			&cli.Int64Flag{Name: "limit", Usage: "Emit at most this many rows (0 = no limit)"},
			&cli.StringFlag{Name: "schema", Usage: "name:type,name:type column list; required for CSV/JSON, optional for self-describing formats (rows are projected onto it when given)"},
			&cli.BoolFlag{Name: "raw", Usage: "Dump the chunk's raw byte stream as length-prefixed frames instead of decoding rows"},
		},
		Action: func(c *cli.Context) error {
			if c.Args().Len() < 2 {
				return cli.Exit("usage: storagectl cat <storage-path> <format>", 2)
			}
			e, err := buildEnv(c)
			if err != nil {
				return err
			}
			defer e.close()

			copy := datastorage.StorageCopy{StoragePath: c.Args().Get(0), StorageFormat: c.Args().Get(1)}

			if c.Bool("raw") {
				fmtCodec, err := e.codecs.Get(copy.StorageFormat)
				if err != nil {
					return err
				}
				return rawDump(e, copy.StoragePath, fmtCodec.DefaultFileExtension(), os.Stdout)
			}

			ds := datastorage.New(e.fs, e.codecs, e.alloc, e.dsCfg).WithLogger(e.log)

			schema, err := parseSchemaFlag(c.String("schema"))
			if err != nil {
				return err
			}

			sink := newCollectingSink()
			p, err := ds.PipelineReader(c.Context, copy, schema, c.Int64("offset"), c.Int64("limit"), sink)
			if err != nil {
				return err
			}
			done := p.Execute()
			if _, err := done.Get(c.Context); err != nil {
				return err
			}
			if err := <-sink.done; err != nil {
				return err
			}
			for _, rec := range sink.records {
				printRecord(rec)
				rec.Release()
			}
			return nil
		},
	}
}

func putCommand() *cli.Command {
	return &cli.Command{
		Name:      "put",
		Usage:     "Encode a local file and write it as a StorageCopy",
		ArgsUsage: "<local-file> <source-format> <storage-path> <target-format>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "schema", Usage: "name:type,name:type column list; used to decode the source and as the schema the target format is written with"},
		},
		Action: func(c *cli.Context) error {
			if c.Args().Len() < 4 {
				return cli.Exit("usage: storagectl put <local-file> <source-format> <storage-path> <target-format>", 2)
			}
			e, err := buildEnv(c)
			if err != nil {
				return err
			}
			defer e.close()

			localPath := c.Args().Get(0)
			sourceFormat := c.Args().Get(1)
			copy := datastorage.StorageCopy{StoragePath: c.Args().Get(2), StorageFormat: c.Args().Get(3)}

			data, err := os.ReadFile(localPath)
			if err != nil {
				return err
			}

			sourceCodec, err := e.codecs.Get(sourceFormat)
			if err != nil {
				return err
			}
			schema, err := parseSchemaFlag(c.String("schema"))
			if err != nil {
				return err
			}

			decoder, err := sourceCodec.NewDecoder(e.alloc, schema, nil)
			if err != nil {
				return err
			}
			collector := newCollectingSink()
			decoder.Subscribe(collector)
			(&memoryBufferSource{data: data}).Subscribe(decoder)
			if err := <-collector.done; err != nil {
				return err
			}

			ds := datastorage.New(e.fs, e.codecs, e.alloc, e.dsCfg).WithLogger(e.log)
			source := &sliceRecordSource{records: collector.records}
			wp, signal, err := ds.PipelineWriter(c.Context, copy, schema, source)
			if err != nil {
				return err
			}
			if _, err := wp.Execute().Get(c.Context); err != nil {
				return err
			}
			written, err := signal.Get(c.Context)
			if err != nil {
				return err
			}
			fmt.Printf("wrote %d bytes to %s\n", written, copy.StoragePath)
			return nil
		},
	}
}

func argOrRoot(c *cli.Context) string {
	if c.Args().Len() == 0 {
		return "."
	}
	return c.Args().Get(0)
}

// parseSchemaFlag parses a "name:type,name:type" column list into an
// *arrow.Schema. An empty string yields a zero-field schema, which is
// sufficient for the self-describing codecs (Arrow IPC stream/file,
// Parquet) that recover their schema from the file itself; CSV/JSON
// decoding requires --schema to know what columns to expect.
func parseSchemaFlag(spec string) (*arrow.Schema, error) {
	if spec == "" {
		return arrow.NewSchema(nil, nil), nil
	}
	var fields []arrow.Field
	for _, col := range strings.Split(spec, ",") {
		parts := strings.SplitN(col, ":", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("invalid --schema column %q: want name:type", col)
		}
		dt, err := parseFieldType(parts[1])
		if err != nil {
			return nil, err
		}
		fields = append(fields, arrow.Field{Name: parts[0], Type: dt, Nullable: true})
	}
	schema := arrow.NewSchema(fields, nil)
	return schema, nil
}

func parseFieldType(name string) (arrow.DataType, error) {
	switch strings.ToLower(name) {
	case "bool", "boolean":
		return arrow.FixedWidthTypes.Boolean, nil
	case "int32":
		return arrow.PrimitiveTypes.Int32, nil
	case "int64", "int":
		return arrow.PrimitiveTypes.Int64, nil
	case "float32":
		return arrow.PrimitiveTypes.Float32, nil
	case "float64", "float", "double":
		return arrow.PrimitiveTypes.Float64, nil
	case "string", "str":
		return arrow.BinaryTypes.String, nil
	case "binary", "bytes":
		return arrow.BinaryTypes.Binary, nil
	default:
		return nil, fmt.Errorf("unrecognised --schema type %q", name)
	}
}

// printRecord dumps rec as whitespace-separated columns, one line per
// row, falling back to a generic %v for types columnValueStr doesn't
// special-case (this is a debug tool, not a formatter of record).
func printRecord(rec arrow.Record) {
	nrows := int(rec.NumRows())
	ncols := int(rec.NumCols())
	for r := 0; r < nrows; r++ {
		fields := make([]string, ncols)
		for col := 0; col < ncols; col++ {
			fields[col] = columnValueStr(rec.Column(col), r)
		}
		fmt.Println(strings.Join(fields, "\t"))
	}
}

func columnValueStr(col arrow.Array, row int) string {
	if col.IsNull(row) {
		return "<null>"
	}
	switch a := col.(type) {
	case *array.Boolean:
		return fmt.Sprintf("%t", a.Value(row))
	case *array.Int32:
		return fmt.Sprintf("%d", a.Value(row))
	case *array.Int64:
		return fmt.Sprintf("%d", a.Value(row))
	case *array.Float32:
		return fmt.Sprintf("%g", a.Value(row))
	case *array.Float64:
		return fmt.Sprintf("%g", a.Value(row))
	case *array.String:
		return a.Value(row)
	case *array.Binary:
		return fmt.Sprintf("%x", a.Value(row))
	default:
		return fmt.Sprintf("%v", col)
	}
}
