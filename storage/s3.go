package storage

import (
	"context"
	"errors"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
)

// S3Backend implements Backend over an S3 (or S3-compatible) bucket: a
// plain *s3.Client built from the AWS SDK default credential chain,
// with an optional key prefix.
type S3Backend struct {
	Client *s3.Client
	Bucket string
	Prefix string
}

var _ Backend = (*S3Backend)(nil)

// NewS3Backend wires client into an S3Backend rooted at bucket/prefix.
func NewS3Backend(client *s3.Client, bucket, prefix string) *S3Backend {
	return &S3Backend{Client: client, Bucket: bucket, Prefix: strings.Trim(prefix, "/")}
}

func (s *S3Backend) Semantics() Semantics { return SemanticsBucket }

func (s *S3Backend) fullKey(key string) string {
	if s.Prefix == "" {
		return key
	}
	if key == "" {
		return s.Prefix + "/"
	}
	return s.Prefix + "/" + key
}

func (s *S3Backend) FsExists(ctx context.Context, key string) (bool, error) {
	_, err := s.Client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.Bucket),
		Key:    aws.String(s.fullKey(key)),
	})
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (s *S3Backend) FsDirExists(ctx context.Context, key string) (bool, error) {
	prefix := s.fullKey(trimTrailingSlash(key))
	if prefix != "" {
		prefix += "/"
	}
	out, err := s.Client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket:  aws.String(s.Bucket),
		Prefix:  aws.String(prefix),
		MaxKeys: aws.Int32(1),
	})
	if err != nil {
		return false, err
	}
	return len(out.Contents) > 0 || len(out.CommonPrefixes) > 0, nil
}

func (s *S3Backend) FsGetFileInfo(ctx context.Context, key string) (uint64, time.Time, error) {
	out, err := s.Client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.Bucket),
		Key:    aws.String(s.fullKey(key)),
	})
	if err != nil {
		return 0, time.Time{}, err
	}
	var size uint64
	if out.ContentLength != nil {
		size = uint64(*out.ContentLength)
	}
	var mtime time.Time
	if out.LastModified != nil {
		mtime = *out.LastModified
	}
	return size, mtime, nil
}

func (s *S3Backend) FsGetDirInfo(context.Context, string) (time.Time, error) {
	// Bucket semantics: directories are inferred, not objects with their
	// own metadata, so there is no modification time to report.
	return time.Time{}, nil
}

func (s *S3Backend) FsListContents(ctx context.Context, key string) ([]BackendEntry, error) {
	prefix := s.fullKey(trimTrailingSlash(key))
	if prefix != "" {
		prefix += "/"
	}
	var out []BackendEntry
	var token *string
	for {
		resp, err := s.Client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(s.Bucket),
			Prefix:            aws.String(prefix),
			Delimiter:         aws.String("/"),
			ContinuationToken: token,
		})
		if err != nil {
			return nil, err
		}
		for _, obj := range resp.Contents {
			name := strings.TrimPrefix(aws.ToString(obj.Key), prefix)
			if name == "" {
				continue
			}
			var size uint64
			if obj.Size != nil {
				size = uint64(*obj.Size)
			}
			var mtime time.Time
			if obj.LastModified != nil {
				mtime = *obj.LastModified
			}
			out = append(out, BackendEntry{Name: name, IsDir: false, Size: size, ModTime: mtime})
		}
		for _, p := range resp.CommonPrefixes {
			name := strings.TrimPrefix(aws.ToString(p.Prefix), prefix)
			out = append(out, BackendEntry{Name: name, IsDir: true})
		}
		if !aws.ToBool(resp.IsTruncated) {
			break
		}
		token = resp.NextContinuationToken
	}
	return out, nil
}

func (s *S3Backend) FsCreateDir(context.Context, string) error {
	// Bucket semantics: directories are never materialised objects.
	return nil
}

func (s *S3Backend) FsDeleteFile(ctx context.Context, key string) error {
	_, err := s.Client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.Bucket),
		Key:    aws.String(s.fullKey(key)),
	})
	return err
}

func (s *S3Backend) FsDeleteDir(context.Context, string) error {
	// No sentinel object backs a bucket-semantics directory; deleting it
	// is a no-op once its last member object is gone.
	return nil
}

func (s *S3Backend) FsReadChunk(ctx context.Context, key string, offset, size int64) ([]byte, error) {
	rng := aws.String(httpRange(offset, size))
	out, err := s.Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.Bucket),
		Key:    aws.String(s.fullKey(key)),
		Range:  rng,
	})
	if err != nil {
		return nil, err
	}
	defer out.Body.Close()
	return io.ReadAll(out.Body)
}

func (s *S3Backend) FsOpenInputStream(ctx context.Context, key string) (io.ReadCloser, error) {
	out, err := s.Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.Bucket),
		Key:    aws.String(s.fullKey(key)),
	})
	if err != nil {
		return nil, err
	}
	return out.Body, nil
}

// FsOpenOutputStream opens a pipe whose write end the caller drives and
// whose read end feeds a PutObject call running on its own goroutine:
// the SDK's PutObject wants an io.Reader, not a stream it can be pushed
// into, so the pipe is the adapter between the two.
func (s *S3Backend) FsOpenOutputStream(ctx context.Context, key string) (io.WriteCloser, error) {
	pr, pw := io.Pipe()
	done := make(chan error, 1)
	go func() {
		_, err := s.Client.PutObject(ctx, &s3.PutObjectInput{
			Bucket: aws.String(s.Bucket),
			Key:    aws.String(s.fullKey(key)),
			Body:   pr,
		})
		_ = pr.CloseWithError(err)
		done <- err
	}()
	return &s3OutputStream{pw: pw, done: done}, nil
}

type s3OutputStream struct {
	pw   *io.PipeWriter
	done chan error
}

func (o *s3OutputStream) Write(p []byte) (int, error) { return o.pw.Write(p) }

func (o *s3OutputStream) Close() error {
	if err := o.pw.Close(); err != nil {
		return err
	}
	return <-o.done
}

func isNotFound(err error) bool {
	var nf *types.NoSuchKey
	if errors.As(err, &nf) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		code := apiErr.ErrorCode()
		return code == "NotFound" || code == "NoSuchKey"
	}
	return false
}

func httpRange(offset, size int64) string {
	return "bytes=" + strconv.FormatInt(offset, 10) + "-" + strconv.FormatInt(offset+size-1, 10)
}
