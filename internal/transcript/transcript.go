// Package transcript opens the shell transcript a tree is built from: a local
// file, standard input, or an S3 object.
package transcript

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"go.uber.org/zap"

	"github.com/lsfs/lsfs/internal/logging"
	"github.com/lsfs/lsfs/internal/metrics"
	"github.com/lsfs/lsfs/internal/storage/s3"
)

// Stdin is the location that reads the transcript from standard input.
const Stdin = "-"

const s3Scheme = "s3://"

// ErrBadLocation is returned for malformed s3:// locations.
var ErrBadLocation = errors.New("bad transcript location")

// Getter fetches an object. *s3.Backend implements it.
type Getter interface {
	GetObject(ctx context.Context, bucket, key string) (io.ReadCloser, int64, error)
}

// Options controls how non-local locations are opened.
type Options struct {
	// S3 configures the client built for s3:// locations when Objects is nil.
	S3 s3.BackendConfig
	// Objects overrides the S3 client.
	Objects Getter
	// Stdin overrides os.Stdin.
	Stdin io.Reader
}

// Location is a parsed transcript location.
type Location struct {
	Kind   string // "stdin", "s3" or "file"
	Path   string
	Bucket string
	Key    string
}

func (l Location) String() string {
	switch l.Kind {
	case "stdin":
		return Stdin
	case "s3":
		return s3Scheme + l.Bucket + "/" + l.Key
	default:
		return l.Path
	}
}

// ParseLocation classifies raw.
func ParseLocation(raw string) (Location, error) {
	switch {
	case raw == "":
		return Location{}, fmt.Errorf("%w: empty", ErrBadLocation)
	case raw == Stdin:
		return Location{Kind: "stdin"}, nil
	case strings.HasPrefix(raw, s3Scheme):
		bucket, key, ok := strings.Cut(strings.TrimPrefix(raw, s3Scheme), "/")
		if !ok || bucket == "" || key == "" {
			return Location{}, fmt.Errorf("%w: %q needs the form s3://bucket/key", ErrBadLocation, raw)
		}
		return Location{Kind: "s3", Bucket: bucket, Key: key}, nil
	default:
		return Location{Kind: "file", Path: raw}, nil
	}
}

// Open opens the transcript at raw. Bytes read through the returned reader
// are counted in the transcript metrics.
func Open(ctx context.Context, raw string, opts Options) (io.ReadCloser, error) {
	loc, err := ParseLocation(raw)
	if err != nil {
		return nil, err
	}

	var rc io.ReadCloser
	switch loc.Kind {
	case "stdin":
		in := opts.Stdin
		if in == nil {
			in = os.Stdin
		}
		rc = io.NopCloser(in)
	case "s3":
		objects := opts.Objects
		if objects == nil {
			backend, err := s3.NewBackend(ctx, opts.S3)
			if err != nil {
				return nil, err
			}
			objects = backend
		}
		body, _, err := objects.GetObject(ctx, loc.Bucket, loc.Key)
		if err != nil {
			return nil, err
		}
		rc = body
	default:
		f, err := os.Open(loc.Path)
		if err != nil {
			return nil, fmt.Errorf("open transcript: %w", err)
		}
		rc = f
	}

	logging.Debug("opened transcript", zap.Stringer("location", loc))
	return &countingReader{rc: rc}, nil
}

type countingReader struct {
	rc io.ReadCloser
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.rc.Read(p)
	metrics.AddTranscriptBytes(n)
	return n, err
}

func (c *countingReader) Close() error {
	return c.rc.Close()
}
