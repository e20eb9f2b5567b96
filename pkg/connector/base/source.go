package base

import (
	"context"
	"io"
	"path"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/ajitpratap0/datapkg/pkg/compression"
	"github.com/ajitpratap0/datapkg/pkg/connector/core"
	"github.com/ajitpratap0/datapkg/pkg/formats"
	"github.com/ajitpratap0/datapkg/pkg/packagefile"
)

// OpenAll opens every descriptor concurrently, at most concurrency at a time
// (unlimited when concurrency < 1). It returns only after every open has
// settled. The result is in descriptor order. If any open fails, streams
// that did open are closed and the first error is returned.
func OpenAll(ctx context.Context, descriptors []*core.StreamDescriptor, concurrency int) ([]*core.OpenedStream, error) {
	opened := make([]*core.OpenedStream, len(descriptors))

	g, gctx := errgroup.WithContext(ctx)
	if concurrency > 0 {
		g.SetLimit(concurrency)
	}
	for i, d := range descriptors {
		i, d := i, d
		g.Go(func() error {
			s, err := d.Open(gctx)
			if err != nil {
				return err
			}
			opened[i] = s
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		CloseAll(opened)
		return nil, err
	}
	return opened, nil
}

// CloseAll closes every non-nil stream and returns the first error.
func CloseAll(streams []*core.OpenedStream) error {
	var first error
	for _, s := range streams {
		if s == nil || s.Reader == nil {
			continue
		}
		if err := s.Reader.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// RecordStream decodes the records of an opened stream.
type RecordStream struct {
	formats.RecordReader
	Format      formats.Format
	Compression compression.Algorithm

	closers []io.Closer
}

// NewRecordStream detects the compression and format of an opened stream
// from its encoding, name and mime type and decodes it. Closing the
// RecordStream closes the opened stream.
func NewRecordStream(name string, s *core.OpenedStream, opts formats.ReaderOptions) (*RecordStream, error) {
	alg := compression.Detect(s.Encoding, name, s.MimeType)
	mime := s.MimeType
	if alg != compression.None {
		// the mime type describes the compressed container, not the records
		mime = ""
	}
	format, err := formats.Detect(compression.StripExtension(name, alg), mime)
	if err != nil {
		return nil, err
	}

	plain, err := compression.NewReader(s.Reader, alg)
	if err != nil {
		return nil, err
	}
	reader, err := formats.NewReader(plain, format, opts)
	if err != nil {
		plain.Close()
		return nil, err
	}
	return &RecordStream{
		RecordReader: reader,
		Format:       format,
		Compression:  alg,
		closers:      []io.Closer{reader, plain, s.Reader},
	}, nil
}

// Close releases the decoder, the codec and the underlying stream.
func (r *RecordStream) Close() error {
	var first error
	for _, c := range r.closers {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// StreamTitle is a file name without its compression and format
// extensions, e.g. "people" for "people.csv.gz". Schemas inferred from a
// stream are titled after it.
func StreamTitle(name string) string {
	n := compression.StripExtension(name, compression.Detect("", name, ""))
	if _, err := formats.Detect(n, ""); err == nil {
		n = strings.TrimSuffix(n, path.Ext(n))
	}
	return n
}

// StreamSetSlug names the stream set of a file after its title.
func StreamSetSlug(name string) string {
	if slug := packagefile.Slugify(StreamTitle(name)); slug != "" {
		return slug
	}
	return "stream"
}
