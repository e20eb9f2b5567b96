package base

import (
	"context"
	"io"
	"os"
	"path/filepath"

	"github.com/ajitpratap0/datapkg/pkg/compression"
	"github.com/ajitpratap0/datapkg/pkg/connector/core"
	"github.com/ajitpratap0/datapkg/pkg/errors"
	"github.com/ajitpratap0/datapkg/pkg/formats"
)

// ArtifactOptions describe how records are serialized into an artifact.
type ArtifactOptions struct {
	Format      formats.Format
	Compression compression.Algorithm
	Level       compression.Level
	Columns     []string
	ColumnTypes map[string]core.ColumnType
	RecordName  string
	// SkipHeader is set when the artifact continues an existing CSV file
	SkipHeader bool
}

// ArtifactWriter serializes records into a local file through the
// configured compression codec.
type ArtifactWriter struct {
	path    string
	file    *os.File
	counter *countingWriter
	codec   io.WriteCloser
	encoder formats.RecordEncoder
	records int64
	closed  bool
}

// CreateArtifact truncates or creates the file at path, creating parent
// directories as needed.
func CreateArtifact(path string, opts ArtifactOptions) (*ArtifactWriter, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeFile, "failed to create artifact directory").
			WithDetail("path", path)
	}
	file, err := os.Create(path)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeFile, "failed to create artifact").WithDetail("path", path)
	}

	counter := &countingWriter{w: file}
	codec, err := compression.NewWriter(counter, opts.Compression, opts.Level)
	if err != nil {
		file.Close()
		os.Remove(path)
		return nil, err
	}
	encoder, err := formats.NewEncoder(codec, opts.Format, formats.EncoderOptions{
		Columns:     opts.Columns,
		ColumnTypes: opts.ColumnTypes,
		SkipHeader:  opts.SkipHeader,
		RecordName:  opts.RecordName,
	})
	if err != nil {
		codec.Close()
		file.Close()
		os.Remove(path)
		return nil, err
	}

	return &ArtifactWriter{path: path, file: file, counter: counter, codec: codec, encoder: encoder}, nil
}

// Path returns the artifact's location.
func (a *ArtifactWriter) Path() string { return a.path }

// Records returns the number of records written.
func (a *ArtifactWriter) Records() int64 { return a.records }

// Bytes returns the bytes written to disk so far. It is exact after Close.
func (a *ArtifactWriter) Bytes() int64 { return a.counter.n }

// Write serializes one record.
func (a *ArtifactWriter) Write(record *core.Record) error {
	if a.closed {
		return errors.New(errors.ErrorTypeInternal, "write to closed artifact")
	}
	if err := a.encoder.Encode(record); err != nil {
		return err
	}
	a.records++
	return nil
}

// Close flushes the encoder and codec and closes the file. It may be called
// more than once.
func (a *ArtifactWriter) Close() error {
	if a.closed {
		return nil
	}
	a.closed = true

	encErr := a.encoder.Close()
	codecErr := a.codec.Close()
	fileErr := a.file.Close()
	for _, err := range []error{encErr, codecErr, fileErr} {
		if err != nil {
			return errors.Wrap(err, errors.ErrorTypeFile, "failed to finish artifact").WithDetail("path", a.path)
		}
	}
	return nil
}

// Discard closes and removes the artifact.
func (a *ArtifactWriter) Discard() error {
	a.Close()
	if err := os.Remove(a.path); err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, errors.ErrorTypeFile, "failed to remove artifact").WithDetail("path", a.path)
	}
	return nil
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}

// LocalUploader relocates artifacts within the local file system: it copies
// the scratch file over the destination, or appends its bytes to the
// destination when the target appends.
type LocalUploader struct {
	Dir string
}

// Upload implements Uploader. The scratch file is left for the caller to
// remove once Upload succeeds.
func (l LocalUploader) Upload(ctx context.Context, localPath, key string, target core.WriteTarget) (string, error) {
	dest := filepath.Join(l.Dir, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return "", errors.Wrap(err, errors.ErrorTypeFile, "failed to create output directory").WithDetail("path", dest)
	}
	flag := os.O_CREATE | os.O_TRUNC | os.O_WRONLY
	if target.Append {
		flag = os.O_CREATE | os.O_APPEND | os.O_WRONLY
	}
	if err := copyFile(localPath, dest, flag); err != nil {
		return "", err
	}
	return dest, nil
}

func copyFile(src, dest string, flag int) error {
	in, err := os.Open(src)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeFile, "failed to open artifact").WithDetail("path", src)
	}
	defer in.Close()

	out, err := os.OpenFile(dest, flag, 0o644)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeFile, "failed to open output").WithDetail("path", dest)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return errors.Wrap(err, errors.ErrorTypeFile, "failed to write output").WithDetail("path", dest)
	}
	if err := out.Close(); err != nil {
		return errors.Wrap(err, errors.ErrorTypeFile, "failed to close output").WithDetail("path", dest)
	}
	return nil
}

// FileHasContent reports whether path exists and is not empty.
func FileHasContent(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Size() > 0
}
