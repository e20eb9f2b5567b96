// Package file implements a source over local files. Paths may name files,
// directories (every regular file below them) or glob patterns.
package file

import (
	"context"
	"fmt"
	"io/fs"
	"mime"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/ajitpratap0/datapkg/pkg/config"
	"github.com/ajitpratap0/datapkg/pkg/connector/base"
	"github.com/ajitpratap0/datapkg/pkg/connector/core"
	"github.com/ajitpratap0/datapkg/pkg/errors"
)

// Type is the registry name of the source.
const Type = "file"

// Source discovers local files.
type Source struct {
	logger *zap.Logger
}

// NewSource creates a file source.
func NewSource(logger *zap.Logger) (core.Source, error) {
	return &Source{logger: logger}, nil
}

// Type implements core.Source.
func (s *Source) Type() string { return Type }

// RepositoryIdentifier is always "local"; local files need no saved connection.
func (s *Source) RepositoryIdentifier(connection config.Values) (string, error) {
	if len(connection.GetStrings("paths")) == 0 {
		return "", errors.New(errors.ErrorTypeConfig, "the file source requires at least one path")
	}
	return "local", nil
}

// Discover stats the configured paths. Each file is fingerprinted by its
// modification time and size. Hidden files below directories are skipped.
func (s *Source) Discover(ctx context.Context, connection, credentials, configuration config.Values) ([]*core.StreamDescriptor, error) {
	patterns := connection.GetStrings("paths")
	if len(patterns) == 0 {
		return nil, errors.New(errors.ErrorTypeConfig, "the file source requires at least one path")
	}

	var files []string
	seen := map[string]bool{}
	add := func(p string) {
		if abs, err := filepath.Abs(p); err == nil {
			p = abs
		}
		if !seen[p] {
			seen[p] = true
			files = append(files, p)
		}
	}

	for _, pattern := range patterns {
		matches, err := filepath.Glob(pattern)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeConfig, fmt.Sprintf("invalid path pattern %q", pattern))
		}
		if len(matches) == 0 {
			return nil, errors.New(errors.ErrorTypeNotFound, fmt.Sprintf("no files match %q", pattern)).
				WithDetail("path", pattern)
		}
		for _, m := range matches {
			expanded, err := expand(ctx, m)
			if err != nil {
				return nil, err
			}
			for _, f := range expanded {
				add(f)
			}
		}
	}

	descriptors := make([]*core.StreamDescriptor, 0, len(files))
	for _, f := range files {
		info, err := os.Stat(f)
		if err != nil {
			return nil, statError(err, f)
		}
		name := filepath.Base(f)
		d := core.NewStreamDescriptor(name, f, base.StreamSetSlug(name), opener(f))
		d.Size = info.Size()
		d.MimeType = mime.TypeByExtension(filepath.Ext(name))
		d.Fingerprint = Fingerprint(info)
		descriptors = append(descriptors, d)
	}
	s.logger.Debug("discovered files", zap.Int("count", len(descriptors)))
	return descriptors, nil
}

// Fingerprint identifies a version of a file by modification time and size.
func Fingerprint(info fs.FileInfo) string {
	return info.ModTime().UTC().Format(time.RFC3339Nano) + "/" + strconv.FormatInt(info.Size(), 10)
}

func expand(ctx context.Context, p string) ([]string, error) {
	info, err := os.Stat(p)
	if err != nil {
		return nil, statError(err, p)
	}
	if !info.IsDir() {
		return []string{p}, nil
	}

	var out []string
	err = filepath.WalkDir(p, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if path != p && d.Name()[0] == '.' {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.Type().IsRegular() {
			out = append(out, path)
		}
		return nil
	})
	if err != nil {
		return nil, statError(err, p)
	}
	sort.Strings(out)
	return out, nil
}

func opener(path string) core.Opener {
	return func(ctx context.Context) (*core.OpenedStream, error) {
		f, err := os.Open(path)
		if err != nil {
			return nil, statError(err, path)
		}
		info, err := f.Stat()
		if err != nil {
			f.Close()
			return nil, statError(err, path)
		}
		return &core.OpenedStream{
			Reader:      f,
			Size:        info.Size(),
			Fingerprint: Fingerprint(info),
		}, nil
	}
}

func statError(err error, path string) error {
	switch {
	case os.IsNotExist(err):
		return errors.Wrap(err, errors.ErrorTypeNotFound, "file not found").WithDetail("path", path)
	case os.IsPermission(err):
		return errors.Wrap(err, errors.ErrorTypePermission, "file not readable").WithDetail("path", path)
	default:
		return errors.Wrap(err, errors.ErrorTypeFile, "failed to read file").WithDetail("path", path)
	}
}
