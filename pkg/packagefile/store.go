package packagefile

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/ajitpratap0/datapkg/pkg/errors"
)

// Permission is an action on a package.
type Permission string

const (
	PermissionView   Permission = "VIEW"
	PermissionEdit   Permission = "EDIT"
	PermissionManage Permission = "MANAGE"
)

// PermissionStatus is the outcome of a permission check.
type PermissionStatus string

const (
	PermissionGranted    PermissionStatus = "GRANTED"
	NotAuthorized        PermissionStatus = "NOT_AUTHORIZED"
	NotAuthenticated     PermissionStatus = "NOT_AUTHENTICATED"
	PermissionNotChecked PermissionStatus = "NOT_CHECKED"
)

// PermissionChecker checks what the current user may do with a package.
type PermissionChecker interface {
	CheckPermission(ctx context.Context, catalogSlug, packageSlug string, permission Permission) (PermissionStatus, error)
}

// PermissionCheckerFunc adapts a function to PermissionChecker.
type PermissionCheckerFunc func(ctx context.Context, catalogSlug, packageSlug string, permission Permission) (PermissionStatus, error)

func (f PermissionCheckerFunc) CheckPermission(ctx context.Context, catalogSlug, packageSlug string, permission Permission) (PermissionStatus, error) {
	return f(ctx, catalogSlug, packageSlug, permission)
}

// AllowAll grants every permission. Local package files have no owner
// besides the file system.
var AllowAll PermissionChecker = PermissionCheckerFunc(func(context.Context, string, string, Permission) (PermissionStatus, error) {
	return PermissionGranted, nil
})

// Loaded is a package file together with where it came from.
type Loaded struct {
	File     *PackageFile
	Location string
	// PermitsSaving is false for read-only locations, e.g. a package
	// fetched over the network.
	PermitsSaving bool
	// HasPermissionToSave is false when the location is known but the
	// current user may not write it.
	HasPermissionToSave bool
}

// PackageStore loads and saves package files by reference.
type PackageStore interface {
	Find(ctx context.Context, reference string) (*Loaded, error)
	Save(ctx context.Context, loaded *Loaded) error
}

// FileStore resolves references to package files on local disk. A reference
// is either a file path or a directory holding exactly one package file.
type FileStore struct {
	logger *zap.Logger
}

// NewFileStore creates a store logging to logger.
func NewFileStore(logger *zap.Logger) *FileStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FileStore{logger: logger}
}

var _ PackageStore = (*FileStore)(nil)

// Find loads the package file a reference points at.
func (s *FileStore) Find(ctx context.Context, reference string) (*Loaded, error) {
	path, err := s.resolve(reference)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsPermission(err) {
			return nil, errors.Wrap(err, errors.ErrorTypePermission, "cannot read package file").WithDetail("path", path)
		}
		return nil, errors.Wrap(err, errors.ErrorTypeFile, "failed to read package file").WithDetail("path", path)
	}
	pf, err := Parse(data)
	if err != nil {
		return nil, err
	}
	writable := isWritable(path)
	s.logger.Debug("package file loaded",
		zap.String("path", path),
		zap.String("package", pf.PackageSlug),
		zap.String("version", pf.Version),
		zap.Bool("writable", writable))
	return &Loaded{File: pf, Location: path, PermitsSaving: true, HasPermissionToSave: writable}, nil
}

// Save writes the package file back to its location, atomically.
func (s *FileStore) Save(ctx context.Context, loaded *Loaded) error {
	if !loaded.PermitsSaving {
		return errors.New(errors.ErrorTypePermission, fmt.Sprintf("%s does not permit saving", loaded.Location))
	}
	if err := loaded.File.Validate(); err != nil {
		return err
	}
	data, err := loaded.File.Encode()
	if err != nil {
		return err
	}
	tmp := loaded.Location + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		if os.IsPermission(err) {
			return errors.Wrap(err, errors.ErrorTypePermission, "cannot write package file").WithDetail("path", loaded.Location)
		}
		return errors.Wrap(err, errors.ErrorTypeFile, "failed to write package file").WithDetail("path", loaded.Location)
	}
	if err := os.Rename(tmp, loaded.Location); err != nil {
		return errors.Wrap(err, errors.ErrorTypeFile, "failed to replace package file").WithDetail("path", loaded.Location)
	}
	s.logger.Info("package file saved", zap.String("path", loaded.Location), zap.String("version", loaded.File.Version))
	return nil
}

func (s *FileStore) resolve(reference string) (string, error) {
	reference = strings.TrimSpace(reference)
	if reference == "" {
		return "", errors.New(errors.ErrorTypeConfig, "package reference is required")
	}
	if strings.HasPrefix(reference, "http://") || strings.HasPrefix(reference, "https://") {
		return "", errors.New(errors.ErrorTypeConfig, "registry references are not supported, use a local package file").
			WithDetail("reference", reference)
	}

	info, err := os.Stat(reference)
	if os.IsNotExist(err) {
		return "", errors.Wrap(err, errors.ErrorTypeNotFound, fmt.Sprintf("package file %s not found", reference))
	}
	if err != nil {
		return "", errors.Wrap(err, errors.ErrorTypeFile, "failed to stat package reference")
	}
	if !info.IsDir() {
		return reference, nil
	}

	matches, err := filepath.Glob(filepath.Join(reference, "*"+Extension))
	if err != nil {
		return "", errors.Wrap(err, errors.ErrorTypeInternal, "failed to list package files")
	}
	switch len(matches) {
	case 0:
		return "", errors.New(errors.ErrorTypeNotFound, fmt.Sprintf("no package file in %s", reference))
	case 1:
		return matches[0], nil
	default:
		return "", errors.New(errors.ErrorTypeConfig, fmt.Sprintf("more than one package file in %s", reference)).
			WithDetail("files", matches)
	}
}

// FileName is the conventional file name of a package file.
func FileName(packageSlug string) string {
	return packageSlug + Extension
}

func isWritable(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	if info.Mode().Perm()&0o200 == 0 {
		return false
	}
	f, err := os.OpenFile(path, os.O_WRONLY, 0)
	if err != nil {
		return false
	}
	f.Close()
	return true
}
