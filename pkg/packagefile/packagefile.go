// Package packagefile reads and writes package files, the versioned JSON
// documents describing a data package: its schemas, the sources they were
// inferred from and free text metadata.
package packagefile

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/Masterminds/semver"
	json "github.com/goccy/go-json"

	"github.com/ajitpratap0/datapkg/pkg/config"
	"github.com/ajitpratap0/datapkg/pkg/errors"
	"github.com/ajitpratap0/datapkg/pkg/schema"
)

// SchemaURL identifies the package file format version.
const SchemaURL = "https://datapkg.io/schemas/package-file-v1.json"

// Extension is the suffix of package file names.
const Extension = ".datapkg.json"

// StreamStats counts what was read from a stream set during inspection.
type StreamStats struct {
	InspectedCount int64 `json:"inspectedCount"`
	ByteCount      int64 `json:"byteCount,omitempty"`
	// ByteCountPrecise is false when some stream sizes were unknown
	ByteCountPrecise bool `json:"byteCountPrecise"`
}

// StreamSet is a group of streams inspected together.
type StreamSet struct {
	Slug          string        `json:"slug"`
	Configuration config.Values `json:"configuration,omitempty"`
	SchemaTitles  []string      `json:"schemaTitles"`
	// LastUpdateHash summarizes the stream fingerprints at inspection time
	LastUpdateHash string      `json:"lastUpdateHash,omitempty"`
	StreamStats    StreamStats `json:"streamStats"`
	UpdateMethods  []string    `json:"updateMethods,omitempty"`
}

// Source is one configured repository the package reads from.
type Source struct {
	Slug                    string        `json:"slug"`
	Type                    string        `json:"type"`
	ConnectionConfiguration config.Values `json:"connectionConfiguration"`
	CredentialsIdentifier   string        `json:"credentialsIdentifier,omitempty"`
	Configuration           config.Values `json:"configuration,omitempty"`
	StreamSets              []*StreamSet  `json:"streamSets"`
}

// StreamSet finds a stream set by slug.
func (s *Source) StreamSet(slug string) *StreamSet {
	for _, set := range s.StreamSets {
		if set.Slug == slug {
			return set
		}
	}
	return nil
}

// PackageFile is the package descriptor.
type PackageFile struct {
	Schema             string           `json:"$schema"`
	PackageSlug        string           `json:"packageSlug"`
	CatalogSlug        string           `json:"catalogSlug,omitempty"`
	DisplayName        string           `json:"displayName"`
	Description        string           `json:"description"`
	Version            string           `json:"version"`
	UpdatedDate        time.Time        `json:"updatedDate"`
	Canonical          bool             `json:"canonical"`
	ModifiedProperties []string         `json:"modifiedProperties,omitempty"`
	Readme             string           `json:"readme,omitempty"`
	License            string           `json:"license,omitempty"`
	Schemas            []*schema.Schema `json:"schemas"`
	Sources            []*Source        `json:"sources"`
}

// New creates an empty canonical package file at version 1.0.0.
func New(catalogSlug, packageSlug, displayName string) *PackageFile {
	return &PackageFile{
		Schema:      SchemaURL,
		CatalogSlug: catalogSlug,
		PackageSlug: packageSlug,
		DisplayName: displayName,
		Version:     "1.0.0",
		UpdatedDate: time.Now().UTC(),
		Canonical:   true,
		Schemas:     []*schema.Schema{},
		Sources:     []*Source{},
	}
}

// Parse decodes and validates a package file.
func Parse(data []byte) (*PackageFile, error) {
	pf := &PackageFile{}
	if err := json.Unmarshal(data, pf); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeFormat, "package file is not valid JSON")
	}
	if err := pf.Validate(); err != nil {
		return nil, err
	}
	return pf, nil
}

// Encode serializes the package file with stable indentation.
func (p *PackageFile) Encode() ([]byte, error) {
	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeInternal, "failed to encode package file")
	}
	return append(data, '\n'), nil
}

// Clone returns a deep copy.
func (p *PackageFile) Clone() (*PackageFile, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeInternal, "failed to copy package file")
	}
	out := &PackageFile{}
	if err := json.Unmarshal(data, out); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeInternal, "failed to copy package file")
	}
	return out, nil
}

// Validate checks slugs, the version and schema titles.
func (p *PackageFile) Validate() error {
	if err := ValidatePackageSlug(p.PackageSlug); err != nil {
		return err
	}
	if p.CatalogSlug != "" {
		if err := ValidateCatalogSlug(p.CatalogSlug); err != nil {
			return err
		}
	}
	if _, err := p.SemVer(); err != nil {
		return err
	}
	seen := make(map[string]bool, len(p.Schemas))
	for _, s := range p.Schemas {
		if s.Title == "" {
			return errors.New(errors.ErrorTypeValidation, "schema without a title")
		}
		if seen[s.Title] {
			return errors.New(errors.ErrorTypeValidation, fmt.Sprintf("duplicate schema title %q", s.Title))
		}
		seen[s.Title] = true
	}
	return nil
}

// SemVer parses the package version.
func (p *PackageFile) SemVer() (*semver.Version, error) {
	v, err := semver.NewVersion(p.Version)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeValidation, fmt.Sprintf("invalid package version %q", p.Version))
	}
	return v, nil
}

// MajorVersion returns the major component of the version, 0 if invalid.
func (p *PackageFile) MajorVersion() uint64 {
	v, err := p.SemVer()
	if err != nil {
		return 0
	}
	return uint64(v.Major())
}

// SchemaByTitle finds a schema by title.
func (p *PackageFile) SchemaByTitle(title string) *schema.Schema {
	for _, s := range p.Schemas {
		if s.Title == title {
			return s
		}
	}
	return nil
}

// Source finds a source by slug.
func (p *PackageFile) Source(slug string) *Source {
	for _, s := range p.Sources {
		if s.Slug == slug {
			return s
		}
	}
	return nil
}

// UpdateHash summarizes stream fingerprints keyed by stream name. It is
// independent of discovery order and empty when any fingerprint is unknown,
// so a stream set without fingerprints is never considered unchanged.
func UpdateHash(fingerprints map[string]string) string {
	if len(fingerprints) == 0 {
		return ""
	}
	names := make([]string, 0, len(fingerprints))
	for name, fp := range fingerprints {
		if fp == "" {
			return ""
		}
		names = append(names, name)
	}
	sort.Strings(names)

	h := sha256.New()
	for _, name := range names {
		h.Write([]byte(name))
		h.Write([]byte{0})
		h.Write([]byte(fingerprints[name]))
		h.Write([]byte{'\n'})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// DisplayNameFromSlug turns "us-census_2020" into "Us Census 2020".
func DisplayNameFromSlug(slug string) string {
	words := strings.FieldsFunc(slug, func(r rune) bool { return r == '-' || r == '_' || r == '.' })
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}
