// Package state holds the resumable delivery state a sink keeps between runs.
//
// A SinkState is keyed by catalog slug, package slug and major version, so a
// breaking change starts delivery over in a fresh state document.
package state

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	json "github.com/goccy/go-json"

	"github.com/ajitpratap0/datapkg/pkg/errors"
)

// NoCatalog stands in for an empty catalog slug in names and paths.
const NoCatalog = "_no-catalog"

// Key identifies one state document.
type Key struct {
	CatalogSlug  string `json:"catalogSlug"`
	PackageSlug  string `json:"packageSlug"`
	MajorVersion uint64 `json:"majorVersion"`
}

func (k Key) catalog() string {
	if k.CatalogSlug == "" {
		return NoCatalog
	}
	return k.CatalogSlug
}

// FileName is "<catalog>-<package>-<major>-state.json".
func (k Key) FileName() string {
	return fmt.Sprintf("%s-%s-%d-state.json", k.catalog(), k.PackageSlug, k.MajorVersion)
}

func (k Key) String() string {
	return fmt.Sprintf("%s/%s@%d", k.catalog(), k.PackageSlug, k.MajorVersion)
}

// StreamState records what has been delivered for one stream.
type StreamState struct {
	Fingerprint string    `json:"fingerprint"`
	Offset      int64     `json:"offset"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// StreamSetState groups stream states by stream name.
type StreamSetState struct {
	UpdateMethod string                  `json:"updateMethod"`
	Streams      map[string]*StreamState `json:"streams"`
}

// SinkState is the persisted document.
type SinkState struct {
	Key            Key                        `json:"key"`
	PackageVersion string                     `json:"packageVersion,omitempty"`
	StreamSets     map[string]*StreamSetState `json:"streamSets"`
	CreatedAt      time.Time                  `json:"createdAt"`
	UpdatedAt      time.Time                  `json:"updatedAt"`
}

// New returns an empty state for key.
func New(key Key) *SinkState {
	now := time.Now().UTC()
	return &SinkState{Key: key, StreamSets: map[string]*StreamSetState{}, CreatedAt: now, UpdatedAt: now}
}

// Stream returns the delivered state of one stream.
func (s *SinkState) Stream(streamSet, stream string) (StreamState, bool) {
	if s == nil {
		return StreamState{}, false
	}
	set, ok := s.StreamSets[streamSet]
	if !ok {
		return StreamState{}, false
	}
	st, ok := set.Streams[stream]
	if !ok {
		return StreamState{}, false
	}
	return *st, true
}

// UpdateMethod returns the update method last used for a stream set.
func (s *SinkState) UpdateMethod(streamSet string) string {
	if s == nil {
		return ""
	}
	if set, ok := s.StreamSets[streamSet]; ok {
		return set.UpdateMethod
	}
	return ""
}

// Record stores the delivered state of one stream.
func (s *SinkState) Record(streamSet, updateMethod, stream string, st StreamState) {
	set, ok := s.StreamSets[streamSet]
	if !ok {
		set = &StreamSetState{Streams: map[string]*StreamState{}}
		s.StreamSets[streamSet] = set
	}
	set.UpdateMethod = updateMethod
	if st.UpdatedAt.IsZero() {
		st.UpdatedAt = time.Now().UTC()
	}
	set.Streams[stream] = &st
	s.UpdatedAt = st.UpdatedAt
}

// SetUpdateMethod changes the update method of a stream set, keeping what
// was delivered for its streams.
func (s *SinkState) SetUpdateMethod(streamSet, updateMethod string) {
	if set, ok := s.StreamSets[streamSet]; ok {
		set.UpdateMethod = updateMethod
	}
}

// Reset forgets everything delivered for a stream set.
func (s *SinkState) Reset(streamSet string) {
	delete(s.StreamSets, streamSet)
}

// Encode serializes the state.
func (s *SinkState) Encode() ([]byte, error) {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeInternal, "failed to encode sink state")
	}
	return data, nil
}

// Decode parses a state blob. A nil or empty blob yields nil, meaning first run.
func Decode(blob []byte) (*SinkState, error) {
	if len(blob) == 0 {
		return nil, nil
	}
	s := &SinkState{}
	if err := json.Unmarshal(blob, s); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeFormat, "failed to decode sink state")
	}
	if s.StreamSets == nil {
		s.StreamSets = map[string]*StreamSetState{}
	}
	return s, nil
}

// FileStore keeps state documents as files in a directory.
type FileStore struct {
	Dir string
}

// Read returns the blob for key, or nil when none exists.
func (f FileStore) Read(key Key) ([]byte, error) {
	data, err := os.ReadFile(filepath.Join(f.Dir, key.FileName()))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeFile, "failed to read sink state").WithDetail("key", key.String())
	}
	return data, nil
}

// Write replaces the blob for key atomically.
func (f FileStore) Write(key Key, blob []byte) error {
	if err := os.MkdirAll(f.Dir, 0o755); err != nil {
		return errors.Wrap(err, errors.ErrorTypeFile, "failed to create state directory")
	}
	target := filepath.Join(f.Dir, key.FileName())
	tmp := target + ".tmp"
	if err := os.WriteFile(tmp, blob, 0o644); err != nil {
		return errors.Wrap(err, errors.ErrorTypeFile, "failed to write sink state")
	}
	if err := os.Rename(tmp, target); err != nil {
		return errors.Wrap(err, errors.ErrorTypeFile, "failed to replace sink state")
	}
	return nil
}
