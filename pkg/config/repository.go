package config

import (
	"os"
	"sync"

	"github.com/ajitpratap0/datapkg/pkg/errors"
)

// RepositoryConfig is one saved connection to an external repository.
type RepositoryConfig struct {
	Identifier  string              `yaml:"identifier" json:"identifier"`
	Connection  Values              `yaml:"connection" json:"connection"`
	Credentials []CredentialsConfig `yaml:"credentials,omitempty" json:"credentials,omitempty"`
}

// CredentialsConfig is one named set of credentials for a repository.
type CredentialsConfig struct {
	Identifier string `yaml:"identifier" json:"identifier"`
	Values     Values `yaml:"values" json:"values"`
}

type repositoryDocument struct {
	Repositories map[string][]RepositoryConfig `yaml:"repositories"`
}

// RepositoryStore persists repository connections and credentials in a
// YAML document, grouped by connector type.
type RepositoryStore struct {
	path string
	mu   sync.Mutex
}

// NewRepositoryStore returns a store backed by path. The file is created on first save.
func NewRepositoryStore(path string) *RepositoryStore {
	return &RepositoryStore{path: path}
}

// Path returns the backing file.
func (s *RepositoryStore) Path() string { return s.path }

// ConfigsByType returns all saved repositories for a connector type.
func (s *RepositoryStore) ConfigsByType(connectorType string) ([]RepositoryConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.read()
	if err != nil {
		return nil, err
	}
	return doc.Repositories[connectorType], nil
}

// Find returns the repository with the given identifier.
func (s *RepositoryStore) Find(connectorType, identifier string) (RepositoryConfig, bool, error) {
	configs, err := s.ConfigsByType(connectorType)
	if err != nil {
		return RepositoryConfig{}, false, err
	}
	for _, c := range configs {
		if c.Identifier == identifier {
			return c, true, nil
		}
	}
	return RepositoryConfig{}, false, nil
}

// Credentials returns the named credentials of a repository.
func (s *RepositoryStore) Credentials(connectorType, repositoryID, credentialsID string) (Values, bool, error) {
	repo, ok, err := s.Find(connectorType, repositoryID)
	if err != nil || !ok {
		return nil, false, err
	}
	for _, c := range repo.Credentials {
		if c.Identifier == credentialsID {
			return c.Values, true, nil
		}
	}
	return nil, false, nil
}

// Save inserts or replaces the repository with the same identifier. Credentials
// of an existing entry are merged by identifier.
func (s *RepositoryStore) Save(connectorType string, repo RepositoryConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.read()
	if err != nil {
		return err
	}
	if doc.Repositories == nil {
		doc.Repositories = make(map[string][]RepositoryConfig)
	}

	list := doc.Repositories[connectorType]
	replaced := false
	for i := range list {
		if list[i].Identifier != repo.Identifier {
			continue
		}
		list[i].Connection = repo.Connection
		list[i].Credentials = mergeCredentials(list[i].Credentials, repo.Credentials)
		replaced = true
		break
	}
	if !replaced {
		list = append(list, repo)
	}
	doc.Repositories[connectorType] = list

	if err := Save(s.path, doc); err != nil {
		return errors.Wrap(err, errors.ErrorTypeFile, "failed to save repository configuration")
	}
	return nil
}

func (s *RepositoryStore) read() (*repositoryDocument, error) {
	doc := &repositoryDocument{}
	if _, err := os.Stat(s.path); os.IsNotExist(err) {
		return doc, nil
	}
	if err := Load(s.path, doc); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to read repository configuration").
			WithDetail("path", s.path)
	}
	return doc, nil
}

func mergeCredentials(existing, incoming []CredentialsConfig) []CredentialsConfig {
	out := append([]CredentialsConfig(nil), existing...)
	for _, in := range incoming {
		found := false
		for i := range out {
			if out[i].Identifier == in.Identifier {
				out[i] = in
				found = true
				break
			}
		}
		if !found {
			out = append(out, in)
		}
	}
	return out
}
