// Package auth persists backend tokens and runs the interactive logins the
// service factory triggers.
package auth

import (
	"bytes"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/nadalpiantini/omnidrive/pkg/cloud"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

type entry struct {
	Token     string    `yaml:"token"`
	UpdatedAt time.Time `yaml:"updated_at"`
}

type credentialsFile struct {
	Services map[string]entry `yaml:"services"`
}

// Store keeps one token per backend in a YAML file readable only by the
// owner. Every call re-reads the file so concurrent CLI invocations see each
// other's logins.
type Store struct {
	path string
	mu   sync.Mutex
}

var _ cloud.TokenStore = (*Store)(nil)

func NewStore(path string) *Store {
	return &Store{path: path}
}

func (s *Store) Path() string { return s.path }

func (s *Store) load() (credentialsFile, error) {
	file := credentialsFile{Services: map[string]entry{}}
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return file, nil
	}
	if err != nil {
		return file, errors.Wrap(err, "read credentials")
	}
	if err := yaml.Unmarshal(data, &file); err != nil {
		return file, errors.Wrapf(err, "parse credentials %s", s.path)
	}
	if file.Services == nil {
		file.Services = map[string]entry{}
	}
	return file, nil
}

func (s *Store) save(file credentialsFile) error {
	data, err := yaml.Marshal(file)
	if err != nil {
		return errors.Wrap(err, "encode credentials")
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return errors.Wrap(err, "create credentials directory")
	}
	return cloud.WriteAtomic(s.path, bytes.NewReader(data))
}

// Token returns the stored token for service, or "" when there is none or
// the file cannot be read.
func (s *Store) Token(service string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	file, err := s.load()
	if err != nil {
		return ""
	}
	return file.Services[service].Token
}

func (s *Store) SaveToken(service, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	file, err := s.load()
	if err != nil {
		return err
	}
	file.Services[service] = entry{Token: token, UpdatedAt: time.Now().UTC()}
	return s.save(file)
}

// Delete forgets the token for service and reports whether one was stored.
func (s *Store) Delete(service string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	file, err := s.load()
	if err != nil {
		return false, err
	}
	if _, ok := file.Services[service]; !ok {
		return false, nil
	}
	delete(file.Services, service)
	return true, s.save(file)
}

// Services lists the backends with a stored token, sorted.
func (s *Store) Services() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	file, err := s.load()
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(file.Services))
	for name := range file.Services {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}
