// Package session saves named snapshots of which backends were signed in,
// one JSON file per session, so a later run can report where work left off.
package session

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/nadalpiantini/omnidrive/pkg/cloud"
	"github.com/pkg/errors"
)

var ErrNotFound = errors.New("session not found")

const (
	filePrefix = "session_"
	fileSuffix = ".json"
)

// State is what a session remembers.
type State struct {
	SavedAt       time.Time       `json:"timestamp"`
	Authenticated map[string]bool `json:"authenticated"`
}

type record struct {
	Key       string    `json:"key"`
	Value     State     `json:"value"`
	Timestamp time.Time `json:"timestamp"`
}

type Summary struct {
	Name    string    `json:"name"`
	SavedAt time.Time `json:"saved_at"`
}

// Store keeps sessions as session_<name>.json files in one directory.
type Store struct {
	dir string
	now func() time.Time
}

func NewStore(dir string) *Store {
	return &Store{dir: dir, now: time.Now}
}

func (s *Store) Dir() string { return s.dir }

func validName(name string) error {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return errors.Errorf("invalid session name %q", name)
	}
	return nil
}

func (s *Store) path(name string) string {
	return filepath.Join(s.dir, filePrefix+name+fileSuffix)
}

// Save records authenticated under name, replacing any earlier session of
// that name.
func (s *Store) Save(name string, authenticated map[string]bool) (State, error) {
	if err := validName(name); err != nil {
		return State{}, err
	}
	state := State{SavedAt: s.now().UTC(), Authenticated: make(map[string]bool, len(authenticated))}
	for k, v := range authenticated {
		state.Authenticated[k] = v
	}
	data, err := json.MarshalIndent(record{Key: filePrefix + name, Value: state, Timestamp: state.SavedAt}, "", "  ")
	if err != nil {
		return State{}, errors.Wrap(err, "encode session")
	}
	if err := os.MkdirAll(s.dir, 0o700); err != nil {
		return State{}, errors.Wrap(err, "create sessions directory")
	}
	if err := cloud.WriteAtomic(s.path(name), bytes.NewReader(data)); err != nil {
		return State{}, errors.Wrapf(err, "save session '%s'", name)
	}
	return state, nil
}

func (s *Store) read(path string) (record, error) {
	var rec record
	data, err := os.ReadFile(path)
	if err != nil {
		return rec, err
	}
	if err := json.Unmarshal(data, &rec); err != nil {
		return rec, errors.Wrapf(err, "decode session %s", path)
	}
	return rec, nil
}

func (s *Store) Load(name string) (State, error) {
	if err := validName(name); err != nil {
		return State{}, err
	}
	rec, err := s.read(s.path(name))
	if os.IsNotExist(errors.Cause(err)) {
		return State{}, errors.Wrap(ErrNotFound, name)
	}
	if err != nil {
		return State{}, err
	}
	if rec.Value.Authenticated == nil {
		rec.Value.Authenticated = map[string]bool{}
	}
	return rec.Value, nil
}

// List returns every readable session, most recent first. A missing
// directory holds no sessions.
func (s *Store) List() ([]Summary, error) {
	entries, err := os.ReadDir(s.dir)
	if os.IsNotExist(err) {
		return []Summary{}, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "read sessions directory")
	}
	out := []Summary{}
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, filePrefix) || !strings.HasSuffix(name, fileSuffix) {
			continue
		}
		rec, err := s.read(filepath.Join(s.dir, name))
		if err != nil {
			continue
		}
		out = append(out, Summary{
			Name:    strings.TrimSuffix(strings.TrimPrefix(name, filePrefix), fileSuffix),
			SavedAt: rec.Timestamp,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].SavedAt.Equal(out[j].SavedAt) {
			return out[i].Name < out[j].Name
		}
		return out[i].SavedAt.After(out[j].SavedAt)
	})
	return out, nil
}

// Delete removes a session and reports whether it existed.
func (s *Store) Delete(name string) (bool, error) {
	if err := validName(name); err != nil {
		return false, err
	}
	err := os.Remove(s.path(name))
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, errors.Wrapf(err, "delete session '%s'", name)
	}
	return true, nil
}
