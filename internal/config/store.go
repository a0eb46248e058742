// internal/config/store.go
//
// The profile store persists the whole collection of sealed profiles as one
// JSON document. Reads degrade to an empty collection when the file is
// missing or corrupt so a damaged local store never blocks the UI from
// starting; writes replace the whole collection atomically and are guarded
// by a version stamp against lost updates.

package config

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"

	"sshdeck/internal/apperr"
	"sshdeck/internal/logging"
	"sshdeck/internal/models"
)

const (
	DefaultProfilesFileName = "profiles.json"
	DefaultConfigDir        = ".config/sshdeck"
	DefaultFilePerms        = 0600
)

type storeFile struct {
	Version  int                    `json:"version"`
	Profiles []models.SealedProfile `json:"profiles"`
}

// Store is an explicitly injected handle to the profile collection on disk.
// All mutating operations re-read the file under the store lock, apply the
// change and write back with an incremented version, so concurrent callers
// sharing one Store never lose each other's updates.
type Store struct {
	path string
	log  *logging.Log
	mu   sync.Mutex
}

// NewStore creates a store backed by the given file path. An empty path
// falls back to the default location under the user's home directory.
func NewStore(path string, log *logging.Log) *Store {
	if path == "" {
		if def, err := DefaultProfilesPath(); err == nil {
			path = def
		} else {
			path = DefaultProfilesFileName
		}
	}
	return &Store{path: path, log: log}
}

func DefaultProfilesPath() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", apperr.New(apperr.Storage, "could not get home directory", err)
	}
	return filepath.Join(homeDir, DefaultConfigDir, DefaultProfilesFileName), nil
}

// Path returns the backing file path.
func (s *Store) Path() string {
	return s.path
}

// List returns the current collection and its version stamp. Missing or
// corrupt data yields an empty collection and version 0, never an error.
func (s *Store) List() ([]models.SealedProfile, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f := s.read()
	return f.Profiles, f.Version
}

// Add assigns a fresh id to the sealed profile and appends it.
func (s *Store) Add(p models.SealedProfile) (models.SealedProfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p.ID = uuid.NewString()
	f := s.read()
	f.Profiles = append(f.Profiles, p)
	if err := s.write(f); err != nil {
		return models.SealedProfile{}, err
	}
	return p, nil
}

// Update replaces the stored profile with the same id. The id itself is
// immutable across updates. A missing id leaves the store unchanged.
func (s *Store) Update(p models.SealedProfile) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	f := s.read()
	for i := range f.Profiles {
		if f.Profiles[i].ID == p.ID {
			f.Profiles[i] = p
			return s.write(f)
		}
	}
	return apperr.Newf(apperr.Validation, "profile %q not found", p.ID)
}

// Delete removes the profile with the given id. A missing id leaves the
// store unchanged.
func (s *Store) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	f := s.read()
	for i := range f.Profiles {
		if f.Profiles[i].ID == id {
			f.Profiles = append(f.Profiles[:i], f.Profiles[i+1:]...)
			return s.write(f)
		}
	}
	return apperr.Newf(apperr.Validation, "profile %q not found", id)
}

// Replace swaps in a whole new collection, but only if the on-disk version
// still matches what the caller loaded. A moved version means another
// writer got there first; the caller should reload and retry.
func (s *Store) Replace(profiles []models.SealedProfile, expectedVersion int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	f := s.read()
	if f.Version != expectedVersion {
		return apperr.Newf(apperr.Conflict, "store version moved from %d to %d", expectedVersion, f.Version)
	}
	f.Profiles = profiles
	return s.write(f)
}

// read loads the backing file. Any read or parse failure degrades to an
// empty collection; the failure is logged, not returned.
func (s *Store) read() storeFile {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) && s.log != nil {
			s.log.Warn("profile store unreadable, starting empty", "path", s.path, "err", err)
		}
		return storeFile{}
	}

	var f storeFile
	if err := json.Unmarshal(data, &f); err != nil {
		if s.log != nil {
			s.log.Warn("profile store corrupt, starting empty", "path", s.path, "err", err)
		}
		return storeFile{}
	}
	return f
}

// write bumps the version and replaces the file atomically: temp file in
// the same directory, fsync, rename.
func (s *Store) write(f storeFile) error {
	f.Version++

	data, err := json.MarshalIndent(f, "", "    ")
	if err != nil {
		return apperr.New(apperr.Storage, "failed to marshal profiles", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return apperr.New(apperr.Storage, "failed to create config directory", err)
	}

	tmp, err := os.CreateTemp(dir, "profiles-*")
	if err != nil {
		return apperr.New(apperr.Storage, "failed to create temp file", err)
	}
	tmpPath := tmp.Name()
	defer func() {
		tmp.Close()
		os.Remove(tmpPath)
	}()

	if _, err := tmp.Write(data); err != nil {
		return apperr.New(apperr.Storage, "failed to write profiles", err)
	}
	if err := tmp.Sync(); err != nil {
		return apperr.New(apperr.Storage, "failed to sync profiles", err)
	}
	if err := tmp.Close(); err != nil {
		return apperr.New(apperr.Storage, "failed to close temp file", err)
	}
	if err := os.Chmod(tmpPath, DefaultFilePerms); err != nil {
		return apperr.New(apperr.Storage, "failed to set file permissions", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		return apperr.New(apperr.Storage, "failed to replace profiles file", err)
	}
	return nil
}
