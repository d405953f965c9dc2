package kv

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"

	"prodagent/prodagent/utils/apperr"
)

// FileStore persists keys in a YAML file; it is the CLI's equivalent of
// browser local storage.
type FileStore struct {
	path string
	mu   sync.Mutex
}

func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// DefaultFilePath is ~/.prodagent/sessions.yaml.
func DefaultFilePath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".prodagent", "sessions.yaml"), nil
}

func (f *FileStore) load() (map[string]string, error) {
	data := map[string]string{}
	raw, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return data, nil
	}
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(raw, &data); err != nil {
		return nil, err
	}
	return data, nil
}

func (f *FileStore) Get(_ context.Context, key string) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, err := f.load()
	if err != nil {
		return "", false, apperr.PersistenceUnavailable("kv.FileStore.Get", err)
	}
	v, ok := data[key]
	return v, ok, nil
}

func (f *FileStore) Set(_ context.Context, key, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, err := f.load()
	if err != nil {
		return apperr.PersistenceUnavailable("kv.FileStore.Set", err)
	}
	data[key] = value
	raw, err := yaml.Marshal(data)
	if err != nil {
		return apperr.PersistenceUnavailable("kv.FileStore.Set", err)
	}
	if err := os.MkdirAll(filepath.Dir(f.path), 0o700); err != nil {
		return apperr.PersistenceUnavailable("kv.FileStore.Set", err)
	}
	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o600); err != nil {
		return apperr.PersistenceUnavailable("kv.FileStore.Set", err)
	}
	if err := os.Rename(tmp, f.path); err != nil {
		return apperr.PersistenceUnavailable("kv.FileStore.Set", err)
	}
	return nil
}
