package tokens

import (
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
)

// FileStore keeps the token pair in a mode-0600 JSON file, by default
// ~/.kumo_tokens.json.
type FileStore struct {
	Path string
}

// DefaultPath returns ~/.kumo_tokens.json, or a relative fallback when
// the home directory cannot be determined.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return ".kumo_tokens.json"
	}
	return filepath.Join(home, ".kumo_tokens.json")
}

func NewFileStore(path string) *FileStore {
	if path == "" {
		path = DefaultPath()
	}
	return &FileStore{Path: path}
}

func (s *FileStore) Load() (Pair, error) {
	data, err := os.ReadFile(s.Path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Pair{}, ErrNotFound
		}
		return Pair{}, err
	}
	var p Pair
	if err := json.Unmarshal(data, &p); err != nil {
		// A corrupt cache is the same as no cache.
		return Pair{}, ErrNotFound
	}
	if p.Empty() {
		return Pair{}, ErrNotFound
	}
	return p, nil
}

func (s *FileStore) Save(p Pair) error {
	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(s.Path, data, 0o600)
}
