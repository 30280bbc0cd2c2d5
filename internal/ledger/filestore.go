package ledger

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"
)

// FileStore persists ledger state as a single JSON document, written
// atomically via a temp file and rename.
type FileStore struct {
	path string
}

func NewFileStore(path string) (*FileStore, error) {
	if path == "" {
		path = "./data/processed_hashes.json"
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create ledger dir: %w", err)
	}
	return &FileStore{path: path}, nil
}

func (s *FileStore) Load() (State, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return emptyState(), nil
	}
	if err != nil {
		return emptyState(), fmt.Errorf("read ledger file: %w", err)
	}

	var state State
	if err := json.Unmarshal(data, &state); err != nil {
		return emptyState(), fmt.Errorf("decode ledger file: %w", err)
	}
	if state.Fingerprints == nil {
		state.Fingerprints = make(map[string]time.Time)
	}
	return state, nil
}

func (s *FileStore) Save(state State) error {
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("encode ledger state: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write ledger temp file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replace ledger file: %w", err)
	}
	return nil
}

func emptyState() State {
	return State{Fingerprints: make(map[string]time.Time)}
}
