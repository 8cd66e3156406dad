// Package localconfig persists small key/value settings that must survive
// restarts, such as the analytics distinct id.
package localconfig

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/tidwall/jsonc"
	"pkt.systems/pslog"
)

// FileName is the store's file inside the state directory.
const FileName = "localconfig.json"

// Store is a JSON object on disk. Reads hit the file every time so edits
// made by another process are observed. Comments and trailing commas left by
// hand edits are tolerated on read and dropped on the next write.
type Store struct {
	mu   sync.Mutex
	path string
	log  pslog.Logger
}

// Open constructs a store under dir, creating the directory if needed.
func Open(dir string, logger pslog.Logger) (*Store, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("state directory is required")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, err
	}
	if logger != nil {
		logger = logger.With("state_dir", dir)
	}
	return &Store{path: filepath.Join(dir, FileName), log: logger}, nil
}

// Path returns the backing file path.
func (s *Store) Path() string {
	return s.path
}

// Get returns the value stored under key.
func (s *Store) Get(key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	values, err := s.read()
	if err != nil {
		return "", false, err
	}
	value, ok := values[key]
	if s.log != nil {
		s.log.Trace("localconfig get", "key", key, "found", ok)
	}
	return value, ok, nil
}

// Set stores value under key.
func (s *Store) Set(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	values, err := s.read()
	if err != nil {
		return err
	}
	values[key] = value
	if err := s.write(values); err != nil {
		if s.log != nil {
			s.log.Warn("localconfig save failed", "key", key, "err", err)
		}
		return err
	}
	if s.log != nil {
		s.log.Debug("localconfig save ok", "key", key)
	}
	return nil
}

func (s *Store) read() (map[string]string, error) {
	values := make(map[string]string)
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return values, nil
		}
		if s.log != nil {
			s.log.Warn("localconfig load failed", "err", err)
		}
		return nil, err
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return values, nil
	}
	if err := json.Unmarshal(jsonc.ToJSON(data), &values); err != nil {
		if s.log != nil {
			s.log.Warn("localconfig load failed", "err", err)
		}
		return nil, err
	}
	return values, nil
}

func (s *Store) write(values map[string]string) error {
	data, err := json.MarshalIndent(values, "", "  ")
	if err != nil {
		return err
	}
	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, "localconfig-*.json")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := os.Chmod(tmp.Name(), 0o600); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), s.path)
}
