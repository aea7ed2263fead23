package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// ErrNoState is returned by Load when no agent config has been persisted yet.
var ErrNoState = errors.New("no persisted agent config")

// StateStore owns the persisted AgentConfig record.
type StateStore struct {
	path   string
	config *AgentConfig
	mu     sync.RWMutex
}

func NewStateStore(path string) *StateStore {
	return &StateStore{path: path}
}

func (s *StateStore) Path() string {
	return s.path
}

// Exists reports whether a non-empty record is present on disk.
func (s *StateStore) Exists() bool {
	_, err := readAgentConfig(s.path)
	return err == nil
}

// Load reads the record from disk and makes it the current config.
// It returns ErrNoState when the file is missing or empty.
func (s *StateStore) Load() (AgentConfig, error) {
	cfg, err := readAgentConfig(s.path)
	if err != nil {
		return AgentConfig{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.config = cfg
	return cloneAgentConfig(cfg), nil
}

// Set replaces the current config wholesale. It does not write to disk.
func (s *StateStore) Set(cfg AgentConfig) {
	c := cloneAgentConfig(&cfg)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.config = &c
}

// With applies mutators to the current config. It is a no-op when no config is set.
func (s *StateStore) With(mutators ...func(*AgentConfig)) *StateStore {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.config == nil {
		return s
	}
	for _, mutate := range mutators {
		mutate(s.config)
	}
	return s
}

// Write persists the current config to disk.
func (s *StateStore) Write() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.config == nil {
		return ErrNoState
	}
	return writeAgentConfig(s.path, s.config)
}

// Delete removes the persisted record and forgets the current config.
// A missing file is not an error.
func (s *StateStore) Delete() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.config = nil
	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove agent config: %w", err)
	}
	return nil
}

func readAgentConfig(path string) (*AgentConfig, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNoState
		}
		return nil, fmt.Errorf("read agent config: %w", err)
	}

	trimmed := strings.TrimSpace(string(data))
	if trimmed == "" || trimmed == "{}" {
		return nil, ErrNoState
	}

	var cfg AgentConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal agent config: %w", err)
	}
	return &cfg, nil
}

// writeAgentConfig writes through a temp file and rename so a crash never
// leaves a truncated record behind.
func writeAgentConfig(path string, cfg *AgentConfig) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal agent config: %w", err)
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "device-config-*.json.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename temp to agent config: %w", err)
	}

	return nil
}

func cloneAgentConfig(cfg *AgentConfig) AgentConfig {
	c := *cfg
	if cfg.Printers != nil {
		c.Printers = append(make([]Printer, 0, len(cfg.Printers)), cfg.Printers...)
	}
	return c
}
