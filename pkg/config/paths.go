package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// PathConfig holds all resolved file paths for agent storage.
type PathConfig struct {
	StateDir     string
	StateFile    string
	IdentityFile string
}

// expandPath expands ~ and ~/ to the user's home directory in paths.
func expandPath(path string) (string, error) {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("get home directory: %w", err)
	}

	if path == "~" {
		return home, nil
	}

	return filepath.Join(home, path[2:]), nil
}

// ensureDir creates the directory if it doesn't exist and verifies it's writable.
func ensureDir(path string) error {
	if err := os.MkdirAll(path, 0755); err != nil {
		return fmt.Errorf("create directory %s: %w", path, err)
	}

	// Verify writability
	testFile := filepath.Join(path, ".write-test")
	if err := os.WriteFile(testFile, []byte{}, 0600); err != nil {
		return fmt.Errorf("directory %s not writable: %w", path, err)
	}
	if err := os.Remove(testFile); err != nil {
		return fmt.Errorf("clean up write test in %s: %w", path, err)
	}

	return nil
}

// ResolvePathConfig validates and resolves all storage paths.
// It expands ~ in stateDir, creates the directory,
// and returns absolute paths for the persisted files.
func ResolvePathConfig(stateDir string) (*PathConfig, error) {
	expanded, err := expandPath(stateDir)
	if err != nil {
		return nil, fmt.Errorf("expand state directory path: %w", err)
	}

	abs, err := filepath.Abs(expanded)
	if err != nil {
		return nil, fmt.Errorf("resolve state directory path: %w", err)
	}

	if err := ensureDir(abs); err != nil {
		return nil, err
	}

	return &PathConfig{
		StateDir:     abs,
		StateFile:    filepath.Join(abs, DefaultStateFileName),
		IdentityFile: filepath.Join(abs, DefaultIdentityFileName),
	}, nil
}
