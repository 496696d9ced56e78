// Package dotdir manages the .recall/ and ~/.recall directories.
//
// The directory holds the local database, config file, and the persisted
// session state used to resume the last active conversation.
package dotdir

import (
	"fmt"
	"os"
	"path/filepath"
)

const (
	// dirName is the name of the recall directory.
	dirName = ".recall"
)

type Manager struct{}

func NewManager() *Manager {
	return &Manager{}
}

// Target returns the target absolute path to a .recall/ directory.
// Order of precedence is as follows:
//  1. Provided override
//  2. Local ./.recall/ dir
//  3. Home ~/.recall/ dir
//  4. If none found, attempt to create ~/.recall/ dir
func (m *Manager) Target(overrideDir string) (string, error) {
	var dir string

	switch {
	case overrideDir != "":
		dir = overrideDir

	case m.localDirExists():
		cwd, err := os.Getwd()
		if err != nil {
			return "", fmt.Errorf("getting current directory: %w", err)
		}
		dir = filepath.Join(cwd, dirName)

	default:
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("getting home directory: %w", err)
		}
		dir = filepath.Join(home, dirName)
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating recall directory %s: %w", dir, err)
	}

	return filepath.Abs(dir)
}

// DatabasePath returns the path of the sqlite database inside the target
// .recall/ directory.
func (m *Manager) DatabasePath(overrideDir string) (string, error) {
	dir, err := m.Target(overrideDir)
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "recall.db"), nil
}

// localDirExists checks whether a .recall/ directory exists in the current
// working directory.
func (m *Manager) localDirExists() bool {
	cwd, err := os.Getwd()
	if err != nil {
		return false
	}

	info, err := os.Stat(filepath.Join(cwd, dirName))
	return err == nil && info.IsDir()
}
