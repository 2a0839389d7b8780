// Package paths provides centralized path resolution for wagateway.
// This package has NO internal imports (only stdlib) to avoid import cycles.
// Functions that touch the filesystem return errors to allow callers to
// log appropriately.
package paths

import (
	"fmt"
	"os"
	"path/filepath"
)

// AuthSessionDir returns the on-disk auth store for one agent:
// {authRoot}/session-{agentID}. The directory is owned by the session
// supervisor; the chat-client library writes its device credentials there.
func AuthSessionDir(authRoot, agentID string) string {
	return filepath.Join(authRoot, "session-"+agentID)
}

// TempPreviewPath returns the media preview path for a file written at
// epochMs: {tempDir}/{epoch_ms}-{filename}.
func TempPreviewPath(tempDir string, epochMs int64, filename string) string {
	return filepath.Join(tempDir, fmt.Sprintf("%d-%s", epochMs, filename))
}

// EnsureDir creates a directory if it doesn't exist.
// Uses 0750 permissions (owner: rwx, group: rx, other: none).
func EnsureDir(path string) error {
	if err := os.MkdirAll(path, 0750); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", path, err)
	}
	return nil
}

// EnsureParentDir creates the parent directory of a file path if it doesn't exist.
func EnsureParentDir(filePath string) error {
	return EnsureDir(filepath.Dir(filePath))
}

// ExpandTilde expands a path that starts with ~ to the user's home directory.
// Returns the path unchanged if it doesn't start with ~.
func ExpandTilde(path string) (string, error) {
	if len(path) == 0 || path[0] != '~' {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	if len(path) == 1 {
		return home, nil
	}
	return filepath.Join(home, path[1:]), nil
}
