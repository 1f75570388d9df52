package paths

import (
	"os"
	"path/filepath"
	"strings"
)

// DataDirEnv overrides the default data directory when set.
const DataDirEnv = "OVERLAY_NODE_DATA_DIR"

const (
	IdentityFile = "identity.key"
	ContactsFile = "contacts.db"
)

// DefaultDataDir returns a per-user directory appropriate for persisting node state.
// It prefers $OVERLAY_NODE_DATA_DIR, then os.UserConfigDir, and falls back to
// the current directory.
func DefaultDataDir() string {
	if v := strings.TrimSpace(os.Getenv(DataDirEnv)); v != "" {
		return filepath.Clean(v)
	}
	if dir, err := os.UserConfigDir(); err == nil && dir != "" {
		return filepath.Join(dir, "overlay-node")
	}
	return ".overlay-node"
}

// EnsureDir makes sure dir exists and returns the cleaned path.
func EnsureDir(dir string) (string, error) {
	dir = filepath.Clean(dir)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", err
	}
	return dir, nil
}
