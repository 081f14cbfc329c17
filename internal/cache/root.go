package cache

import (
	"path/filepath"

	"github.com/adrg/xdg"
	homedir "github.com/mitchellh/go-homedir"
)

// DefaultRoot resolves the shared machine-level cache root, used when a
// workspace opts out of the usual workspace-relative location with
// cache_dir: global. Preference order: XDG cache home, then ~/.cache,
// under an "omni" subdirectory.
func DefaultRoot() (string, error) {
	if xdg.CacheHome != "" {
		return filepath.Join(xdg.CacheHome, "omni"), nil
	}
	home, err := homedir.Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".cache", "omni"), nil
}
