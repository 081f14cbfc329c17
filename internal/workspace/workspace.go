// Package workspace discovers a workspace root, reads its
// workspace.omni.<ext> config, finds project directories matching its
// declared glob patterns, and loads each into a project.Project via
// internal/project's Loader. This is the concrete implementation of the
// configuration-discovery collaborator the core packages consume through
// interfaces; cmd/omni needs something that actually reads files off
// disk to be a runnable CLI.
package workspace

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/gobwas/glob"
	"github.com/hashicorp/go-hclog"
	"github.com/karrick/godirwalk"
	"github.com/pkg/errors"

	"omni/internal/project"
)

// configExtensions are the supported config file extensions, tried in
// this order against each workspace/project config stem.
var configExtensions = []string{".yaml", ".yml", ".json", ".toml"}

// Config is the decoded workspace.omni.<ext> file.
type Config struct {
	Name     string                 `mapstructure:"name"`
	Projects []string               `mapstructure:"projects"`
	Env      map[string]string      `mapstructure:"env"`
	Meta     map[string]interface{} `mapstructure:"meta"`
	// CacheDir overrides the default .omni/cache cache root. Relative
	// paths are taken from the workspace root, a leading ~ expands to
	// the user's home directory, and the value "global" selects the
	// shared machine-level location.
	CacheDir string `mapstructure:"cache_dir"`
}

// ErrWorkspaceNotFound is returned when no workspace.omni.<ext> file is
// found walking up from the start directory.
type ErrWorkspaceNotFound struct {
	Start string
}

func (e *ErrWorkspaceNotFound) Error() string {
	return fmt.Sprintf("no workspace.omni.<ext> found above %s", e.Start)
}

// DiscoverRoot finds the workspace root: the WORKSPACE_DIR environment
// variable overrides discovery entirely; otherwise it walks
// upward from start looking for a workspace.omni.<ext> file.
func DiscoverRoot(start string) (string, error) {
	if override := os.Getenv("WORKSPACE_DIR"); override != "" {
		return filepath.Abs(override)
	}

	dir, err := filepath.Abs(start)
	if err != nil {
		return "", err
	}
	for {
		if _, ok := findConfigFile(dir, "workspace.omni"); ok {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", &ErrWorkspaceNotFound{Start: start}
		}
		dir = parent
	}
}

func findConfigFile(dir, stem string) (string, bool) {
	for _, ext := range configExtensions {
		path := filepath.Join(dir, stem+ext)
		if info, err := os.Stat(path); err == nil && !info.IsDir() {
			return path, true
		}
	}
	return "", false
}

// LoadConfig reads and decodes the workspace config at root.
func LoadConfig(root string) (*Config, error) {
	path, ok := findConfigFile(root, "workspace.omni")
	if !ok {
		return nil, &ErrWorkspaceNotFound{Start: root}
	}
	raw, err := decodeConfigFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := decode(raw, &cfg); err != nil {
		return nil, errors.Wrap(err, path)
	}
	if cfg.Name != "" && !project.NamePattern.MatchString(cfg.Name) {
		return nil, fmt.Errorf("%s: workspace name %q does not match %s", path, cfg.Name, project.NamePattern.String())
	}
	return &cfg, nil
}

// discoverProjectDirs walks root and returns every directory below it
// (root itself excluded) whose root-relative path matches at least one of patterns
// and that contains a project.omni.<ext> file.
func discoverProjectDirs(root string, patterns []string) ([]string, error) {
	matchers := make([]glob.Glob, 0, len(patterns))
	for _, p := range patterns {
		g, err := glob.Compile(p, '/')
		if err != nil {
			return nil, fmt.Errorf("compiling projects pattern %q: %w", p, err)
		}
		matchers = append(matchers, g)
	}

	var out []string
	err := godirwalk.Walk(root, &godirwalk.Options{
		Unsorted: true,
		Callback: func(path string, de *godirwalk.Dirent) error {
			if !de.IsDir() {
				return nil
			}
			if path == root {
				return nil
			}
			rel, err := filepath.Rel(root, path)
			if err != nil {
				return err
			}
			rel = filepath.ToSlash(rel)
			if !matchesAny(matchers, rel) {
				return nil
			}
			if _, ok := findConfigFile(path, "project.omni"); ok {
				out = append(out, path)
			}
			return nil
		},
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(out)
	return out, nil
}

func matchesAny(matchers []glob.Glob, rel string) bool {
	for _, m := range matchers {
		if m.Match(rel) {
			return true
		}
	}
	return false
}

// Load discovers project directories under root per cfg.Projects and
// loads each into a project.Project, including its extends chain.
func Load(root string, cfg *Config, logger hclog.Logger) ([]*project.Project, error) {
	dirs, err := discoverProjectDirs(root, cfg.Projects)
	if err != nil {
		return nil, err
	}

	projects := make([]*project.Project, 0, len(dirs))
	for _, dir := range dirs {
		configPath, ok := findConfigFile(dir, "project.omni")
		if !ok {
			continue
		}
		loader := project.NewLoader(&fileConfigSource{baseDir: dir}, logger)
		p, err := loader.LoadProject(dir, configPath)
		if err != nil {
			return nil, errors.Wrap(err, configPath)
		}
		projects = append(projects, p)
	}
	return projects, nil
}
