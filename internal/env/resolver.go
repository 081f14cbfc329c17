package env

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
)

// ErrEnvExpansionCycle is returned when ${VAR} interpolation revisits a
// variable already being expanded.
type ErrEnvExpansionCycle struct {
	Path []string
}

func (e *ErrEnvExpansionCycle) Error() string {
	return fmt.Sprintf("env expansion cycle: %s", strings.Join(e.Path, " -> "))
}

// DotEnvFileNames are the dotenv files the resolver discovers by
// ascending directory traversal from a project dir to the workspace
// root, in merge order (later wins). envName is substituted
// with the active environment name (e.g. "development"); a dotenv file
// is optional at every level.
func DotEnvFileNames(envName string) []string {
	names := []string{".env"}
	if envName != "" {
		names = append(names, fmt.Sprintf(".env.%s", envName))
	}
	names = append(names, ".env.local")
	if envName != "" {
		names = append(names, fmt.Sprintf(".env.%s.local", envName))
	}
	return names
}

// DotEnvLoader is the external collaborator that turns a dotenv file's
// bytes into a flat map; actually reading and parsing the file's
// KEY=VALUE lines is the loader collaborator's job, so the
// resolver only asks for already-parsed layers.
type DotEnvLoader interface {
	// Load returns the parsed variables in path, or ok=false if path
	// does not exist. A parse error is returned as err.
	Load(path string) (vars EnvironmentVariableMap, ok bool, err error)
}

// Resolver computes a node's effective environment: an
// ordered merge of inherited process env, workspace dotenv/vars,
// project vars, and fixed injected vars, followed by ${VAR}
// interpolation.
type Resolver struct {
	InheritProcessEnv bool
	EnvName           string
	WorkspaceDir      string
	WorkspaceVars     EnvironmentVariableMap
	Loader            DotEnvLoader
}

// NewResolver creates a Resolver. loader may be nil, in which case no
// dotenv files are consulted (workspace vars and process env only).
func NewResolver(workspaceDir, envName string, inheritProcessEnv bool, workspaceVars EnvironmentVariableMap, loader DotEnvLoader) *Resolver {
	return &Resolver{
		InheritProcessEnv: inheritProcessEnv,
		EnvName:           envName,
		WorkspaceDir:      workspaceDir,
		WorkspaceVars:     workspaceVars,
		Loader:            loader,
	}
}

// ResolveNode is everything the resolver needs about one execution node
// to compute its effective environment, independent of running it
// (the `env` command's introspection entry point).
type ResolveNode struct {
	ProjectDir  string
	ProjectVars EnvironmentVariableMap
}

// Resolve computes the node's effective environment: layered merge
// (later wins) followed by ${VAR} interpolation. It can be called
// independently of task execution so a caller can print a node's
// effective environment without running it.
func (r *Resolver) Resolve(node ResolveNode) (EnvironmentVariableMap, error) {
	merged := EnvironmentVariableMap{}

	if r.InheritProcessEnv {
		merged.Union(GetEnvMap())
	}

	for _, layer := range r.dotenvLayers(node.ProjectDir) {
		merged.Union(layer)
	}
	merged.Union(r.WorkspaceVars)
	merged.Union(node.ProjectVars)

	merged.Add("WORKSPACE_DIR", r.WorkspaceDir)
	merged.Add("PROJECT_DIR", node.ProjectDir)

	return expandAll(merged)
}

// dotenvLayers walks from node.ProjectDir up to r.WorkspaceDir
// (inclusive), collecting dotenv files in ascending order so that the
// project's own dotenv files (loaded last) win over ones nearer the
// workspace root.
func (r *Resolver) dotenvLayers(projectDir string) []EnvironmentVariableMap {
	if r.Loader == nil {
		return nil
	}

	var dirs []string
	dir := filepath.Clean(projectDir)
	root := filepath.Clean(r.WorkspaceDir)
	for {
		dirs = append(dirs, dir)
		if dir == root || dir == filepath.Dir(dir) {
			break
		}
		dir = filepath.Dir(dir)
	}
	// root-to-project order so project-level files are merged last.
	for i, j := 0, len(dirs)-1; i < j; i, j = i+1, j-1 {
		dirs[i], dirs[j] = dirs[j], dirs[i]
	}

	var layers []EnvironmentVariableMap
	for _, d := range dirs {
		for _, name := range DotEnvFileNames(r.EnvName) {
			vars, ok, err := r.Loader.Load(filepath.Join(d, name))
			if err != nil || !ok {
				continue
			}
			layers = append(layers, vars)
		}
	}
	return layers
}

var interpPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// expandAll resolves ${VAR} interpolation across every value in evm.
// Undefined references expand to empty and are not logged; circular
// references return ErrEnvExpansionCycle.
func expandAll(evm EnvironmentVariableMap) (EnvironmentVariableMap, error) {
	out := make(EnvironmentVariableMap, len(evm))
	resolving := map[string]bool{}
	resolved := map[string]string{}

	var expand func(key string, path []string) (string, error)
	expand = func(key string, path []string) (string, error) {
		if v, ok := resolved[key]; ok {
			return v, nil
		}
		if resolving[key] {
			return "", &ErrEnvExpansionCycle{Path: append(append([]string{}, path...), key)}
		}
		raw, ok := evm[key]
		if !ok {
			return "", nil
		}
		resolving[key] = true
		defer delete(resolving, key)

		expandedPath := append(append([]string{}, path...), key)
		var expandErr error
		result := interpPattern.ReplaceAllStringFunc(raw, func(m string) string {
			if expandErr != nil {
				return ""
			}
			ref := interpPattern.FindStringSubmatch(m)[1]
			v, err := expand(ref, expandedPath)
			if err != nil {
				expandErr = err
				return ""
			}
			return v
		})
		if expandErr != nil {
			return "", expandErr
		}
		resolved[key] = result
		return result, nil
	}

	keys := make([]string, 0, len(evm))
	for k := range evm {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		v, err := expand(k, nil)
		if err != nil {
			return nil, err
		}
		out[k] = v
	}
	return out, nil
}

// osEnvLoader is a DotEnvLoader backed directly by the filesystem,
// parsing simple KEY=VALUE lines. Real dotenv syntax (quoting, export
// prefixes, comments) is the external loader's job;
// this is a minimal fallback usable when no richer loader is supplied.
type osEnvLoader struct{}

// NewOSEnvLoader returns a DotEnvLoader that reads plain KEY=VALUE
// lines directly from disk.
func NewOSEnvLoader() DotEnvLoader { return osEnvLoader{} }

func (osEnvLoader) Load(path string) (EnvironmentVariableMap, bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	out := EnvironmentVariableMap{}
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		i := strings.Index(line, "=")
		if i < 0 {
			continue
		}
		key := strings.TrimSpace(line[:i])
		value := strings.Trim(strings.TrimSpace(line[i+1:]), `"'`)
		out[key] = value
	}
	return out, true, nil
}
