package project

import (
	"fmt"

	"github.com/hashicorp/go-hclog"
	"github.com/mitchellh/mapstructure"
)

// ConfigSource is the external collaborator the Loader consumes: given a
// config file reference (whatever shape the caller's discovery/parsing
// layer uses: path, URL, embedded bytes) it returns the already
// YAML/JSON/TOML-decoded generic representation. Actually reading and
// parsing project.omni.<ext> files belongs to the caller (see
// internal/workspace for the file-backed implementation).
type ConfigSource interface {
	Load(ref string) (map[string]interface{}, error)
}

// ErrExtendsCycle is returned when a project's extends chain revisits a
// config it has already visited.
type ErrExtendsCycle struct {
	Path []string
}

func (e *ErrExtendsCycle) Error() string {
	return fmt.Sprintf("extends cycle: %v", e.Path)
}

// Loader resolves a project's extends chain and decodes the merged
// result into a Project.
type Loader struct {
	source ConfigSource
	logger hclog.Logger
}

// NewLoader creates a Loader backed by the given ConfigSource.
func NewLoader(source ConfigSource, logger hclog.Logger) *Loader {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Loader{source: source, logger: logger}
}

type rawConfig = map[string]interface{}

// resolveExtends loads ref, recursively resolves and merges its
// "extends" chain (parents first, this config's own fields last so they
// win), and returns the fully merged raw config.
func (l *Loader) resolveExtends(ref string, visiting []string) (rawConfig, error) {
	for _, v := range visiting {
		if v == ref {
			return nil, &ErrExtendsCycle{Path: append(append([]string{}, visiting...), ref)}
		}
	}
	visiting = append(visiting, ref)

	cfg, err := l.source.Load(ref)
	if err != nil {
		return nil, fmt.Errorf("loading %s: %w", ref, err)
	}

	extendsRaw, ok := cfg["extends"]
	if !ok {
		return cfg, nil
	}
	extendsList, err := toStringSlice(extendsRaw)
	if err != nil {
		return nil, fmt.Errorf("%s: extends: %w", ref, err)
	}

	merged := rawConfig{}
	for _, parentRef := range extendsList {
		parentCfg, err := l.resolveExtends(parentRef, visiting)
		if err != nil {
			return nil, err
		}
		merged, err = MergeConfig(merged, parentCfg)
		if err != nil {
			return nil, fmt.Errorf("merging extends parent %s into %s: %w", parentRef, ref, err)
		}
	}

	own := rawConfig{}
	for k, v := range cfg {
		if k == "extends" {
			continue
		}
		own[k] = v
	}
	return MergeConfig(merged, own)
}

func toStringSlice(v interface{}) ([]string, error) {
	switch t := v.(type) {
	case []string:
		return t, nil
	case []interface{}:
		out := make([]string, 0, len(t))
		for _, item := range t {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("expected string, got %T", item)
			}
			out = append(out, s)
		}
		return out, nil
	case string:
		return []string{t}, nil
	case nil:
		return nil, nil
	default:
		return nil, fmt.Errorf("expected a string or list of strings, got %T", v)
	}
}

// decodedCacheConfig / decodedOutputConfig mirror the long-form task
// config shapes, decoded via mapstructure.
type decodedCacheConfig struct {
	Enabled *bool `mapstructure:"enabled"`
	Key     struct {
		// Defaults is a pointer so an absent key.defaults can fall back
		// to true, matching the short-form task default.
		Defaults *bool    `mapstructure:"defaults"`
		Env      []string `mapstructure:"env"`
		Files    []string `mapstructure:"files"`
	} `mapstructure:"key"`
}

type decodedProject struct {
	Name         string                 `mapstructure:"name"`
	Dependencies []string               `mapstructure:"dependencies"`
	Meta         map[string]interface{} `mapstructure:"meta"`
	Env          map[string]string      `mapstructure:"env"`
	Cache        decodedCacheConfig     `mapstructure:"cache"`
}

// LoadProject resolves dir's project config (including its extends
// chain) into a Project. name is validated against the project name
// pattern; dir must already be an absolute, normalized path; path
// normalization is the discovery collaborator's job.
func (l *Loader) LoadProject(dir, ref string) (*Project, error) {
	merged, err := l.resolveExtends(ref, nil)
	if err != nil {
		return nil, err
	}

	var dp decodedProject
	if err := decode(merged, &dp); err != nil {
		return nil, fmt.Errorf("%s: %w", ref, err)
	}

	p := &Project{
		Name:         dp.Name,
		Dir:          dir,
		Dependencies: dp.Dependencies,
		Meta:         dp.Meta,
		Env:          dp.Env,
		Tasks:        map[string]*Task{},
	}

	tasksRaw, _ := merged["tasks"].(map[string]interface{})
	for name, raw := range tasksRaw {
		task, err := l.decodeTask(p.Name, name, raw, dp.Cache)
		if err != nil {
			return nil, fmt.Errorf("%s: task %s: %w", ref, name, err)
		}
		p.Tasks[name] = task
	}

	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

func (l *Loader) decodeTask(projectName, name string, raw interface{}, projectDefaultCache decodedCacheConfig) (*Task, error) {
	// short form: a bare command string
	if command, ok := raw.(string); ok {
		return &Task{
			Project:      projectName,
			Name:         name,
			Command:      command,
			Cache:        CacheKeyConfig{Defaults: true},
			CacheEnabled: true,
		}, nil
	}

	m, ok := raw.(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("expected a command string or task object, got %T", raw)
	}

	type decodedTask struct {
		Command      string                 `mapstructure:"command"`
		Dependencies []string               `mapstructure:"dependencies"`
		Cache        *decodedCacheConfig    `mapstructure:"cache"`
		Output       interface{}            `mapstructure:"output"`
		Meta         map[string]interface{} `mapstructure:"meta"`
	}
	var dt decodedTask
	if err := decode(m, &dt); err != nil {
		return nil, err
	}

	deps, err := ParseTaskDependencies(dt.Dependencies)
	if err != nil {
		return nil, err
	}

	cacheCfg := projectDefaultCache
	if dt.Cache != nil {
		cacheCfg = *dt.Cache
	}

	outputs, err := decodeOutputs(dt.Output)
	if err != nil {
		return nil, err
	}

	cacheEnabled := true
	if cacheCfg.Enabled != nil {
		cacheEnabled = *cacheCfg.Enabled
	}
	keyDefaults := true
	if cacheCfg.Key.Defaults != nil {
		keyDefaults = *cacheCfg.Key.Defaults
	}

	return &Task{
		Project:      projectName,
		Name:         name,
		Command:      dt.Command,
		Dependencies: deps,
		Cache: CacheKeyConfig{
			Defaults:   keyDefaults,
			EnvKeys:    cacheCfg.Key.Env,
			InputFiles: cacheCfg.Key.Files,
		},
		Outputs:      outputs,
		CacheEnabled: cacheEnabled,
		Meta:         dt.Meta,
	}, nil
}

func decodeOutputs(raw interface{}) (TaskOutputConfig, error) {
	switch t := raw.(type) {
	case nil:
		return TaskOutputConfig{}, nil
	case []interface{}:
		incl, err := toStringSlice(t)
		if err != nil {
			return TaskOutputConfig{}, err
		}
		return TaskOutputConfig{Inclusions: incl}, nil
	case []string:
		return TaskOutputConfig{Inclusions: t}, nil
	case map[string]interface{}:
		var out struct {
			Inclusions []string `mapstructure:"inclusions"`
			Exclusions []string `mapstructure:"exclusions"`
		}
		if err := decode(t, &out); err != nil {
			return TaskOutputConfig{}, err
		}
		return TaskOutputConfig{Inclusions: out.Inclusions, Exclusions: out.Exclusions}, nil
	default:
		return TaskOutputConfig{}, fmt.Errorf("expected a list of globs or an inclusion/exclusion object, got %T", raw)
	}
}

func decode(raw interface{}, out interface{}) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return err
	}
	return dec.Decode(raw)
}
