package executor

import (
	"fmt"
	"path/filepath"
	"sort"

	"github.com/gobwas/glob"
	"github.com/karrick/godirwalk"
)

// matchOutputGlobs walks projectDir and returns the project-relative
// paths of every regular file matched by at least one inclusion glob
// and not matched by any exclusion glob.
func matchOutputGlobs(projectDir string, inclusions, exclusions []string) ([]string, error) {
	if len(inclusions) == 0 {
		return nil, nil
	}

	incl, err := compileGlobs(inclusions)
	if err != nil {
		return nil, err
	}
	excl, err := compileGlobs(exclusions)
	if err != nil {
		return nil, err
	}

	var out []string
	err = godirwalk.Walk(projectDir, &godirwalk.Options{
		Unsorted: true,
		Callback: func(path string, de *godirwalk.Dirent) error {
			if path == projectDir || de.IsDir() {
				return nil
			}
			rel, err := filepath.Rel(projectDir, path)
			if err != nil {
				return err
			}
			rel = filepath.ToSlash(rel)
			if matchesAnyGlob(incl, rel) && !matchesAnyGlob(excl, rel) {
				out = append(out, rel)
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

func compileGlobs(patterns []string) ([]glob.Glob, error) {
	out := make([]glob.Glob, 0, len(patterns))
	for _, p := range patterns {
		g, err := glob.Compile(p, '/')
		if err != nil {
			return nil, fmt.Errorf("compiling output glob %q: %w", p, err)
		}
		out = append(out, g)
	}
	return out, nil
}

func matchesAnyGlob(matchers []glob.Glob, rel string) bool {
	for _, m := range matchers {
		if m.Match(rel) {
			return true
		}
	}
	return false
}
