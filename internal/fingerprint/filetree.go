package fingerprint

import (
	"crypto/sha256"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/gobwas/glob"
	"github.com/karrick/godirwalk"
	ignore "github.com/sabhiram/go-gitignore"
	"github.com/yookoala/realpath"
	"golang.org/x/sync/errgroup"
)

// ErrSymlinkCycle is returned when resolving a symlink chain revisits a
// real path already seen during the same tree walk.
type ErrSymlinkCycle struct {
	Path string
}

func (e *ErrSymlinkCycle) Error() string {
	return fmt.Sprintf("symlink cycle detected at %s", e.Path)
}

// Walker is the concrete FileTreeRoot: it walks a project directory,
// matches files against declared input globs, resolves symlinks once,
// and hashes the matched set concurrently.
type Walker struct {
	// Concurrency bounds the number of files hashed in parallel. <= 0
	// means the default of 8.
	Concurrency int
}

// Compute implements FileTreeRoot.
func (w *Walker) Compute(projectDir string, inputGlobs []string) (Digest, error) {
	matchers := make([]glob.Glob, 0, len(inputGlobs))
	for _, pattern := range inputGlobs {
		g, err := glob.Compile(pattern, '/')
		if err != nil {
			return Digest{}, fmt.Errorf("compiling input glob %q: %w", pattern, err)
		}
		matchers = append(matchers, g)
		// A leading "**/" also matches zero directories, so "**/*.go"
		// covers files directly in projectDir.
		if rest := strings.TrimPrefix(pattern, "**/"); rest != pattern {
			g, err := glob.Compile(rest, '/')
			if err != nil {
				return Digest{}, fmt.Errorf("compiling input glob %q: %w", pattern, err)
			}
			matchers = append(matchers, g)
		}
		// A pattern with no glob metacharacters names one file, which
		// must exist.
		if !strings.ContainsAny(pattern, `*?[{\`) {
			path := filepath.Join(projectDir, filepath.FromSlash(pattern))
			if _, err := os.Stat(path); os.IsNotExist(err) {
				return Digest{}, &ErrHashInputMissing{Path: path}
			}
		}
	}

	ignorer, err := loadGitignore(projectDir)
	if err != nil {
		return Digest{}, err
	}

	relPaths, err := w.collectMatches(projectDir, matchers, ignorer)
	if err != nil {
		return Digest{}, err
	}
	sort.Strings(relPaths)

	hashes := make([]Digest, len(relPaths))
	g := &errgroup.Group{}
	sem := make(chan struct{}, concurrencyOrDefault(w.Concurrency))
	for i, rel := range relPaths {
		i, rel := i, rel
		g.Go(func() error {
			sem <- struct{}{}
			defer func() { <-sem }()
			d, err := hashFile(filepath.Join(projectDir, rel))
			if err != nil {
				return err
			}
			hashes[i] = d
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Digest{}, err
	}

	return foldMerkleRoot(relPaths, hashes), nil
}

func concurrencyOrDefault(n int) int {
	if n <= 0 {
		return 8
	}
	return n
}

// collectMatches walks projectDir, resolving each symlinked directory
// exactly once (rejecting cycles), and returns the project-relative
// paths of every regular file matched by at least one input glob and
// not excluded by .gitignore.
func (w *Walker) collectMatches(projectDir string, matchers []glob.Glob, ignorer *ignore.GitIgnore) ([]string, error) {
	var out []string
	seenRealDirs := map[string]bool{}

	err := godirwalk.Walk(projectDir, &godirwalk.Options{
		Unsorted:            true,
		FollowSymbolicLinks: true,
		Callback: func(path string, de *godirwalk.Dirent) error {
			if path == projectDir {
				return nil
			}
			rel, err := filepath.Rel(projectDir, path)
			if err != nil {
				return err
			}

			isDir := de.IsDir()
			if de.IsSymlink() {
				real, err := realpath.Realpath(path)
				if err != nil {
					return err
				}
				info, err := os.Stat(real)
				if err != nil {
					return err
				}
				isDir = info.IsDir()
				if isDir {
					if seenRealDirs[real] {
						return &ErrSymlinkCycle{Path: path}
					}
					seenRealDirs[real] = true
				}
			}

			if ignorer != nil && ignorer.MatchesPath(rel) {
				if isDir {
					return filepath.SkipDir
				}
				return nil
			}

			if isDir {
				return nil
			}

			if matchesAny(matchers, rel) {
				out = append(out, filepath.ToSlash(rel))
			}
			return nil
		},
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func matchesAny(matchers []glob.Glob, rel string) bool {
	unix := filepath.ToSlash(rel)
	for _, m := range matchers {
		if m.Match(unix) {
			return true
		}
	}
	return false
}

func loadGitignore(projectDir string) (*ignore.GitIgnore, error) {
	path := filepath.Join(projectDir, ".gitignore")
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return ignore.CompileIgnoreFile(path)
}

func hashFile(path string) (Digest, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Digest{}, &ErrHashInputMissing{Path: path}
		}
		return Digest{}, err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return Digest{}, err
	}
	var d Digest
	copy(d[:], h.Sum(nil))
	return d, nil
}

// foldMerkleRoot combines each (path, content digest) pair, already in
// sorted path order, into a single root digest. Each fold step is
// order-dependent on path, not on hashing completion order, so the
// result is a pure function of the matched file set's content.
func foldMerkleRoot(paths []string, hashes []Digest) Digest {
	h := sha256.New()
	for i, p := range paths {
		writeLP(h, []byte(p))
		h.Write(hashes[i][:])
	}
	var out Digest
	copy(out[:], h.Sum(nil))
	return out
}
