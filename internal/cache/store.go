// Package cache implements the content-addressed local store of task
// artifacts: lookup, atomic insert, invalidation by project, and
// artifact restoration.
package cache

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"time"

	"github.com/DataDog/zstd"
	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"
	"github.com/moby/sys/sequential"
	"github.com/nightlyone/lockfile"

	"omni/internal/fingerprint"
)

// unsafeProjectChars replaces anything not safe as a path segment with
// "_" when deriving the on-disk <project_fs_safe> directory name.
var unsafeProjectChars = regexp.MustCompile(`[^A-Za-z0-9._-]`)

func projectFSSafe(projectName string) string {
	return unsafeProjectChars.ReplaceAllString(projectName, "_")
}

// Meta is the execution metadata persisted alongside a cache entry as
// meta.json. Digest is base64 in the serialized form; the entry's
// directory name carries the same digest in base58.
type Meta struct {
	TaskName            string     `json:"task_name"`
	ProjectName         string     `json:"project_name"`
	Digest              string     `json:"digest"`
	ExecutionDurationMs int64      `json:"execution_duration_ms"`
	ExitCode            int        `json:"exit_code"`
	Tries               int        `json:"tries"`
	CreatedTimestamp    time.Time  `json:"created_timestamp"`
	LastUsedTimestamp   *time.Time `json:"last_used_timestamp,omitempty"`
}

// CachedFile is one declared output captured in a cache entry: the
// canonical path under the entry's files/ directory and the original
// workspace-relative path it should be restored to.
type CachedFile struct {
	CachedPath       string
	WorkspaceRelPath string
}

// Entry is a fully present cache entry: either complete (meta plus all
// declared outputs) or absent, never partial.
type Entry struct {
	Meta  Meta
	Logs  []byte
	Files []CachedFile
}

// NewCacheInfo is what a caller supplies to Put: the node identity used
// to derive the storage key, the execution outcome, and the files to
// capture.
type NewCacheInfo struct {
	ProjectName string
	TaskName    string
	Digest      fingerprint.Digest
	ExitCode    int
	Duration    time.Duration
	Tries       int
	Logs        []byte
	// Files maps each declared output's workspace-relative path to its
	// current absolute location on disk (the project's cwd is where the
	// task actually wrote it).
	Files map[string]string
}

// TaskExecutionInfo identifies a prospective cache entry for Get: the
// project/task owning it and the fingerprint computed for it.
type TaskExecutionInfo struct {
	ProjectName string
	TaskName    string
	Digest      fingerprint.Digest
}

// Store is the content-addressed local artifact cache.
type Store struct {
	root   string
	logger hclog.Logger
}

// NewStore creates a Store rooted at root, creating it if absent.
func NewStore(root string, logger hclog.Logger) (*Store, error) {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	if err := os.MkdirAll(root, 0o775); err != nil {
		return nil, fmt.Errorf("creating cache root %s: %w", root, err)
	}
	return &Store{root: root, logger: logger}, nil
}

func (s *Store) entryDir(projectName string, digest fingerprint.Digest) string {
	return filepath.Join(s.root, projectFSSafe(projectName), encodeBase58(digest[:]))
}

func (s *Store) metaPath(projectName string, digest fingerprint.Digest) string {
	return filepath.Join(s.entryDir(projectName, digest), "meta.json")
}

func (s *Store) logsPath(projectName string, digest fingerprint.Digest) string {
	return filepath.Join(s.entryDir(projectName, digest), "logs")
}

func (s *Store) filesDir(projectName string, digest fingerprint.Digest) string {
	return filepath.Join(s.entryDir(projectName, digest), "files")
}

// Get atomically returns a fully present entry or ok=false. An entry
// with no meta.json is a miss; one whose meta.json does not parse or
// whose files cannot be listed is also treated as a miss, logged at
// Warn and left for a future Put to repair. An entry does not record
// its declared outputs, so an output file missing from it is not
// detected here.
func (s *Store) Get(info TaskExecutionInfo) (entry *Entry, ok bool, err error) {
	dir := s.entryDir(info.ProjectName, info.Digest)
	metaBytes, err := os.ReadFile(s.metaPath(info.ProjectName, info.Digest))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, err
	}

	var meta Meta
	if err := json.Unmarshal(metaBytes, &meta); err != nil {
		s.logger.Warn("corrupted cache meta.json, treating as miss", "dir", dir, "error", err)
		return nil, false, nil
	}

	files, err := s.listFiles(info.ProjectName, info.Digest)
	if err != nil {
		s.logger.Warn("failed auditing cache entry files, treating as miss", "dir", dir, "error", err)
		return nil, false, nil
	}

	var logs []byte
	if compressed, err := os.ReadFile(s.logsPath(info.ProjectName, info.Digest)); err == nil {
		logs, err = zstd.Decompress(nil, compressed)
		if err != nil {
			s.logger.Warn("corrupted cache logs blob, dropping logs", "dir", dir, "error", err)
			logs = nil
		}
	} else if !os.IsNotExist(err) {
		return nil, false, err
	}

	now := time.Now()
	meta.LastUsedTimestamp = &now
	if updated, err := json.Marshal(meta); err == nil {
		_ = os.WriteFile(s.metaPath(info.ProjectName, info.Digest), updated, 0o644)
	}

	return &Entry{Meta: meta, Logs: logs, Files: files}, true, nil
}

func (s *Store) listFiles(projectName string, digest fingerprint.Digest) ([]CachedFile, error) {
	root := s.filesDir(projectName, digest)
	var out []CachedFile
	if _, err := os.Stat(root); err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	err := filepath.Walk(root, func(path string, fi os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if fi.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		out = append(out, CachedFile{CachedPath: path, WorkspaceRelPath: filepath.ToSlash(rel)})
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].WorkspaceRelPath < out[j].WorkspaceRelPath })
	return out, nil
}

// Put inserts a new entry under the digest derived from info,
// overwriting any existing entry atomically. Writers stage
// into a sibling tmp directory named with a uuid and rename it into
// place so concurrent readers never observe a partial write.
func (s *Store) Put(info NewCacheInfo) error {
	unlock, err := s.lockDigest(info.ProjectName, info.Digest)
	if err != nil {
		return fmt.Errorf("acquiring cache write lock: %w", err)
	}
	defer unlock()

	entryDir := s.entryDir(info.ProjectName, info.Digest)
	parent := filepath.Dir(entryDir)
	if err := os.MkdirAll(parent, 0o775); err != nil {
		return err
	}

	stagingDir := filepath.Join(parent, ".staging-"+uuid.New().String())
	if err := os.MkdirAll(filepath.Join(stagingDir, "files"), 0o775); err != nil {
		return err
	}
	defer os.RemoveAll(stagingDir)

	relPaths := make([]string, 0, len(info.Files))
	for rel := range info.Files {
		relPaths = append(relPaths, rel)
	}
	sort.Strings(relPaths)
	for _, rel := range relPaths {
		src := info.Files[rel]
		dst := filepath.Join(stagingDir, "files", filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(dst), 0o775); err != nil {
			return err
		}
		if err := copySequential(src, dst); err != nil {
			return fmt.Errorf("staging output %s: %w", rel, err)
		}
	}

	if len(info.Logs) > 0 {
		compressed, err := zstd.Compress(nil, info.Logs)
		if err != nil {
			return fmt.Errorf("compressing logs: %w", err)
		}
		if err := os.WriteFile(filepath.Join(stagingDir, "logs"), compressed, 0o644); err != nil {
			return fmt.Errorf("staging logs: %w", err)
		}
	}

	meta := Meta{
		TaskName:            info.TaskName,
		ProjectName:         info.ProjectName,
		Digest:              base64.StdEncoding.EncodeToString(info.Digest[:]),
		ExecutionDurationMs: info.Duration.Milliseconds(),
		ExitCode:            info.ExitCode,
		Tries:               info.Tries,
		CreatedTimestamp:    time.Now().UTC(),
	}
	metaBytes, err := json.Marshal(meta)
	if err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(stagingDir, "meta.json"), metaBytes, 0o644); err != nil {
		return fmt.Errorf("staging meta.json: %w", err)
	}

	if err := os.RemoveAll(entryDir); err != nil {
		return fmt.Errorf("removing stale entry before atomic swap: %w", err)
	}
	if err := os.Rename(stagingDir, entryDir); err != nil {
		return fmt.Errorf("publishing cache entry: %w", err)
	}
	return nil
}

// Invalidate removes every entry for projectName.
func (s *Store) Invalidate(projectName string) error {
	dir := filepath.Join(s.root, projectFSSafe(projectName))
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("invalidating project %s: %w", projectName, err)
	}
	return nil
}

// Restore hard-links (falling back to a copy across filesystem
// boundaries) each file in entry back to its original workspace
// location under projectDir, and writes entry's captured logs to
// logsOut if non-nil.
func (s *Store) Restore(entry *Entry, projectDir string, logsOut io.Writer) error {
	for _, f := range entry.Files {
		dst := filepath.Join(projectDir, filepath.FromSlash(f.WorkspaceRelPath))
		if err := os.MkdirAll(filepath.Dir(dst), 0o775); err != nil {
			return err
		}
		_ = os.Remove(dst)
		if err := os.Link(f.CachedPath, dst); err != nil {
			if err := copySequential(f.CachedPath, dst); err != nil {
				return fmt.Errorf("restoring %s: %w", f.WorkspaceRelPath, err)
			}
		}
	}
	if logsOut != nil && len(entry.Logs) > 0 {
		if _, err := logsOut.Write(entry.Logs); err != nil {
			return err
		}
	}
	return nil
}

// lockDigest acquires the internal per-digest write lock (at most one
// concurrent write per digest), backing off while
// another process holds it, and returns a function to release it.
func (s *Store) lockDigest(projectName string, digest fingerprint.Digest) (func(), error) {
	dir := filepath.Dir(s.entryDir(projectName, digest))
	if err := os.MkdirAll(dir, 0o775); err != nil {
		return nil, err
	}
	lockPath := filepath.Join(dir, encodeBase58(digest[:])+".lock")
	lf, err := lockfile.New(lockPath)
	if err != nil {
		return nil, err
	}

	policy := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 20)
	err = backoff.Retry(func() error {
		return lf.TryLock()
	}, policy)
	if err != nil {
		return nil, fmt.Errorf("timed out waiting for cache write lock on %s: %w", lockPath, err)
	}

	return func() {
		_ = lf.Unlock()
		_ = os.Remove(lockPath)
	}, nil
}

// copySequential copies src to dst, using the sequential-access open
// hint on Windows (irrelevant elsewhere, where it is a plain os.Open)
// since cache artifact writes are large, single-pass streams.
func copySequential(src, dst string) error {
	in, err := sequential.OpenFile(src, os.O_RDONLY, 0o777)
	if err != nil {
		return err
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return err
	}

	out, err := sequential.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, info.Mode())
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return os.Chmod(dst, info.Mode())
}
