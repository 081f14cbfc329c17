// Package fingerprint computes the content-addressed digest of a task
// execution node's effective inputs.
package fingerprint

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"hash"
	"sort"

	"omni/internal/env"
)

// Digest is the 32-byte opaque content hash identifying a node's
// effective inputs.
type Digest [32]byte

// String renders the digest as lowercase hex.
func (d Digest) String() string {
	return hex.EncodeToString(d[:])
}

// IsZero reports whether d is the zero digest (never produced by
// Compute; useful as a caller-side sentinel for "not yet computed").
func (d Digest) IsZero() bool {
	return d == Digest{}
}

// ErrHashInputMissing is returned when a declared input file does not
// exist on disk. This is fatal for the node; it is not silently
// skipped.
type ErrHashInputMissing struct {
	Path string
}

func (e *ErrHashInputMissing) Error() string {
	return fmt.Sprintf("declared input file missing: %s", e.Path)
}

// Input bundles everything Compute needs to derive a node's digest.
// Callers are responsible for resolving env values and for computing
// dependency digests in topological order before calling Compute for a
// node whose predecessors are not yet hashed.
type Input struct {
	TaskName    string
	TaskCommand string
	Args        []string

	// ProjectDir is the absolute project directory to resolve
	// InputGlobs against. WorkspaceRelativeProjectDir is fed into the
	// digest only when Defaults is true.
	ProjectDir                  string
	WorkspaceRelativeProjectDir string
	InputGlobs                  []string

	// EnvKeys is the declared key_env_keys set; Env supplies their
	// resolved values (a missing key hashes as an empty string, same as
	// an unset var).
	EnvKeys []string
	Env     map[string]string

	// Defaults mirrors a task's cache.key.defaults flag: when true, the
	// task command, args, and workspace-relative project directory are
	// always fed into the digest.
	Defaults bool

	// DependencyDigests maps each in-DAG predecessor's full_name to its
	// already-computed digest.
	DependencyDigests map[string]Digest
}

// Compute derives N's digest as:
//
//	H(task_name ‖ task_command ‖ serialized_args ‖
//	  [workspace_relative_project_dir, only when Defaults] ‖
//	  sorted_env_keys_and_values ‖ file_content_tree_root(N) ‖
//	  sorted_dependency_digests(N))
func Compute(in Input, root FileTreeRoot) (Digest, error) {
	h := sha256.New()

	writeLP(h, []byte(in.TaskName))
	writeLP(h, []byte(in.TaskCommand))
	writeArgs(h, in.Args)

	if in.Defaults {
		writeLP(h, []byte(in.WorkspaceRelativeProjectDir))
	}

	// Sorted env keys and values: reuse
	// env.EnvironmentVariableMap.ToHashable, the same deterministic
	// "k=v" pair encoding the resolver already uses upstream as a task
	// hash input, instead of re-deriving it here.
	declared := env.EnvironmentVariableMap{}
	for _, k := range in.EnvKeys {
		declared[k] = in.Env[k]
	}
	for _, pair := range declared.ToHashable() {
		writeLP(h, []byte(pair))
	}

	treeRoot, err := root.Compute(in.ProjectDir, in.InputGlobs)
	if err != nil {
		return Digest{}, err
	}
	h.Write(treeRoot[:])

	depNames := make([]string, 0, len(in.DependencyDigests))
	for name := range in.DependencyDigests {
		depNames = append(depNames, name)
	}
	sort.Strings(depNames)
	for _, name := range depNames {
		d := in.DependencyDigests[name]
		h.Write(d[:])
	}

	var out Digest
	copy(out[:], h.Sum(nil))
	return out, nil
}

// FileTreeRoot computes the Merkle root over a project's matched input
// files. Implemented by *Walker (filetree.go); an interface here keeps
// Compute's dependency on the filesystem walk narrow and testable.
type FileTreeRoot interface {
	Compute(projectDir string, inputGlobs []string) (Digest, error)
}

func writeArgs(h hash.Hash, args []string) {
	for _, a := range args {
		writeLP(h, []byte(a))
	}
	writeLP(h, nil) // terminator, disambiguates arg-count from concatenation
}

// writeLP writes b to h prefixed with its 8-byte big-endian length, so
// that adjacent fields cannot be confused by concatenation (e.g. ["ab",
// "c"] vs ["a", "bc"]).
func writeLP(h hash.Hash, b []byte) {
	var lenBuf [8]byte
	binary.BigEndian.PutUint64(lenBuf[:], uint64(len(b)))
	h.Write(lenBuf[:])
	h.Write(b)
}
