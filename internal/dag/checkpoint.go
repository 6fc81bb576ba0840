package dag

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/Iron-Ham/issueforge/internal/errors"
)

// Durable layout under the artifacts directory.
const (
	ExecutionDirName   = "execution"
	CheckpointFileName = "checkpoint.json"
	checkpointLockName = "checkpoint.lock"
)

// ExecutionDir returns <artifacts>/execution.
func ExecutionDir(artifactsDir string) string {
	return filepath.Join(artifactsDir, ExecutionDirName)
}

// Checkpointer persists a DAGState to <artifacts>/execution/checkpoint.json.
// Writes are atomic and guarded by an flock so readers in other processes
// never observe a partial document.
type Checkpointer struct {
	dir string
}

// NewCheckpointer creates a Checkpointer for an artifacts directory.
func NewCheckpointer(artifactsDir string) *Checkpointer {
	return &Checkpointer{dir: ExecutionDir(artifactsDir)}
}

// Path returns the checkpoint file path.
func (c *Checkpointer) Path() string {
	return filepath.Join(c.dir, CheckpointFileName)
}

// Dir returns the execution directory holding the checkpoint.
func (c *Checkpointer) Dir() string {
	return c.dir
}

// Exists reports whether a checkpoint has been written.
func (c *Checkpointer) Exists() bool {
	_, err := os.Stat(c.Path())
	return err == nil
}

// Save writes the full state.
func (c *Checkpointer) Save(s *DAGState) error {
	fl := NewFileLock(c.dir, checkpointLockName)
	if err := fl.Lock(); err != nil {
		return errors.NewCheckpointError("acquire lock", err).WithPath(c.Path())
	}
	defer func() { _ = fl.Unlock() }()

	s.Touch()
	if err := WriteJSONAtomic(c.Path(), s); err != nil {
		return errors.NewCheckpointError("write checkpoint", err).WithPath(c.Path())
	}
	return nil
}

// Load reads the state back. A missing file yields ErrCheckpointNotFound and
// an undecodable one ErrCheckpointCorrupt, both wrapped in a CheckpointError.
func (c *Checkpointer) Load() (*DAGState, error) {
	fl := NewFileLock(c.dir, checkpointLockName)
	if err := fl.RLock(); err != nil {
		return nil, errors.NewCheckpointError("acquire lock", err).WithPath(c.Path())
	}
	defer func() { _ = fl.Unlock() }()

	data, err := os.ReadFile(c.Path())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.NewCheckpointError("load checkpoint", errors.ErrCheckpointNotFound).WithPath(c.Path())
		}
		return nil, errors.NewCheckpointError("read checkpoint", err).WithPath(c.Path())
	}

	var s DAGState
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, errors.NewCheckpointError(
			fmt.Sprintf("decode checkpoint: %v", err), errors.ErrCheckpointCorrupt,
		).WithPath(c.Path())
	}
	if len(s.Levels) == 0 && len(s.AllIssues) > 0 {
		return nil, errors.NewCheckpointError("checkpoint has issues but no levels", errors.ErrCheckpointCorrupt).
			WithPath(c.Path())
	}
	return &s, nil
}

// WriteJSONAtomic marshals v and writes it to path via a temp file and rename.
func WriteJSONAtomic(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create dir: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}
