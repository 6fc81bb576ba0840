package codingloop

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/Iron-Ham/issueforge/internal/dag"
	"github.com/Iron-Ham/issueforge/internal/errors"
)

// IterationsDirName holds per-issue progress under <artifacts>/execution.
const IterationsDirName = "iterations"

// IterationState is the mid-issue progress of one coding loop.
type IterationState struct {
	Issue        string                `json:"issue"`
	Iteration    int                   `json:"iteration"`
	Feedback     string                `json:"feedback,omitempty"`
	FilesChanged []string              `json:"files_changed,omitempty"`
	History      []dag.IterationRecord `json:"history,omitempty"`
	UpdatedAt    time.Time             `json:"updated_at"`
}

// IterationStore persists IterationState documents. A nil store discards
// everything, which is what tests and artifact-less runs use.
type IterationStore struct {
	dir string
}

// NewIterationStore stores documents under <artifacts>/execution/iterations.
func NewIterationStore(artifactsDir string) *IterationStore {
	return &IterationStore{dir: filepath.Join(dag.ExecutionDir(artifactsDir), IterationsDirName)}
}

// Path returns the document path for an issue.
func (s *IterationStore) Path(issue string) string {
	return filepath.Join(s.dir, issue+".json")
}

// Load returns the saved state for issue. ok is false when nothing was saved.
func (s *IterationStore) Load(issue string) (IterationState, bool, error) {
	if s == nil {
		return IterationState{}, false, nil
	}
	data, err := os.ReadFile(s.Path(issue))
	if err != nil {
		if os.IsNotExist(err) {
			return IterationState{}, false, nil
		}
		return IterationState{}, false, errors.NewCheckpointError("read iteration state", err).WithPath(s.Path(issue))
	}
	var st IterationState
	if err := json.Unmarshal(data, &st); err != nil {
		return IterationState{}, false, errors.NewCheckpointError("decode iteration state", errors.ErrCheckpointCorrupt).
			WithPath(s.Path(issue))
	}
	return st, true, nil
}

// Save writes st atomically.
func (s *IterationStore) Save(st IterationState) error {
	if s == nil {
		return nil
	}
	st.UpdatedAt = time.Now()
	if err := dag.WriteJSONAtomic(s.Path(st.Issue), st); err != nil {
		return errors.NewCheckpointError("write iteration state", err).WithPath(s.Path(st.Issue))
	}
	return nil
}

// Delete removes the document for issue. A missing document is not an error.
func (s *IterationStore) Delete(issue string) error {
	if s == nil {
		return nil
	}
	if err := os.Remove(s.Path(issue)); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
