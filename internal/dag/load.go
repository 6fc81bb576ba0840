package dag

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/Iron-Ham/issueforge/internal/errors"
)

// issueFile is the planning output: either a bare list or {issues: [...]}.
type issueFile struct {
	Issues []Issue `json:"issues" yaml:"issues"`
}

// LoadIssues reads a YAML or JSON issue list and validates it. JSON is
// selected by the .json extension; everything else is parsed as YAML.
func LoadIssues(path string) ([]Issue, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.NewNotFoundError("issue file", path)
		}
		return nil, fmt.Errorf("read issues: %w", err)
	}

	issues, err := ParseIssues(data, strings.EqualFold(filepath.Ext(path), ".json"))
	if err != nil {
		return nil, errors.Wrapf(err, "parse %s", path)
	}
	if err := Validate(issues); err != nil {
		return nil, err
	}
	return issues, nil
}

// ParseIssues decodes issue data in either accepted shape.
func ParseIssues(data []byte, isJSON bool) ([]Issue, error) {
	unmarshal := yaml.Unmarshal
	if isJSON {
		unmarshal = json.Unmarshal
	}

	var list []Issue
	if err := unmarshal(data, &list); err == nil {
		return fillSequence(list), nil
	}

	var wrapped issueFile
	if err := unmarshal(data, &wrapped); err != nil {
		return nil, errors.NewValidationError("issue file is neither a list nor {issues: [...]}").WithCause(err)
	}
	return fillSequence(wrapped.Issues), nil
}

// fillSequence numbers issues without a sequence number by file position.
func fillSequence(issues []Issue) []Issue {
	for i := range issues {
		if issues[i].SequenceNumber == 0 {
			issues[i].SequenceNumber = i + 1
		}
	}
	return issues
}

// NewBuildID returns a short random build identifier.
func NewBuildID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}
