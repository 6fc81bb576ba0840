package gates

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"text/template"

	"github.com/Iron-Ham/issueforge/internal/dag"
)

// Description files live at <artifacts>/plan/issues.
const (
	PlanDirName   = "plan"
	IssuesDirName = "issues"
)

const descriptionTemplate = `# {{.Title}}

- Name: ` + "`{{.Name}}`" + `
- Sequence: {{.SequenceNumber}}
{{- if .ParentIssue}}
- Split from: ` + "`{{.ParentIssue}}`" + `
{{- end}}
{{- if .TargetRepo}}
- Repository: {{.TargetRepo}}
{{- end}}
{{- if .DependsOn}}
- Depends on:{{range .DependsOn}} ` + "`{{.}}`" + `{{end}}
{{- end}}

{{.Description}}

## Acceptance criteria
{{range .AcceptanceCriteria}}
- [ ] {{.}}
{{- end}}
{{- if or .FilesToCreate .FilesToModify}}

## Files
{{range .FilesToCreate}}
- create ` + "`{{.}}`" + `
{{- end}}
{{- range .FilesToModify}}
- modify ` + "`{{.}}`" + `
{{- end}}
{{- end}}
`

var descriptionTmpl = template.Must(template.New("issue-description").Parse(descriptionTemplate))

// Describer writes a markdown description file per issue, the document a
// coder reads for issues created mid-build by splits and replans.
type Describer struct {
	dir string
}

// NewDescriber writes under <artifacts>/plan/issues.
func NewDescriber(artifactsDir string) *Describer {
	return &Describer{dir: filepath.Join(artifactsDir, PlanDirName, IssuesDirName)}
}

// Path returns the description path for iss.
func (d *Describer) Path(iss dag.Issue) string {
	return filepath.Join(d.dir, fmt.Sprintf("issue-%02d-%s.md", iss.SequenceNumber, iss.Name))
}

// RenderDescription renders the markdown description for iss.
func RenderDescription(iss dag.Issue) (string, error) {
	if iss.Title == "" {
		iss.Title = iss.Name
	}
	var buf bytes.Buffer
	if err := descriptionTmpl.Execute(&buf, iss); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// Write renders and writes one file per issue. A nil Describer does nothing.
func (d *Describer) Write(issues ...dag.Issue) error {
	if d == nil || len(issues) == 0 {
		return nil
	}
	if err := os.MkdirAll(d.dir, 0755); err != nil {
		return fmt.Errorf("create description dir: %w", err)
	}
	for _, iss := range issues {
		body, err := RenderDescription(iss)
		if err != nil {
			return fmt.Errorf("render %s: %w", iss.Name, err)
		}
		if err := os.WriteFile(d.Path(iss), []byte(body), 0644); err != nil {
			return fmt.Errorf("write %s: %w", iss.Name, err)
		}
	}
	return nil
}
