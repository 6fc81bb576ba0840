package capability

import "slices"

// Kind identifies one remote capability. The set is closed.
type Kind int

const (
	KindCoder Kind = iota + 1
	KindQA
	KindCodeReviewer
	KindQASynthesizer
	KindIssueAdvisor
	KindRetryAdvisor
	KindReplanner
	KindWorkspaceSetup
	KindWorkspaceCleanup
	KindMerger
	KindIntegrationTester
	KindGitInit
)

var targets = map[Kind]string{
	KindCoder:             "coder",
	KindQA:                "qa",
	KindCodeReviewer:      "code-reviewer",
	KindQASynthesizer:     "qa-synthesizer",
	KindIssueAdvisor:      "issue-advisor",
	KindRetryAdvisor:      "retry-advisor",
	KindReplanner:         "replanner",
	KindWorkspaceSetup:    "workspace-setup",
	KindWorkspaceCleanup:  "workspace-cleanup",
	KindMerger:            "merger",
	KindIntegrationTester: "integration-tester",
	KindGitInit:           "git-init",
}

// Target returns the capability's target name. It is used for logs,
// metrics labels, spans, and the external command envelope only.
func (k Kind) Target() string {
	if t, ok := targets[k]; ok {
		return t
	}
	return "unknown"
}

// String implements fmt.Stringer.
func (k Kind) String() string {
	return k.Target()
}

// IsGit reports whether the capability manipulates repositories rather
// than invoking an agent.
func (k Kind) IsGit() bool {
	switch k {
	case KindWorkspaceSetup, KindWorkspaceCleanup, KindMerger, KindGitInit:
		return true
	}
	return false
}

// AllKinds returns every Kind in declaration order.
func AllKinds() []Kind {
	kinds := make([]Kind, 0, len(targets))
	for k := KindCoder; k <= KindGitInit; k++ {
		kinds = append(kinds, k)
	}
	return kinds
}

// ParseKind resolves a target name.
func ParseKind(target string) (Kind, bool) {
	for k, t := range targets {
		if t == target {
			return k, true
		}
	}
	return 0, false
}

// Targets returns all target names, sorted.
func Targets() []string {
	out := make([]string, 0, len(targets))
	for _, t := range targets {
		out = append(out, t)
	}
	slices.Sort(out)
	return out
}
