package capability

import (
	"github.com/Iron-Ham/issueforge/internal/dag"
	"github.com/Iron-Ham/issueforge/internal/memory"
)

// Coding-loop verdicts returned by the synthesizer.
const (
	ActionApprove = "approve"
	ActionFix     = "fix"
	ActionBlock   = "block"
)

// -----------------------------------------------------------------------------
// Coding loop
// -----------------------------------------------------------------------------

// CoderRequest asks the coder to implement (or revise) an issue.
type CoderRequest struct {
	Issue        dag.Issue      `json:"issue"`
	Iteration    int            `json:"iteration"`
	Feedback     string         `json:"feedback,omitempty"`
	Memory       memory.Context `json:"memory"`
	WorktreePath string         `json:"worktree_path,omitempty"`
	BranchName   string         `json:"branch_name,omitempty"`
}

// CoderResult is what the coder reports back.
type CoderResult struct {
	Summary      string   `json:"summary"`
	FilesChanged []string `json:"files_changed,omitempty"`
	// Interface describes what this issue exposes to its dependents.
	Interface string `json:"interface,omitempty"`
	// Conventions are codebase conventions the coder observed.
	Conventions string `json:"conventions,omitempty"`
}

// ReviewRequest asks the reviewer to judge one iteration.
type ReviewRequest struct {
	Issue        dag.Issue `json:"issue"`
	Iteration    int       `json:"iteration"`
	CoderSummary string    `json:"coder_summary"`
	FilesChanged []string  `json:"files_changed,omitempty"`
	WorktreePath string    `json:"worktree_path,omitempty"`
}

// ReviewResult is the reviewer's verdict.
type ReviewResult struct {
	Approved  bool           `json:"approved"`
	Blocking  bool           `json:"blocking"`
	Summary   string         `json:"summary,omitempty"`
	Feedback  string         `json:"feedback,omitempty"`
	DebtItems []dag.DebtItem `json:"debt_items,omitempty"`
}

// BlockingDebt returns the high-severity debt items.
func (r ReviewResult) BlockingDebt() []dag.DebtItem {
	var out []dag.DebtItem
	for _, d := range r.DebtItems {
		if d.Severity == dag.DebtHigh {
			out = append(out, d)
		}
	}
	return out
}

// QARequest asks QA to test one iteration.
type QARequest struct {
	Issue           dag.Issue `json:"issue"`
	Iteration       int       `json:"iteration"`
	CoderSummary    string    `json:"coder_summary"`
	FilesChanged    []string  `json:"files_changed,omitempty"`
	WorktreePath    string    `json:"worktree_path,omitempty"`
	TestingStrategy string    `json:"testing_strategy,omitempty"`
}

// QAResult is QA's verdict.
type QAResult struct {
	Passed       bool     `json:"passed"`
	Summary      string   `json:"summary,omitempty"`
	TestFailures []string `json:"test_failures,omitempty"`
}

// SynthesisRequest combines QA and review for the synthesizer.
type SynthesisRequest struct {
	Issue     dag.Issue             `json:"issue"`
	Iteration int                   `json:"iteration"`
	QA        QAResult              `json:"qa"`
	Review    ReviewResult          `json:"review"`
	History   []dag.IterationRecord `json:"history,omitempty"`
}

// SynthesisResult is the synthesizer's authoritative verdict.
type SynthesisResult struct {
	// Action is one of ActionApprove, ActionFix, ActionBlock.
	Action   string `json:"action"`
	Stuck    bool   `json:"stuck,omitempty"`
	Summary  string `json:"summary,omitempty"`
	Feedback string `json:"feedback,omitempty"`
}

// -----------------------------------------------------------------------------
// Advisors and replanning
// -----------------------------------------------------------------------------

// AdvisorRequest asks the issue advisor how to adapt after a failure.
type AdvisorRequest struct {
	Issue            dag.Issue             `json:"issue"`
	Round            int                   `json:"round"`
	Failure          string                `json:"failure"`
	IterationHistory []dag.IterationRecord `json:"iteration_history,omitempty"`
	PriorAdaptations []dag.IssueAdaptation `json:"prior_adaptations,omitempty"`
	DAG              dag.DAGContext        `json:"dag"`
}

// AdvisorDecision is the issue advisor's answer.
type AdvisorDecision struct {
	Action           dag.AdvisorAction `json:"action"`
	Diagnosis        string            `json:"diagnosis,omitempty"`
	Rationale        string            `json:"rationale,omitempty"`
	ModifiedCriteria []string          `json:"modified_criteria,omitempty"`
	NewApproach      string            `json:"new_approach,omitempty"`
	// MissingFunctionality is recorded as debt on ACCEPT_WITH_DEBT.
	MissingFunctionality []string    `json:"missing_functionality,omitempty"`
	SubIssues            []dag.Issue `json:"sub_issues,omitempty"`
	EscalationReason     string      `json:"escalation_reason,omitempty"`
}

// RetryAdviceRequest asks whether a transient failure is worth retrying.
type RetryAdviceRequest struct {
	Issue   dag.Issue      `json:"issue"`
	Error   string         `json:"error"`
	Attempt int            `json:"attempt"`
	DAG     dag.DAGContext `json:"dag"`
}

// RetryAdviceResult is the retry advisor's answer.
type RetryAdviceResult struct {
	ShouldRetry bool   `json:"should_retry"`
	Diagnosis   string `json:"diagnosis,omitempty"`
	// ModifiedContext is injected as approach guidance on retry.
	ModifiedContext string `json:"modified_context,omitempty"`
}

// ReplanRequest asks the replanner to restructure the remaining work.
type ReplanRequest struct {
	DAG          dag.DAGContext    `json:"dag"`
	Issues       []dag.Issue       `json:"issues"`
	Failed       []dag.IssueResult `json:"failed"`
	Escalations  []string          `json:"escalations,omitempty"`
	ReplanCount  int               `json:"replan_count"`
	MaxReplans   int               `json:"max_replans"`
	CurrentLevel int               `json:"current_level"`
}

// -----------------------------------------------------------------------------
// Git
// -----------------------------------------------------------------------------

// WorktreeSpec names one issue that needs an isolated working copy.
type WorktreeSpec struct {
	Issue          string `json:"issue"`
	SequenceNumber int    `json:"sequence_number"`
}

// WorkspaceSetupRequest asks for one branch and worktree per issue.
type WorkspaceSetupRequest struct {
	RepoPath    string         `json:"repo_path"`
	RepoName    string         `json:"repo_name,omitempty"`
	BuildID     string         `json:"build_id,omitempty"`
	BaseBranch  string         `json:"base_branch,omitempty"`
	WorktreeDir string         `json:"worktree_dir,omitempty"`
	Issues      []WorktreeSpec `json:"issues"`
}

// WorktreeAssignment is the working copy created for one issue.
type WorktreeAssignment struct {
	Issue  string `json:"issue"`
	Path   string `json:"path"`
	Branch string `json:"branch"`
}

// WorkspaceSetupResult lists created working copies and per-issue errors.
type WorkspaceSetupResult struct {
	Worktrees []WorktreeAssignment `json:"worktrees"`
	Errors    map[string]string    `json:"errors,omitempty"`
}

// WorkspaceCleanupRequest asks for worktrees and branches to be removed.
type WorkspaceCleanupRequest struct {
	RepoPath  string   `json:"repo_path"`
	Worktrees []string `json:"worktrees,omitempty"`
	Branches  []string `json:"branches,omitempty"`
}

// WorkspaceCleanupResult reports what was removed.
type WorkspaceCleanupResult struct {
	Removed []string `json:"removed,omitempty"`
	Errors  []string `json:"errors,omitempty"`
}

// MergeRequest asks for branches to be merged into the integration branch.
type MergeRequest struct {
	RepoPath          string   `json:"repo_path"`
	RepoName          string   `json:"repo_name,omitempty"`
	IntegrationBranch string   `json:"integration_branch"`
	Branches          []string `json:"branches"`
	Level             int      `json:"level"`
}

// MergeResult is the merger's report.
type MergeResult struct {
	Merged               []string `json:"merged,omitempty"`
	Failed               []string `json:"failed,omitempty"`
	NeedsIntegrationTest bool     `json:"needs_integration_test"`
	Summary              string   `json:"summary,omitempty"`
}

// Success reports whether every requested branch merged.
func (r MergeResult) Success() bool {
	return len(r.Failed) == 0
}

// IntegrationTestRequest asks for the integration branch to be tested.
type IntegrationTestRequest struct {
	RepoPath          string   `json:"repo_path"`
	IntegrationBranch string   `json:"integration_branch"`
	Level             int      `json:"level"`
	Merged            []string `json:"merged"`
	Attempt           int      `json:"attempt"`
}

// IntegrationTestResult is the integration tester's verdict.
type IntegrationTestResult struct {
	Passed   bool     `json:"passed"`
	Summary  string   `json:"summary,omitempty"`
	Failures []string `json:"failures,omitempty"`
}

// GitInitRequest asks for a repository to be prepared for a build.
type GitInitRequest struct {
	RepoPath          string `json:"repo_path"`
	BuildID           string `json:"build_id,omitempty"`
	IntegrationBranch string `json:"integration_branch"`
}
