// Package dag holds the execution data model for issueforge builds.
//
// A build is a set of interdependent issues grouped into levels. The
// scheduler owns a single DAGState for the whole build; gates read and
// mutate it in place between levels, and the Checkpointer persists it
// after every transition so a crashed build can resume.
//
// This package defines:
//   - Planning: Issue, Guidance, ExecutionConfig
//   - Results: IssueResult, LevelResult, IssueAdaptation, DebtItem
//   - Replanning: ReplanDecision, ReplanRecord
//   - Git bookkeeping: MergeRecord, WorkspaceManifest, GitInitOutcome
//   - Graph operations: ComputeLevels, Validate, ApplyReplan, SkipWithDependents
package dag

import (
	"slices"
	"time"
)

// -----------------------------------------------------------------------------
// Outcomes and decisions
// -----------------------------------------------------------------------------

// IssueOutcome is the result kind of one issue's full lifecycle.
type IssueOutcome string

const (
	OutcomeCompleted           IssueOutcome = "COMPLETED"
	OutcomeCompletedWithDebt   IssueOutcome = "COMPLETED_WITH_DEBT"
	OutcomeFailedRetryable     IssueOutcome = "FAILED_RETRYABLE"
	OutcomeFailedUnrecoverable IssueOutcome = "FAILED_UNRECOVERABLE"
	OutcomeFailedNeedsSplit    IssueOutcome = "FAILED_NEEDS_SPLIT"
	OutcomeFailedEscalated     IssueOutcome = "FAILED_ESCALATED"
	OutcomeSkipped             IssueOutcome = "SKIPPED"
)

// IsTerminal reports whether the outcome ends an issue's lifecycle.
// FAILED_RETRYABLE exists only inside the advisor loop.
func (o IssueOutcome) IsTerminal() bool {
	return o != OutcomeFailedRetryable
}

// IsSuccess reports whether the issue's work was accepted.
func (o IssueOutcome) IsSuccess() bool {
	return o == OutcomeCompleted || o == OutcomeCompletedWithDebt
}

// IsFailure reports whether the outcome belongs in the failed bucket.
func (o IssueOutcome) IsFailure() bool {
	switch o {
	case OutcomeFailedRetryable, OutcomeFailedUnrecoverable, OutcomeFailedNeedsSplit, OutcomeFailedEscalated:
		return true
	}
	return false
}

// AdvisorAction is the Issue Advisor's decision after a coding-loop failure.
type AdvisorAction string

const (
	AdvisorRetryModified    AdvisorAction = "RETRY_MODIFIED"
	AdvisorRetryApproach    AdvisorAction = "RETRY_APPROACH"
	AdvisorAcceptWithDebt   AdvisorAction = "ACCEPT_WITH_DEBT"
	AdvisorSplit            AdvisorAction = "SPLIT"
	AdvisorEscalateToReplan AdvisorAction = "ESCALATE_TO_REPLAN"
	// AdvisorRetryAdvised records a retry-advisor decision to retry after
	// a transient failure.
	AdvisorRetryAdvised AdvisorAction = "RETRY_ADVISED"
)

// ReplanAction is the outer replanner's decision.
type ReplanAction string

const (
	ReplanContinue    ReplanAction = "CONTINUE"
	ReplanModifyDAG   ReplanAction = "MODIFY_DAG"
	ReplanReduceScope ReplanAction = "REDUCE_SCOPE"
	ReplanAbort       ReplanAction = "ABORT"
)

// IsStructural reports whether the action rewrites the graph and restarts
// the level loop.
func (a ReplanAction) IsStructural() bool {
	return a == ReplanModifyDAG || a == ReplanReduceScope
}

// DebtSeverity grades a recorded gap between planned and delivered work.
type DebtSeverity string

const (
	DebtLow    DebtSeverity = "low"
	DebtMedium DebtSeverity = "medium"
	DebtHigh   DebtSeverity = "high"
)

// -----------------------------------------------------------------------------
// Issues
// -----------------------------------------------------------------------------

// Guidance carries planner hints that steer the coding loop.
type Guidance struct {
	// NeedsDeeperQA selects the QA + reviewer + synthesizer path.
	NeedsDeeperQA   bool     `json:"needs_deeper_qa" yaml:"needs_deeper_qa"`
	TestingStrategy string   `json:"testing_strategy,omitempty" yaml:"testing_strategy,omitempty"`
	Notes           []string `json:"notes,omitempty" yaml:"notes,omitempty"`
}

// Issue is one unit of planned work. Planning fields are immutable once
// its level starts; the context fields at the bottom are filled in by the
// worktree gate, the advisor, and the debt/replan gates.
type Issue struct {
	Name               string    `json:"name" yaml:"name"`
	Title              string    `json:"title" yaml:"title"`
	Description        string    `json:"description" yaml:"description"`
	AcceptanceCriteria []string  `json:"acceptance_criteria" yaml:"acceptance_criteria"`
	DependsOn          []string  `json:"depends_on" yaml:"depends_on"`
	Provides           []string  `json:"provides,omitempty" yaml:"provides,omitempty"`
	FilesToCreate      []string  `json:"files_to_create,omitempty" yaml:"files_to_create,omitempty"`
	FilesToModify      []string  `json:"files_to_modify,omitempty" yaml:"files_to_modify,omitempty"`
	Guidance           *Guidance `json:"guidance,omitempty" yaml:"guidance,omitempty"`
	SequenceNumber     int       `json:"sequence_number" yaml:"sequence_number"`
	TargetRepo         string    `json:"target_repo,omitempty" yaml:"target_repo,omitempty"`
	ParentIssue        string    `json:"parent_issue,omitempty" yaml:"parent_issue,omitempty"`

	WorktreePath     string   `json:"worktree_path,omitempty" yaml:"-"`
	BranchName       string   `json:"branch_name,omitempty" yaml:"-"`
	ApproachGuidance string   `json:"approach_guidance,omitempty" yaml:"-"`
	PriorError       string   `json:"prior_error,omitempty" yaml:"-"`
	DebtNotes        []string `json:"debt_notes,omitempty" yaml:"-"`
	FailureNotes     []string `json:"failure_notes,omitempty" yaml:"-"`
}

// NeedsDeeperQA reports whether the issue takes the flagged coding-loop path.
func (i *Issue) NeedsDeeperQA() bool {
	return i.Guidance != nil && i.Guidance.NeedsDeeperQA
}

// Clone returns a deep copy so concurrent tasks never share slices.
func (i Issue) Clone() Issue {
	out := i
	out.AcceptanceCriteria = slices.Clone(i.AcceptanceCriteria)
	out.DependsOn = slices.Clone(i.DependsOn)
	out.Provides = slices.Clone(i.Provides)
	out.FilesToCreate = slices.Clone(i.FilesToCreate)
	out.FilesToModify = slices.Clone(i.FilesToModify)
	out.DebtNotes = slices.Clone(i.DebtNotes)
	out.FailureNotes = slices.Clone(i.FailureNotes)
	if i.Guidance != nil {
		g := *i.Guidance
		g.Notes = slices.Clone(i.Guidance.Notes)
		out.Guidance = &g
	}
	return out
}

// -----------------------------------------------------------------------------
// Results
// -----------------------------------------------------------------------------

// DebtItem is a recorded, intentional gap between plan and delivery.
type DebtItem struct {
	Issue       string       `json:"issue"`
	Kind        string       `json:"kind"`
	Description string       `json:"description"`
	Severity    DebtSeverity `json:"severity"`
}

// IssueAdaptation is one advisor decision. The ledger is append-only.
type IssueAdaptation struct {
	Issue            string        `json:"issue"`
	Round            int           `json:"round"`
	Type             AdvisorAction `json:"type"`
	OriginalCriteria []string      `json:"original_criteria,omitempty"`
	ModifiedCriteria []string      `json:"modified_criteria,omitempty"`
	Diagnosis        string        `json:"diagnosis,omitempty"`
	Rationale        string        `json:"rationale,omitempty"`
	NewApproach      string        `json:"new_approach,omitempty"`
	Timestamp        time.Time     `json:"timestamp"`
}

// IterationRecord is one coding-loop iteration.
type IterationRecord struct {
	Iteration    int      `json:"iteration"`
	Action       string   `json:"action"`
	Summary      string   `json:"summary,omitempty"`
	FilesChanged []string `json:"files_changed,omitempty"`
	Approved     bool     `json:"approved"`
	Blocking     bool     `json:"blocking"`
	QAPassed     *bool    `json:"qa_passed,omitempty"`
	Stuck        bool     `json:"stuck,omitempty"`
	Feedback     string   `json:"feedback,omitempty"`
}

// SplitRequest carries advisor-proposed sub-issues for the split gate.
type SplitRequest struct {
	Rationale string  `json:"rationale"`
	SubIssues []Issue `json:"sub_issues"`
}

// Escalation carries context for the outer replan gate.
type Escalation struct {
	Diagnosis string `json:"diagnosis"`
	Reason    string `json:"reason"`
}

// IssueResult is the outcome of one issue's full lifecycle.
type IssueResult struct {
	Issue              string            `json:"issue"`
	Outcome            IssueOutcome      `json:"outcome"`
	Attempts           int               `json:"attempts"`
	FilesChanged       []string          `json:"files_changed,omitempty"`
	BranchName         string            `json:"branch_name,omitempty"`
	RepoName           string            `json:"repo_name,omitempty"`
	Summary            string            `json:"summary,omitempty"`
	Error              string            `json:"error,omitempty"`
	AdvisorInvocations int               `json:"advisor_invocations"`
	Adaptations        []IssueAdaptation `json:"adaptations,omitempty"`
	DebtItems          []DebtItem        `json:"debt_items,omitempty"`
	IterationHistory   []IterationRecord `json:"iteration_history,omitempty"`
	Split              *SplitRequest     `json:"split,omitempty"`
	Escalation         *Escalation       `json:"escalation,omitempty"`
}

// LevelResult buckets the results of exactly one level. It is consumed
// by the gates and never persisted on its own.
type LevelResult struct {
	Level     int
	Completed []IssueResult
	Failed    []IssueResult
	Skipped   []IssueResult
}

// Add places r into the bucket matching its outcome.
func (lr *LevelResult) Add(r IssueResult) {
	switch {
	case r.Outcome.IsSuccess():
		lr.Completed = append(lr.Completed, r)
	case r.Outcome == OutcomeSkipped:
		lr.Skipped = append(lr.Skipped, r)
	default:
		lr.Failed = append(lr.Failed, r)
	}
}

// FailedWith returns failed results with one of the given outcomes.
func (lr *LevelResult) FailedWith(outcomes ...IssueOutcome) []IssueResult {
	var out []IssueResult
	for _, r := range lr.Failed {
		if slices.Contains(outcomes, r.Outcome) {
			out = append(out, r)
		}
	}
	return out
}

// -----------------------------------------------------------------------------
// Replanning
// -----------------------------------------------------------------------------

// ReplanDecision is the outer replanner's output.
type ReplanDecision struct {
	Action        ReplanAction `json:"action"`
	NewIssues     []Issue      `json:"new_issues,omitempty"`
	RemovedIssues []string     `json:"removed_issue_names,omitempty"`
	UpdatedIssues []Issue      `json:"updated_issues,omitempty"`
	Rationale     string       `json:"rationale"`
}

// ReplanRecord is one entry in the replan history.
type ReplanRecord struct {
	Level       int            `json:"level"`
	TriggeredBy []string       `json:"triggered_by"`
	Decision    ReplanDecision `json:"decision"`
	// Local is true for split-gate replans, which do not consume budget.
	Local     bool      `json:"local,omitempty"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// -----------------------------------------------------------------------------
// Git bookkeeping
// -----------------------------------------------------------------------------

// RepoMerge is the merger outcome for one repository in one level.
type RepoMerge struct {
	Repo                 string   `json:"repo"`
	Merged               []string `json:"merged,omitempty"`
	Failed               []string `json:"failed,omitempty"`
	Attempts             int      `json:"attempts"`
	Success              bool     `json:"success"`
	NeedsIntegrationTest bool     `json:"needs_integration_test"`
	Error                string   `json:"error,omitempty"`
}

// IntegrationTestRecord is the final integration-test outcome for a level.
type IntegrationTestRecord struct {
	Passed   bool     `json:"passed"`
	Attempts int      `json:"attempts"`
	Summary  string   `json:"summary,omitempty"`
	Failures []string `json:"failures,omitempty"`
}

// MergeRecord is the merge gate's outcome for one level.
type MergeRecord struct {
	Level           int                    `json:"level"`
	Repos           []RepoMerge            `json:"repos"`
	IntegrationTest *IntegrationTestRecord `json:"integration_test,omitempty"`
	Timestamp       time.Time              `json:"timestamp"`
}

// Unmerged returns every branch that failed to merge in any repository.
func (m MergeRecord) Unmerged() []string {
	var out []string
	for _, r := range m.Repos {
		out = append(out, r.Failed...)
	}
	return out
}

// RepoRole distinguishes the primary repository from its dependencies.
type RepoRole string

const (
	RolePrimary    RepoRole = "primary"
	RoleDependency RepoRole = "dependency"
)

// WorkspaceRepo describes one cloned repository. It is never mutated after
// construction; per-repository git-init outcomes live in
// DAGState.RepoInitOutcomes.
type WorkspaceRepo struct {
	Name string   `json:"name"`
	Path string   `json:"path"`
	Role RepoRole `json:"role"`
}

// WorkspaceManifest lists the repositories of a multi-repository build.
type WorkspaceManifest struct {
	Repos []WorkspaceRepo `json:"repos"`
}

// Primary returns the primary repository, or the first one if none is marked.
func (m *WorkspaceManifest) Primary() (WorkspaceRepo, bool) {
	if m == nil || len(m.Repos) == 0 {
		return WorkspaceRepo{}, false
	}
	for _, r := range m.Repos {
		if r.Role == RolePrimary {
			return r, true
		}
	}
	return m.Repos[0], true
}

// Lookup finds a repository by name.
func (m *WorkspaceManifest) Lookup(name string) (WorkspaceRepo, bool) {
	if m == nil {
		return WorkspaceRepo{}, false
	}
	for _, r := range m.Repos {
		if r.Name == name {
			return r, true
		}
	}
	return WorkspaceRepo{}, false
}

// IsMultiRepo reports whether the build spans more than one repository.
func (m *WorkspaceManifest) IsMultiRepo() bool {
	return m != nil && len(m.Repos) > 1
}

// GitInitOutcome records what git-init did for one repository.
type GitInitOutcome struct {
	Success           bool   `json:"success"`
	IntegrationBranch string `json:"integration_branch,omitempty"`
	OriginalBranch    string `json:"original_branch,omitempty"`
	InitialCommit     string `json:"initial_commit,omitempty"`
	Error             string `json:"error,omitempty"`
}

// RepoView is a WorkspaceRepo joined with its init outcome.
type RepoView struct {
	WorkspaceRepo
	Init *GitInitOutcome
}

// -----------------------------------------------------------------------------
// Configuration
// -----------------------------------------------------------------------------

// ExecutionConfig holds the tunables for one build. It is immutable for the
// duration of the build.
type ExecutionConfig struct {
	MaxCodingIterations       int
	MaxAdvisorInvocations     int
	EnableIssueAdvisor        bool
	MaxReplans                int
	EnableReplanning          bool
	EnableIntegrationTesting  bool
	MaxIntegrationTestRetries int
	EnableGitIsolation        bool
	// MaxConcurrentIssues bounds fan-out within a level; 0 means unbounded.
	MaxConcurrentIssues int

	CapabilityTimeout      time.Duration
	CoderTimeout           time.Duration
	MergeTimeout           time.Duration
	IntegrationTestTimeout time.Duration

	// CapabilityRateLimit is calls per second across all capabilities; 0 disables limiting.
	CapabilityRateLimit float64
	CapabilityBurst     int
}

// DefaultExecutionConfig returns the default tunables.
func DefaultExecutionConfig() ExecutionConfig {
	return ExecutionConfig{
		MaxCodingIterations:       5,
		MaxAdvisorInvocations:     2,
		EnableIssueAdvisor:        true,
		MaxReplans:                2,
		EnableReplanning:          true,
		EnableIntegrationTesting:  true,
		MaxIntegrationTestRetries: 1,
		EnableGitIsolation:        true,
		CapabilityTimeout:         30 * time.Minute,
		CoderTimeout:              45 * time.Minute,
		MergeTimeout:              20 * time.Minute,
		IntegrationTestTimeout:    30 * time.Minute,
		CapabilityBurst:           1,
	}
}
