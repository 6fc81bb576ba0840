package dag

import (
	"fmt"
	"slices"
	"strings"
	"time"
)

// DAGState is the single mutable execution record of a build. It is owned by
// the scheduler goroutine; concurrent issue tasks only ever see copies.
type DAGState struct {
	BuildID      string `json:"build_id,omitempty"`
	RepoPath     string `json:"repo_path"`
	ArtifactsDir string `json:"artifacts_dir"`

	AllIssues    []Issue    `json:"all_issues"`
	Levels       [][]string `json:"levels"`
	CurrentLevel int        `json:"current_level"`

	CompletedIssues []IssueResult `json:"completed_issues"`
	FailedIssues    []IssueResult `json:"failed_issues"`
	SkippedIssues   []IssueResult `json:"skipped_issues"`
	InFlight        []string      `json:"in_flight_issues"`

	ReplanCount   int            `json:"replan_count"`
	ReplanHistory []ReplanRecord `json:"replan_history,omitempty"`

	IntegrationBranch string `json:"git_integration_branch,omitempty"`
	OriginalBranch    string `json:"git_original_branch,omitempty"`
	InitialCommit     string `json:"git_initial_commit,omitempty"`

	MergeHistory      []MergeRecord     `json:"merge_history,omitempty"`
	AccumulatedDebt   []DebtItem        `json:"accumulated_debt,omitempty"`
	AdaptationHistory []IssueAdaptation `json:"adaptation_history,omitempty"`

	Workspace        *WorkspaceManifest        `json:"workspace_manifest,omitempty"`
	RepoInitOutcomes map[string]GitInitOutcome `json:"repo_init_outcomes,omitempty"`

	Aborted     bool      `json:"aborted,omitempty"`
	AbortReason string    `json:"abort_reason,omitempty"`
	StartedAt   time.Time `json:"started_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// NewDAGState builds a fresh state with levels computed from issues.
func NewDAGState(buildID, repoPath, artifactsDir string, issues []Issue) (*DAGState, error) {
	levels, err := ComputeLevels(issues)
	if err != nil {
		return nil, err
	}
	now := time.Now()
	return &DAGState{
		BuildID:      buildID,
		RepoPath:     repoPath,
		ArtifactsDir: artifactsDir,
		AllIssues:    issues,
		Levels:       levels,
		StartedAt:    now,
		UpdatedAt:    now,
	}, nil
}

// Issue returns a pointer into AllIssues for in-place annotation.
func (s *DAGState) Issue(name string) (*Issue, bool) {
	for i := range s.AllIssues {
		if s.AllIssues[i].Name == name {
			return &s.AllIssues[i], true
		}
	}
	return nil, false
}

// IsDone reports whether name already has a completed, failed, or skipped result.
func (s *DAGState) IsDone(name string) bool {
	_, ok := s.Result(name)
	return ok
}

// Result returns the recorded result for name, if any.
func (s *DAGState) Result(name string) (IssueResult, bool) {
	for _, bucket := range [][]IssueResult{s.CompletedIssues, s.FailedIssues, s.SkippedIssues} {
		for _, r := range bucket {
			if r.Issue == name {
				return r, true
			}
		}
	}
	return IssueResult{}, false
}

// IsCompleted reports whether name finished successfully.
func (s *DAGState) IsCompleted(name string) bool {
	return slices.ContainsFunc(s.CompletedIssues, func(r IssueResult) bool { return r.Issue == name })
}

// ActiveIssues returns copies of the issues in level idx that have no
// recorded result yet.
func (s *DAGState) ActiveIssues(idx int) []Issue {
	if idx < 0 || idx >= len(s.Levels) {
		return nil
	}
	var out []Issue
	for _, name := range s.Levels[idx] {
		if s.IsDone(name) {
			continue
		}
		if iss, ok := s.Issue(name); ok {
			out = append(out, iss.Clone())
		}
	}
	return out
}

// RecordResult stores r in the bucket matching its outcome, replacing any
// earlier result for the same issue, and clears it from InFlight.
func (s *DAGState) RecordResult(r IssueResult) {
	s.forget(r.Issue)
	switch {
	case r.Outcome.IsSuccess():
		s.CompletedIssues = append(s.CompletedIssues, r)
	case r.Outcome == OutcomeSkipped:
		s.SkippedIssues = append(s.SkippedIssues, r)
	default:
		s.FailedIssues = append(s.FailedIssues, r)
	}
	s.InFlight = slices.DeleteFunc(s.InFlight, func(n string) bool { return n == r.Issue })
}

// ClearResult removes any recorded failed or skipped result for name so the
// issue becomes eligible to run again. Completed results are kept.
func (s *DAGState) ClearResult(name string) {
	match := func(r IssueResult) bool { return r.Issue == name }
	s.FailedIssues = slices.DeleteFunc(s.FailedIssues, match)
	s.SkippedIssues = slices.DeleteFunc(s.SkippedIssues, match)
}

func (s *DAGState) forget(name string) {
	match := func(r IssueResult) bool { return r.Issue == name }
	s.CompletedIssues = slices.DeleteFunc(s.CompletedIssues, match)
	s.FailedIssues = slices.DeleteFunc(s.FailedIssues, match)
	s.SkippedIssues = slices.DeleteFunc(s.SkippedIssues, match)
}

// RepoView joins the immutable repository descriptor with its git-init outcome.
func (s *DAGState) RepoView(name string) (RepoView, bool) {
	repo, ok := s.Workspace.Lookup(name)
	if !ok {
		return RepoView{}, false
	}
	view := RepoView{WorkspaceRepo: repo}
	if outcome, ok := s.RepoInitOutcomes[name]; ok {
		view.Init = &outcome
	}
	return view, true
}

// SetRepoInitOutcome records git-init's result for one repository.
func (s *DAGState) SetRepoInitOutcome(name string, outcome GitInitOutcome) {
	if s.RepoInitOutcomes == nil {
		s.RepoInitOutcomes = make(map[string]GitInitOutcome)
	}
	s.RepoInitOutcomes[name] = outcome
}

// ResolveRepo returns the repository an issue targets, falling back to the
// primary repository when the issue names none or an unknown one.
func (s *DAGState) ResolveRepo(iss Issue) WorkspaceRepo {
	if repo, ok := s.Workspace.Lookup(iss.TargetRepo); ok {
		return repo
	}
	if primary, ok := s.Workspace.Primary(); ok {
		return primary
	}
	return WorkspaceRepo{Name: "primary", Path: s.RepoPath, Role: RolePrimary}
}

// Context returns the read-only view of the graph handed to capabilities.
func (s *DAGState) Context() DAGContext {
	ctx := DAGContext{
		BuildID:      s.BuildID,
		TotalIssues:  len(s.AllIssues),
		CurrentLevel: s.CurrentLevel,
		TotalLevels:  len(s.Levels),
		ReplanCount:  s.ReplanCount,
	}
	for _, r := range s.CompletedIssues {
		ctx.Completed = append(ctx.Completed, r.Issue)
	}
	for _, r := range s.FailedIssues {
		ctx.Failed = append(ctx.Failed, r.Issue)
	}
	for _, r := range s.SkippedIssues {
		ctx.Skipped = append(ctx.Skipped, r.Issue)
	}
	return ctx
}

// DAGContext is a snapshot of build progress passed to advisors and the
// replanner. It carries names only.
type DAGContext struct {
	BuildID      string   `json:"build_id,omitempty"`
	TotalIssues  int      `json:"total_issues"`
	CurrentLevel int      `json:"current_level"`
	TotalLevels  int      `json:"total_levels"`
	ReplanCount  int      `json:"replan_count"`
	Completed    []string `json:"completed,omitempty"`
	Failed       []string `json:"failed,omitempty"`
	Skipped      []string `json:"skipped,omitempty"`
}

// Summary is the final account of a build.
type Summary struct {
	Completed int    `json:"completed"`
	Failed    int    `json:"failed"`
	Skipped   int    `json:"skipped"`
	Pending   int    `json:"pending"`
	Debt      int    `json:"debt"`
	Replans   int    `json:"replans"`
	Aborted   bool   `json:"aborted"`
	Rationale string `json:"rationale"`
}

// Summary counts results and explains how the build ended.
func (s *DAGState) Summary() Summary {
	sum := Summary{
		Completed: len(s.CompletedIssues),
		Failed:    len(s.FailedIssues),
		Skipped:   len(s.SkippedIssues),
		Debt:      len(s.AccumulatedDebt),
		Replans:   s.ReplanCount,
		Aborted:   s.Aborted,
	}
	for _, iss := range s.AllIssues {
		if !s.IsDone(iss.Name) {
			sum.Pending++
		}
	}

	var parts []string
	switch {
	case s.Aborted:
		parts = append(parts, "build aborted by replanner")
		if s.AbortReason != "" {
			parts = append(parts, s.AbortReason)
		}
	case sum.Failed == 0 && sum.Skipped == 0 && sum.Pending == 0:
		parts = append(parts, "all issues completed")
	default:
		parts = append(parts, fmt.Sprintf("%d of %d issues completed", sum.Completed, len(s.AllIssues)))
	}
	if sum.Failed > 0 {
		parts = append(parts, fmt.Sprintf("%d failed", sum.Failed))
	}
	if sum.Skipped > 0 {
		parts = append(parts, fmt.Sprintf("%d skipped", sum.Skipped))
	}
	if sum.Debt > 0 {
		parts = append(parts, fmt.Sprintf("%d debt items accepted", sum.Debt))
	}
	if sum.Replans > 0 {
		parts = append(parts, fmt.Sprintf("%d replans", sum.Replans))
	}
	sum.Rationale = strings.Join(parts, "; ")
	return sum
}

// Touch stamps the state as updated.
func (s *DAGState) Touch() {
	s.UpdatedAt = time.Now()
}
