package dag

import (
	"fmt"
	"slices"
	"sort"
	"time"

	"github.com/Iron-Ham/issueforge/internal/errors"
)

// Validate checks the name-resolution invariant: names are unique, every
// dependency resolves to an issue, and the graph is acyclic.
func Validate(issues []Issue) error {
	_, err := ComputeLevels(issues)
	return err
}

// ComputeLevels groups issues into dependency levels using Kahn's algorithm.
// Every issue's dependencies appear in strictly earlier levels. Within a level
// issues are ordered by sequence number, then name.
func ComputeLevels(issues []Issue) ([][]string, error) {
	byName := make(map[string]*Issue, len(issues))
	for i := range issues {
		iss := &issues[i]
		if iss.Name == "" {
			return nil, errors.NewGraphError("issue has empty name", errors.ErrDanglingReference)
		}
		if _, dup := byName[iss.Name]; dup {
			return nil, errors.NewGraphError("issue name is not unique", errors.ErrDuplicateIssue).
				WithIssues(iss.Name)
		}
		byName[iss.Name] = iss
	}

	inDegree := make(map[string]int, len(issues))
	dependents := make(map[string][]string, len(issues))
	for _, iss := range issues {
		inDegree[iss.Name] += 0
		seen := make(map[string]bool, len(iss.DependsOn))
		for _, dep := range iss.DependsOn {
			if _, ok := byName[dep]; !ok {
				return nil, errors.NewGraphError(
					fmt.Sprintf("issue %q depends on unknown issue %q", iss.Name, dep),
					errors.ErrDanglingReference,
				).WithIssues(iss.Name, dep)
			}
			if seen[dep] {
				continue
			}
			seen[dep] = true
			inDegree[iss.Name]++
			dependents[dep] = append(dependents[dep], iss.Name)
		}
	}

	var current []string
	for _, iss := range issues {
		if inDegree[iss.Name] == 0 {
			current = append(current, iss.Name)
		}
	}

	var levels [][]string
	placed := 0
	for len(current) > 0 {
		sortLevel(current, byName)
		levels = append(levels, current)
		placed += len(current)

		var next []string
		for _, name := range current {
			for _, dep := range dependents[name] {
				inDegree[dep]--
				if inDegree[dep] == 0 {
					next = append(next, dep)
				}
			}
		}
		current = next
	}

	if placed != len(issues) {
		return nil, errors.NewGraphError("dependency graph is not acyclic", errors.ErrDependencyCycle).
			WithIssues(findCycle(issues)...)
	}
	return levels, nil
}

func sortLevel(names []string, byName map[string]*Issue) {
	sort.Slice(names, func(i, j int) bool {
		a, b := byName[names[i]], byName[names[j]]
		if a.SequenceNumber != b.SequenceNumber {
			return a.SequenceNumber < b.SequenceNumber
		}
		return a.Name < b.Name
	})
}

// findCycle returns one cycle as a closed path (first name repeated at the end).
func findCycle(issues []Issue) []string {
	deps := make(map[string][]string, len(issues))
	for _, iss := range issues {
		deps[iss.Name] = iss.DependsOn
	}

	const (
		unvisited = iota
		visiting
		visited
	)
	state := make(map[string]int, len(issues))
	var stack []string
	var cycle []string

	var visit func(name string) bool
	visit = func(name string) bool {
		state[name] = visiting
		stack = append(stack, name)
		for _, dep := range deps[name] {
			switch state[dep] {
			case visiting:
				start := slices.Index(stack, dep)
				cycle = append(slices.Clone(stack[start:]), dep)
				return true
			case unvisited:
				if visit(dep) {
					return true
				}
			}
		}
		stack = stack[:len(stack)-1]
		state[name] = visited
		return false
	}

	for _, iss := range issues {
		if state[iss.Name] == unvisited && visit(iss.Name) {
			return cycle
		}
	}
	return nil
}

// TransitiveDependents returns every issue that directly or indirectly
// depends on name, in AllIssues order. name itself is not included.
func TransitiveDependents(issues []Issue, name string) []string {
	dependents := make(map[string][]string, len(issues))
	for _, iss := range issues {
		for _, dep := range iss.DependsOn {
			dependents[dep] = append(dependents[dep], iss.Name)
		}
	}

	found := map[string]bool{}
	queue := []string{name}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, d := range dependents[cur] {
			if !found[d] && d != name {
				found[d] = true
				queue = append(queue, d)
			}
		}
	}

	var out []string
	for _, iss := range issues {
		if found[iss.Name] {
			out = append(out, iss.Name)
		}
	}
	return out
}

// SkipWithDependents records a SKIPPED result for every not-yet-finished
// transitive dependent of name and appends note to each one's failure
// notes. It returns the names newly skipped.
func SkipWithDependents(s *DAGState, name, note string) []string {
	var skipped []string
	for _, dep := range TransitiveDependents(s.AllIssues, name) {
		if iss, ok := s.Issue(dep); ok && note != "" {
			iss.FailureNotes = append(iss.FailureNotes, note)
		}
		if s.IsDone(dep) {
			continue
		}
		s.RecordResult(IssueResult{
			Issue:   dep,
			Outcome: OutcomeSkipped,
			Error:   fmt.Sprintf("dependency %q did not complete", name),
		})
		skipped = append(skipped, dep)
	}
	return skipped
}

// SkipIssue records a SKIPPED result for name itself plus its dependents.
func SkipIssue(s *DAGState, name, reason string) []string {
	skipped := []string{}
	if !s.IsCompleted(name) {
		s.RecordResult(IssueResult{Issue: name, Outcome: OutcomeSkipped, Error: reason})
		skipped = append(skipped, name)
	}
	return append(skipped, SkipWithDependents(s, name, reason)...)
}

// ApplyReplan applies a structural decision to the state: removals first,
// then updates, then additions. Names removed from the graph are dropped
// from the remaining issues' dependency lists. The result is validated and
// levels are recomputed; on error the state is left untouched.
//
// Failed or skipped results of removed issues are dropped. Those of updated
// and added issues, and of their transitive dependents, are cleared so those
// issues run again.
func ApplyReplan(s *DAGState, d ReplanDecision) error {
	removed := make(map[string]bool, len(d.RemovedIssues))
	for _, name := range d.RemovedIssues {
		if _, ok := s.Issue(name); !ok {
			return errors.NewGraphError("replan removes unknown issue", errors.ErrDanglingReference).
				WithIssues(name)
		}
		removed[name] = true
	}

	next := make([]Issue, 0, len(s.AllIssues)+len(d.NewIssues))
	for _, iss := range s.AllIssues {
		if removed[iss.Name] {
			continue
		}
		c := iss.Clone()
		c.DependsOn = slices.DeleteFunc(c.DependsOn, func(dep string) bool { return removed[dep] })
		next = append(next, c)
	}

	reset := map[string]bool{}
	for _, upd := range d.UpdatedIssues {
		idx := slices.IndexFunc(next, func(iss Issue) bool { return iss.Name == upd.Name })
		if idx < 0 {
			return errors.NewGraphError("replan updates unknown issue", errors.ErrDanglingReference).
				WithIssues(upd.Name)
		}
		next[idx] = upd.Clone()
		reset[upd.Name] = true
	}
	for _, add := range d.NewIssues {
		next = append(next, add.Clone())
		reset[add.Name] = true
	}

	levels, err := ComputeLevels(next)
	if err != nil {
		return err
	}

	s.AllIssues = next
	s.Levels = levels
	for name := range removed {
		s.ClearResult(name)
	}
	for name := range reset {
		s.ClearResult(name)
		for _, dep := range TransitiveDependents(next, name) {
			s.ClearResult(dep)
		}
	}
	s.Touch()
	return nil
}

// SplitDecision builds the local replan that replaces parent with subs.
// Sub-issues are tagged with the parent's name and inherit its
// dependencies; every issue that depended on the parent is re-pointed to
// depend on all sub-issues instead.
func SplitDecision(issues []Issue, parent string, subs []Issue, rationale string) (ReplanDecision, error) {
	var orig *Issue
	for i := range issues {
		if issues[i].Name == parent {
			orig = &issues[i]
			break
		}
	}
	if orig == nil {
		return ReplanDecision{}, errors.NewGraphError("split of unknown issue", errors.ErrDanglingReference).
			WithIssues(parent)
	}
	if len(subs) == 0 {
		return ReplanDecision{}, errors.NewGraphError("split without sub-issues", errors.ErrInvalidInput).
			WithIssues(parent)
	}

	subNames := make([]string, 0, len(subs))
	added := make([]Issue, 0, len(subs))
	for i, sub := range subs {
		c := sub.Clone()
		c.ParentIssue = parent
		if c.TargetRepo == "" {
			c.TargetRepo = orig.TargetRepo
		}
		if c.SequenceNumber == 0 {
			c.SequenceNumber = orig.SequenceNumber*100 + i + 1
		}
		for _, dep := range orig.DependsOn {
			if !slices.Contains(c.DependsOn, dep) {
				c.DependsOn = append(c.DependsOn, dep)
			}
		}
		subNames = append(subNames, c.Name)
		added = append(added, c)
	}

	var updated []Issue
	for _, iss := range issues {
		if iss.Name == parent || !slices.Contains(iss.DependsOn, parent) {
			continue
		}
		c := iss.Clone()
		var deps []string
		for _, dep := range c.DependsOn {
			if dep == parent {
				for _, sn := range subNames {
					if !slices.Contains(deps, sn) {
						deps = append(deps, sn)
					}
				}
				continue
			}
			if !slices.Contains(deps, dep) {
				deps = append(deps, dep)
			}
		}
		c.DependsOn = deps
		updated = append(updated, c)
	}

	return ReplanDecision{
		Action:        ReplanModifyDAG,
		NewIssues:     added,
		RemovedIssues: []string{parent},
		UpdatedIssues: updated,
		Rationale:     rationale,
	}, nil
}

// RecordReplan appends a history entry.
func (s *DAGState) RecordReplan(rec ReplanRecord) {
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now()
	}
	s.ReplanHistory = append(s.ReplanHistory, rec)
}
