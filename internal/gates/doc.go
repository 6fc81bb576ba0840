// Package gates holds the decision points the scheduler runs around each
// level.
//
// Before a level, the [WorktreeGate] gives every active issue its own branch
// and working copy. After the level, the [MergeGate] merges completed
// branches into the integration branch and starts cleanup in the
// background; the scheduler must [CleanupHandle.Wait] before the next
// level's setup. Then the [DebtGate], [SplitGate], and [ReplanGate] run in
// that order, mutating the shared dag.DAGState in place.
//
// Structural errors raised while rewriting the graph are caught here: the
// offending issue is skipped and the build continues.
package gates
