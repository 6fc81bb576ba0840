// Package scheduler drives a build level by level.
//
// For each level of the dependency graph the [Scheduler] computes the issues
// that still need work, prepares their worktrees, fans them out to the
// per-issue executor, and then runs the gates in a fixed order: merge, debt,
// split, replan. The state is checkpointed after every material transition
// so a crashed or interrupted build can be resumed from
// <artifacts>/execution/checkpoint.json.
//
// A level never starts its worktree setup until the previous level's gates
// have resolved and its background cleanup has finished. Within a level,
// issues run concurrently and one issue's failure, timeout, or panic never
// affects its siblings.
//
// # Basic Usage
//
//	s := scheduler.New(caps, executor, cfg,
//	    scheduler.WithLogger(logger),
//	    scheduler.WithBus(bus),
//	)
//	final, err := s.Run(ctx, state)
//	fmt.Println(final.Summary().Rationale)
package scheduler
