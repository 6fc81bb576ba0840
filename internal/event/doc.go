// Package event provides the engine's pub-sub bus and observability sink.
//
// The scheduler publishes lifecycle events (build, level, issue, merge,
// replan, checkpoint) on a [Bus]; the CLI subscribes to render progress and
// the metrics package subscribes to count outcomes. Components that only
// need fire-and-forget notes depend on [Sink] and call [Note], which is a
// no-op when no sink is attached.
//
// # Thread Safety
//
// [Bus] is safe for concurrent use. Handlers are called synchronously on the
// publishing goroutine and are protected against panics: a panicking handler
// is logged and does not prevent other handlers from being called.
//
// # Basic Usage
//
//	bus := event.NewBus(logger)
//	bus.Subscribe(event.TypeIssueFinished, func(e event.Event) {
//	    done := e.(event.IssueFinishedEvent)
//	    fmt.Println(done.Issue, done.Outcome)
//	})
//	bus.Publish(event.NewIssueFinishedEvent("core", 0, "COMPLETED", 2, 0))
//
//	event.Note(bus, "merge retry", map[string]string{"level": "1"})
package event
