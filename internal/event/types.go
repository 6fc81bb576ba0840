package event

import "time"

// Event is the interface that all events must implement.
type Event interface {
	// EventType returns a string identifier for this event type.
	// Convention: "category.action" (e.g., "level.started", "issue.finished")
	EventType() string

	// Timestamp returns when the event occurred.
	Timestamp() time.Time
}

// Event type identifiers.
const (
	TypeBuildStarted    = "build.started"
	TypeBuildCompleted  = "build.completed"
	TypeLevelStarted    = "level.started"
	TypeLevelCompleted  = "level.completed"
	TypeIssueFinished   = "issue.finished"
	TypeMergeCompleted  = "merge.completed"
	TypeReplanApplied   = "replan.applied"
	TypeCheckpointSaved = "checkpoint.saved"
	TypeNote            = "note"
)

// baseEvent provides common fields for all events.
type baseEvent struct {
	eventType string
	timestamp time.Time
}

func (e baseEvent) EventType() string    { return e.eventType }
func (e baseEvent) Timestamp() time.Time { return e.timestamp }

func newBaseEvent(eventType string) baseEvent {
	return baseEvent{
		eventType: eventType,
		timestamp: time.Now(),
	}
}

// -----------------------------------------------------------------------------
// Build lifecycle
// -----------------------------------------------------------------------------

// BuildStartedEvent is emitted once the scheduler begins or resumes a build.
type BuildStartedEvent struct {
	baseEvent
	BuildID    string
	Issues     int
	Levels     int
	Resumed    bool
	StartLevel int
}

// NewBuildStartedEvent creates a BuildStartedEvent.
func NewBuildStartedEvent(buildID string, issues, levels int, resumed bool, startLevel int) BuildStartedEvent {
	return BuildStartedEvent{
		baseEvent:  newBaseEvent(TypeBuildStarted),
		BuildID:    buildID,
		Issues:     issues,
		Levels:     levels,
		Resumed:    resumed,
		StartLevel: startLevel,
	}
}

// BuildCompletedEvent is emitted after the final checkpoint.
type BuildCompletedEvent struct {
	baseEvent
	BuildID   string
	Completed int
	Failed    int
	Skipped   int
	Aborted   bool
	Rationale string
	Duration  time.Duration
}

// NewBuildCompletedEvent creates a BuildCompletedEvent.
func NewBuildCompletedEvent(buildID string, completed, failed, skipped int, aborted bool, rationale string, d time.Duration) BuildCompletedEvent {
	return BuildCompletedEvent{
		baseEvent: newBaseEvent(TypeBuildCompleted),
		BuildID:   buildID,
		Completed: completed,
		Failed:    failed,
		Skipped:   skipped,
		Aborted:   aborted,
		Rationale: rationale,
		Duration:  d,
	}
}

// -----------------------------------------------------------------------------
// Levels and issues
// -----------------------------------------------------------------------------

// LevelStartedEvent is emitted before a level's issues fan out.
type LevelStartedEvent struct {
	baseEvent
	Level  int
	Issues []string
}

// NewLevelStartedEvent creates a LevelStartedEvent.
func NewLevelStartedEvent(level int, issues []string) LevelStartedEvent {
	return LevelStartedEvent{
		baseEvent: newBaseEvent(TypeLevelStarted),
		Level:     level,
		Issues:    issues,
	}
}

// LevelCompletedEvent is emitted after all gates for a level resolve.
type LevelCompletedEvent struct {
	baseEvent
	Level     int
	Completed int
	Failed    int
	Skipped   int
	Duration  time.Duration
}

// NewLevelCompletedEvent creates a LevelCompletedEvent.
func NewLevelCompletedEvent(level, completed, failed, skipped int, d time.Duration) LevelCompletedEvent {
	return LevelCompletedEvent{
		baseEvent: newBaseEvent(TypeLevelCompleted),
		Level:     level,
		Completed: completed,
		Failed:    failed,
		Skipped:   skipped,
		Duration:  d,
	}
}

// IssueFinishedEvent is emitted when an issue's lifecycle ends.
type IssueFinishedEvent struct {
	baseEvent
	Issue              string
	Level              int
	Outcome            string
	Attempts           int
	AdvisorInvocations int
}

// NewIssueFinishedEvent creates an IssueFinishedEvent.
func NewIssueFinishedEvent(issue string, level int, outcome string, attempts, advisorInvocations int) IssueFinishedEvent {
	return IssueFinishedEvent{
		baseEvent:          newBaseEvent(TypeIssueFinished),
		Issue:              issue,
		Level:              level,
		Outcome:            outcome,
		Attempts:           attempts,
		AdvisorInvocations: advisorInvocations,
	}
}

// -----------------------------------------------------------------------------
// Gates
// -----------------------------------------------------------------------------

// MergeCompletedEvent is emitted after the merge gate finishes a level.
type MergeCompletedEvent struct {
	baseEvent
	Level    int
	Merged   []string
	Unmerged []string
	// TestsPassed is nil when no integration test ran.
	TestsPassed *bool
}

// NewMergeCompletedEvent creates a MergeCompletedEvent.
func NewMergeCompletedEvent(level int, merged, unmerged []string, testsPassed *bool) MergeCompletedEvent {
	return MergeCompletedEvent{
		baseEvent:   newBaseEvent(TypeMergeCompleted),
		Level:       level,
		Merged:      merged,
		Unmerged:    unmerged,
		TestsPassed: testsPassed,
	}
}

// ReplanAppliedEvent is emitted for every replanner or split decision.
type ReplanAppliedEvent struct {
	baseEvent
	Action      string
	TriggeredBy []string
	Local       bool
	Rationale   string
}

// NewReplanAppliedEvent creates a ReplanAppliedEvent.
func NewReplanAppliedEvent(action string, triggeredBy []string, local bool, rationale string) ReplanAppliedEvent {
	return ReplanAppliedEvent{
		baseEvent:   newBaseEvent(TypeReplanApplied),
		Action:      action,
		TriggeredBy: triggeredBy,
		Local:       local,
		Rationale:   rationale,
	}
}

// CheckpointSavedEvent is emitted after every durable write.
type CheckpointSavedEvent struct {
	baseEvent
	Path  string
	Level int
}

// NewCheckpointSavedEvent creates a CheckpointSavedEvent.
func NewCheckpointSavedEvent(path string, level int) CheckpointSavedEvent {
	return CheckpointSavedEvent{
		baseEvent: newBaseEvent(TypeCheckpointSaved),
		Path:      path,
		Level:     level,
	}
}

// NoteEvent carries a free-form observability note.
type NoteEvent struct {
	baseEvent
	Message string
	Tags    map[string]string
}

// NewNoteEvent creates a NoteEvent.
func NewNoteEvent(message string, tags map[string]string) NoteEvent {
	return NoteEvent{
		baseEvent: newBaseEvent(TypeNote),
		Message:   message,
		Tags:      tags,
	}
}
