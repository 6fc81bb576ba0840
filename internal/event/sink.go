package event

import (
	"maps"
	"slices"

	"github.com/Iron-Ham/issueforge/internal/logging"
)

// Sink is the fire-and-forget observability hook. Implementations must not
// block the caller for long and must never panic into it.
type Sink interface {
	Note(message string, tags map[string]string)
}

// Note emits to sink when one is attached. A nil sink is a no-op.
func Note(sink Sink, message string, tags map[string]string) {
	if sink == nil {
		return
	}
	defer func() { _ = recover() }()
	sink.Note(message, tags)
}

// LogSink writes notes to a logger at INFO.
type LogSink struct {
	Logger *logging.Logger
}

// Note implements Sink.
func (s LogSink) Note(message string, tags map[string]string) {
	args := make([]any, 0, len(tags)*2)
	for _, k := range slices.Sorted(maps.Keys(tags)) {
		args = append(args, k, tags[k])
	}
	logging.OrNop(s.Logger).Info(message, args...)
}

// MultiSink fans a note out to several sinks.
type MultiSink []Sink

// Note implements Sink.
func (m MultiSink) Note(message string, tags map[string]string) {
	for _, s := range m {
		Note(s, message, tags)
	}
}
