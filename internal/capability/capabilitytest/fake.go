// Package capabilitytest provides a scripted capability.Caller for tests.
package capabilitytest

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/Iron-Ham/issueforge/internal/capability"
	"github.com/Iron-Ham/issueforge/internal/errors"
)

// Handler answers one call. The returned result is JSON-encoded.
type Handler func(ctx context.Context, payload any) (any, error)

// Response is one scripted answer.
type Response struct {
	Result any
	Err    error
}

// Call records one invocation.
type Call struct {
	Kind    capability.Kind
	Payload any
}

// Fake is a capability.Caller driven by per-kind handlers or queued
// responses. It is safe for concurrent use.
type Fake struct {
	mu       sync.Mutex
	handlers map[capability.Kind]Handler
	queues   map[capability.Kind][]Response
	calls    []Call
}

// New creates an empty Fake. Unscripted kinds fail with
// ErrCapabilityUnavailable.
func New() *Fake {
	return &Fake{
		handlers: make(map[capability.Kind]Handler),
		queues:   make(map[capability.Kind][]Response),
	}
}

// On installs a handler for kind. Handlers take precedence over queues.
func (f *Fake) On(kind capability.Kind, h Handler) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[kind] = h
	return f
}

// Return answers every call for kind with result.
func (f *Fake) Return(kind capability.Kind, result any) *Fake {
	return f.On(kind, func(context.Context, any) (any, error) { return result, nil })
}

// Fail answers every call for kind with err.
func (f *Fake) Fail(kind capability.Kind, err error) *Fake {
	return f.On(kind, func(context.Context, any) (any, error) { return nil, err })
}

// Queue scripts successive answers for kind. The last response repeats
// once the queue drains to one entry.
func (f *Fake) Queue(kind capability.Kind, responses ...Response) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queues[kind] = append(f.queues[kind], responses...)
	return f
}

// Call implements capability.Caller.
func (f *Fake) Call(ctx context.Context, kind capability.Kind, payload any) (json.RawMessage, error) {
	f.mu.Lock()
	f.calls = append(f.calls, Call{Kind: kind, Payload: payload})
	h, hasHandler := f.handlers[kind]
	var resp Response
	hasQueued := false
	if q := f.queues[kind]; !hasHandler && len(q) > 0 {
		resp, hasQueued = q[0], true
		if len(q) > 1 {
			f.queues[kind] = q[1:]
		}
	}
	f.mu.Unlock()

	switch {
	case hasHandler:
		result, err := h(ctx, payload)
		if err != nil {
			return nil, err
		}
		return json.Marshal(result)
	case hasQueued:
		if resp.Err != nil {
			return nil, resp.Err
		}
		return json.Marshal(resp.Result)
	}
	return nil, errors.NewCapabilityError("not scripted", errors.ErrCapabilityUnavailable).
		WithKind(kind.Target()).
		WithRetryable(false)
}

// Calls returns the recorded calls for kind, or all calls when kind is 0.
func (f *Fake) Calls(kind capability.Kind) []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Call
	for _, c := range f.calls {
		if kind == 0 || c.Kind == kind {
			out = append(out, c)
		}
	}
	return out
}

// CallCount returns how many times kind was called.
func (f *Fake) CallCount(kind capability.Kind) int {
	return len(f.Calls(kind))
}

// Payloads returns the typed payloads recorded for kind.
func Payloads[T any](f *Fake, kind capability.Kind) []T {
	var out []T
	for _, c := range f.Calls(kind) {
		if p, ok := c.Payload.(T); ok {
			out = append(out, p)
		}
	}
	return out
}
