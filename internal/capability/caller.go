package capability

import (
	"context"
	"encoding/json"

	"github.com/Iron-Ham/issueforge/internal/errors"
)

// Caller invokes one capability. payload is one of the typed request
// structs in this package; the result is the capability's raw JSON answer.
type Caller interface {
	Call(ctx context.Context, kind Kind, payload any) (json.RawMessage, error)
}

// CallerFunc adapts a function to the Caller interface.
type CallerFunc func(ctx context.Context, kind Kind, payload any) (json.RawMessage, error)

// Call implements Caller.
func (f CallerFunc) Call(ctx context.Context, kind Kind, payload any) (json.RawMessage, error) {
	return f(ctx, kind, payload)
}

// Router dispatches each Kind to a dedicated Caller, falling back to a
// default. A Router with no route for a kind and no default returns
// ErrCapabilityUnavailable.
type Router struct {
	fallback Caller
	routes   map[Kind]Caller
}

// NewRouter creates a Router with a default Caller, which may be nil.
func NewRouter(fallback Caller) *Router {
	return &Router{fallback: fallback, routes: make(map[Kind]Caller)}
}

// Route sends kind to c. It returns the router for chaining.
func (r *Router) Route(kind Kind, c Caller) *Router {
	r.routes[kind] = c
	return r
}

// RouteAll sends every kind in kinds to c.
func (r *Router) RouteAll(c Caller, kinds ...Kind) *Router {
	for _, k := range kinds {
		r.routes[k] = c
	}
	return r
}

// CallerFor returns the Caller serving kind.
func (r *Router) CallerFor(kind Kind) (Caller, bool) {
	if c, ok := r.routes[kind]; ok && c != nil {
		return c, true
	}
	if r.fallback != nil {
		return r.fallback, true
	}
	return nil, false
}

// Call implements Caller.
func (r *Router) Call(ctx context.Context, kind Kind, payload any) (json.RawMessage, error) {
	c, ok := r.CallerFor(kind)
	if !ok {
		return nil, errors.NewCapabilityError("no caller configured", errors.ErrCapabilityUnavailable).
			WithKind(kind.Target()).
			WithRetryable(false)
	}
	return c.Call(ctx, kind, payload)
}

// Encode marshals a payload for transports that need bytes.
func Encode(payload any) (json.RawMessage, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, errors.NewValidationError("payload is not serializable").WithCause(err)
	}
	return data, nil
}

// Decode unmarshals a raw result into T. Failures are reported as a
// non-retryable CapabilityError wrapping ErrMalformedResult.
func Decode[T any](kind Kind, raw json.RawMessage) (T, error) {
	var out T
	if len(raw) == 0 {
		return out, errors.NewCapabilityError("empty result", errors.ErrMalformedResult).
			WithKind(kind.Target()).
			WithRetryable(false)
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, errors.NewCapabilityError("decode result: "+err.Error(), errors.ErrMalformedResult).
			WithKind(kind.Target()).
			WithRetryable(false)
	}
	return out, nil
}
