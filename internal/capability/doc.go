// Package capability is the boundary between the engine and the remote
// agents and git services it drives.
//
// Every capability is identified by a [Kind] from a closed set and takes a
// typed request struct. A [Caller] moves the request across the boundary as
// JSON and returns the raw JSON result; the [Dispatcher] wraps a Caller with
// per-kind timeouts, rate limiting, metrics and tracing, and decodes the
// result into the matching typed struct. Nothing outside this package sees
// an untyped payload.
//
// Concrete callers live in sub-packages:
//
//   - execcap runs an external command per capability
//   - gitcap implements the git capabilities natively
//   - capabilitytest provides a scripted fake for tests
//
// A [Router] sends each Kind to its own Caller so agent capabilities and git
// capabilities can be served by different implementations.
package capability
