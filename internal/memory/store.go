// Package memory holds the build-scoped shared store that every concurrently
// executing issue reads from and writes to.
//
// Writers either overwrite a named key or append to a bounded history, so
// concurrent writes resolve as last-write-wins. The mutex only protects the
// map itself; it does not serialize read-modify-write sequences across
// callers.
package memory

import (
	"slices"
	"sync"
)

// Well-known keys.
const (
	KeyConventions     = "conventions"
	KeyFailurePatterns = "failure_patterns"
	KeyBugPatterns     = "bug_patterns"
	KeyBuildHealth     = "build_health"
	interfacesPrefix   = "interfaces/"
)

// Default history bounds for appended keys.
const (
	MaxFailurePatterns = 20
	MaxBugPatterns     = 20
	MaxBuildHealth     = 50
)

// InterfacesKey returns the key holding the interface record for an issue.
func InterfacesKey(issue string) string {
	return interfacesPrefix + issue
}

// Store is a string-keyed store of opaque values.
type Store struct {
	mu   sync.Mutex
	data map[string]any
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{data: make(map[string]any)}
}

// Get returns the value for key.
func (s *Store) Get(key string) (any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.data[key]
	return v, ok
}

// GetString returns the value for key when it is a string.
func (s *Store) GetString(key string) string {
	v, _ := s.Get(key)
	str, _ := v.(string)
	return str
}

// Set overwrites key.
func (s *Store) Set(key string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = value
}

// SetIfAbsent stores value only when key is unset and reports whether it did.
func (s *Store) SetIfAbsent(key string, value any) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.data[key]; ok {
		return false
	}
	s.data[key] = value
	return true
}

// Append adds value to the string list at key, keeping only the newest max
// entries. A non-positive max keeps everything.
func (s *Store) Append(key, value string, max int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	list, _ := s.data[key].([]string)
	list = append(slices.Clone(list), value)
	if max > 0 && len(list) > max {
		list = list[len(list)-max:]
	}
	s.data[key] = list
}

// List returns a copy of the string list at key.
func (s *Store) List(key string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	list, _ := s.data[key].([]string)
	return slices.Clone(list)
}

// Context is the read-only view handed to a coder iteration.
type Context struct {
	Conventions     string            `json:"conventions,omitempty"`
	FailurePatterns []string          `json:"failure_patterns,omitempty"`
	BugPatterns     []string          `json:"bug_patterns,omitempty"`
	Interfaces      map[string]string `json:"interfaces,omitempty"`
}

// recentLimit bounds each pattern list in a snapshot.
const recentLimit = 5

// Snapshot returns conventions, recent failure and bug patterns, and the
// interface records for whichever of deps have published one.
func (s *Store) Snapshot(deps []string) Context {
	s.mu.Lock()
	defer s.mu.Unlock()

	ctx := Context{}
	ctx.Conventions, _ = s.data[KeyConventions].(string)
	ctx.FailurePatterns = tail(s.data[KeyFailurePatterns], recentLimit)
	ctx.BugPatterns = tail(s.data[KeyBugPatterns], recentLimit)
	for _, dep := range deps {
		if v, ok := s.data[InterfacesKey(dep)].(string); ok {
			if ctx.Interfaces == nil {
				ctx.Interfaces = make(map[string]string)
			}
			ctx.Interfaces[dep] = v
		}
	}
	return ctx
}

func tail(v any, n int) []string {
	list, _ := v.([]string)
	if len(list) > n {
		list = list[len(list)-n:]
	}
	return slices.Clone(list)
}
