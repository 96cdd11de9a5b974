// ABOUTME: Getter evaluation against the current state record
// ABOUTME: Getters recompute on every read and compose through a lazily built view

package store

import (
	"fmt"
	"maps"
)

// Getters is the live view handed to getter functions and actions. Value
// re-evaluates the named getter against the current state on every call.
type Getters interface {
	Value(name string) (any, error)
}

// getterView resolves getters by name against its store. Built lazily per
// evaluation; it holds no cached results.
type getterView struct {
	s *Store
}

func (v getterView) Value(name string) (any, error) {
	return v.s.Get(name)
}

// Get evaluates the named getter and returns the derived value. There is no
// caching layer: each call recomputes against a fresh shallow snapshot of
// the state record taken under the store lock, so the result is always
// current and the evaluation never touches the live map a concurrent commit
// may be mutating. Composed getters re-snapshot on each Value call.
func (s *Store) Get(name string) (any, error) {
	s.mu.Lock()
	fn, ok := s.getters[name]
	if !ok {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: %q", ErrUnknownGetter, name)
	}
	snapshot := maps.Clone(s.state)
	s.mu.Unlock()

	return fn(snapshot, getterView{s: s}), nil
}
