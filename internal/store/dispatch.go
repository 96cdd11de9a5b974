// ABOUTME: Dispatch protocol invoking named actions with a store-bound context
// ABOUTME: Actions compose commits and further dispatches; results flow back to the caller

package store

import (
	"context"
	"fmt"
)

// ActionFunc is an orchestration function invoked by Dispatch. It receives
// the caller's context for cancellation of any blocking work it performs,
// and an ActionContext exposing the live state, commit and dispatch
// capabilities, and the getters view. Actions never mutate state directly;
// every change routes through ac.Commit.
type ActionFunc func(ctx context.Context, ac *ActionContext, payload any) (any, error)

// ActionContext is the capability surface handed to a running action.
type ActionContext struct {
	s *Store
}

// State returns a shallow snapshot of the state record, taken under the
// store lock. Mutating state outside a committed mutation violates the
// store protocol; all changes go through Commit.
func (ac *ActionContext) State() State {
	return ac.s.Snapshot()
}

// Commit applies a mutation through the owning store.
func (ac *ActionContext) Commit(name string, payload any) error {
	return ac.s.Commit(name, payload)
}

// Dispatch invokes another action through the owning store, enabling action
// composition.
func (ac *ActionContext) Dispatch(ctx context.Context, name string, payload any) (any, error) {
	return ac.s.Dispatch(ctx, name, payload)
}

// Get evaluates a registered getter against the current state.
func (ac *ActionContext) Get(name string) (any, error) {
	return ac.s.Get(name)
}

// Getters returns the live getters view.
func (ac *ActionContext) Getters() Getters {
	return getterView{s: ac.s}
}

// Dispatch invokes the named action and returns its result. The action runs
// on the caller's goroutine; its internal commits are each atomic, but two
// concurrently dispatched actions interleave their commits in arbitrary
// order — the store does not serialize dispatches. After the action settles
// an ActionEvent is published on TopicAction, carrying the error message if the
// action failed. Action errors propagate to the caller; no commits the
// action already issued are rolled back.
func (s *Store) Dispatch(ctx context.Context, name string, payload any) (any, error) {
	s.mu.Lock()
	fn, ok := s.actions[name]
	s.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownAction, name)
	}

	result, err := fn(ctx, &ActionContext{s: s}, payload)

	event := ActionEvent{Name: name, Payload: payload, Result: result}
	if err != nil {
		event.Err = err.Error()
	}
	s.events.Publish(TopicAction, event)

	if err != nil {
		return nil, fmt.Errorf("action %q: %w", name, err)
	}
	return result, nil
}
