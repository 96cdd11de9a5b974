// ABOUTME: Commit protocol applying mutations to the state record
// ABOUTME: Appends bounded history, notifies subscribers, publishes store-mutation events

package store

import (
	"fmt"
	"maps"
	"time"
)

// DefaultMaxHistory is the history ring capacity a new Store starts with.
const DefaultMaxHistory = 50

// HistoryEntry records one committed mutation with shallow state snapshots
// taken immediately before and after it ran.
type HistoryEntry struct {
	Name      string
	Payload   any
	Prev      State
	Next      State
	Timestamp time.Time
}

// Commit applies the named mutation to the live state record. On success it
// appends a history entry (evicting the oldest once capacity is exceeded),
// notifies subscribers in subscription order, and publishes a MutationEvent
// on TopicMutation. An error returned by the mutation itself propagates to the
// caller; history, subscribers and the bus see nothing in that case.
//
// Commit is synchronous and atomic with respect to other commits. It is not
// reentrant: a mutation must not call Commit.
func (s *Store) Commit(name string, payload any) error {
	s.mu.Lock()

	fn, ok := s.mutations[name]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrUnknownMutation, name)
	}

	prev := maps.Clone(s.state)

	if err := fn(s.state, payload); err != nil {
		s.mu.Unlock()
		return fmt.Errorf("mutation %q: %w", name, err)
	}

	next := maps.Clone(s.state)

	s.seq++
	seq := s.seq

	s.history = append(s.history, HistoryEntry{
		Name:      name,
		Payload:   payload,
		Prev:      prev,
		Next:      next,
		Timestamp: time.Now(),
	})
	if excess := len(s.history) - s.maxHistory; excess > 0 {
		s.history = append(s.history[:0:0], s.history[excess:]...)
	}

	subs := append(s.subscribers[:0:0], s.subscribers...)
	s.mu.Unlock()

	m := Mutation{Name: name, Payload: payload}
	for _, sub := range subs {
		s.notify(sub, prev, next, m)
	}

	s.events.Publish(TopicMutation, MutationEvent{
		Seq:     seq,
		Name:    name,
		Payload: payload,
		Prev:    prev,
		Next:    next,
	})

	return nil
}

// notify runs one subscriber, converting a panic into a log entry so a
// failing subscriber cannot block its siblings or the committer.
func (s *Store) notify(sub subscriber, prev, next State, m Mutation) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("subscriber panic",
				"mutation", m.Name,
				"subscriber_id", sub.id,
				"panic", r)
		}
	}()
	sub.fn(prev, next, m)
}

// History returns a copy of the recorded commit history, oldest first.
func (s *Store) History() []HistoryEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append(s.history[:0:0], s.history...)
}

// ClearHistory drops all recorded history entries.
func (s *Store) ClearHistory() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = nil
}

// SetMaxHistory changes the history capacity. Shrinking below the current
// length truncates from the oldest end immediately. Values below zero clamp
// to zero, which disables history retention.
func (s *Store) SetMaxHistory(n int) {
	if n < 0 {
		n = 0
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.maxHistory = n
	if excess := len(s.history) - n; excess > 0 {
		s.history = append(s.history[:0:0], s.history[excess:]...)
	}
}

// MaxHistory returns the current history capacity.
func (s *Store) MaxHistory() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.maxHistory
}
