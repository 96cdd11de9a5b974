// Package store implements the shared reactive state container at the heart
// of ordertrack.
//
// # Overview
//
// One Store instance owns the authoritative state record for the whole
// process. Business modules register named mutations (synchronous state
// transforms), actions (orchestrations that commit mutations and compose
// other actions) and getters (derivations recomputed on every read) during
// initialization, then drive all state changes through the commit/dispatch
// protocol:
//
//	s := store.New(seed, eventBus, logger)
//
//	s.RegisterMutation("SET_COUNT", func(state store.State, payload any) error {
//	    state["count"] = payload
//	    return nil
//	})
//
//	s.Commit("SET_COUNT", 5)
//	v, _ := s.Get("count")
//
// # Commit protocol
//
// Every successful commit, in order:
//
//  1. looks up the mutation (ErrUnknownMutation if absent)
//  2. takes a shallow prev-state snapshot
//  3. runs the mutation against the live state
//  4. appends a bounded history entry (FIFO eviction past capacity)
//  5. notifies direct subscribers in subscription order, panic-isolated
//  6. publishes a MutationEvent on the TopicMutation bus topic
//
// A mutation error aborts steps 4–6 and propagates to the caller.
//
// # Concurrency
//
// Commit is atomic with respect to other commits. Dispatch runs the action
// on the caller's goroutine and takes no lock around action code, so two
// concurrent dispatches interleave their internal commits in arbitrary
// order. Callers needing ordering across actions must provide it themselves.
//
// # History
//
// The store records every commit in a bounded ring (default capacity 50,
// oldest evicted first). History(), ClearHistory() and SetMaxHistory()
// expose it for debugging and the admin API.
package store
