// ABOUTME: Tests for the commit protocol and bounded history
// ABOUTME: Covers snapshots, eviction order, mutation failure and bus publication

package store

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCommit_SetCountScenario(t *testing.T) {
	s := newTestStore(t, nil)
	registerSetCount(t, s)
	require.NoError(t, s.RegisterGetter("count", func(state State, _ Getters) any {
		return state["count"]
	}))

	require.NoError(t, s.Commit("SET_COUNT", 5))

	v, err := s.Get("count")
	require.NoError(t, err)
	assert.Equal(t, 5, v)
}

func TestCommit_PureMutationIsDeterministic(t *testing.T) {
	mutation := func(state State, payload any) error {
		state["count"] = payload.(int) * 2
		return nil
	}

	run := func() State {
		s := New(State{"count": 1}, nil, nil)
		require.NoError(t, s.RegisterMutation("DOUBLE", mutation))
		require.NoError(t, s.Commit("DOUBLE", 21))
		return s.History()[0].Next
	}

	assert.Equal(t, run(), run(), "same mutation and payload from same seed must yield same state")
}

func TestCommit_UnknownMutationLeavesStateAndHistoryUntouched(t *testing.T) {
	s := newTestStore(t, State{"count": 7})
	registerSetCount(t, s)
	require.NoError(t, s.RegisterGetter("count", func(state State, _ Getters) any {
		return state["count"]
	}))

	err := s.Commit("unknownName", map[string]any{})

	assert.ErrorIs(t, err, ErrUnknownMutation)
	assert.Empty(t, s.History())
	v, getErr := s.Get("count")
	require.NoError(t, getErr)
	assert.Equal(t, 7, v)
}

func TestCommit_MutationErrorSkipsHistorySubscribersAndBus(t *testing.T) {
	s := newTestStore(t, nil)

	failure := errors.New("bad payload")
	require.NoError(t, s.RegisterMutation("EXPLODE", func(State, any) error {
		return failure
	}))

	notified := false
	s.Subscribe(func(State, State, Mutation) { notified = true })

	busEvents := 0
	_, err := s.Bus().Subscribe(TopicMutation, func(any) { busEvents++ })
	require.NoError(t, err)

	commitErr := s.Commit("EXPLODE", nil)

	assert.ErrorIs(t, commitErr, failure)
	assert.Empty(t, s.History())
	assert.False(t, notified)
	assert.Equal(t, 0, busEvents)
}

func TestCommit_HistoryRecordsSnapshotsInOrder(t *testing.T) {
	s := newTestStore(t, State{"count": 0})
	registerSetCount(t, s)

	require.NoError(t, s.Commit("SET_COUNT", 1))
	require.NoError(t, s.Commit("SET_COUNT", 2))

	history := s.History()
	require.Len(t, history, 2)

	assert.Equal(t, "SET_COUNT", history[0].Name)
	assert.Equal(t, 0, history[0].Prev["count"])
	assert.Equal(t, 1, history[0].Next["count"])
	assert.Equal(t, 1, history[1].Prev["count"])
	assert.Equal(t, 2, history[1].Next["count"])
	assert.False(t, history[0].Timestamp.After(history[1].Timestamp))
}

func TestCommit_HistoryNeverExceedsCapacity(t *testing.T) {
	s := newTestStore(t, nil)
	registerSetCount(t, s)
	s.SetMaxHistory(5)

	for i := 0; i < 12; i++ {
		require.NoError(t, s.Commit("SET_COUNT", i))
	}

	history := s.History()
	require.Len(t, history, 5)
	// Exactly the most recent entries, in commit order
	for i, entry := range history {
		assert.Equal(t, 7+i, entry.Payload)
	}
}

func TestCommit_ShrinkingCapacityTruncatesOldest(t *testing.T) {
	s := newTestStore(t, nil)
	registerSetCount(t, s)

	for i := 0; i < 10; i++ {
		require.NoError(t, s.Commit("SET_COUNT", i))
	}

	s.SetMaxHistory(3)

	history := s.History()
	require.Len(t, history, 3)
	assert.Equal(t, 7, history[0].Payload)
	assert.Equal(t, 9, history[2].Payload)
	assert.Equal(t, 3, s.MaxHistory())
}

func TestCommit_ClearHistory(t *testing.T) {
	s := newTestStore(t, nil)
	registerSetCount(t, s)

	require.NoError(t, s.Commit("SET_COUNT", 1))
	s.ClearHistory()

	assert.Empty(t, s.History())
}

func TestCommit_PublishesMutationEventOnBus(t *testing.T) {
	s := newTestStore(t, State{"count": 0})
	registerSetCount(t, s)

	var got MutationEvent
	_, err := s.Bus().Subscribe(TopicMutation, func(payload any) {
		got = payload.(MutationEvent)
	})
	require.NoError(t, err)

	require.NoError(t, s.Commit("SET_COUNT", 9))

	assert.Equal(t, "SET_COUNT", got.Name)
	assert.Equal(t, 9, got.Payload)
	assert.Equal(t, 0, got.Prev["count"])
	assert.Equal(t, 9, got.Next["count"])
}

func TestCommit_SnapshotsAreShallowCopies(t *testing.T) {
	s := newTestStore(t, State{"count": 0})
	registerSetCount(t, s)

	require.NoError(t, s.Commit("SET_COUNT", 1))
	require.NoError(t, s.Commit("SET_COUNT", 2))

	history := s.History()
	// The first entry's snapshots must not reflect the later commit
	assert.Equal(t, 1, history[0].Next["count"])
}

func TestCommit_HistoryOrderUnderManyMutationNames(t *testing.T) {
	s := newTestStore(t, nil)
	for i := 0; i < 3; i++ {
		name := fmt.Sprintf("SET_%d", i)
		require.NoError(t, s.RegisterMutation(name, func(state State, payload any) error {
			state[name] = payload
			return nil
		}))
	}

	require.NoError(t, s.Commit("SET_2", "a"))
	require.NoError(t, s.Commit("SET_0", "b"))
	require.NoError(t, s.Commit("SET_1", "c"))

	history := s.History()
	require.Len(t, history, 3)
	assert.Equal(t, []string{"SET_2", "SET_0", "SET_1"},
		[]string{history[0].Name, history[1].Name, history[2].Name})
}

func TestCommit_EventsCarryMonotonicSequence(t *testing.T) {
	s := newTestStore(t, State{"count": 0})
	registerSetCount(t, s)

	var seqs []uint64
	_, err := s.Bus().Subscribe(TopicMutation, func(payload any) {
		seqs = append(seqs, payload.(MutationEvent).Seq)
	})
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		require.NoError(t, s.Commit("SET_COUNT", i))
	}

	assert.Equal(t, []uint64{1, 2, 3, 4, 5}, seqs,
		"sequence is assigned in apply order, one per successful commit")
}
