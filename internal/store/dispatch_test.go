// ABOUTME: Tests for the dispatch protocol and action composition
// ABOUTME: Covers nested commits, action failure propagation and store-action events

package store

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDispatch_UnknownActionFails(t *testing.T) {
	s := newTestStore(t, nil)

	_, err := s.Dispatch(context.Background(), "nope", nil)
	assert.ErrorIs(t, err, ErrUnknownAction)
}

func TestDispatch_IncrementTwiceCommitsInOrder(t *testing.T) {
	s := newTestStore(t, State{"count": 0})
	registerSetCount(t, s)

	err := s.RegisterAction("incrementTwice", func(_ context.Context, ac *ActionContext, _ any) (any, error) {
		for i := 0; i < 2; i++ {
			count := ac.State()["count"].(int)
			if err := ac.Commit("SET_COUNT", count+1); err != nil {
				return nil, err
			}
		}
		return ac.State()["count"], nil
	})
	require.NoError(t, err)

	result, err := s.Dispatch(context.Background(), "incrementTwice", nil)
	require.NoError(t, err)
	assert.Equal(t, 2, result)

	history := s.History()
	require.Len(t, history, 2)
	assert.Equal(t, "SET_COUNT", history[0].Name)
	assert.Equal(t, "SET_COUNT", history[1].Name)
	assert.Equal(t, 1, history[0].Next["count"])
	assert.Equal(t, 2, history[1].Next["count"])
}

func TestDispatch_ActionsCompose(t *testing.T) {
	s := newTestStore(t, State{"count": 0})
	registerSetCount(t, s)

	err := s.RegisterAction("setCount", func(_ context.Context, ac *ActionContext, payload any) (any, error) {
		return nil, ac.Commit("SET_COUNT", payload)
	})
	require.NoError(t, err)

	err = s.RegisterAction("reset", func(ctx context.Context, ac *ActionContext, _ any) (any, error) {
		return ac.Dispatch(ctx, "setCount", 0)
	})
	require.NoError(t, err)

	require.NoError(t, s.Commit("SET_COUNT", 41))
	_, err = s.Dispatch(context.Background(), "reset", nil)
	require.NoError(t, err)

	assert.Equal(t, 0, s.History()[len(s.History())-1].Next["count"])
}

func TestDispatch_ActionErrorPropagatesWithoutRollback(t *testing.T) {
	s := newTestStore(t, State{"count": 0})
	registerSetCount(t, s)

	failure := errors.New("downstream unavailable")
	err := s.RegisterAction("halfDone", func(_ context.Context, ac *ActionContext, _ any) (any, error) {
		if err := ac.Commit("SET_COUNT", 1); err != nil {
			return nil, err
		}
		return nil, failure
	})
	require.NoError(t, err)

	_, err = s.Dispatch(context.Background(), "halfDone", nil)

	assert.ErrorIs(t, err, failure)
	// The commit issued before the failure stays applied
	require.Len(t, s.History(), 1)
	assert.Equal(t, 1, s.History()[0].Next["count"])
}

func TestDispatch_PublishesActionEventAfterSettling(t *testing.T) {
	s := newTestStore(t, nil)

	err := s.RegisterAction("ok", func(context.Context, *ActionContext, any) (any, error) {
		return "done", nil
	})
	require.NoError(t, err)
	err = s.RegisterAction("bad", func(context.Context, *ActionContext, any) (any, error) {
		return nil, errors.New("exploded")
	})
	require.NoError(t, err)

	var events []ActionEvent
	_, err = s.Bus().Subscribe(TopicAction, func(payload any) {
		events = append(events, payload.(ActionEvent))
	})
	require.NoError(t, err)

	_, err = s.Dispatch(context.Background(), "ok", "p1")
	require.NoError(t, err)
	_, err = s.Dispatch(context.Background(), "bad", "p2")
	require.Error(t, err)

	require.Len(t, events, 2)
	assert.Equal(t, "ok", events[0].Name)
	assert.Equal(t, "done", events[0].Result)
	assert.Empty(t, events[0].Err)
	assert.Equal(t, "bad", events[1].Name)
	assert.Equal(t, "exploded", events[1].Err)
}

func TestDispatch_ConcurrentDispatchCommitsAreEachAtomic(t *testing.T) {
	s := newTestStore(t, State{"count": 0})
	s.SetMaxHistory(200)

	err := s.RegisterMutation("INCREMENT", func(state State, _ any) error {
		state["count"] = state["count"].(int) + 1
		return nil
	})
	require.NoError(t, err)

	err = s.RegisterAction("bump", func(_ context.Context, ac *ActionContext, _ any) (any, error) {
		return nil, ac.Commit("INCREMENT", nil)
	})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, dispatchErr := s.Dispatch(context.Background(), "bump", nil)
			assert.NoError(t, dispatchErr)
		}()
	}
	wg.Wait()

	// Each commit is atomic even though dispatch ordering is unspecified
	history := s.History()
	require.Len(t, history, 50)
	assert.Equal(t, 50, history[len(history)-1].Next["count"])
}
