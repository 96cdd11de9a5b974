// ABOUTME: Bus topics and event payloads the store publishes on commit and dispatch
// ABOUTME: Collaborators subscribe to these topics instead of registering direct subscribers

package store

// Bus topics published by the store. Collaborators that only care about a
// class of activity (an auto-persist module, a live event feed) subscribe
// here rather than through Store.Subscribe.
const (
	// TopicMutation carries a MutationEvent after every successful commit.
	TopicMutation = "store-mutation"

	// TopicAction carries an ActionEvent after every dispatch settles.
	TopicAction = "store-action"
)

// MutationEvent is the payload published on TopicMutation. Seq is assigned
// inside the commit's locked region, so it reflects the order mutations
// applied even when events from concurrent commits are observed out of
// order; consumers keeping only the latest state must compare Seq.
type MutationEvent struct {
	Seq     uint64
	Name    string
	Payload any
	Prev    State
	Next    State
}

// ActionEvent is the payload published on TopicAction. Err is empty when
// the action succeeded.
type ActionEvent struct {
	Name    string
	Payload any
	Result  any
	Err     string
}
