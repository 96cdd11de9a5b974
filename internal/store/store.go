// ABOUTME: State store owning the authoritative state record and its registries
// ABOUTME: Mutations, actions and getters are registered by name and invoked via Commit/Dispatch/Get

package store

import (
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"sync"

	"github.com/google/uuid"

	"github.com/2389/ordertrack/internal/bus"
)

// Registry and lookup errors
var (
	// ErrUnknownMutation is returned by Commit for an unregistered mutation name
	ErrUnknownMutation = errors.New("unknown mutation")

	// ErrUnknownAction is returned by Dispatch for an unregistered action name
	ErrUnknownAction = errors.New("unknown action")

	// ErrUnknownGetter is returned by Get for an unregistered getter name
	ErrUnknownGetter = errors.New("unknown getter")

	// ErrDuplicateMutation is returned when registering a mutation name twice
	// without the Replace option
	ErrDuplicateMutation = errors.New("mutation already registered")

	// ErrDuplicateAction is returned when registering an action name twice
	// without the Replace option
	ErrDuplicateAction = errors.New("action already registered")

	// ErrDuplicateGetter is returned when registering a getter name twice
	// without the Replace option
	ErrDuplicateGetter = errors.New("getter already registered")

	// ErrEmptyName is returned when registering under an empty name
	ErrEmptyName = errors.New("name must not be empty")

	// ErrNilHandler is returned when registering a nil function
	ErrNilHandler = errors.New("handler must not be nil")
)

// State is the single mutable key-to-value record owned by the Store. All
// application data lives here as nested structures; consumers read it
// through getters and change it only through committed mutations.
type State map[string]any

// MutationFunc is a synchronous transform applied to the live state record.
// It mutates state in place and returns an error to abort the commit.
type MutationFunc func(state State, payload any) error

// GetterFunc derives a value from the current state. Getters are never
// memoized: every read re-executes the derivation. The getters view allows
// one getter to compose others by name.
type GetterFunc func(state State, getters Getters) any

// Subscriber is notified synchronously after every successful commit.
type Subscriber func(prev, next State, m Mutation)

// Mutation describes a committed mutation to subscribers and bus listeners.
type Mutation struct {
	Name    string
	Payload any
}

// subscriber pairs a Subscriber with a stable identity for removal.
type subscriber struct {
	id string
	fn Subscriber
}

// Store holds the authoritative state record together with the mutation,
// action and getter registries. Commits are atomic with respect to each
// other; concurrent dispatches interleave their internal commits in
// arbitrary order (the store does not serialize actions).
type Store struct {
	mu sync.Mutex

	state     State
	seq       uint64
	mutations map[string]MutationFunc
	actions   map[string]ActionFunc
	getters   map[string]GetterFunc

	history    []HistoryEntry
	maxHistory int

	subscribers []subscriber

	events *bus.Bus
	logger *slog.Logger
}

// New creates a Store seeded with the given initial state record. The seed
// is adopted as the live state; pass nil for an empty record. If eventBus is
// nil a private bus is created; it is reachable via Bus() either way. Pass
// nil logger for default.
func New(seed State, eventBus *bus.Bus, logger *slog.Logger) *Store {
	if seed == nil {
		seed = make(State)
	}
	if logger == nil {
		logger = slog.Default()
	}
	if eventBus == nil {
		eventBus = bus.New(logger)
	}
	return &Store{
		state:      seed,
		mutations:  make(map[string]MutationFunc),
		actions:    make(map[string]ActionFunc),
		getters:    make(map[string]GetterFunc),
		maxHistory: DefaultMaxHistory,
		events:     eventBus,
		logger:     logger.With("component", "store"),
	}
}

// Bus returns the event bus this store publishes mutation and action
// events through.
func (s *Store) Bus() *bus.Bus {
	return s.events
}

// Snapshot returns a shallow copy of the current state record. Values are
// shared with the live state, so callers must treat them as read-only.
func (s *Store) Snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return maps.Clone(s.state)
}

// registerOptions carries registration flags.
type registerOptions struct {
	replace bool
}

// RegisterOption configures a registration call.
type RegisterOption func(*registerOptions)

// Replace allows a registration to overwrite an existing handler of the
// same name. Without it, duplicate names are rejected.
func Replace() RegisterOption {
	return func(o *registerOptions) { o.replace = true }
}

// RegisterMutation inserts a named mutation into the registry. Registering
// an existing name fails with ErrDuplicateMutation unless Replace is given.
func (s *Store) RegisterMutation(name string, fn MutationFunc, opts ...RegisterOption) error {
	if err := validateRegistration(name, fn == nil); err != nil {
		return err
	}
	o := applyOptions(opts)

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.mutations[name]; exists {
		if !o.replace {
			return fmt.Errorf("%w: %q", ErrDuplicateMutation, name)
		}
		s.logger.Warn("replacing mutation handler", "name", name)
	}
	s.mutations[name] = fn
	return nil
}

// RegisterAction inserts a named action into the registry. Registering an
// existing name fails with ErrDuplicateAction unless Replace is given.
func (s *Store) RegisterAction(name string, fn ActionFunc, opts ...RegisterOption) error {
	if err := validateRegistration(name, fn == nil); err != nil {
		return err
	}
	o := applyOptions(opts)

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.actions[name]; exists {
		if !o.replace {
			return fmt.Errorf("%w: %q", ErrDuplicateAction, name)
		}
		s.logger.Warn("replacing action handler", "name", name)
	}
	s.actions[name] = fn
	return nil
}

// RegisterGetter inserts a named getter into the registry. Registering an
// existing name fails with ErrDuplicateGetter unless Replace is given.
func (s *Store) RegisterGetter(name string, fn GetterFunc, opts ...RegisterOption) error {
	if err := validateRegistration(name, fn == nil); err != nil {
		return err
	}
	o := applyOptions(opts)

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.getters[name]; exists {
		if !o.replace {
			return fmt.Errorf("%w: %q", ErrDuplicateGetter, name)
		}
		s.logger.Warn("replacing getter handler", "name", name)
	}
	s.getters[name] = fn
	return nil
}

// Subscribe registers a store-level subscriber notified after every
// successful commit, in subscription order. Returns an unsubscribe function
// that removes exactly this subscriber.
func (s *Store) Subscribe(fn Subscriber) func() {
	id := uuid.NewString()

	s.mu.Lock()
	s.subscribers = append(s.subscribers, subscriber{id: id, fn: fn})
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		for i, sub := range s.subscribers {
			if sub.id == id {
				s.subscribers = append(s.subscribers[:i:i], s.subscribers[i+1:]...)
				return
			}
		}
	}
}

func validateRegistration(name string, nilFn bool) error {
	if name == "" {
		return ErrEmptyName
	}
	if nilFn {
		return fmt.Errorf("%w: %q", ErrNilHandler, name)
	}
	return nil
}

func applyOptions(opts []RegisterOption) registerOptions {
	var o registerOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
