// ABOUTME: Topic-keyed publish/subscribe bus decoupling event producers from consumers
// ABOUTME: Invokes listeners synchronously over a pre-publish snapshot with panic isolation

package bus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// Subscription errors
var (
	// ErrEmptyTopic is returned when subscribing or publishing with an empty topic
	ErrEmptyTopic = errors.New("topic must not be empty")

	// ErrNilListener is returned when subscribing a nil callback
	ErrNilListener = errors.New("listener must not be nil")
)

// Listener is a callback invoked with the payload of a published event.
type Listener func(payload any)

// Option configures a subscription.
type Option func(*listener)

// Once marks the listener for removal after its first invocation. The
// listener fires at most once per subscription, even if it panics.
func Once() Option {
	return func(l *listener) { l.once = true }
}

// WithContext binds the subscription to ctx. When ctx is cancelled the
// listener is unsubscribed automatically.
func WithContext(ctx context.Context) Option {
	return func(l *listener) { l.ctx = ctx }
}

// listener is a single registered callback for a topic.
type listener struct {
	id    string
	fn    Listener
	fnPtr uintptr
	once  bool
	fired atomic.Bool
	ctx   context.Context
}

// Bus is an in-memory, topic-keyed publish/subscribe primitive. Listeners
// are invoked synchronously on the publisher's goroutine, in registration
// order, over a snapshot of the listeners present when Publish was called.
// Listeners added during a publish round do not see that round.
type Bus struct {
	mu     sync.Mutex
	topics map[string][]*listener
	logger *slog.Logger
}

// New creates a Bus. Pass nil logger for default.
func New(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		topics: make(map[string][]*listener),
		logger: logger.With("component", "bus"),
	}
}

// Subscribe registers a listener for the given topic and returns an
// unsubscribe function that removes exactly this listener.
func (b *Bus) Subscribe(topic string, fn Listener, opts ...Option) (func(), error) {
	if topic == "" {
		return nil, ErrEmptyTopic
	}
	if fn == nil {
		return nil, fmt.Errorf("%w: topic %q", ErrNilListener, topic)
	}

	l := &listener{
		id:    uuid.NewString(),
		fn:    fn,
		fnPtr: reflect.ValueOf(fn).Pointer(),
	}
	for _, opt := range opts {
		opt(l)
	}

	b.mu.Lock()
	b.topics[topic] = append(b.topics[topic], l)
	b.mu.Unlock()

	b.logger.Debug("listener added", "topic", topic, "listener_id", l.id, "once", l.once)

	// Auto-cleanup on context cancellation
	if l.ctx != nil {
		go func() {
			<-l.ctx.Done()
			b.removeByID(topic, l.id)
		}()
	}

	return func() { b.removeByID(topic, l.id) }, nil
}

// Unsubscribe removes the first listener on topic whose callback matches fn.
// It is a no-op if the topic is unknown or the callback is not registered.
//
// Matching is by the callback's code pointer, so distinct closures created
// from the same function literal (subscriptions made in a loop, for
// instance) are indistinguishable here and the earliest-registered one is
// removed. Callers that need to remove one specific subscription among such
// twins must use the unsubscribe function returned by Subscribe, which is
// always exact.
func (b *Bus) Unsubscribe(topic string, fn Listener) {
	if fn == nil {
		return
	}
	ptr := reflect.ValueOf(fn).Pointer()

	b.mu.Lock()
	defer b.mu.Unlock()

	listeners := b.topics[topic]
	for i, l := range listeners {
		if l.fnPtr == ptr {
			b.topics[topic] = append(listeners[:i:i], listeners[i+1:]...)
			if len(b.topics[topic]) == 0 {
				delete(b.topics, topic)
			}
			return
		}
	}
}

// Publish invokes every listener currently registered for topic, in
// registration order, with the given payload. A no-op if the topic has no
// listeners. A panicking listener is logged and does not prevent the
// remaining listeners in the round from running; nothing propagates to the
// caller.
func (b *Bus) Publish(topic string, payload any) {
	b.mu.Lock()
	registered, ok := b.topics[topic]
	if !ok || len(registered) == 0 {
		b.mu.Unlock()
		return
	}
	// Snapshot before iterating: listeners added during this round are
	// not invoked until the next publish.
	round := make([]*listener, len(registered))
	copy(round, registered)
	b.mu.Unlock()

	for _, l := range round {
		if l.once && !l.fired.CompareAndSwap(false, true) {
			continue
		}
		b.invoke(topic, l, payload)
		if l.once {
			b.removeByID(topic, l.id)
		}
	}
}

// invoke runs a single listener, converting a panic into a log entry so one
// failing listener cannot break the publish round.
func (b *Bus) invoke(topic string, l *listener, payload any) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("listener panic",
				"topic", topic,
				"listener_id", l.id,
				"panic", r)
		}
	}()
	l.fn(payload)
}

// ListenerCount returns the number of listeners registered for topic.
func (b *Bus) ListenerCount(topic string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.topics[topic])
}

// ClearAll removes every listener from every topic.
func (b *Bus) ClearAll() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.topics = make(map[string][]*listener)
}

// removeByID drops the listener with the given id from topic, if present.
func (b *Bus) removeByID(topic, id string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	listeners := b.topics[topic]
	for i, l := range listeners {
		if l.id == id {
			b.topics[topic] = append(listeners[:i:i], listeners[i+1:]...)
			if len(b.topics[topic]) == 0 {
				delete(b.topics, topic)
			}
			return
		}
	}
}
