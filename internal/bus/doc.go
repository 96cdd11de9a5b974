// Package bus provides the in-memory event bus that decouples ordertrack
// components from one another.
//
// # Overview
//
// Producers publish payloads under a string topic; consumers subscribe
// callbacks to topics. Delivery is synchronous and in registration order,
// over a snapshot of the listeners present when Publish was called, so a
// listener registered during a publish round first sees the following round.
//
// # Usage
//
//	b := bus.New(logger)
//
//	unsubscribe, _ := b.Subscribe("store-mutation", func(payload any) {
//	    // react
//	})
//	defer unsubscribe()
//
//	b.Publish("store-mutation", event)
//
// One-shot and lifetime-bound subscriptions:
//
//	b.Subscribe(topic, fn, bus.Once())
//	b.Subscribe(topic, fn, bus.WithContext(ctx)) // auto-unsubscribe on cancel
//
// # Failure isolation
//
// A panicking listener is caught and logged; it never prevents the remaining
// listeners in the same round from running and never propagates to the
// publisher.
package bus
