// Package eventbus is the default implementation of the event-bus
// collaborator: a namespaced, topic-addressed publish/subscribe bus.
// Applications may supply their own implementation (anything
// satisfying resclient.EventBus) via Options.EventBus; this one is the
// ambient default.
//
// Delivery is per-topic rather than a single broadcast firehose:
// handlers are registered against an exact topic string, such as
// "<namespace>.resource.<rid>.<event>" or a client-level
// "<namespace>.connect", so subscribers are kept in a topic-keyed map
// of callback lists rather than a shared channel.
package eventbus

import "sync"

// Handler receives a published event's payload.
type Handler func(data any)

// subscription pairs a registered handler with the id Off needs to
// remove it again; Go func values are not comparable, so identity is
// tracked by id rather than by the handler itself.
type subscription struct {
	id      uint64
	handler Handler
}

// Bus is a synchronous, topic-keyed publish/subscribe registry.
// Publish invokes matching handlers on the calling goroutine, so
// handlers observe a consistent cache snapshot rather than one that
// may have moved on by the time they run.
type Bus struct {
	mu     sync.RWMutex
	topics map[string][]subscription
	nextID uint64
}

// New creates an empty Bus.
func New() *Bus {
	return &Bus{topics: make(map[string][]subscription)}
}

// On registers handler for topic and returns a function that removes
// it. Safe to call concurrently with Publish.
func (b *Bus) On(topic string, handler Handler) (off func()) {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.topics[topic] = append(b.topics[topic], subscription{id: id, handler: handler})
	b.mu.Unlock()

	return func() { b.off(topic, id) }
}

func (b *Bus) off(topic string, id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.topics[topic]
	for i, s := range subs {
		if s.id == id {
			subs = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	if len(subs) == 0 {
		delete(b.topics, topic)
	} else {
		b.topics[topic] = subs
	}
}

// OffAll removes every handler registered for topic.
func (b *Bus) OffAll(topic string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.topics, topic)
}

// Publish invokes every handler registered for topic with data. The
// handler list is copied under the lock so a handler that calls On or
// the off() closure of another handler mid-publish cannot deadlock or
// corrupt iteration.
func (b *Bus) Publish(topic string, data any) {
	b.mu.RLock()
	subs := make([]subscription, len(b.topics[topic]))
	copy(subs, b.topics[topic])
	b.mu.RUnlock()

	for _, s := range subs {
		s.handler(data)
	}
}

// HandlerCount returns the number of handlers currently registered for
// topic, for tests and diagnostics.
func (b *Bus) HandlerCount(topic string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.topics[topic])
}
