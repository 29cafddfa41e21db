// Package eventbus provides the in-process topic bus that decouples signal
// production from order execution. Delivery is at-most-once and strictly
// in-process: topics that must cross a process boundary are re-expressed
// through the ring buffer or the relational store, never through this bus.
package eventbus

import (
	"sync"

	"binance-signal-bot-go/internal/logger"
)

// Topic names shared between the analysis and execution sides.
const (
	TopicSignalGenerated = "signal.generated"
	TopicTradeResult     = "trade.result"
	TopicModelUpdated    = "model.updated"
	TopicPositionAlert   = "position.alert"
)

// Handler consumes one published payload. Handlers run on the publisher's
// goroutine, sequentially per topic.
type Handler func(payload interface{})

type topicState struct {
	dispatch sync.Mutex // serializes delivery so per-topic order is FIFO
	handlers []Handler
}

// Bus is a topic-based publish/subscribe mechanism.
type Bus struct {
	mu     sync.RWMutex
	topics map[string]*topicState
}

// New creates an empty bus.
func New() *Bus {
	return &Bus{topics: make(map[string]*topicState)}
}

// Subscribe registers a handler for a topic. Handlers are invoked in
// subscription order on every subsequent publish.
func (b *Bus) Subscribe(topic string, h Handler) {
	if h == nil {
		return
	}
	b.mu.Lock()
	state, ok := b.topics[topic]
	if !ok {
		state = &topicState{}
		b.topics[topic] = state
	}
	state.handlers = append(state.handlers, h)
	b.mu.Unlock()
}

// Publish delivers the payload to every subscriber of the topic in
// subscription order. A handler that panics is logged and skipped; the
// remaining subscribers still receive the event.
func (b *Bus) Publish(topic string, payload interface{}) {
	b.mu.RLock()
	state, ok := b.topics[topic]
	b.mu.RUnlock()
	if !ok {
		return
	}

	state.dispatch.Lock()
	defer state.dispatch.Unlock()

	b.mu.RLock()
	handlers := state.handlers
	b.mu.RUnlock()

	for _, h := range handlers {
		b.deliver(topic, h, payload)
	}
}

func (b *Bus) deliver(topic string, h Handler, payload interface{}) {
	defer func() {
		if r := recover(); r != nil {
			logger.S().Errorf("eventbus: handler on %q panicked: %v", topic, r)
		}
	}()
	h(payload)
}

// SubscriberCount reports how many handlers a topic has.
func (b *Bus) SubscriberCount(topic string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if state, ok := b.topics[topic]; ok {
		return len(state.handlers)
	}
	return 0
}
