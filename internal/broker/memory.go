package broker

import (
	"context"
	"errors"
	"sync"
	"time"

	"blueline/internal/config"
)

const topicBuffer = 256

// Memory is the in-process Broker used by the daemon. Topics are created on
// first use; every Nack schedules a redelivery with exponential backoff and
// an incremented attempt count, so consumers observe the same envelope
// semantics they would get from an external queue.
type Memory struct {
	backoffInitial time.Duration
	backoffMax     time.Duration

	mu      sync.Mutex
	topics  map[string]*topicState
	timers  map[*time.Timer]struct{}
	closed  bool
	done    chan struct{}
	closeWG sync.WaitGroup
	senders sync.WaitGroup
}

var errClosed = errors.New("broker is closed")

type topicState struct {
	ch      chan *Delivery
	pending int
}

// NewMemory builds a broker using the configured redelivery backoff window.
func NewMemory(cfg *config.Config) *Memory {
	initial := time.Duration(cfg.Broker.BackoffInitialMS) * time.Millisecond
	if initial <= 0 {
		initial = 100 * time.Millisecond
	}
	max := time.Duration(cfg.Broker.BackoffMaxMS) * time.Millisecond
	if max < initial {
		max = initial
	}
	return &Memory{
		backoffInitial: initial,
		backoffMax:     max,
		topics:         make(map[string]*topicState),
		timers:         make(map[*time.Timer]struct{}),
		done:           make(chan struct{}),
	}
}

// Publish enqueues a message for delivery. The first delivery attempt is 1.
func (m *Memory) Publish(ctx context.Context, topic string, msg Message) error {
	if msg.Attempt <= 0 {
		msg.Attempt = 1
	}
	if msg.EnqueuedAt.IsZero() {
		msg.EnqueuedAt = time.Now().UTC()
	}
	return m.enqueue(ctx, topic, msg)
}

// Subscribe returns the delivery channel for a topic.
func (m *Memory) Subscribe(topic string) <-chan *Delivery {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.topic(topic).ch
}

// Depth reports buffered plus backoff-pending messages on a topic.
func (m *Memory) Depth(topic string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	state, ok := m.topics[topic]
	if !ok {
		return 0
	}
	return state.pending
}

// Close shuts the broker down. Blocked publishers are woken first, then
// pending redelivery timers are cancelled or waited out; subscribed channels
// close only after every in-flight send has returned.
func (m *Memory) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	close(m.done)
	for timer := range m.timers {
		if timer.Stop() {
			m.closeWG.Done()
		}
	}
	m.timers = nil
	topics := m.topics
	m.mu.Unlock()

	m.closeWG.Wait()
	m.senders.Wait()
	for _, state := range topics {
		close(state.ch)
	}
	return nil
}

func (m *Memory) enqueue(ctx context.Context, topic string, msg Message) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return errClosed
	}
	state := m.topic(topic)
	state.pending++
	delivery := m.newDelivery(topic, msg)
	m.senders.Add(1)
	m.mu.Unlock()
	defer m.senders.Done()

	select {
	case state.ch <- delivery:
		return nil
	case <-ctx.Done():
		m.drop(state)
		return ctx.Err()
	case <-m.done:
		m.drop(state)
		return errClosed
	}
}

func (m *Memory) drop(state *topicState) {
	m.mu.Lock()
	state.pending--
	m.mu.Unlock()
}

// newDelivery wires the disposition callback. Callers hold m.mu.
func (m *Memory) newDelivery(topic string, msg Message) *Delivery {
	return &Delivery{
		msg:   msg,
		topic: topic,
		done: func(result disposition, reason string) {
			m.settle(topic, msg, result, reason)
		},
	}
}

func (m *Memory) settle(topic string, msg Message, result disposition, reason string) {
	m.mu.Lock()
	if state, ok := m.topics[topic]; ok {
		state.pending--
	}
	m.mu.Unlock()

	switch result {
	case dispositionNack:
		m.scheduleRedelivery(topic, msg)
	case dispositionDead:
		msg.EnqueuedAt = time.Now().UTC()
		msg.Error = reason
		_ = m.enqueueAsync(DeadLetterTopic(topic), msg)
	}
}

func (m *Memory) scheduleRedelivery(topic string, msg Message) {
	delay := m.backoffFor(msg.Attempt)
	msg.Attempt++
	msg.EnqueuedAt = time.Now().UTC()

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closeWG.Add(1)
	var timer *time.Timer
	timer = time.AfterFunc(delay, func() {
		defer m.closeWG.Done()
		m.mu.Lock()
		delete(m.timers, timer)
		m.mu.Unlock()
		_ = m.enqueueAsync(topic, msg)
	})
	m.timers[timer] = struct{}{}
	m.mu.Unlock()
}

// enqueueAsync delivers without a caller context; used for redeliveries and
// dead-letter routing where there is no publisher to cancel.
func (m *Memory) enqueueAsync(topic string, msg Message) error {
	return m.enqueue(context.Background(), topic, msg)
}

// backoffFor doubles the initial delay per prior attempt, capped at the
// configured maximum.
func (m *Memory) backoffFor(attempt int) time.Duration {
	delay := m.backoffInitial
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= m.backoffMax {
			return m.backoffMax
		}
	}
	if delay > m.backoffMax {
		return m.backoffMax
	}
	return delay
}

// topic returns the state for a topic, creating it on first use. Callers
// hold m.mu.
func (m *Memory) topic(name string) *topicState {
	state, ok := m.topics[name]
	if !ok {
		state = &topicState{ch: make(chan *Delivery, topicBuffer)}
		m.topics[name] = state
	}
	return state
}
