package events

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

type Topic string

// Core → collaborators.
const (
	SendState                         Topic = "SendState"
	SendError                         Topic = "SendError"
	SendRoomUIClient                  Topic = "SendRoomUIClient"
	SendRoomUISystemStatus            Topic = "SendRoomUISystemStatus"
	SendRoomUIUpdateRoom              Topic = "SendRoomUIUpdateRoom"
	SendPlayerInterceptorClientStatus Topic = "SendPlayerInterceptorClientStatus"
	UpdatePlayer                      Topic = "UpdatePlayer"
	UpdateDetails                     Topic = "UpdateDetails"
	PlayerCommand                     Topic = "PlayerCommand"
	Navigate                          Topic = "Navigate"
	UpdateActiveID                    Topic = "UpdateActiveID"
)

// Event is one emission on a topic.
type Event struct {
	Topic   Topic `json:"topic"`
	Payload any   `json:"payload"`
}

// Subscription holds at most one undelivered event per topic. A newer event on the same
// topic replaces the unread one; topics are delivered in the order they first became
// pending.
type Subscription struct {
	id      uuid.UUID
	topics  map[Topic]struct{}
	signal  chan struct{}
	mu      sync.Mutex
	pending map[Topic]Event
	order   []Topic
	closed  bool
}

func (s *Subscription) ID() string { return s.id.String() }

func (s *Subscription) wants(topic Topic) bool {
	if len(s.topics) == 0 {
		return true
	}
	_, ok := s.topics[topic]
	return ok
}

func (s *Subscription) deliver(event Event) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	if _, ok := s.pending[event.Topic]; !ok {
		s.order = append(s.order, event.Topic)
	}
	s.pending[event.Topic] = event
	s.mu.Unlock()
	s.notify()
}

func (s *Subscription) notify() {
	select {
	case s.signal <- struct{}{}:
	default:
	}
}

// Next blocks until an event is pending, the subscription is closed or ctx is done.
func (s *Subscription) Next(ctx context.Context) (Event, bool) {
	for {
		s.mu.Lock()
		if len(s.order) > 0 {
			topic := s.order[0]
			s.order = s.order[1:]
			event := s.pending[topic]
			delete(s.pending, topic)
			s.mu.Unlock()
			return event, true
		}
		closed := s.closed
		s.mu.Unlock()
		if closed {
			return Event{}, false
		}
		select {
		case <-s.signal:
		case <-ctx.Done():
			return Event{}, false
		}
	}
}

func (s *Subscription) close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.notify()
}

// Bus is an in-process publish/subscribe hub keyed by topic. Late subscribers do not see
// earlier events.
type Bus struct {
	mu   sync.RWMutex
	subs map[uuid.UUID]*Subscription
}

func NewBus() *Bus {
	return &Bus{subs: make(map[uuid.UUID]*Subscription)}
}

// Subscribe registers for the given topics, or every topic when none are given.
func (b *Bus) Subscribe(topics ...Topic) *Subscription {
	sub := &Subscription{
		id:      uuid.New(),
		topics:  make(map[Topic]struct{}, len(topics)),
		signal:  make(chan struct{}, 1),
		pending: make(map[Topic]Event),
	}
	for _, t := range topics {
		sub.topics[t] = struct{}{}
	}
	b.mu.Lock()
	b.subs[sub.id] = sub
	b.mu.Unlock()
	return sub
}

func (b *Bus) Unsubscribe(sub *Subscription) {
	b.mu.Lock()
	delete(b.subs, sub.id)
	b.mu.Unlock()
	sub.close()
}

// Publish never blocks.
func (b *Bus) Publish(topic Topic, payload any) {
	event := Event{Topic: topic, Payload: payload}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subs {
		if sub.wants(topic) {
			sub.deliver(event)
		}
	}
}

// Publisher is the emitting half of the bus.
type Publisher interface {
	Publish(topic Topic, payload any)
}
