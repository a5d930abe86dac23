package events

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

// MemoryEventBus implements EventBus in process for single-node deployments
// and tests. Subjects match exactly. Handlers run on their own goroutines.
type MemoryEventBus struct {
	topics map[string]*topic
	mu     sync.RWMutex
	logger *zap.Logger
	closed bool
}

// topic holds everything listening on one subject.
type topic struct {
	fanout []*memorySubscription
	groups map[string]*queueGroup
}

type queueGroup struct {
	members []*memorySubscription
	next    atomic.Uint32
}

type memorySubscription struct {
	bus     *MemoryEventBus
	subject string
	queue   string
	handler EventHandler
	active  atomic.Bool
}

func NewMemoryEventBus(logger *zap.Logger) *MemoryEventBus {
	return &MemoryEventBus{
		topics: make(map[string]*topic),
		logger: logger,
	}
}

// Publish hands event to every plain subscriber of subject and to one
// member of each queue group.
func (b *MemoryEventBus) Publish(ctx context.Context, subject string, event *Event) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return fmt.Errorf("event bus is closed")
	}

	if t, ok := b.topics[subject]; ok {
		for _, sub := range t.fanout {
			if sub.IsValid() {
				go b.dispatch(sub, event)
			}
		}
		for _, g := range t.groups {
			if sub := g.pick(); sub != nil {
				go b.dispatch(sub, event)
			}
		}
	}

	b.logger.Debug("Published event",
		zap.String("subject", subject),
		zap.String("event_id", event.ID),
		zap.String("event_type", event.Type))
	return nil
}

// pick rotates through the group's active members.
func (g *queueGroup) pick() *memorySubscription {
	n := len(g.members)
	start := int(g.next.Add(1) - 1)
	for i := 0; i < n; i++ {
		if sub := g.members[(start+i)%n]; sub.IsValid() {
			return sub
		}
	}
	return nil
}

// dispatch runs a handler detached from the publisher's request context.
func (b *MemoryEventBus) dispatch(sub *memorySubscription, event *Event) {
	if err := sub.handler(context.Background(), event); err != nil {
		b.logger.Error("Event handler error",
			zap.String("subject", sub.subject),
			zap.String("queue", sub.queue),
			zap.String("event_id", event.ID),
			zap.Error(err))
	}
}

func (b *MemoryEventBus) Subscribe(subject string, handler EventHandler) (Subscription, error) {
	return b.subscribe(subject, "", handler)
}

// QueueSubscribe joins queue on subject; each event reaches one member.
func (b *MemoryEventBus) QueueSubscribe(subject, queue string, handler EventHandler) (Subscription, error) {
	if queue == "" {
		return nil, fmt.Errorf("queue name is required")
	}
	return b.subscribe(subject, queue, handler)
}

func (b *MemoryEventBus) subscribe(subject, queue string, handler EventHandler) (Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, fmt.Errorf("event bus is closed")
	}

	sub := &memorySubscription{bus: b, subject: subject, queue: queue, handler: handler}
	sub.active.Store(true)

	t, ok := b.topics[subject]
	if !ok {
		t = &topic{groups: make(map[string]*queueGroup)}
		b.topics[subject] = t
	}
	if queue == "" {
		t.fanout = append(t.fanout, sub)
	} else {
		g, ok := t.groups[queue]
		if !ok {
			g = &queueGroup{}
			t.groups[queue] = g
		}
		g.members = append(g.members, sub)
	}

	b.logger.Debug("Subscribed to subject", zap.String("subject", subject), zap.String("queue", queue))
	return sub, nil
}

func (b *MemoryEventBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.closed = true
	for _, t := range b.topics {
		for _, sub := range t.fanout {
			sub.active.Store(false)
		}
		for _, g := range t.groups {
			for _, sub := range g.members {
				sub.active.Store(false)
			}
		}
	}
	b.topics = make(map[string]*topic)

	b.logger.Info("Memory event bus closed")
}

func (b *MemoryEventBus) IsConnected() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return !b.closed
}

func (s *memorySubscription) Unsubscribe() error {
	s.active.Store(false)

	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()

	t, ok := s.bus.topics[s.subject]
	if !ok {
		return nil
	}
	if s.queue == "" {
		t.fanout = without(t.fanout, s)
	} else if g, ok := t.groups[s.queue]; ok {
		g.members = without(g.members, s)
		if len(g.members) == 0 {
			delete(t.groups, s.queue)
		}
	}
	if len(t.fanout) == 0 && len(t.groups) == 0 {
		delete(s.bus.topics, s.subject)
	}
	return nil
}

func (s *memorySubscription) IsValid() bool {
	return s.active.Load()
}

func without(subs []*memorySubscription, s *memorySubscription) []*memorySubscription {
	out := make([]*memorySubscription, 0, len(subs))
	for _, sub := range subs {
		if sub != s {
			out = append(out, sub)
		}
	}
	return out
}
