package bus

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

const (
	DefaultHistorySize   = 100
	DefaultChannelBuffer = 64
)

type SubscriptionID string

type subscription struct {
	id      SubscriptionID
	event   string
	handler func(Message)
	ch      chan Message
	done    chan struct{}
}

// Local is an in-process bus. Each subscriber gets its own goroutine and
// buffer; a subscriber whose buffer is full misses the message rather than
// blocking the publisher.
type Local struct {
	mu       sync.RWMutex
	subs     map[SubscriptionID]*subscription
	byEvent  map[string]map[SubscriptionID]*subscription
	wildcard map[SubscriptionID]*subscription

	historyMu   sync.RWMutex
	history     []Message
	historySize int

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	closed atomic.Bool
}

func NewLocal(historySize int) *Local {
	if historySize <= 0 {
		historySize = DefaultHistorySize
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Local{
		subs:        make(map[SubscriptionID]*subscription),
		byEvent:     make(map[string]map[SubscriptionID]*subscription),
		wildcard:    make(map[SubscriptionID]*subscription),
		history:     make([]Message, 0, historySize),
		historySize: historySize,
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Subscribe registers handler for event. An empty event receives everything.
func (b *Local) Subscribe(event string, handler func(Message)) (SubscriptionID, error) {
	if handler == nil {
		return "", fmt.Errorf("handler is nil")
	}

	sub := &subscription{
		id:      SubscriptionID(uuid.NewString()),
		event:   event,
		handler: handler,
		ch:      make(chan Message, DefaultChannelBuffer),
		done:    make(chan struct{}),
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed.Load() {
		return "", fmt.Errorf("bus is closed")
	}

	b.subs[sub.id] = sub

	if event == "" {
		b.wildcard[sub.id] = sub
	} else {
		if b.byEvent[event] == nil {
			b.byEvent[event] = make(map[SubscriptionID]*subscription)
		}

		b.byEvent[event][sub.id] = sub
	}

	b.wg.Add(1)
	go b.deliver(sub)

	return sub.id, nil
}

func (b *Local) deliver(sub *subscription) {
	defer b.wg.Done()

	for {
		select {
		case msg := <-sub.ch:
			sub.handler(msg)
		case <-sub.done:
			return
		case <-b.ctx.Done():
			return
		}
	}
}

func (b *Local) Unsubscribe(id SubscriptionID) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub, ok := b.subs[id]
	if !ok {
		return fmt.Errorf("subscription %s not found", id)
	}

	delete(b.subs, id)

	if sub.event == "" {
		delete(b.wildcard, id)
	} else if subs, ok := b.byEvent[sub.event]; ok {
		delete(subs, id)

		if len(subs) == 0 {
			delete(b.byEvent, sub.event)
		}
	}

	close(sub.done)

	return nil
}

func (b *Local) Publish(event string, data map[string]any) error {
	if b.closed.Load() {
		return fmt.Errorf("bus is closed")
	}

	msg := NewMessage(event, data)

	b.addToHistory(msg)

	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, sub := range b.wildcard {
		offer(sub, msg)
	}

	for _, sub := range b.byEvent[event] {
		offer(sub, msg)
	}

	return nil
}

func offer(sub *subscription, msg Message) {
	select {
	case sub.ch <- msg:
	default:
	}
}

func (b *Local) addToHistory(msg Message) {
	b.historyMu.Lock()
	defer b.historyMu.Unlock()

	b.history = append(b.history, msg)

	if len(b.history) > b.historySize {
		b.history = b.history[len(b.history)-b.historySize:]
	}
}

// History returns the most recent messages, oldest first.
func (b *Local) History() []Message {
	b.historyMu.RLock()
	defer b.historyMu.RUnlock()

	out := make([]Message, len(b.history))
	copy(out, b.history)

	return out
}

func (b *Local) Close() error {
	if !b.closed.CompareAndSwap(false, true) {
		return fmt.Errorf("bus already closed")
	}

	b.cancel()
	b.wg.Wait()

	b.mu.Lock()
	b.subs = make(map[SubscriptionID]*subscription)
	b.byEvent = make(map[string]map[SubscriptionID]*subscription)
	b.wildcard = make(map[SubscriptionID]*subscription)
	b.mu.Unlock()

	return nil
}
