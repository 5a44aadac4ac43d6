package bus

import (
	"context"
	"sync"
	"time"
)

// EventType names a command lifecycle transition.
type EventType string

const (
	EventCommandReceived  EventType = "command_received"
	EventCommandDenied    EventType = "command_denied"
	EventCommandCompleted EventType = "command_completed"
	EventCommandFailed    EventType = "command_failed"
	EventShutdown         EventType = "shutdown"
)

// Event is one lifecycle notification. Slow subscribers miss events rather
// than block the publisher.
type Event struct {
	Type         EventType         `json:"type"`
	At           time.Time         `json:"at"`
	Channel      string            `json:"channel,omitempty"`
	ChatID       string            `json:"chat_id,omitempty"`
	SenderID     string            `json:"sender_id,omitempty"`
	InvocationID string            `json:"invocation_id,omitempty"`
	Command      string            `json:"command,omitempty"`
	Payload      map[string]string `json:"payload,omitempty"`
	Error        string            `json:"error,omitempty"`
}

func (mb *MessageBus) PublishEvent(ctx context.Context, event Event) bool {
	if ctx == nil {
		ctx = context.Background()
	}

	if event.At.IsZero() {
		event.At = time.Now().UTC()
	}

	select {
	case <-ctx.Done():
		return false
	case <-mb.done:
		return false
	default:
	}

	// Sends never block, so holding the read lock keeps unsubscribe from
	// closing a channel mid-send.
	mb.mu.RLock()
	for _, ch := range mb.eventSubscribers {
		select {
		case ch <- event:
		default:
		}
	}
	mb.mu.RUnlock()

	return true
}

func (mb *MessageBus) SubscribeEvents(ctx context.Context, buffer int) (<-chan Event, func()) {
	if ctx == nil {
		ctx = context.Background()
	}
	if buffer <= 0 {
		buffer = defaultBufferSize
	}

	ch := make(chan Event, buffer)

	mb.mu.Lock()
	select {
	case <-mb.done:
		mb.mu.Unlock()
		close(ch)
		return ch, func() {}
	default:
	}

	id := mb.nextEventSubscriberID
	mb.nextEventSubscriberID++
	mb.eventSubscribers[id] = ch
	mb.mu.Unlock()

	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			mb.mu.Lock()
			if eventCh, ok := mb.eventSubscribers[id]; ok {
				delete(mb.eventSubscribers, id)
				close(eventCh)
			}
			mb.mu.Unlock()
		})
	}

	go func() {
		select {
		case <-ctx.Done():
			unsubscribe()
		case <-mb.done:
			unsubscribe()
		}
	}()

	return ch, unsubscribe
}
