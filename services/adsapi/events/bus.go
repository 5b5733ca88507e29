// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package events

import (
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Handler processes a published event. Handlers run synchronously on the
// publishing goroutine and must not block.
type Handler func(event *Event)

// Publisher is the narrow interface the access layer depends on.
type Publisher interface {
	Publish(topic Topic, data any)
}

type subscription struct {
	id      string
	handler Handler
	topics  []Topic
}

// Bus broadcasts events to subscribers.
//
// Thread Safety: Bus is safe for concurrent use.
type Bus struct {
	mu            sync.RWMutex
	subscriptions map[string]*subscription
	buffer        []Event
	bufferSize    int
	logger        *slog.Logger
	now           func() time.Time
}

// BusOption configures a Bus.
type BusOption func(*Bus)

// WithBufferSize sets how many recent events are kept for replay.
func WithBufferSize(size int) BusOption {
	return func(b *Bus) {
		if size >= 0 {
			b.bufferSize = size
		}
	}
}

// WithLogger sets the logger used to report handler panics.
func WithLogger(logger *slog.Logger) BusOption {
	return func(b *Bus) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) BusOption {
	return func(b *Bus) {
		if now != nil {
			b.now = now
		}
	}
}

// NewBus creates an event bus with a replay buffer of 256 events.
func NewBus(opts ...BusOption) *Bus {
	b := &Bus{
		subscriptions: make(map[string]*subscription),
		bufferSize:    256,
		logger:        slog.Default(),
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	b.buffer = make([]Event, 0, b.bufferSize)
	return b
}

// Subscribe registers a handler.
//
// Inputs:
//
//	handler - Function to call for each matching event.
//	topics - Topics to receive (none = all topics).
//
// Outputs:
//
//	string - Subscription ID for Unsubscribe.
func (b *Bus) Subscribe(handler Handler, topics ...Topic) string {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := &subscription{
		id:      uuid.NewString(),
		handler: handler,
		topics:  topics,
	}
	b.subscriptions[sub.id] = sub
	return sub.id
}

// Unsubscribe removes a subscription and reports whether it existed.
func (b *Bus) Unsubscribe(id string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.subscriptions[id]; ok {
		delete(b.subscriptions, id)
		return true
	}
	return false
}

// Publish broadcasts an event to all matching subscribers.
//
// Description:
//
//	The event is stamped, appended to the replay buffer (dropping the
//	oldest when full) and handed to every subscriber whose topic list
//	matches. A panicking handler is logged and does not stop delivery
//	to the others.
//
// Thread Safety: This method is safe for concurrent use.
func (b *Bus) Publish(topic Topic, data any) {
	event := Event{
		ID:        uuid.NewString(),
		Topic:     topic,
		Timestamp: b.now(),
		Data:      data,
	}

	b.mu.Lock()
	if b.bufferSize > 0 {
		if len(b.buffer) >= b.bufferSize {
			b.buffer = b.buffer[1:]
		}
		b.buffer = append(b.buffer, event)
	}
	subs := make([]*subscription, 0, len(b.subscriptions))
	for _, sub := range b.subscriptions {
		subs = append(subs, sub)
	}
	b.mu.Unlock()

	for _, sub := range subs {
		if len(sub.topics) > 0 && !slices.Contains(sub.topics, topic) {
			continue
		}
		b.safeInvoke(sub.handler, &event)
	}
}

func (b *Bus) safeInvoke(handler Handler, event *Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event handler panicked",
				slog.String("topic", string(event.Topic)),
				slog.String("event_id", event.ID),
				slog.Any("panic", r),
			)
		}
	}()
	handler(event)
}

// Recent returns a copy of the replay buffer, oldest first.
func (b *Bus) Recent() []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]Event, len(b.buffer))
	copy(out, b.buffer)
	return out
}

// RecentSince returns buffered events published after since.
func (b *Bus) RecentSince(since time.Time) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var out []Event
	for _, e := range b.buffer {
		if e.Timestamp.After(since) {
			out = append(out, e)
		}
	}
	return out
}

// SubscriptionCount returns the number of active subscriptions.
func (b *Bus) SubscriptionCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscriptions)
}

// Recorder is a Publisher that records events for tests.
type Recorder struct {
	mu     sync.Mutex
	Events []Event
}

// NewRecorder creates an empty Recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// Publish records the event.
func (r *Recorder) Publish(topic Topic, data any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Events = append(r.Events, Event{
		ID:        uuid.NewString(),
		Topic:     topic,
		Timestamp: time.Now(),
		Data:      data,
	})
}

// Topics returns the recorded topics in publish order.
func (r *Recorder) Topics() []Topic {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Topic, len(r.Events))
	for i, e := range r.Events {
		out[i] = e.Topic
	}
	return out
}

// Count returns how many events of topic were recorded.
func (r *Recorder) Count(topic Topic) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.Events {
		if e.Topic == topic {
			n++
		}
	}
	return n
}

var (
	_ Publisher = (*Bus)(nil)
	_ Publisher = (*Recorder)(nil)
)
