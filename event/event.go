// Copyright 2025 Blink Labs Software
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package event is a small typed in-process publish/subscribe bus used to
// fan out settlement and mempool notifications.
package event

import (
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	EventQueueSize      = 20
	AsyncQueueSize      = 256
	AsyncWorkerPoolSize = 2
)

type EventType string

type SubscriberID int

type HandlerFunc func(Event)

type Event struct {
	Timestamp time.Time
	Data      any
	Type      EventType
}

func NewEvent(eventType EventType, data any) Event {
	return Event{
		Type:      eventType,
		Timestamp: time.Now(),
		Data:      data,
	}
}

type queuedEvent struct {
	eventType EventType
	event     Event
}

// subscriber delivers to a buffered channel. Close waits for in-flight
// sends by taking the write lock.
type subscriber struct {
	ch     chan Event
	mu     sync.RWMutex
	closed bool
}

func (s *subscriber) deliver(evt Event) (err error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("deliver panic: %v", r)
		}
	}()
	s.ch <- evt
	return nil
}

func (s *subscriber) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.ch)
}

type EventBus struct {
	logger      *slog.Logger
	metrics     *busMetrics
	subscribers map[EventType]map[SubscriberID]*subscriber
	lastID      SubscriberID
	mu          sync.RWMutex

	queue    chan queuedEvent
	doneCh   chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// NewEventBus returns a bus with its async delivery workers running. A nil
// registry disables metrics.
func NewEventBus(promRegistry prometheus.Registerer, logger *slog.Logger) *EventBus {
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	e := &EventBus{
		logger:      logger.With("component", "event"),
		subscribers: make(map[EventType]map[SubscriberID]*subscriber),
		queue:       make(chan queuedEvent, AsyncQueueSize),
		doneCh:      make(chan struct{}),
	}
	if promRegistry != nil {
		e.metrics = newBusMetrics(promRegistry)
	}
	for range AsyncWorkerPoolSize {
		e.wg.Add(1)
		go e.worker()
	}
	return e
}

func (e *EventBus) worker() {
	defer e.wg.Done()
	for {
		select {
		case <-e.doneCh:
			return
		case qe := <-e.queue:
			e.Publish(qe.eventType, qe.event)
		}
	}
}

// Subscribe returns a channel receiving events of the given type
func (e *EventBus) Subscribe(eventType EventType) (SubscriberID, <-chan Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	sub := &subscriber{ch: make(chan Event, EventQueueSize)}
	e.lastID++
	id := e.lastID
	if _, ok := e.subscribers[eventType]; !ok {
		e.subscribers[eventType] = make(map[SubscriberID]*subscriber)
	}
	e.subscribers[eventType][id] = sub
	if e.metrics != nil {
		e.metrics.subscribers.WithLabelValues(string(eventType)).Inc()
	}
	return id, sub.ch
}

// SubscribeFunc calls handler for every event of the given type until the
// subscription is removed or the bus is stopped.
func (e *EventBus) SubscribeFunc(eventType EventType, handler HandlerFunc) SubscriberID {
	id, ch := e.Subscribe(eventType)
	go func() {
		for evt := range ch {
			handler(evt)
		}
	}()
	return id
}

func (e *EventBus) Unsubscribe(eventType EventType, id SubscriberID) {
	e.mu.Lock()
	var sub *subscriber
	if subs, ok := e.subscribers[eventType]; ok {
		sub = subs[id]
		delete(subs, id)
		if len(subs) == 0 {
			delete(e.subscribers, eventType)
		}
	}
	e.mu.Unlock()
	if sub == nil {
		return
	}
	if e.metrics != nil {
		e.metrics.subscribers.WithLabelValues(string(eventType)).Dec()
	}
	sub.close()
}

// Publish delivers evt to every subscriber of eventType, blocking on full
// subscriber channels.
func (e *EventBus) Publish(eventType EventType, evt Event) {
	e.mu.RLock()
	subs := make(map[SubscriberID]*subscriber, len(e.subscribers[eventType]))
	for id, sub := range e.subscribers[eventType] {
		subs[id] = sub
	}
	e.mu.RUnlock()
	for id, sub := range subs {
		if err := sub.deliver(evt); err != nil {
			e.Unsubscribe(eventType, id)
			if e.metrics != nil {
				e.metrics.deliveryErrors.WithLabelValues(string(eventType)).Inc()
			}
			e.logger.Debug(
				"event delivery error",
				"type", eventType,
				"error", err,
			)
		}
	}
	if e.metrics != nil {
		e.metrics.eventsTotal.WithLabelValues(string(eventType)).Inc()
	}
}

// PublishAsync queues evt for delivery by the worker pool. It reports false
// when the bus is stopped or the queue is full.
func (e *EventBus) PublishAsync(eventType EventType, evt Event) bool {
	select {
	case <-e.doneCh:
		return false
	default:
	}
	select {
	case e.queue <- queuedEvent{eventType: eventType, event: evt}:
		return true
	default:
		e.logger.Warn("async event queue full, dropping event", "type", eventType)
		if e.metrics != nil {
			e.metrics.deliveryErrors.WithLabelValues(string(eventType)).Inc()
		}
		return false
	}
}

// Stop halts the async workers and closes every subscriber channel
func (e *EventBus) Stop() {
	e.stopOnce.Do(func() {
		close(e.doneCh)
		e.wg.Wait()
		e.mu.Lock()
		subs := e.subscribers
		e.subscribers = make(map[EventType]map[SubscriberID]*subscriber)
		e.mu.Unlock()
		for _, byID := range subs {
			for _, sub := range byID {
				sub.close()
			}
		}
		if e.metrics != nil {
			e.metrics.subscribers.Reset()
		}
	})
}
