// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package events implements the named asynchronous event streams emitted by
// the local runtime: binary download progress, llama.cpp log lines and
// Ollama pull progress.
package events

import (
	"log"
	"sync"
)

// =============================================================================
// TOPICS
// =============================================================================

// Topic names an event stream.
type Topic string

const (
	// TopicBinaryDownload carries {Progress, Message} during a server install.
	TopicBinaryDownload Topic = "binary_download_progress"
	// TopicLlamaLog carries one {Line} per llama-server output line.
	TopicLlamaLog Topic = "llamacpp_server_log"
	// TopicOllamaPull carries {Progress, Message} during a model pull.
	TopicOllamaPull Topic = "ollama_pull_progress"
)

// Event is a single payload on a topic.
type Event struct {
	Topic    Topic
	Progress int
	Message  string
	Line     string
}

// Handler receives events. Handlers run synchronously on the publisher's
// goroutine and must not block.
type Handler func(Event)

// =============================================================================
// BUS
// =============================================================================

// Bus fans events out to topic subscribers. The zero value is not usable;
// call NewBus.
type Bus struct {
	mu     sync.RWMutex
	nextID uint64
	subs   map[Topic]map[uint64]Handler
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[Topic]map[uint64]Handler)}
}

// Subscribe registers fn for topic and returns its release func. Release is
// idempotent: calling it more than once has no further effect.
func (b *Bus) Subscribe(topic Topic, fn Handler) (release func()) {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	if b.subs[topic] == nil {
		b.subs[topic] = make(map[uint64]Handler)
	}
	b.subs[topic][id] = fn
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs[topic], id)
			if len(b.subs[topic]) == 0 {
				delete(b.subs, topic)
			}
			b.mu.Unlock()
		})
	}
}

// Publish delivers ev to every current subscriber of ev.Topic.
func (b *Bus) Publish(ev Event) {
	b.mu.RLock()
	handlers := make([]Handler, 0, len(b.subs[ev.Topic]))
	for _, h := range b.subs[ev.Topic] {
		handlers = append(handlers, h)
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		func() {
			// RELIABILITY: a panicking handler must not kill the process reader goroutine
			defer func() {
				if r := recover(); r != nil {
					log.Printf("events: handler for %s panicked: %v", ev.Topic, r)
				}
			}()
			h(ev)
		}()
	}
}

// Progress publishes a progress event.
func (b *Bus) Progress(topic Topic, progress int, message string) {
	b.Publish(Event{Topic: topic, Progress: progress, Message: message})
}

// LogLine publishes a llama-server log line.
func (b *Bus) LogLine(line string) {
	b.Publish(Event{Topic: TopicLlamaLog, Line: line})
}

// Subscribers returns the number of live subscriptions on topic.
func (b *Bus) Subscribers(topic Topic) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[topic])
}
