// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package events

import (
	"sync"
	"testing"
)

func TestBus_SubscribePublish(t *testing.T) {
	bus := NewBus()

	var got []Event
	release := bus.Subscribe(TopicOllamaPull, func(ev Event) {
		got = append(got, ev)
	})
	defer release()

	bus.Progress(TopicOllamaPull, 42, "pulling")
	bus.Progress(TopicBinaryDownload, 10, "other topic")

	if len(got) != 1 {
		t.Fatalf("received %d events, want 1", len(got))
	}
	if got[0].Progress != 42 || got[0].Message != "pulling" {
		t.Errorf("event = %+v", got[0])
	}
}

func TestBus_ReleaseIdempotent(t *testing.T) {
	bus := NewBus()
	calls := 0
	release := bus.Subscribe(TopicLlamaLog, func(Event) { calls++ })
	other := bus.Subscribe(TopicLlamaLog, func(Event) {})
	defer other()

	release()
	release()

	if n := bus.Subscribers(TopicLlamaLog); n != 1 {
		t.Errorf("Subscribers() = %d, want 1", n)
	}
	bus.LogLine("after release")
	if calls != 0 {
		t.Errorf("released handler called %d times", calls)
	}
}

func TestBus_HandlerPanicIsContained(t *testing.T) {
	bus := NewBus()
	reached := false
	r1 := bus.Subscribe(TopicLlamaLog, func(Event) { panic("boom") })
	r2 := bus.Subscribe(TopicLlamaLog, func(Event) { reached = true })
	defer r1()
	defer r2()

	bus.LogLine("x")
	if !reached {
		t.Error("second handler not reached after panic")
	}
}

func TestBus_Concurrent(t *testing.T) {
	bus := NewBus()
	var mu sync.Mutex
	count := 0

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release := bus.Subscribe(TopicBinaryDownload, func(Event) {
				mu.Lock()
				count++
				mu.Unlock()
			})
			bus.Progress(TopicBinaryDownload, 1, "")
			release()
		}()
	}
	wg.Wait()

	if bus.Subscribers(TopicBinaryDownload) != 0 {
		t.Error("subscriptions leaked")
	}
	if count == 0 {
		t.Error("no events delivered")
	}
}
