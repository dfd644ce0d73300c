package events

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/randalmurphal/storyloop/internal/metrics"
)

func TestNewEvent(t *testing.T) {
	before := time.Now()
	event := NewEvent(EventTransition, "session-T1", TransitionData{From: "idle", To: "initializing"})
	after := time.Now()

	if event.Type != EventTransition {
		t.Errorf("expected type %s, got %s", EventTransition, event.Type)
	}
	if event.SessionID != "session-T1" {
		t.Errorf("expected session-T1, got %s", event.SessionID)
	}
	if event.Time.Before(before) || event.Time.After(after) {
		t.Errorf("event time %v not between %v and %v", event.Time, before, after)
	}
}

func TestMemoryPublisher_PublishAndSubscribe(t *testing.T) {
	pub := NewMemoryPublisher()
	defer pub.Close()

	ch := pub.Subscribe("s1")
	pub.Publish(NewEvent(EventData, "s1", "chunk"))

	select {
	case got := <-ch:
		if got.Data != "chunk" {
			t.Errorf("expected data 'chunk', got %v", got.Data)
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatal("timeout waiting for event")
	}
}

func TestMemoryPublisher_IndependentObservers(t *testing.T) {
	pub := NewMemoryPublisher()
	defer pub.Close()

	ui := pub.Subscribe("s1")
	harness := pub.Subscribe("s1")

	pub.Unsubscribe("s1", ui)
	pub.Publish(NewEvent(EventData, "s1", "after detach"))

	select {
	case got := <-harness:
		if got.Data != "after detach" {
			t.Errorf("unexpected data %v", got.Data)
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatal("remaining observer should still receive events")
	}

	if _, ok := <-ui; ok {
		t.Error("detached channel should be closed")
	}
}

func TestMemoryPublisher_OrderPreserved(t *testing.T) {
	pub := NewMemoryPublisher()
	defer pub.Close()

	ch := pub.Subscribe("s1")
	for _, s := range []string{"a", "b", "c", "d"} {
		pub.Publish(NewEvent(EventData, "s1", s))
	}
	for _, want := range []string{"a", "b", "c", "d"} {
		got := <-ch
		if got.Data != want {
			t.Fatalf("got %v, want %s", got.Data, want)
		}
	}
}

func TestMemoryPublisher_SessionsIsolated(t *testing.T) {
	pub := NewMemoryPublisher()
	defer pub.Close()

	ch1 := pub.Subscribe("s1")
	ch2 := pub.Subscribe("s2")

	pub.Publish(NewEvent(EventData, "s1", "x"))

	select {
	case <-ch1:
	case <-time.After(100 * time.Millisecond):
		t.Error("s1 subscriber should have received event")
	}
	select {
	case <-ch2:
		t.Error("s2 subscriber should not have received event")
	case <-time.After(30 * time.Millisecond):
	}
}

func TestMemoryPublisher_AllSessionsObserver(t *testing.T) {
	pub := NewMemoryPublisher()
	defer pub.Close()

	all := pub.Subscribe(AllSessions)
	pub.Publish(NewEvent(EventTransition, "s7", TransitionData{To: "coding"}))

	select {
	case got := <-all:
		if got.SessionID != "s7" {
			t.Errorf("got session %s", got.SessionID)
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatal("all-sessions observer should receive every session's events")
	}
}

func TestMemoryPublisher_NonBlockingPublish(t *testing.T) {
	pub := NewMemoryPublisher(WithBufferSize(1))
	defer pub.Close()

	_ = pub.Subscribe("s1")

	done := make(chan struct{})
	go func() {
		for i := 0; i < 5; i++ {
			pub.Publish(NewEvent(EventData, "s1", i))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(100 * time.Millisecond):
		t.Error("publish should not block when buffer is full")
	}
}

func TestMemoryPublisher_Close(t *testing.T) {
	pub := NewMemoryPublisher()
	ch := pub.Subscribe("s1")
	pub.Close()

	if _, ok := <-ch; ok {
		t.Error("channel should be closed after Close")
	}

	pub.Publish(NewEvent(EventData, "s1", "ignored"))
	if _, ok := <-pub.Subscribe("s2"); ok {
		t.Error("subscribe after close should return closed channel")
	}
	pub.Close()
}

func TestMemoryPublisher_FullBacklogDropsForThatObserverOnly(t *testing.T) {
	pub := NewMemoryPublisher(WithBufferSize(1))
	defer pub.Close()

	slow := pub.Subscribe("s1")
	dropped := testutil.ToFloat64(metrics.DroppedEvents.WithLabelValues(string(EventData)))

	pub.Publish(NewEvent(EventData, "s1", "first"))
	fast := pub.Subscribe("s1")
	pub.Publish(NewEvent(EventData, "s1", "second"))

	if got := (<-slow).Data; got != "first" {
		t.Errorf("slow observer got %v, want first", got)
	}
	if got := (<-fast).Data; got != "second" {
		t.Errorf("fast observer got %v, want second", got)
	}
	if got := testutil.ToFloat64(metrics.DroppedEvents.WithLabelValues(string(EventData))) - dropped; got != 1 {
		t.Errorf("dropped events = %v, want 1", got)
	}
}

func TestMemoryPublisher_DetachForgetsSession(t *testing.T) {
	pub := NewMemoryPublisher()
	defer pub.Close()

	a := pub.Subscribe("s1")
	b := pub.Subscribe("s1")
	pub.Unsubscribe("s1", pub.Subscribe("s2"))
	pub.Unsubscribe("s2", a)

	if n := pub.SubscriberCount("s1"); n != 2 {
		t.Fatalf("unknown channel detach changed s1 count to %d", n)
	}
	pub.Unsubscribe("s1", a)
	pub.Unsubscribe("s1", b)
	if n := pub.SubscriberCount("s1"); n != 0 {
		t.Errorf("expected no observers, got %d", n)
	}
	if _, ok := pub.observers["s1"]; ok {
		t.Error("session with no observers should be forgotten")
	}
}
