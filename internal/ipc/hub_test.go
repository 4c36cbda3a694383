package ipc

import (
	"testing"
	"time"
)

func TestNewHub(t *testing.T) {
	h := newHub()
	if h.subs == nil {
		t.Error("subs map is nil")
	}
}

func TestHubSubscribeUnsubscribe(t *testing.T) {
	h := newHub()
	sub := &subscriber{id: "c1", send: make(chan ServerEvent, 4)}

	h.subscribe("session-1", sub)
	if h.subscriberCount("session-1") != 1 {
		t.Errorf("subscriberCount = %d, want 1", h.subscriberCount("session-1"))
	}

	h.unsubscribe("session-1", sub)
	if h.subscriberCount("session-1") != 0 {
		t.Errorf("subscriberCount after unsubscribe = %d, want 0", h.subscriberCount("session-1"))
	}
}

func TestHubBroadcastDeliversToSubscriber(t *testing.T) {
	h := newHub()
	sub := &subscriber{id: "c1", send: make(chan ServerEvent, 4)}
	h.subscribe("session-1", sub)

	h.broadcast("session-1", ServerEvent{Type: EvtTextDelta, Text: "hi"})

	select {
	case ev := <-sub.send:
		if ev.Text != "hi" {
			t.Errorf("Text = %q, want %q", ev.Text, "hi")
		}
	case <-time.After(100 * time.Millisecond):
		t.Error("timeout waiting for broadcast event")
	}
}

func TestHubBroadcastIgnoresOtherSessions(t *testing.T) {
	h := newHub()
	sub := &subscriber{id: "c1", send: make(chan ServerEvent, 4)}
	h.subscribe("session-1", sub)

	h.broadcast("session-2", ServerEvent{Type: EvtTextDelta, Text: "nope"})

	select {
	case ev := <-sub.send:
		t.Errorf("unexpected event delivered: %+v", ev)
	case <-time.After(20 * time.Millisecond):
	}
}

func TestHubBroadcastEvictsOverflowingSubscriber(t *testing.T) {
	h := newHub()
	sub := &subscriber{id: "slow", send: make(chan ServerEvent, 1)}
	h.subscribe("session-1", sub)

	// Fill the buffer, then overflow it.
	h.broadcast("session-1", ServerEvent{Type: EvtTextDelta, Text: "one"})
	h.broadcast("session-1", ServerEvent{Type: EvtTextDelta, Text: "two"})

	time.Sleep(20 * time.Millisecond)
	if h.subscriberCount("session-1") != 0 {
		t.Error("overflowing subscriber was not evicted")
	}
}

func TestHubUnsubscribeAll(t *testing.T) {
	h := newHub()
	sub := &subscriber{id: "c1", send: make(chan ServerEvent, 4)}
	h.subscribe("session-1", sub)
	h.subscribe("session-2", sub)

	h.unsubscribeAll(sub)

	if h.subscriberCount("session-1") != 0 || h.subscriberCount("session-2") != 0 {
		t.Error("unsubscribeAll did not remove subscriber from every session")
	}
}
