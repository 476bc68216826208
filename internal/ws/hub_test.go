package ws

import (
	"sync"
	"testing"
	"time"
)

type chanSubscriber struct {
	mu       sync.Mutex
	received chan []byte
	closed   bool
}

func newChanSubscriber() *chanSubscriber {
	return &chanSubscriber{received: make(chan []byte, 8)}
}

func (s *chanSubscriber) Send(payload []byte) error {
	s.received <- payload
	return nil
}

func (s *chanSubscriber) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
}

func (s *chanSubscriber) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func waitPayload(t *testing.T, sub *chanSubscriber) []byte {
	t.Helper()
	select {
	case payload := <-sub.received:
		return payload
	case <-time.After(2 * time.Second):
		t.Fatalf("no payload delivered in time")
		return nil
	}
}

func TestHubBroadcastScopedToProject(t *testing.T) {
	hub := NewHub()
	defer hub.Close()

	one := newChanSubscriber()
	other := newChanSubscriber()
	hub.Register("project-1", one)
	hub.Register("project-2", other)

	hub.Broadcast("project-1", []byte("payload"))

	if got := waitPayload(t, one); string(got) != "payload" {
		t.Fatalf("unexpected payload %q", got)
	}
	select {
	case payload := <-other.received:
		t.Fatalf("subscriber of another project received %q", payload)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestHubCloseDisconnectsSubscribers(t *testing.T) {
	hub := NewHub()
	sub := newChanSubscriber()
	hub.Register("project-1", sub)

	hub.Close()

	deadline := time.Now().Add(2 * time.Second)
	for !sub.isClosed() {
		if time.Now().After(deadline) {
			t.Fatalf("subscriber not closed on hub shutdown")
		}
		time.Sleep(10 * time.Millisecond)
	}

	// Late registrations after shutdown are rejected and closed.
	late := newChanSubscriber()
	hub.Register("project-1", late)
	if !late.isClosed() {
		t.Fatalf("late registration must be closed immediately")
	}
}
