package notify

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/umbrellaops/umbrella/internal/domain"
)

type fakeSender struct {
	mu       sync.Mutex
	calls    int
	failures int
}

func (s *fakeSender) Send(_ context.Context, _ domain.NotificationChannel, _ domain.Alert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.calls <= s.failures {
		return errors.New("connection refused")
	}
	return nil
}

func (s *fakeSender) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{}))
}

func TestDispatcherRetriesUntilSuccess(t *testing.T) {
	sender := &fakeSender{failures: 2}
	d := NewDispatcher(map[domain.ChannelType]Sender{domain.ChannelSlack: sender}, testLogger(), 3, time.Millisecond)

	channels := []domain.NotificationChannel{{Type: domain.ChannelSlack, Config: map[string]string{"webhook_url": "http://example.test"}}}
	d.Dispatch(context.Background(), channels, domain.Alert{ProjectID: "p1", Status: domain.UptimeDown})

	if got := sender.callCount(); got != 3 {
		t.Fatalf("expected 3 attempts, got %d", got)
	}
}

func TestDispatcherStopsAfterMaxAttempts(t *testing.T) {
	sender := &fakeSender{failures: 100}
	d := NewDispatcher(map[domain.ChannelType]Sender{domain.ChannelSlack: sender}, testLogger(), 3, time.Millisecond)

	channels := []domain.NotificationChannel{{Type: domain.ChannelSlack, Config: map[string]string{"webhook_url": "http://example.test"}}}
	d.Dispatch(context.Background(), channels, domain.Alert{ProjectID: "p1", Status: domain.UptimeDown})

	if got := sender.callCount(); got != 3 {
		t.Fatalf("expected delivery to give up after 3 attempts, got %d", got)
	}
}

func TestDispatcherIsolatesFailingChannels(t *testing.T) {
	failing := &fakeSender{failures: 100}
	healthy := &fakeSender{}
	d := NewDispatcher(map[domain.ChannelType]Sender{
		domain.ChannelSlack:   failing,
		domain.ChannelDiscord: healthy,
	}, testLogger(), 2, time.Millisecond)

	channels := []domain.NotificationChannel{
		{Type: domain.ChannelSlack, Config: map[string]string{"webhook_url": "http://a.test"}},
		{Type: domain.ChannelDiscord, Config: map[string]string{"webhook_url": "http://b.test"}},
	}
	d.Dispatch(context.Background(), channels, domain.Alert{ProjectID: "p1", Status: domain.UptimeDown})

	if got := healthy.callCount(); got != 1 {
		t.Fatalf("healthy channel must still deliver, got %d calls", got)
	}
}

func TestDispatcherSkipsUnknownChannelTypes(t *testing.T) {
	sender := &fakeSender{}
	d := NewDispatcher(map[domain.ChannelType]Sender{domain.ChannelSlack: sender}, testLogger(), 1, time.Millisecond)

	channels := []domain.NotificationChannel{{Type: domain.ChannelType("pager"), Config: nil}}
	d.Dispatch(context.Background(), channels, domain.Alert{ProjectID: "p1"})

	if got := sender.callCount(); got != 0 {
		t.Fatalf("unknown channel type must be skipped, got %d calls", got)
	}
}

func TestSealChannelsRoundTrip(t *testing.T) {
	key := "unit-test-secret"
	channels := []domain.NotificationChannel{
		{Type: domain.ChannelSlack, Config: map[string]string{"webhook_url": "https://hooks.slack.test/T1"}},
		{Type: domain.ChannelEmail, Config: map[string]string{"address": "ops@example.test"}},
	}

	sealed, err := SealChannels(channels, key)
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	if len(sealed) == 0 {
		t.Fatalf("sealed payload must not be empty")
	}

	decoded, err := DecodeChannels(sealed, key)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(decoded) != 2 {
		t.Fatalf("expected 2 channels, got %d", len(decoded))
	}
	if decoded[0].Config["webhook_url"] != "https://hooks.slack.test/T1" {
		t.Fatalf("channel config lost in round trip: %v", decoded[0].Config)
	}

	if _, err := DecodeChannels(sealed, "wrong-key"); err == nil {
		t.Fatalf("decoding with the wrong key must fail")
	}
}

func TestSealChannelsEmptyListIsNil(t *testing.T) {
	sealed, err := SealChannels(nil, "key")
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	if sealed != nil {
		t.Fatalf("empty channel list must seal to nil")
	}
	decoded, err := DecodeChannels(nil, "key")
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded != nil {
		t.Fatalf("nil payload must decode to nil")
	}
}
