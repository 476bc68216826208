// Package notify delivers health alerts to configured notification channels.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/umbrellaops/umbrella/internal/domain"
)

// Sender delivers one alert to one channel.
type Sender interface {
	Send(ctx context.Context, channel domain.NotificationChannel, alert domain.Alert) error
}

// Dispatcher fans an alert out to every configured channel. Channels are
// independent: one failing channel never blocks delivery to the others.
type Dispatcher struct {
	senders     map[domain.ChannelType]Sender
	logger      *slog.Logger
	maxAttempts int
	backoff     time.Duration
}

// NewDispatcher builds a dispatcher over the given per-type senders.
func NewDispatcher(senders map[domain.ChannelType]Sender, logger *slog.Logger, maxAttempts int, backoff time.Duration) *Dispatcher {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	if backoff <= 0 {
		backoff = 500 * time.Millisecond
	}
	return &Dispatcher{senders: senders, logger: logger, maxAttempts: maxAttempts, backoff: backoff}
}

// Dispatch delivers the alert to all channels concurrently and waits for
// every delivery to settle. Failures are logged, never returned: alerting
// must not stall the monitoring loop.
func (d *Dispatcher) Dispatch(ctx context.Context, channels []domain.NotificationChannel, alert domain.Alert) {
	var wg sync.WaitGroup
	for _, channel := range channels {
		sender, ok := d.senders[channel.Type]
		if !ok {
			d.logger.Warn("no sender for channel type", "type", channel.Type, "project_id", alert.ProjectID)
			continue
		}
		wg.Add(1)
		go func(channel domain.NotificationChannel) {
			defer wg.Done()
			if err := d.deliver(ctx, sender, channel, alert); err != nil {
				d.logger.Error("alert delivery failed",
					"type", channel.Type,
					"project_id", alert.ProjectID,
					"attempts", d.maxAttempts,
					"error", err)
			}
		}(channel)
	}
	wg.Wait()
}

func (d *Dispatcher) deliver(ctx context.Context, sender Sender, channel domain.NotificationChannel, alert domain.Alert) error {
	backoff := retry.WithMaxRetries(uint64(d.maxAttempts-1), retry.NewExponential(d.backoff))
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		if err := sender.Send(ctx, channel, alert); err != nil {
			return retry.RetryableError(fmt.Errorf("send %s alert: %w", channel.Type, err))
		}
		return nil
	})
}
