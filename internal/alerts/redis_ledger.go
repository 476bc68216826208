package alerts

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	redis "github.com/redis/go-redis/v9"

	"github.com/umbrellaops/umbrella/internal/domain"
)

const keyPrefix = "umbrella:alerts:"

// listCommands is the slice of the Redis API the ledger needs. It keeps the
// implementation swappable for scripted doubles.
type listCommands interface {
	TxPipeline() redis.Pipeliner
	LRange(ctx context.Context, key string, start, stop int64) *redis.StringSliceCmd
	Close() error
}

type redisLedger struct {
	client listCommands
	logger *slog.Logger
	cap    int
}

// NewRedisLedger constructs a Redis backed alert ledger. Each project keeps
// a list capped at capacity entries.
func NewRedisLedger(addr, password string, db, capacity int, logger *slog.Logger) (Ledger, error) {
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("alert ledger ping: %w", err)
	}
	return newRedisLedger(client, capacity, logger), nil
}

func newRedisLedger(client listCommands, capacity int, logger *slog.Logger) *redisLedger {
	if capacity <= 0 {
		capacity = 100
	}
	return &redisLedger{client: client, logger: logger, cap: capacity}
}

func (l *redisLedger) Append(ctx context.Context, alert domain.Alert) error {
	payload, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("marshal alert: %w", err)
	}
	key := keyPrefix + alert.ProjectID
	// Push and trim travel in one transaction so the list is never
	// observable above its cap.
	pipe := l.client.TxPipeline()
	pipe.LPush(ctx, key, payload)
	pipe.LTrim(ctx, key, 0, int64(l.cap-1))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("append alert: %w", err)
	}
	return nil
}

func (l *redisLedger) Recent(ctx context.Context, projectID string, limit int) ([]domain.Alert, error) {
	if limit <= 0 || limit > l.cap {
		limit = l.cap
	}
	entries, err := l.client.LRange(ctx, keyPrefix+projectID, 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("read alerts: %w", err)
	}
	alerts := make([]domain.Alert, 0, len(entries))
	for _, entry := range entries {
		var alert domain.Alert
		if err := json.Unmarshal([]byte(entry), &alert); err != nil {
			l.logger.Warn("skipping malformed alert entry", "project_id", projectID, "error", err)
			continue
		}
		alerts = append(alerts, alert)
	}
	return alerts, nil
}

func (l *redisLedger) Close() error {
	return l.client.Close()
}
