package alerts

import (
	"context"
	"sync"

	"github.com/umbrellaops/umbrella/internal/domain"
)

type memoryLedger struct {
	mu      sync.Mutex
	entries map[string][]domain.Alert
	cap     int
}

// NewMemoryLedger builds an in-process alert ledger. It is used when Redis
// is not configured; history does not survive restarts.
func NewMemoryLedger(capacity int) Ledger {
	if capacity <= 0 {
		capacity = 100
	}
	return &memoryLedger{entries: make(map[string][]domain.Alert), cap: capacity}
}

func (l *memoryLedger) Append(_ context.Context, alert domain.Alert) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	list := append([]domain.Alert{alert}, l.entries[alert.ProjectID]...)
	if len(list) > l.cap {
		list = list[:l.cap]
	}
	l.entries[alert.ProjectID] = list
	return nil
}

func (l *memoryLedger) Recent(_ context.Context, projectID string, limit int) ([]domain.Alert, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	list := l.entries[projectID]
	if limit <= 0 || limit > len(list) {
		limit = len(list)
	}
	out := make([]domain.Alert, limit)
	copy(out, list[:limit])
	return out, nil
}

func (l *memoryLedger) Close() error { return nil }
