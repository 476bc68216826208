// Package alerts keeps a bounded per-project history of health alerts.
package alerts

import (
	"context"

	"github.com/umbrellaops/umbrella/internal/domain"
)

// Ledger stores recent alerts per project, newest first, capped at a
// configured limit. Appending beyond the cap evicts the oldest entries.
type Ledger interface {
	Append(ctx context.Context, alert domain.Alert) error
	Recent(ctx context.Context, projectID string, limit int) ([]domain.Alert, error)
	Close() error
}
