package alerts

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/umbrellaops/umbrella/internal/domain"
)

func TestMemoryLedgerNewestFirst(t *testing.T) {
	ledger := NewMemoryLedger(10)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		alert := domain.Alert{
			ProjectID:   "project-1",
			Status:      domain.UptimeDown,
			Error:       fmt.Sprintf("failure %d", i),
			TriggeredAt: time.Now().UTC(),
		}
		if err := ledger.Append(ctx, alert); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	recent, err := ledger.Recent(ctx, "project-1", 10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(recent) != 3 {
		t.Fatalf("expected 3 alerts, got %d", len(recent))
	}
	if recent[0].Error != "failure 2" {
		t.Fatalf("expected newest alert first, got %s", recent[0].Error)
	}
}

func TestMemoryLedgerEvictsOldestAtCapacity(t *testing.T) {
	ledger := NewMemoryLedger(100)
	ctx := context.Background()

	for i := 0; i < 105; i++ {
		alert := domain.Alert{
			ProjectID: "project-1",
			Status:    domain.UptimeDown,
			Error:     fmt.Sprintf("failure %d", i),
		}
		if err := ledger.Append(ctx, alert); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	recent, err := ledger.Recent(ctx, "project-1", 0)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(recent) != 100 {
		t.Fatalf("expected cap of 100, got %d", len(recent))
	}
	if recent[0].Error != "failure 104" {
		t.Fatalf("newest entry missing, got %s", recent[0].Error)
	}
	if recent[99].Error != "failure 5" {
		t.Fatalf("oldest five entries must be evicted, tail is %s", recent[99].Error)
	}
}

func TestMemoryLedgerIsolatesProjects(t *testing.T) {
	ledger := NewMemoryLedger(10)
	ctx := context.Background()

	if err := ledger.Append(ctx, domain.Alert{ProjectID: "a", Status: domain.UptimeDown}); err != nil {
		t.Fatalf("append: %v", err)
	}
	recent, err := ledger.Recent(ctx, "b", 10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(recent) != 0 {
		t.Fatalf("expected no alerts for other project, got %d", len(recent))
	}
}
