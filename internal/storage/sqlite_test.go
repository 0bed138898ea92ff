package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/gateway-fm/chainbench/pkg/types"
)

func newTestStorage(t *testing.T) *SQLiteStorage {
	t.Helper()
	s, err := NewSQLiteStorage(filepath.Join(t.TempDir(), "runs.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStorage: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func testSummary(id, network string, startedAt time.Time) types.RunSummary {
	return types.RunSummary{
		RunID:         id,
		Network:       network,
		Mode:          types.ModeConcurrent,
		Operation:     "transfer",
		StartedAt:     startedAt,
		CompletedAt:   startedAt.Add(time.Minute),
		TotalAttempts: 100,
		Accepted:      95,
		Failed:        5,
		FailureByClass: map[types.ErrorClass]uint64{
			types.ErrClassFeeTooLow: 5,
		},
		SuccessRate:   0.95,
		ThroughputTPS: 1.58,
		TotalGasUsed:  95 * 21000,
		Latency:       &types.LatencyStats{Count: 95, P50: 120, P99: 900},
	}
}

func TestSaveAndGetRun(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	want := testSummary("run-1", "devnet", time.Now())
	if err := s.SaveRun(ctx, want); err != nil {
		t.Fatalf("SaveRun: %v", err)
	}

	got, err := s.GetRun(ctx, "run-1")
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if got.RunID != want.RunID || got.Network != want.Network {
		t.Errorf("round trip mismatch: %+v", got)
	}
	if got.FailureByClass[types.ErrClassFeeTooLow] != 5 {
		t.Errorf("failure tally lost in round trip: %+v", got.FailureByClass)
	}
	if got.Latency == nil || got.Latency.P99 != 900 {
		t.Errorf("latency stats lost in round trip: %+v", got.Latency)
	}
}

func TestGetRunNotFound(t *testing.T) {
	s := newTestStorage(t)
	got, err := s.GetRun(context.Background(), "missing")
	if err != nil {
		t.Fatalf("missing run must not be an error: %v", err)
	}
	if got != nil {
		t.Errorf("expected nil summary for missing run, got %+v", got)
	}
}

func TestListRunsNewestFirst(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	base := time.Now().Add(-time.Hour)
	for i := 0; i < 5; i++ {
		sum := testSummary(
			"run-"+string(rune('a'+i)),
			"devnet",
			base.Add(time.Duration(i)*time.Minute),
		)
		if err := s.SaveRun(ctx, sum); err != nil {
			t.Fatalf("SaveRun: %v", err)
		}
	}

	page, err := s.ListRuns(ctx, 3, 0)
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if page.Total != 5 {
		t.Errorf("expected total 5, got %d", page.Total)
	}
	if len(page.Runs) != 3 {
		t.Fatalf("expected 3 runs in page, got %d", len(page.Runs))
	}
	if page.Runs[0].RunID != "run-e" {
		t.Errorf("expected newest first, got %s", page.Runs[0].RunID)
	}

	next, err := s.ListRuns(ctx, 3, 3)
	if err != nil {
		t.Fatalf("ListRuns offset: %v", err)
	}
	if len(next.Runs) != 2 {
		t.Errorf("expected 2 runs in second page, got %d", len(next.Runs))
	}
}

func TestLatestByNetwork(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	base := time.Now().Add(-time.Hour)
	_ = s.SaveRun(ctx, testSummary("old-a", "net-a", base))
	_ = s.SaveRun(ctx, testSummary("new-a", "net-a", base.Add(30*time.Minute)))
	_ = s.SaveRun(ctx, testSummary("only-b", "net-b", base))

	got, err := s.LatestByNetwork(ctx, "net-a", "transfer", types.ModeConcurrent)
	if err != nil {
		t.Fatalf("LatestByNetwork: %v", err)
	}
	if got.RunID != "new-a" {
		t.Errorf("expected newest run for net-a, got %s", got.RunID)
	}

	// A different mode has no history.
	missing, err := s.LatestByNetwork(ctx, "net-a", "transfer", types.ModeBurst)
	if err != nil {
		t.Fatalf("empty history must not be an error: %v", err)
	}
	if missing != nil {
		t.Errorf("expected nil summary for mode with no runs, got %+v", missing)
	}
}

func TestDeleteRun(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	_ = s.SaveRun(ctx, testSummary("run-1", "devnet", time.Now()))
	if err := s.DeleteRun(ctx, "run-1"); err != nil {
		t.Fatalf("DeleteRun: %v", err)
	}
	if got, err := s.GetRun(ctx, "run-1"); err != nil || got != nil {
		t.Errorf("expected run gone after delete, got %+v (%v)", got, err)
	}
	if err := s.DeleteRun(ctx, "run-1"); err == nil {
		t.Error("expected error deleting a missing run")
	}
}

func TestPrune(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	_ = s.SaveRun(ctx, testSummary("ancient", "devnet", time.Now().Add(-48*time.Hour)))
	_ = s.SaveRun(ctx, testSummary("recent", "devnet", time.Now()))

	removed, err := s.Prune(ctx, 24*time.Hour)
	if err != nil {
		t.Fatalf("Prune: %v", err)
	}
	if removed != 1 {
		t.Errorf("expected 1 pruned run, got %d", removed)
	}
	if got, err := s.GetRun(ctx, "recent"); err != nil || got == nil {
		t.Errorf("recent run must survive pruning, got %+v (%v)", got, err)
	}
}
