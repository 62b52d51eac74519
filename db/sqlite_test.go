package db

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func openTestLog(t *testing.T) *RunLog {
	t.Helper()
	log, err := Open(filepath.Join(t.TempDir(), "runs.db"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	t.Cleanup(func() { log.Close() })
	return log
}

func TestRunLogRecordRecent(t *testing.T) {
	log := openTestLog(t)
	ctx := context.Background()
	base := time.Date(2024, 1, 2, 10, 0, 0, 0, time.UTC)

	runs := []TrainingRun{
		{RunID: "a", ModelName: "quality1_d10.model", Target: "QUALITY1", Diameter: 10, Status: StatusTrained, R2: 0.9, TrainRows: 40, TestRows: 10, TrainedAt: base},
		{RunID: "a", ModelName: "quality2_d16.model", Target: "QUALITY2", Diameter: 16, Status: StatusSkipped, Reason: "target column missing", TrainedAt: base.Add(time.Minute)},
	}
	if err := log.Record(ctx, runs...); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := log.Record(ctx, TrainingRun{RunID: "b", ModelName: "quality1_d12.model", Target: "QUALITY1", Diameter: 12, Status: StatusFailed, TrainedAt: base.Add(time.Hour)}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	all, err := log.Recent(ctx, Filter{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 runs, got %d", len(all))
	}
	if all[0].RunID != "b" {
		t.Fatalf("expected newest run first, got %+v", all[0])
	}

	skipped, err := log.Recent(ctx, Filter{Status: StatusSkipped})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(skipped) != 1 || skipped[0].Reason != "target column missing" || skipped[0].Diameter != 16 {
		t.Fatalf("unexpected skipped runs %+v", skipped)
	}

	limited, err := log.Recent(ctx, Filter{RunID: "a", Limit: 1})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(limited) != 1 || limited[0].ModelName != "quality2_d16.model" {
		t.Fatalf("unexpected limited runs %+v", limited)
	}
	if !limited[0].TrainedAt.Equal(base.Add(time.Minute)) {
		t.Fatalf("unexpected timestamp %v", limited[0].TrainedAt)
	}
}

func TestRunLogNotInitialized(t *testing.T) {
	var log *RunLog
	if err := log.Record(context.Background(), TrainingRun{}); err == nil {
		t.Fatal("expected error")
	}
	if _, err := log.Recent(context.Background(), Filter{}); err == nil {
		t.Fatal("expected error")
	}
	if err := log.Close(); err != nil {
		t.Fatalf("unexpected close error: %v", err)
	}
}
