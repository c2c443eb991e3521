package probe

import (
	"context"
	"testing"
	"time"
)

func TestDiagnosticCache_RecordAndSnapshot(t *testing.T) {
	c := NewDiagnosticCache(time.Minute)
	now := time.Now()
	c.Record(context.Background(), "db", true, "", 5*time.Millisecond, now)
	c.Record(context.Background(), "cache", false, "timeout", 3*time.Millisecond, now)

	snap := c.Snapshot()
	if len(snap) != 2 {
		t.Fatalf("Snapshot() len = %d, want 2", len(snap))
	}
	if snap[0].Name != "cache" || snap[1].Name != "db" {
		t.Errorf("Snapshot() not sorted by name: %+v", snap)
	}
	if snap[0].Ready || snap[0].Message != "timeout" {
		t.Errorf("cache entry = %+v, want ready=false message=timeout", snap[0])
	}
}

func TestDiagnosticCache_ExpiredEntryDropped(t *testing.T) {
	c := NewDiagnosticCache(time.Millisecond)
	c.Record(context.Background(), "db", true, "", 0, time.Now())
	time.Sleep(5 * time.Millisecond)

	snap := c.Snapshot()
	if len(snap) != 0 {
		t.Errorf("Snapshot() len = %d, want 0 after expiry", len(snap))
	}
}

func TestWrapWithDiagnostics_RecordsOutcomeAndPreservesResult(t *testing.T) {
	c := NewDiagnosticCache(time.Minute)
	check := WrapWithDiagnostics(c, "dep", func(ctx context.Context) (bool, error) {
		return true, nil
	})

	ok, err := check(context.Background())
	if !ok || err != nil {
		t.Fatalf("ok=%v err=%v, want true/nil", ok, err)
	}

	snap := c.Snapshot()
	if len(snap) != 1 || snap[0].Name != "dep" || !snap[0].Ready {
		t.Errorf("Snapshot() = %+v, want one ready entry named dep", snap)
	}
}
