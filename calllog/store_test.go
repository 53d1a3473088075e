package calllog

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	_ "modernc.org/sqlite"
)

// openTestStore opens a Store on the pure-Go modernc.org/sqlite driver so
// these tests don't require cgo.
func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "calllog.db")
	s, err := Open("sqlite", path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStore_RecordAssignsIDAndTimestamp(t *testing.T) {
	s := openTestStore(t)

	rec := Record{Method: "call.users.1.setName", RID: "users.1", DurationMS: 12, Outcome: "ok"}
	if err := s.Record(context.Background(), rec); err != nil {
		t.Fatalf("Record: %v", err)
	}

	sum, err := s.Summary(time.Now().Add(-time.Hour), time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("Summary: %v", err)
	}
	if sum.TotalCalls != 1 {
		t.Errorf("TotalCalls = %d, want 1", sum.TotalCalls)
	}
	if sum.FailedCalls != 0 {
		t.Errorf("FailedCalls = %d, want 0", sum.FailedCalls)
	}
	if sum.TotalDurationMS != 12 {
		t.Errorf("TotalDurationMS = %d, want 12", sum.TotalDurationMS)
	}
}

func TestStore_SummaryCountsFailuresByOutcome(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	records := []Record{
		{Method: "call.a", RID: "a", DurationMS: 5, Outcome: "ok"},
		{Method: "call.b", RID: "b", DurationMS: 7, Outcome: "system.notFound"},
		{Method: "call.c", RID: "c", DurationMS: 3, Outcome: "ok"},
	}
	for _, r := range records {
		if err := s.Record(ctx, r); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}

	sum, err := s.Summary(time.Now().Add(-time.Hour), time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("Summary: %v", err)
	}
	if sum.TotalCalls != 3 {
		t.Errorf("TotalCalls = %d, want 3", sum.TotalCalls)
	}
	if sum.FailedCalls != 1 {
		t.Errorf("FailedCalls = %d, want 1", sum.FailedCalls)
	}
	if sum.TotalDurationMS != 15 {
		t.Errorf("TotalDurationMS = %d, want 15", sum.TotalDurationMS)
	}
}

func TestStore_SummaryExcludesRecordsOutsideRange(t *testing.T) {
	s := openTestStore(t)
	old := Record{Method: "call.old", RID: "x", DurationMS: 1, Outcome: "ok", Timestamp: time.Now().Add(-48 * time.Hour)}
	if err := s.Record(context.Background(), old); err != nil {
		t.Fatalf("Record: %v", err)
	}

	sum, err := s.Summary(time.Now().Add(-time.Hour), time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("Summary: %v", err)
	}
	if sum.TotalCalls != 0 {
		t.Errorf("TotalCalls = %d, want 0 (record predates the range)", sum.TotalCalls)
	}
}
