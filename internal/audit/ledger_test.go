package audit

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func openTestLedger(t *testing.T) *Ledger {
	t.Helper()
	l, err := Open(filepath.Join(t.TempDir(), "audit.db"))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { l.Close() })
	return l
}

func TestLedgerRecordAndRecent(t *testing.T) {
	l := openTestLedger(t)
	ctx := context.Background()

	entries := []Entry{
		{UpdateID: 1, ChatID: 100, InstanceName: "claude-1", Outcome: OutcomeOK, Detail: "delivered"},
		{UpdateID: 2, ChatID: 100, InstanceName: "claude-1", Outcome: OutcomeRejected, Detail: "unauthorized"},
	}
	for _, e := range entries {
		if err := l.Record(ctx, e); err != nil {
			t.Fatalf("Record() error = %v", err)
		}
	}

	got, err := l.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("Recent() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("Recent() returned %d entries, want 2", len(got))
	}
	if got[0].UpdateID != 2 || got[1].UpdateID != 1 {
		t.Fatalf("Recent() order = %+v, want newest first", got)
	}
	if got[0].Outcome != OutcomeRejected {
		t.Fatalf("Outcome = %q, want rejected", got[0].Outcome)
	}
}

func TestLedgerRecordDefaultsRecordedAt(t *testing.T) {
	l := openTestLedger(t)
	ctx := context.Background()

	before := time.Now().Add(-time.Second)
	if err := l.Record(ctx, Entry{UpdateID: 1, Outcome: OutcomeOK}); err != nil {
		t.Fatalf("Record() error = %v", err)
	}

	got, err := l.Recent(ctx, 1)
	if err != nil {
		t.Fatalf("Recent() error = %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("Recent() returned %d entries, want 1", len(got))
	}
	if got[0].RecordedAt.Before(before) {
		t.Fatalf("RecordedAt = %v, want stamped at record time", got[0].RecordedAt)
	}
}

func TestLedgerRecentRespectsLimit(t *testing.T) {
	l := openTestLedger(t)
	ctx := context.Background()

	for i := int64(0); i < 5; i++ {
		if err := l.Record(ctx, Entry{UpdateID: i, Outcome: OutcomeOK}); err != nil {
			t.Fatalf("Record() error = %v", err)
		}
	}

	got, err := l.Recent(ctx, 2)
	if err != nil {
		t.Fatalf("Recent() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("Recent(2) returned %d entries, want 2", len(got))
	}
}

func TestLedgerPrune(t *testing.T) {
	l := openTestLedger(t)
	ctx := context.Background()

	past := time.Now().Add(-time.Hour)
	if err := l.Record(ctx, Entry{UpdateID: 1, Outcome: OutcomeOK, RecordedAt: past}); err != nil {
		t.Fatalf("Record() error = %v", err)
	}
	if err := l.Record(ctx, Entry{UpdateID: 2, Outcome: OutcomeOK}); err != nil {
		t.Fatalf("Record() error = %v", err)
	}

	n, err := l.Prune(ctx, time.Now().Add(-time.Minute))
	if err != nil {
		t.Fatalf("Prune() error = %v", err)
	}
	if n != 1 {
		t.Fatalf("Prune() removed %d rows, want 1", n)
	}

	got, err := l.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("Recent() error = %v", err)
	}
	if len(got) != 1 || got[0].UpdateID != 2 {
		t.Fatalf("Recent() after prune = %+v, want only update id 2", got)
	}
}
