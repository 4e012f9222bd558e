package store

import (
	"context"
	"testing"
	"time"
)

func TestMemoryBlockUpsert(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	first := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	if err := m.Block(ctx, BlockRecord{
		Fingerprint: "fp1",
		Reason:      "repeated-suspicious-activity",
		IsPermanent: false,
		BlockedAt:   first,
	}); err != nil {
		t.Fatal(err)
	}

	later := first.Add(time.Hour)
	if err := m.Block(ctx, BlockRecord{
		Fingerprint: "fp1",
		Reason:      "bot-detected",
		IsPermanent: true,
		BlockedAt:   later,
	}); err != nil {
		t.Fatal(err)
	}

	rec, ok := m.Blocked("fp1")
	if !ok {
		t.Fatal("expected block record")
	}
	if rec.Reason != "repeated-suspicious-activity" {
		t.Errorf("Reason = %q, want original reason kept", rec.Reason)
	}
	if !rec.BlockedAt.Equal(first) {
		t.Errorf("BlockedAt = %v, want %v", rec.BlockedAt, first)
	}
	if !rec.LastAttempt.Equal(later) {
		t.Errorf("LastAttempt = %v, want %v", rec.LastAttempt, later)
	}
	if !rec.IsPermanent {
		t.Error("IsPermanent should be OR'd in")
	}

	blocked, err := m.IsBlocked(ctx, "fp1")
	if err != nil || !blocked {
		t.Errorf("IsBlocked(fp1) = %v, %v", blocked, err)
	}
	blocked, _ = m.IsBlocked(ctx, "fp2")
	if blocked {
		t.Error("IsBlocked(fp2) should be false")
	}
}

func TestMemorySuspiciousCount(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	now := time.Now().UTC()

	rows := []AccessRecord{
		{Fingerprint: "fp", IsSuspicious: true, AccessedAt: now.Add(-25 * time.Hour)},
		{Fingerprint: "fp", IsSuspicious: true, AccessedAt: now.Add(-2 * time.Hour)},
		{Fingerprint: "fp", IsSuspicious: false, AccessedAt: now.Add(-time.Hour)},
		{Fingerprint: "fp", IsSuspicious: true, AccessedAt: now},
		{Fingerprint: "other", IsSuspicious: true, AccessedAt: now},
	}
	for _, r := range rows {
		if err := m.LogAccess(ctx, r); err != nil {
			t.Fatal(err)
		}
	}

	n, err := m.SuspiciousCount(ctx, "fp", now.Add(-24*time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("SuspiciousCount() = %d, want 2", n)
	}
	if got := len(m.Accesses("fp")); got != 4 {
		t.Errorf("Accesses(fp) = %d rows, want 4", got)
	}
}

func TestMemoryHonorsCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	m := NewMemory()
	if _, err := m.IsBlocked(ctx, "fp"); err == nil {
		t.Error("IsBlocked should fail on cancelled context")
	}
	if err := m.LogAccess(ctx, AccessRecord{Fingerprint: "fp"}); err == nil {
		t.Error("LogAccess should fail on cancelled context")
	}
}

func TestOpenUnknownBackend(t *testing.T) {
	if _, err := Open(context.Background(), configFor("cassandra")); err == nil {
		t.Error("expected error for unknown backend")
	}
	s, err := Open(context.Background(), configFor(""))
	if err != nil || s.Name() != "memory" {
		t.Errorf("Open(\"\") = %v, %v, want memory store", s, err)
	}
}
