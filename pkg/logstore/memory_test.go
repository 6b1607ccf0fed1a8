package logstore

import (
	"context"
	"testing"
	"time"
)

func TestMemoryAppendAssignsIncrementingIDs(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	id1, err := m.Append(ctx, "p", map[string]string{"envelope": "a"})
	if err != nil {
		t.Fatal(err)
	}
	id2, _ := m.Append(ctx, "p", map[string]string{"envelope": "b"})
	if id1 != "1-0" || id2 != "2-0" {
		t.Fatalf("got %s, %s", id1, id2)
	}
}

func TestMemoryEnsureGroupIdempotent(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	if err := m.EnsureGroup(ctx, "p", "g", StartNew); err != nil {
		t.Fatalf("first EnsureGroup: %v", err)
	}
	err := m.EnsureGroup(ctx, "p", "g", StartNew)
	if err != ErrGroupExists {
		t.Fatalf("expected ErrGroupExists, got %v", err)
	}
}

func TestMemoryReadGroupDeliversAndMarksPending(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	m.Append(ctx, "p", map[string]string{"envelope": "a"})
	m.EnsureGroup(ctx, "p", "g", StartNew)

	entries, err := m.ReadGroup(ctx, "p", "g", "c1", 1, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].MessageID != "1-0" {
		t.Fatalf("got %+v", entries)
	}

	pending, _ := m.PendingRange(ctx, "p", "g", 10, "")
	if len(pending) != 1 {
		t.Fatalf("expected 1 pending, got %d", len(pending))
	}
}

func TestMemoryAckRemovesFromPending(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	m.Append(ctx, "p", map[string]string{"envelope": "a"})
	m.EnsureGroup(ctx, "p", "g", StartNew)
	m.ReadGroup(ctx, "p", "g", "c1", 1, 0)

	n, err := m.Ack(ctx, "p", "g", "1-0")
	if err != nil || n != 1 {
		t.Fatalf("n=%d err=%v", n, err)
	}
	pending, _ := m.PendingRange(ctx, "p", "g", 10, "")
	if len(pending) != 0 {
		t.Fatalf("expected 0 pending after ack, got %d", len(pending))
	}
}

func TestMemoryClaimReassignsAfterIdle(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	m.Append(ctx, "p", map[string]string{"envelope": "a"})
	m.EnsureGroup(ctx, "p", "g", StartNew)
	m.ReadGroup(ctx, "p", "g", "c1", 1, 0)

	time.Sleep(5 * time.Millisecond)

	claimed, err := m.Claim(ctx, "p", "g", "c2", 1, []string{"1-0"})
	if err != nil {
		t.Fatal(err)
	}
	if len(claimed) != 1 {
		t.Fatalf("expected 1 claimed entry, got %d", len(claimed))
	}
	pending, _ := m.PendingRange(ctx, "p", "g", 10, "c2")
	if len(pending) != 1 {
		t.Fatalf("expected entry reassigned to c2, got %+v", pending)
	}
}

func TestMemoryClaimSkipsFreshEntries(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	m.Append(ctx, "p", map[string]string{"envelope": "a"})
	m.EnsureGroup(ctx, "p", "g", StartNew)
	m.ReadGroup(ctx, "p", "g", "c1", 1, 0)

	claimed, err := m.Claim(ctx, "p", "g", "c2", 10_000, []string{"1-0"})
	if err != nil {
		t.Fatal(err)
	}
	if len(claimed) != 0 {
		t.Fatalf("expected no reclaim for a fresh entry, got %d", len(claimed))
	}
}

func TestMemoryReadRawTail(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	m.Append(ctx, "p", map[string]string{"envelope": "a"})
	m.Append(ctx, "p", map[string]string{"envelope": "b"})

	all, err := m.Read(ctx, "p", "", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(all))
	}

	tail, err := m.Read(ctx, "p", "1-0", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(tail) != 1 || tail[0].MessageID != "2-0" {
		t.Fatalf("expected only 2-0 after start 1-0, got %+v", tail)
	}
}

func TestMemoryKVSetIfAbsent(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	ok, err := m.Set(ctx, "lock:demo:item-1", "1", 30*time.Second, true)
	if err != nil || !ok {
		t.Fatalf("expected first set to succeed, got ok=%v err=%v", ok, err)
	}
	ok, err = m.Set(ctx, "lock:demo:item-1", "1", 30*time.Second, true)
	if err != nil || ok {
		t.Fatalf("expected second set-if-absent to fail, got ok=%v err=%v", ok, err)
	}
	if err := m.Del(ctx, "lock:demo:item-1"); err != nil {
		t.Fatal(err)
	}
	ok, err = m.Set(ctx, "lock:demo:item-1", "1", 30*time.Second, true)
	if err != nil || !ok {
		t.Fatalf("expected set to succeed after delete, got ok=%v err=%v", ok, err)
	}
}

func TestMemoryKVTTLExpiry(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	m.Set(ctx, "dedupe:demo:g:1-0", "1", 5*time.Millisecond, false)
	_, ok, _ := m.Get(ctx, "dedupe:demo:g:1-0")
	if !ok {
		t.Fatal("expected key present immediately after set")
	}
	time.Sleep(10 * time.Millisecond)
	_, ok, _ = m.Get(ctx, "dedupe:demo:g:1-0")
	if ok {
		t.Fatal("expected key to have expired")
	}
}

func TestMemoryReadGroupBlocksUntilEntryArrivesOrTimesOut(t *testing.T) {
	m := NewMemory()
	m.pollStep = time.Millisecond
	ctx := context.Background()
	m.EnsureGroup(ctx, "p", "g", StartNew)

	start := time.Now()
	entries, err := m.ReadGroup(ctx, "p", "g", "c1", 1, 20)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected no entries, got %d", len(entries))
	}
	if time.Since(start) < 15*time.Millisecond {
		t.Fatalf("expected ReadGroup to block close to blockMS")
	}
}
