package logstore

import (
	"context"
	"testing"
	"time"
)

func openTestSQLite(t *testing.T) Store {
	t.Helper()
	store, err := OpenSQLite(":memory:")
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestSQLiteAppendAssignsIncrementingIDs(t *testing.T) {
	s := openTestSQLite(t)
	ctx := context.Background()
	id1, err := s.Append(ctx, "p", map[string]string{"envelope": "a"})
	if err != nil {
		t.Fatal(err)
	}
	id2, _ := s.Append(ctx, "p", map[string]string{"envelope": "b"})
	if id1 != "1-0" || id2 != "2-0" {
		t.Fatalf("got %s, %s", id1, id2)
	}
}

func TestSQLiteEnsureGroupIdempotent(t *testing.T) {
	s := openTestSQLite(t)
	ctx := context.Background()
	if err := s.EnsureGroup(ctx, "p", "g", StartNew); err != nil {
		t.Fatalf("first EnsureGroup: %v", err)
	}
	if err := s.EnsureGroup(ctx, "p", "g", StartNew); err != ErrGroupExists {
		t.Fatalf("expected ErrGroupExists, got %v", err)
	}
}

func TestSQLiteReadGroupDeliversMarksPendingAndAcks(t *testing.T) {
	s := openTestSQLite(t)
	ctx := context.Background()
	s.Append(ctx, "p", map[string]string{"envelope": "a"})
	s.EnsureGroup(ctx, "p", "g", StartNew)

	entries, err := s.ReadGroup(ctx, "p", "g", "c1", 1, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].MessageID != "1-0" {
		t.Fatalf("got %+v", entries)
	}

	pending, err := s.PendingRange(ctx, "p", "g", 10, "")
	if err != nil || len(pending) != 1 {
		t.Fatalf("pending=%+v err=%v", pending, err)
	}

	n, err := s.Ack(ctx, "p", "g", "1-0")
	if err != nil || n != 1 {
		t.Fatalf("n=%d err=%v", n, err)
	}
	pending, _ = s.PendingRange(ctx, "p", "g", 10, "")
	if len(pending) != 0 {
		t.Fatalf("expected 0 pending after ack, got %d", len(pending))
	}
}

func TestSQLiteClaimReassignsAfterIdle(t *testing.T) {
	s := openTestSQLite(t)
	ctx := context.Background()
	s.Append(ctx, "p", map[string]string{"envelope": "a"})
	s.EnsureGroup(ctx, "p", "g", StartNew)
	s.ReadGroup(ctx, "p", "g", "c1", 1, 0)

	time.Sleep(5 * time.Millisecond)

	claimed, err := s.Claim(ctx, "p", "g", "c2", 1, []string{"1-0"})
	if err != nil {
		t.Fatal(err)
	}
	if len(claimed) != 1 {
		t.Fatalf("expected 1 claimed entry, got %d", len(claimed))
	}
	pending, _ := s.PendingRange(ctx, "p", "g", 10, "c2")
	if len(pending) != 1 {
		t.Fatalf("expected entry reassigned to c2, got %+v", pending)
	}
}

func TestSQLiteReadRawTail(t *testing.T) {
	s := openTestSQLite(t)
	ctx := context.Background()
	s.Append(ctx, "p", map[string]string{"envelope": "a"})
	s.Append(ctx, "p", map[string]string{"envelope": "b"})

	all, err := s.Read(ctx, "p", "", 0)
	if err != nil || len(all) != 2 {
		t.Fatalf("all=%+v err=%v", all, err)
	}
	tail, err := s.Read(ctx, "p", "1-0", 0)
	if err != nil || len(tail) != 1 || tail[0].MessageID != "2-0" {
		t.Fatalf("tail=%+v err=%v", tail, err)
	}
}

func TestSQLiteKVSetIfAbsentAndTTL(t *testing.T) {
	s := openTestSQLite(t)
	ctx := context.Background()
	ok, err := s.Set(ctx, "lock:demo:item-1", "1", 30*time.Second, true)
	if err != nil || !ok {
		t.Fatalf("expected first set to succeed, got ok=%v err=%v", ok, err)
	}
	ok, err = s.Set(ctx, "lock:demo:item-1", "1", 30*time.Second, true)
	if err != nil || ok {
		t.Fatalf("expected second set-if-absent to fail, got ok=%v err=%v", ok, err)
	}
	if err := s.Del(ctx, "lock:demo:item-1"); err != nil {
		t.Fatal(err)
	}

	s.Set(ctx, "dedupe:demo:g:1-0", "1", 5*time.Millisecond, false)
	_, ok, _ = s.Get(ctx, "dedupe:demo:g:1-0")
	if !ok {
		t.Fatal("expected key present immediately after set")
	}
	time.Sleep(15 * time.Millisecond)
	_, ok, _ = s.Get(ctx, "dedupe:demo:g:1-0")
	if ok {
		t.Fatal("expected key to have expired")
	}
}
