// Package logstore abstracts a partitioned, ordered, durable log with
// consumer-group semantics, plus a small TTL-bounded KV surface, behind one
// interface. The event bus depends on no other detail of the backend.
package logstore

import (
	"context"
	"errors"
	"time"
)

// Entry is one (message_id, fields) record appended to a partition.
// Fields mirrors the reference log entry shape: an "envelope" string and
// an "attempt" decimal string, but the type carries an arbitrary string
// map so a backend is free to store extra bookkeeping fields.
type Entry struct {
	MessageID string
	Fields    map[string]string
}

// Pending describes one in-flight (delivered, unacknowledged) entry.
type Pending struct {
	MessageID string
	Consumer  string
	IdleMS    int64
}

// StartingPoint selects where a newly created consumer group's cursor
// begins. The reference implementation's xgroup_create ignores the id
// it is passed and always starts a fresh _GroupState at index 0, so
// StartNew means "begin reading from the first entry still on the
// partition," not "skip everything already there."
type StartingPoint int

const (
	StartNew StartingPoint = iota
)

// ErrGroupExists is returned by EnsureGroup when the group already exists.
// Callers (the event bus) recognize and swallow this specific error.
var ErrGroupExists = errors.New("logstore: consumer group exists")

// Log is the append/consumer-group half of the adapter.
type Log interface {
	// Append writes fields to partition, creating it lazily, and returns
	// the assigned message id.
	Append(ctx context.Context, partition string, fields map[string]string) (string, error)

	// EnsureGroup idempotently creates group on partition. It returns
	// ErrGroupExists (not a fatal error) if the group is already present.
	EnsureGroup(ctx context.Context, partition, group string, start StartingPoint) error

	// ReadGroup delivers up to count new entries to consumer, marking
	// each pending. It blocks up to blockMS waiting for new entries if
	// none are immediately available.
	ReadGroup(ctx context.Context, partition, group, consumer string, count int, blockMS int) ([]Entry, error)

	// Ack removes messageIDs from group's pending set and returns how
	// many were actually pending.
	Ack(ctx context.Context, partition, group string, messageIDs ...string) (int, error)

	// PendingRange enumerates up to count in-flight entries for group,
	// optionally filtered to one consumer.
	PendingRange(ctx context.Context, partition, group string, count int, consumer string) ([]Pending, error)

	// Claim transfers ownership of messageIDs to newConsumer for every
	// entry still pending and whose idle time is >= minIdleMS, resetting
	// its delivery timestamp. It returns the reclaimed entries.
	Claim(ctx context.Context, partition, group, newConsumer string, minIdleMS int64, messageIDs []string) ([]Entry, error)

	// Read performs a raw tail read with no consumer-group bookkeeping,
	// starting after startID ("" means from the beginning), returning up
	// to count entries (count <= 0 means unbounded).
	Read(ctx context.Context, partition, startID string, count int) ([]Entry, error)
}

// KV is the small set-if-absent/TTL surface backing dedupe markers and
// backlog locks.
type KV interface {
	// Set writes key=value. If ttl > 0 the key expires after ttl. If
	// ifAbsent is true, Set only writes when key is not already present
	// and returns false without writing when it is.
	Set(ctx context.Context, key, value string, ttl time.Duration, ifAbsent bool) (bool, error)

	// Get returns the current value and whether the key is present
	// (and unexpired).
	Get(ctx context.Context, key string) (string, bool, error)

	// Del removes key; a missing key is not an error.
	Del(ctx context.Context, key string) error
}

// Store bundles a Log and a KV backed by the same underlying resource.
// Every concrete backend (memory, sqlite, postgres) implements Store.
type Store interface {
	Log
	KV
	// Close releases any resources (connections, handles) held by the
	// backend. Backends with nothing to release return nil.
	Close() error
}
