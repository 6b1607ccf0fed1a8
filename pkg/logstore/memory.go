package logstore

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

type memEntry struct {
	messageID string
	seq       int
	fields    map[string]string
}

type memPending struct {
	messageID string
	consumer  string
	deliverAt time.Time
}

type memGroup struct {
	nextIndex int
	pending   map[string]*memPending
}

type memKVEntry struct {
	value   string
	expires time.Time // zero means no expiry
}

// Memory is a map-backed, process-local Store. It is the in-memory
// implementation required alongside the durable backends, used by unit
// tests, the demo command, and any deployment willing to lose state on
// restart.
type Memory struct {
	mu       sync.Mutex
	streams  map[string][]memEntry
	groups   map[string]map[string]*memGroup // partition -> group -> state
	kv       map[string]memKVEntry
	pollStep time.Duration
}

// NewMemory constructs an empty Memory store.
func NewMemory() *Memory {
	return &Memory{
		streams:  make(map[string][]memEntry),
		groups:   make(map[string]map[string]*memGroup),
		kv:       make(map[string]memKVEntry),
		pollStep: 10 * time.Millisecond,
	}
}

func (m *Memory) Close() error { return nil }

func (m *Memory) Append(ctx context.Context, partition string, fields map[string]string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stream := m.streams[partition]
	seq := len(stream) + 1
	id := fmt.Sprintf("%d-0", seq)
	cp := make(map[string]string, len(fields))
	for k, v := range fields {
		cp[k] = v
	}
	m.streams[partition] = append(stream, memEntry{messageID: id, seq: seq, fields: cp})
	return id, nil
}

func (m *Memory) EnsureGroup(ctx context.Context, partition, group string, start StartingPoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	groups, ok := m.groups[partition]
	if !ok {
		groups = make(map[string]*memGroup)
		m.groups[partition] = groups
	}
	if _, exists := groups[group]; exists {
		return ErrGroupExists
	}
	// Groups always start at index 0, matching the reference double's
	// xgroup_create: a newly created group reads every entry already on
	// the partition, not just ones appended after it exists.
	groups[group] = &memGroup{nextIndex: 0, pending: make(map[string]*memPending)}
	return nil
}

func (m *Memory) groupState(partition, group string) *memGroup {
	groups, ok := m.groups[partition]
	if !ok {
		groups = make(map[string]*memGroup)
		m.groups[partition] = groups
	}
	gs, ok := groups[group]
	if !ok {
		gs = &memGroup{pending: make(map[string]*memPending)}
		groups[group] = gs
	}
	return gs
}

func (m *Memory) ReadGroup(ctx context.Context, partition, group, consumer string, count int, blockMS int) ([]Entry, error) {
	deadline := time.Now().Add(time.Duration(blockMS) * time.Millisecond)
	for {
		entries := m.tryReadGroup(partition, group, consumer, count)
		if len(entries) > 0 || blockMS <= 0 {
			return entries, nil
		}
		if time.Now().After(deadline) {
			return entries, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(m.pollStep):
		}
	}
}

func (m *Memory) tryReadGroup(partition, group, consumer string, count int) []Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	gs := m.groupState(partition, group)
	stream := m.streams[partition]
	out := make([]Entry, 0, count)
	now := time.Now()
	for i := gs.nextIndex; i < len(stream) && len(out) < count; i++ {
		e := stream[i]
		gs.pending[e.messageID] = &memPending{messageID: e.messageID, consumer: consumer, deliverAt: now}
		gs.nextIndex = i + 1
		out = append(out, Entry{MessageID: e.messageID, Fields: cloneFields(e.fields)})
	}
	return out
}

func (m *Memory) Ack(ctx context.Context, partition, group string, messageIDs ...string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	groups, ok := m.groups[partition]
	if !ok {
		return 0, nil
	}
	gs, ok := groups[group]
	if !ok {
		return 0, nil
	}
	acked := 0
	for _, id := range messageIDs {
		if _, ok := gs.pending[id]; ok {
			delete(gs.pending, id)
			acked++
		}
	}
	return acked, nil
}

func (m *Memory) PendingRange(ctx context.Context, partition, group string, count int, consumer string) ([]Pending, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	groups, ok := m.groups[partition]
	if !ok {
		return nil, nil
	}
	gs, ok := groups[group]
	if !ok {
		return nil, nil
	}
	ids := make([]string, 0, len(gs.pending))
	for id := range gs.pending {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	now := time.Now()
	out := make([]Pending, 0, len(ids))
	for _, id := range ids {
		p := gs.pending[id]
		if consumer != "" && p.consumer != consumer {
			continue
		}
		out = append(out, Pending{MessageID: p.messageID, Consumer: p.consumer, IdleMS: now.Sub(p.deliverAt).Milliseconds()})
		if count > 0 && len(out) >= count {
			break
		}
	}
	return out, nil
}

func (m *Memory) Claim(ctx context.Context, partition, group, newConsumer string, minIdleMS int64, messageIDs []string) ([]Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	groups, ok := m.groups[partition]
	if !ok {
		return nil, nil
	}
	gs, ok := groups[group]
	if !ok {
		return nil, nil
	}
	stream := m.streams[partition]
	now := time.Now()
	out := make([]Entry, 0, len(messageIDs))
	for _, id := range messageIDs {
		p, ok := gs.pending[id]
		if !ok {
			continue
		}
		if now.Sub(p.deliverAt).Milliseconds() < minIdleMS {
			continue
		}
		e, found := findEntry(stream, id)
		if !found {
			continue
		}
		gs.pending[id] = &memPending{messageID: id, consumer: newConsumer, deliverAt: now}
		out = append(out, Entry{MessageID: id, Fields: cloneFields(e.fields)})
	}
	return out, nil
}

func (m *Memory) Read(ctx context.Context, partition, startID string, count int) ([]Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stream := m.streams[partition]
	startIdx := 0
	if startID != "" {
		if seq, ok := seqOf(startID); ok {
			startIdx = seq // entries are 1-indexed by seq; seq itself is the count of entries at/before startID
		}
	}
	out := make([]Entry, 0)
	for i := startIdx; i < len(stream); i++ {
		if count > 0 && len(out) >= count {
			break
		}
		out = append(out, Entry{MessageID: stream[i].messageID, Fields: cloneFields(stream[i].fields)})
	}
	return out, nil
}

func (m *Memory) Set(ctx context.Context, key, value string, ttl time.Duration, ifAbsent bool) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ifAbsent {
		if existing, ok := m.kv[key]; ok && !expired(existing) {
			return false, nil
		}
	}
	var expires time.Time
	if ttl > 0 {
		expires = time.Now().Add(ttl)
	}
	m.kv[key] = memKVEntry{value: value, expires: expires}
	return true, nil
}

func (m *Memory) Get(ctx context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.kv[key]
	if !ok || expired(e) {
		return "", false, nil
	}
	return e.value, true, nil
}

func (m *Memory) Del(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.kv, key)
	return nil
}

func expired(e memKVEntry) bool {
	return !e.expires.IsZero() && time.Now().After(e.expires)
}

func cloneFields(f map[string]string) map[string]string {
	cp := make(map[string]string, len(f))
	for k, v := range f {
		cp[k] = v
	}
	return cp
}

func findEntry(stream []memEntry, id string) (memEntry, bool) {
	for _, e := range stream {
		if e.messageID == id {
			return e, true
		}
	}
	return memEntry{}, false
}

func seqOf(messageID string) (int, bool) {
	parts := strings.SplitN(messageID, "-", 2)
	n, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, false
	}
	return n, true
}
