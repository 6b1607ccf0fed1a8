package logstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// dialect isolates the handful of things that actually differ between the
// sqlite and postgres backends: placeholder syntax and the driver name.
// Table layout, upsert semantics ("ON CONFLICT ... DO UPDATE/DO NOTHING")
// and RETURNING clauses are supported identically by both drivers, so the
// query text itself is shared.
type dialect interface {
	name() string
	// rebind rewrites a query written with "?" placeholders into the
	// dialect's native placeholder syntax.
	rebind(query string) string
}

type sqliteDialect struct{}

func (sqliteDialect) name() string            { return "sqlite3" }
func (sqliteDialect) rebind(query string) string { return query }

type postgresDialect struct{}

func (postgresDialect) name() string { return "postgres" }

func (postgresDialect) rebind(query string) string {
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$")
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

const schemaDDL = `
CREATE TABLE IF NOT EXISTS wb_counters (
	partition TEXT PRIMARY KEY,
	next_seq  INTEGER NOT NULL DEFAULT 0
);
CREATE TABLE IF NOT EXISTS wb_entries (
	partition   TEXT NOT NULL,
	seq         INTEGER NOT NULL,
	message_id  TEXT NOT NULL,
	fields_json TEXT NOT NULL,
	PRIMARY KEY (partition, seq)
);
CREATE TABLE IF NOT EXISTS wb_groups (
	partition  TEXT NOT NULL,
	group_name TEXT NOT NULL,
	next_index INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (partition, group_name)
);
CREATE TABLE IF NOT EXISTS wb_pending (
	partition  TEXT NOT NULL,
	group_name TEXT NOT NULL,
	message_id TEXT NOT NULL,
	consumer   TEXT NOT NULL,
	deliver_at BIGINT NOT NULL,
	PRIMARY KEY (partition, group_name, message_id)
);
CREATE TABLE IF NOT EXISTS wb_kv (
	k          TEXT PRIMARY KEY,
	v          TEXT NOT NULL,
	expires_at BIGINT
);
`

// sqlStore is the shared core behind both the sqlite and postgres
// backends; only table creation happens through schemaDDL verbatim (both
// drivers accept the same DDL), everything else goes through d.rebind.
type sqlStore struct {
	db       *sql.DB
	d        dialect
	pollStep time.Duration
}

func newSQLStore(db *sql.DB, d dialect) (*sqlStore, error) {
	for _, stmt := range strings.Split(schemaDDL, ";\n") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := db.Exec(stmt); err != nil {
			return nil, fmt.Errorf("logstore: create schema: %w", err)
		}
	}
	return &sqlStore{db: db, d: d, pollStep: 20 * time.Millisecond}, nil
}

func (s *sqlStore) Close() error { return s.db.Close() }

func (s *sqlStore) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return s.db.ExecContext(ctx, s.d.rebind(query), args...)
}

func (s *sqlStore) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return s.db.QueryContext(ctx, s.d.rebind(query), args...)
}

func (s *sqlStore) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return s.db.QueryRowContext(ctx, s.d.rebind(query), args...)
}

func nowMillis() int64 { return time.Now().UnixMilli() }

func (s *sqlStore) Append(ctx context.Context, partition string, fields map[string]string) (string, error) {
	row := s.queryRow(ctx,
		`INSERT INTO wb_counters (partition, next_seq) VALUES (?, 1)
		 ON CONFLICT (partition) DO UPDATE SET next_seq = wb_counters.next_seq + 1
		 RETURNING next_seq`, partition)
	var seq int64
	if err := row.Scan(&seq); err != nil {
		return "", fmt.Errorf("logstore: append counter: %w", err)
	}
	fieldsJSON, err := json.Marshal(fields)
	if err != nil {
		return "", fmt.Errorf("logstore: append encode fields: %w", err)
	}
	messageID := fmt.Sprintf("%d-0", seq)
	if _, err := s.exec(ctx,
		`INSERT INTO wb_entries (partition, seq, message_id, fields_json) VALUES (?, ?, ?, ?)`,
		partition, seq, messageID, string(fieldsJSON)); err != nil {
		return "", fmt.Errorf("logstore: append insert: %w", err)
	}
	return messageID, nil
}

func (s *sqlStore) EnsureGroup(ctx context.Context, partition, group string, start StartingPoint) error {
	// Groups always start at seq 0, matching the reference double's
	// xgroup_create: a newly created group reads every entry already on
	// the partition, not just ones appended after it exists.
	res, err := s.exec(ctx,
		`INSERT INTO wb_groups (partition, group_name, next_index) VALUES (?, ?, ?)
		 ON CONFLICT (partition, group_name) DO NOTHING`, partition, group, int64(0))
	if err != nil {
		return fmt.Errorf("logstore: ensure group insert: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("logstore: ensure group rows affected: %w", err)
	}
	if n == 0 {
		return ErrGroupExists
	}
	return nil
}

func (s *sqlStore) ReadGroup(ctx context.Context, partition, group, consumer string, count int, blockMS int) ([]Entry, error) {
	deadline := time.Now().Add(time.Duration(blockMS) * time.Millisecond)
	for {
		entries, err := s.tryReadGroup(ctx, partition, group, consumer, count)
		if err != nil {
			return nil, err
		}
		if len(entries) > 0 || blockMS <= 0 {
			return entries, nil
		}
		if time.Now().After(deadline) {
			return entries, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(s.pollStep):
		}
	}
}

func (s *sqlStore) tryReadGroup(ctx context.Context, partition, group, consumer string, count int) ([]Entry, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("logstore: read group begin: %w", err)
	}
	defer tx.Rollback()

	var nextIndex int64
	row := tx.QueryRowContext(ctx, s.d.rebind(
		`SELECT next_index FROM wb_groups WHERE partition = ? AND group_name = ?`), partition, group)
	if err := row.Scan(&nextIndex); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("logstore: read group cursor: %w", err)
	}

	rows, err := tx.QueryContext(ctx, s.d.rebind(
		`SELECT seq, message_id, fields_json FROM wb_entries WHERE partition = ? AND seq > ? ORDER BY seq LIMIT ?`),
		partition, nextIndex, count)
	if err != nil {
		return nil, fmt.Errorf("logstore: read group entries: %w", err)
	}
	defer rows.Close()

	var out []Entry
	maxSeq := nextIndex
	now := nowMillis()
	for rows.Next() {
		var seq int64
		var messageID, fieldsJSON string
		if err := rows.Scan(&seq, &messageID, &fieldsJSON); err != nil {
			return nil, fmt.Errorf("logstore: read group scan: %w", err)
		}
		var fields map[string]string
		if err := json.Unmarshal([]byte(fieldsJSON), &fields); err != nil {
			return nil, fmt.Errorf("logstore: read group decode fields: %w", err)
		}
		out = append(out, Entry{MessageID: messageID, Fields: fields})
		if seq > maxSeq {
			maxSeq = seq
		}
		if _, err := tx.ExecContext(ctx, s.d.rebind(
			`INSERT INTO wb_pending (partition, group_name, message_id, consumer, deliver_at) VALUES (?, ?, ?, ?, ?)
			 ON CONFLICT (partition, group_name, message_id) DO UPDATE SET consumer = excluded.consumer, deliver_at = excluded.deliver_at`),
			partition, group, messageID, consumer, now); err != nil {
			return nil, fmt.Errorf("logstore: read group mark pending: %w", err)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if maxSeq != nextIndex {
		if _, err := tx.ExecContext(ctx, s.d.rebind(
			`UPDATE wb_groups SET next_index = ? WHERE partition = ? AND group_name = ?`),
			maxSeq, partition, group); err != nil {
			return nil, fmt.Errorf("logstore: read group advance cursor: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("logstore: read group commit: %w", err)
	}
	return out, nil
}

func (s *sqlStore) Ack(ctx context.Context, partition, group string, messageIDs ...string) (int, error) {
	acked := 0
	for _, id := range messageIDs {
		res, err := s.exec(ctx,
			`DELETE FROM wb_pending WHERE partition = ? AND group_name = ? AND message_id = ?`,
			partition, group, id)
		if err != nil {
			return acked, fmt.Errorf("logstore: ack: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return acked, err
		}
		acked += int(n)
	}
	return acked, nil
}

func (s *sqlStore) PendingRange(ctx context.Context, partition, group string, count int, consumer string) ([]Pending, error) {
	query := `SELECT message_id, consumer, deliver_at FROM wb_pending WHERE partition = ? AND group_name = ?`
	args := []any{partition, group}
	if consumer != "" {
		query += ` AND consumer = ?`
		args = append(args, consumer)
	}
	query += ` ORDER BY message_id LIMIT ?`
	args = append(args, count)

	rows, err := s.query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("logstore: pending range: %w", err)
	}
	defer rows.Close()

	now := nowMillis()
	var out []Pending
	for rows.Next() {
		var messageID, cons string
		var deliverAt int64
		if err := rows.Scan(&messageID, &cons, &deliverAt); err != nil {
			return nil, err
		}
		out = append(out, Pending{MessageID: messageID, Consumer: cons, IdleMS: now - deliverAt})
	}
	return out, rows.Err()
}

func (s *sqlStore) Claim(ctx context.Context, partition, group, newConsumer string, minIdleMS int64, messageIDs []string) ([]Entry, error) {
	var out []Entry
	now := nowMillis()
	for _, id := range messageIDs {
		var deliverAt int64
		row := s.queryRow(ctx,
			`SELECT deliver_at FROM wb_pending WHERE partition = ? AND group_name = ? AND message_id = ?`,
			partition, group, id)
		if err := row.Scan(&deliverAt); err != nil {
			if err == sql.ErrNoRows {
				continue
			}
			return nil, fmt.Errorf("logstore: claim lookup: %w", err)
		}
		if now-deliverAt < minIdleMS {
			continue
		}
		var fieldsJSON string
		row = s.queryRow(ctx,
			`SELECT fields_json FROM wb_entries WHERE partition = ? AND message_id = ?`, partition, id)
		if err := row.Scan(&fieldsJSON); err != nil {
			if err == sql.ErrNoRows {
				continue
			}
			return nil, fmt.Errorf("logstore: claim entry lookup: %w", err)
		}
		if _, err := s.exec(ctx,
			`UPDATE wb_pending SET consumer = ?, deliver_at = ? WHERE partition = ? AND group_name = ? AND message_id = ?`,
			newConsumer, now, partition, group, id); err != nil {
			return nil, fmt.Errorf("logstore: claim reassign: %w", err)
		}
		var fields map[string]string
		if err := json.Unmarshal([]byte(fieldsJSON), &fields); err != nil {
			return nil, err
		}
		out = append(out, Entry{MessageID: id, Fields: fields})
	}
	return out, nil
}

func (s *sqlStore) Read(ctx context.Context, partition, startID string, count int) ([]Entry, error) {
	startSeq := int64(0)
	if startID != "" {
		if n, ok := seqOf(startID); ok {
			startSeq = int64(n)
		}
	}
	query := `SELECT message_id, fields_json FROM wb_entries WHERE partition = ? AND seq > ? ORDER BY seq`
	args := []any{partition, startSeq}
	if count > 0 {
		query += ` LIMIT ?`
		args = append(args, count)
	}
	rows, err := s.query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("logstore: read: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var messageID, fieldsJSON string
		if err := rows.Scan(&messageID, &fieldsJSON); err != nil {
			return nil, err
		}
		var fields map[string]string
		if err := json.Unmarshal([]byte(fieldsJSON), &fields); err != nil {
			return nil, err
		}
		out = append(out, Entry{MessageID: messageID, Fields: fields})
	}
	return out, rows.Err()
}

func (s *sqlStore) Set(ctx context.Context, key, value string, ttl time.Duration, ifAbsent bool) (bool, error) {
	now := nowMillis()
	if _, err := s.exec(ctx, `DELETE FROM wb_kv WHERE k = ? AND expires_at IS NOT NULL AND expires_at < ?`, key, now); err != nil {
		return false, fmt.Errorf("logstore: kv expire sweep: %w", err)
	}
	var expiresAt any
	if ttl > 0 {
		expiresAt = now + ttl.Milliseconds()
	}
	if ifAbsent {
		res, err := s.exec(ctx,
			`INSERT INTO wb_kv (k, v, expires_at) VALUES (?, ?, ?) ON CONFLICT (k) DO NOTHING`,
			key, value, expiresAt)
		if err != nil {
			return false, fmt.Errorf("logstore: kv set-if-absent: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return false, err
		}
		return n == 1, nil
	}
	if _, err := s.exec(ctx,
		`INSERT INTO wb_kv (k, v, expires_at) VALUES (?, ?, ?)
		 ON CONFLICT (k) DO UPDATE SET v = excluded.v, expires_at = excluded.expires_at`,
		key, value, expiresAt); err != nil {
		return false, fmt.Errorf("logstore: kv set: %w", err)
	}
	return true, nil
}

func (s *sqlStore) Get(ctx context.Context, key string) (string, bool, error) {
	now := nowMillis()
	if _, err := s.exec(ctx, `DELETE FROM wb_kv WHERE k = ? AND expires_at IS NOT NULL AND expires_at < ?`, key, now); err != nil {
		return "", false, fmt.Errorf("logstore: kv expire sweep: %w", err)
	}
	var v string
	row := s.queryRow(ctx, `SELECT v FROM wb_kv WHERE k = ?`, key)
	if err := row.Scan(&v); err != nil {
		if err == sql.ErrNoRows {
			return "", false, nil
		}
		return "", false, fmt.Errorf("logstore: kv get: %w", err)
	}
	return v, true, nil
}

func (s *sqlStore) Del(ctx context.Context, key string) error {
	_, err := s.exec(ctx, `DELETE FROM wb_kv WHERE k = ?`, key)
	if err != nil {
		return fmt.Errorf("logstore: kv del: %w", err)
	}
	return nil
}
