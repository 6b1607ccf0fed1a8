package logstore

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// OpenSQLite opens (creating if necessary) a sqlite-backed Store at path.
// Use ":memory:" for an ephemeral, still-durable-within-process-lifetime
// store useful in tests that want to exercise the SQL core without a real
// file on disk.
func OpenSQLite(path string) (Store, error) {
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("logstore: open sqlite: %w", err)
	}
	// The sqlite3 driver serializes access through one connection at a
	// time; a single shared connection avoids SQLITE_BUSY under the
	// read-modify-write transactions ReadGroup relies on.
	db.SetMaxOpenConns(1)
	store, err := newSQLStore(db, sqliteDialect{})
	if err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}
