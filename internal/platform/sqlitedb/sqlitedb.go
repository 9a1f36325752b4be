package sqlitedb

import (
	"database/sql"
	"os"
	"path/filepath"

	"golang.org/x/xerrors"

	_ "modernc.org/sqlite"
)

// Open opens (creating if needed) a SQLite database file. The pool is
// limited to one connection so transactions carried on a context never
// contend with a second writer in the same process.
func Open(path string) (*sql.DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, xerrors.Errorf("create db dir: %w", err)
	}
	db, err := sql.Open("sqlite", "file:"+path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, xerrors.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, xerrors.Errorf("ping sqlite: %w", err)
	}
	return db, nil
}
