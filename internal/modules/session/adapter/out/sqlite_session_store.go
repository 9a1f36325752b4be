package out

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"

	"golang.org/x/xerrors"

	"dwell/internal/modules/session/domain"
	sessionout "dwell/internal/modules/session/port/out"
	apperrors "dwell/internal/platform/errors"
	"dwell/internal/platform/tx"
)

// SQLiteSessionStore persists session records and the outbox of session ops
// in the same database so both can change in one transaction.
type SQLiteSessionStore struct {
	db *sql.DB
}

func NewSQLiteSessionStore(ctx context.Context, db *sql.DB) (*SQLiteSessionStore, error) {
	const ddl = `
CREATE TABLE IF NOT EXISTS session_records (
  local_id TEXT PRIMARY KEY,
  session_id TEXT NOT NULL DEFAULT '',
  status TEXT NOT NULL,
  start_time INTEGER NOT NULL,
  updated_at INTEGER NOT NULL,
  body TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS session_records_start ON session_records(start_time DESC);
CREATE TABLE IF NOT EXISTS session_ops (
  seq INTEGER PRIMARY KEY AUTOINCREMENT,
  local_id TEXT NOT NULL,
  kind TEXT NOT NULL,
  snapshot TEXT NOT NULL,
  created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS session_ops_local ON session_ops(local_id, seq);
`
	if _, err := db.ExecContext(ctx, ddl); err != nil {
		return nil, xerrors.Errorf("create session tables: %w", err)
	}
	return &SQLiteSessionStore{db: db}, nil
}

var (
	_ sessionout.RecordStore = (*SQLiteSessionStore)(nil)
	_ sessionout.OpStore     = (*SQLiteSessionStore)(nil)
)

func (s *SQLiteSessionStore) Save(ctx context.Context, record domain.Record) error {
	body, err := json.Marshal(record)
	if err != nil {
		return xerrors.Errorf("encode session: %w", err)
	}
	const stmt = `
INSERT INTO session_records (local_id, session_id, status, start_time, updated_at, body)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT(local_id) DO UPDATE SET
  session_id=excluded.session_id,
  status=excluded.status,
  updated_at=excluded.updated_at,
  body=excluded.body;
`
	if _, err := tx.From(ctx, s.db).ExecContext(ctx, stmt, record.LocalID, record.SessionID, string(record.Status),
		record.StartTime, record.UpdatedAt, string(body)); err != nil {
		return xerrors.Errorf("upsert session: %w", err)
	}
	return nil
}

func (s *SQLiteSessionStore) Get(ctx context.Context, localID string) (domain.Record, error) {
	var body string
	err := tx.From(ctx, s.db).QueryRowContext(ctx, `SELECT body FROM session_records WHERE local_id = ?`, localID).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Record{}, xerrors.Errorf("session %s: %w", localID, apperrors.ErrNotFound)
	}
	if err != nil {
		return domain.Record{}, xerrors.Errorf("get session: %w", err)
	}
	return decodeRecord(body)
}

func (s *SQLiteSessionStore) Recent(ctx context.Context, limit int) ([]domain.Record, error) {
	rows, err := tx.From(ctx, s.db).QueryContext(ctx, `SELECT body FROM session_records ORDER BY start_time DESC LIMIT ?`, limit)
	if err != nil {
		return nil, xerrors.Errorf("list sessions: %w", err)
	}
	defer rows.Close()
	var out []domain.Record
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, xerrors.Errorf("scan session: %w", err)
		}
		record, err := decodeRecord(body)
		if err != nil {
			return nil, err
		}
		out = append(out, record)
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Errorf("iterate sessions: %w", err)
	}
	return out, nil
}

func (s *SQLiteSessionStore) Enqueue(ctx context.Context, op domain.Op) error {
	snapshot, err := json.Marshal(op.Snapshot)
	if err != nil {
		return xerrors.Errorf("encode op snapshot: %w", err)
	}
	if _, err := tx.From(ctx, s.db).ExecContext(ctx,
		`INSERT INTO session_ops (local_id, kind, snapshot, created_at) VALUES (?, ?, ?, ?)`,
		op.LocalID, string(op.Kind), string(snapshot), op.CreatedAt); err != nil {
		return xerrors.Errorf("enqueue op: %w", err)
	}
	return nil
}

func (s *SQLiteSessionStore) Pending(ctx context.Context, limit int) ([]domain.Op, error) {
	rows, err := tx.From(ctx, s.db).QueryContext(ctx,
		`SELECT seq, local_id, kind, snapshot, created_at FROM session_ops ORDER BY seq LIMIT ?`, limit)
	if err != nil {
		return nil, xerrors.Errorf("list ops: %w", err)
	}
	defer rows.Close()
	var out []domain.Op
	for rows.Next() {
		var (
			op       domain.Op
			kind     string
			snapshot string
		)
		if err := rows.Scan(&op.Seq, &op.LocalID, &kind, &snapshot, &op.CreatedAt); err != nil {
			return nil, xerrors.Errorf("scan op: %w", err)
		}
		op.Kind = domain.OpKind(kind)
		if err := json.Unmarshal([]byte(snapshot), &op.Snapshot); err != nil {
			return nil, xerrors.Errorf("decode op snapshot: %w", err)
		}
		out = append(out, op)
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Errorf("iterate ops: %w", err)
	}
	return out, nil
}

func (s *SQLiteSessionStore) Ack(ctx context.Context, seqs []int64) error {
	if len(seqs) == 0 {
		return nil
	}
	args := make([]any, len(seqs))
	for i, seq := range seqs {
		args[i] = seq
	}
	marks := strings.TrimSuffix(strings.Repeat("?,", len(seqs)), ",")
	if _, err := tx.From(ctx, s.db).ExecContext(ctx, `DELETE FROM session_ops WHERE seq IN (`+marks+`)`, args...); err != nil {
		return xerrors.Errorf("ack ops: %w", err)
	}
	return nil
}

func (s *SQLiteSessionStore) DiscardSession(ctx context.Context, localID string) error {
	if _, err := tx.From(ctx, s.db).ExecContext(ctx, `DELETE FROM session_ops WHERE local_id = ?`, localID); err != nil {
		return xerrors.Errorf("discard ops: %w", err)
	}
	return nil
}

func decodeRecord(body string) (domain.Record, error) {
	var record domain.Record
	if err := json.Unmarshal([]byte(body), &record); err != nil {
		return domain.Record{}, xerrors.Errorf("decode session: %w", err)
	}
	if record.PauseHistory == nil {
		record.PauseHistory = []domain.PauseEntry{}
	}
	return record, nil
}
