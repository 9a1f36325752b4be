package out

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"golang.org/x/xerrors"

	activity "dwell/internal/modules/activity/domain"
	"dwell/internal/modules/ledger/domain"
	ledgerout "dwell/internal/modules/ledger/port/out"
	sessiondomain "dwell/internal/modules/session/domain"
	apperrors "dwell/internal/platform/errors"
	"dwell/internal/platform/tx"
)

// SQLiteStore persists the ledger: aggregates, span receipts, sessions and
// each user's last reported timezone.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(ctx context.Context, db *sql.DB) (*SQLiteStore, error) {
	const ddl = `
CREATE TABLE IF NOT EXISTS ledger_aggregates (
  user_id TEXT NOT NULL,
  local_date TEXT NOT NULL,
  domain TEXT NOT NULL,
  category TEXT NOT NULL,
  total_time INTEGER NOT NULL,
  tz_name TEXT NOT NULL,
  offset_minutes INTEGER NOT NULL,
  sessions TEXT NOT NULL,
  updated_at INTEGER NOT NULL,
  PRIMARY KEY (user_id, local_date, domain)
);
CREATE TABLE IF NOT EXISTS ledger_receipts (
  user_id TEXT NOT NULL,
  domain TEXT NOT NULL,
  start_ms INTEGER NOT NULL,
  end_ms INTEGER NOT NULL,
  applied_at INTEGER NOT NULL,
  PRIMARY KEY (user_id, domain, start_ms, end_ms)
);
CREATE TABLE IF NOT EXISTS ledger_sessions (
  id TEXT PRIMARY KEY,
  user_id TEXT NOT NULL,
  client_session_id TEXT NOT NULL,
  status TEXT NOT NULL,
  start_time INTEGER NOT NULL,
  body TEXT NOT NULL,
  created_at INTEGER NOT NULL,
  updated_at INTEGER NOT NULL,
  UNIQUE (user_id, client_session_id)
);
CREATE INDEX IF NOT EXISTS idx_ledger_sessions_user_start ON ledger_sessions(user_id, start_time);
CREATE TABLE IF NOT EXISTS ledger_user_timezones (
  user_id TEXT PRIMARY KEY,
  tz_name TEXT NOT NULL,
  offset_minutes INTEGER NOT NULL,
  updated_at INTEGER NOT NULL
);
`
	if _, err := db.ExecContext(ctx, ddl); err != nil {
		return nil, xerrors.Errorf("create ledger tables: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

var _ ledgerout.Store = (*SQLiteStore)(nil)

const selectAggregates = `SELECT user_id, local_date, domain, category, total_time, tz_name, offset_minutes, sessions, updated_at FROM ledger_aggregates`

func (s *SQLiteStore) GetAggregate(ctx context.Context, userID, localDate, domainName string) (activity.Aggregate, bool, error) {
	row := tx.From(ctx, s.db).QueryRowContext(ctx, selectAggregates+` WHERE user_id = ? AND local_date = ? AND domain = ?`, userID, localDate, domainName)
	agg, err := scanAggregate(row)
	if errors.Is(err, sql.ErrNoRows) {
		return activity.Aggregate{}, false, nil
	}
	if err != nil {
		return activity.Aggregate{}, false, err
	}
	return agg, true, nil
}

func (s *SQLiteStore) SaveAggregate(ctx context.Context, agg activity.Aggregate) error {
	sessions, err := json.Marshal(agg.Sessions)
	if err != nil {
		return xerrors.Errorf("encode spans: %w", err)
	}
	const stmt = `
INSERT INTO ledger_aggregates (user_id, local_date, domain, category, total_time, tz_name, offset_minutes, sessions, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(user_id, local_date, domain) DO UPDATE SET
  category=excluded.category,
  total_time=excluded.total_time,
  tz_name=excluded.tz_name,
  offset_minutes=excluded.offset_minutes,
  sessions=excluded.sessions,
  updated_at=excluded.updated_at;
`
	if _, err := tx.From(ctx, s.db).ExecContext(ctx, stmt, agg.UserID, agg.LocalDate, agg.Domain, agg.Category, agg.TotalTime,
		agg.Timezone.Name, agg.Timezone.OffsetMinutes, string(sessions), agg.UpdatedAt); err != nil {
		return xerrors.Errorf("upsert ledger aggregate: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ListDay(ctx context.Context, userID, localDate string) ([]activity.Aggregate, error) {
	rows, err := tx.From(ctx, s.db).QueryContext(ctx, selectAggregates+` WHERE user_id = ? AND local_date = ? ORDER BY total_time DESC, domain`, userID, localDate)
	if err != nil {
		return nil, xerrors.Errorf("list ledger aggregates: %w", err)
	}
	defer rows.Close()
	out := []activity.Aggregate{}
	for rows.Next() {
		agg, err := scanAggregate(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, agg)
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Errorf("iterate ledger aggregates: %w", err)
	}
	return out, nil
}

func (s *SQLiteStore) Claim(ctx context.Context, r domain.Receipt, appliedAt int64) (bool, error) {
	res, err := tx.From(ctx, s.db).ExecContext(ctx,
		`INSERT OR IGNORE INTO ledger_receipts (user_id, domain, start_ms, end_ms, applied_at) VALUES (?, ?, ?, ?, ?)`,
		r.UserID, r.Domain, r.StartMs, r.EndMs, appliedAt)
	if err != nil {
		return false, xerrors.Errorf("insert receipt: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, xerrors.Errorf("receipt rows: %w", err)
	}
	return n == 1, nil
}

const selectSessions = `SELECT id, user_id, body, created_at FROM ledger_sessions`

func (s *SQLiteStore) GetSession(ctx context.Context, userID, sessionID string) (domain.Session, error) {
	return s.oneSession(ctx, selectSessions+` WHERE id = ? AND user_id = ?`, sessionID, userID)
}

func (s *SQLiteStore) SessionByClientID(ctx context.Context, userID, clientSessionID string) (domain.Session, error) {
	return s.oneSession(ctx, selectSessions+` WHERE user_id = ? AND client_session_id = ?`, userID, clientSessionID)
}

func (s *SQLiteStore) Holding(ctx context.Context, userID string) ([]domain.Session, error) {
	return s.sessions(ctx, selectSessions+` WHERE user_id = ? AND status IN (?, ?) ORDER BY start_time`,
		userID, string(sessiondomain.StatusActive), string(sessiondomain.StatusPaused))
}

func (s *SQLiteStore) ListRange(ctx context.Context, userID string, startMs, endMs int64) ([]domain.Session, error) {
	return s.sessions(ctx, selectSessions+` WHERE user_id = ? AND start_time >= ? AND start_time < ? ORDER BY start_time`,
		userID, startMs, endMs)
}

func (s *SQLiteStore) SaveSession(ctx context.Context, session domain.Session) error {
	body, err := json.Marshal(session.Record)
	if err != nil {
		return xerrors.Errorf("encode session: %w", err)
	}
	const stmt = `
INSERT INTO ledger_sessions (id, user_id, client_session_id, status, start_time, body, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
  status=excluded.status,
  body=excluded.body,
  updated_at=excluded.updated_at;
`
	if _, err := tx.From(ctx, s.db).ExecContext(ctx, stmt, session.ID, session.UserID, session.Record.LocalID,
		string(session.Record.Status), session.Record.StartTime, string(body), session.CreatedAt, session.Record.UpdatedAt); err != nil {
		return xerrors.Errorf("upsert ledger session: %w", err)
	}
	return nil
}

func (s *SQLiteStore) UserTimezone(ctx context.Context, userID string) (activity.Timezone, error) {
	var tz activity.Timezone
	err := tx.From(ctx, s.db).QueryRowContext(ctx,
		`SELECT tz_name, offset_minutes FROM ledger_user_timezones WHERE user_id = ?`, userID).Scan(&tz.Name, &tz.OffsetMinutes)
	if errors.Is(err, sql.ErrNoRows) {
		return activity.Timezone{}, xerrors.Errorf("timezone of %s: %w", userID, apperrors.ErrNotFound)
	}
	if err != nil {
		return activity.Timezone{}, xerrors.Errorf("load user timezone: %w", err)
	}
	return tz, nil
}

func (s *SQLiteStore) SetUserTimezone(ctx context.Context, userID string, tz activity.Timezone, at int64) error {
	const stmt = `
INSERT INTO ledger_user_timezones (user_id, tz_name, offset_minutes, updated_at) VALUES (?, ?, ?, ?)
ON CONFLICT(user_id) DO UPDATE SET
  tz_name=excluded.tz_name,
  offset_minutes=excluded.offset_minutes,
  updated_at=excluded.updated_at;
`
	if _, err := tx.From(ctx, s.db).ExecContext(ctx, stmt, userID, tz.Name, tz.OffsetMinutes, at); err != nil {
		return xerrors.Errorf("save user timezone: %w", err)
	}
	return nil
}

func (s *SQLiteStore) oneSession(ctx context.Context, query string, args ...any) (domain.Session, error) {
	session, err := scanSession(tx.From(ctx, s.db).QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Session{}, xerrors.Errorf("ledger session: %w", apperrors.ErrNotFound)
	}
	return session, err
}

func (s *SQLiteStore) sessions(ctx context.Context, query string, args ...any) ([]domain.Session, error) {
	rows, err := tx.From(ctx, s.db).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, xerrors.Errorf("list ledger sessions: %w", err)
	}
	defer rows.Close()
	out := []domain.Session{}
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, session)
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Errorf("iterate ledger sessions: %w", err)
	}
	return out, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSession(row scanner) (domain.Session, error) {
	var (
		session domain.Session
		body    string
	)
	if err := row.Scan(&session.ID, &session.UserID, &body, &session.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Session{}, err
		}
		return domain.Session{}, xerrors.Errorf("scan ledger session: %w", err)
	}
	if err := json.Unmarshal([]byte(body), &session.Record); err != nil {
		return domain.Session{}, xerrors.Errorf("decode ledger session: %w", err)
	}
	return session, nil
}

func scanAggregate(row scanner) (activity.Aggregate, error) {
	var (
		agg   activity.Aggregate
		spans string
	)
	if err := row.Scan(&agg.UserID, &agg.LocalDate, &agg.Domain, &agg.Category, &agg.TotalTime,
		&agg.Timezone.Name, &agg.Timezone.OffsetMinutes, &spans, &agg.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return activity.Aggregate{}, err
		}
		return activity.Aggregate{}, xerrors.Errorf("scan ledger aggregate: %w", err)
	}
	if err := json.Unmarshal([]byte(spans), &agg.Sessions); err != nil {
		return activity.Aggregate{}, xerrors.Errorf("decode spans: %w", err)
	}
	return agg, nil
}
