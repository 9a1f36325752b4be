package out

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"golang.org/x/xerrors"

	"dwell/internal/modules/activity/domain"
	activityout "dwell/internal/modules/activity/port/out"
	"dwell/internal/platform/tx"
)

type SQLiteAggregateStore struct {
	db *sql.DB
}

func NewSQLiteAggregateStore(ctx context.Context, db *sql.DB) (*SQLiteAggregateStore, error) {
	s := &SQLiteAggregateStore{db: db}
	const ddl = `
CREATE TABLE IF NOT EXISTS aggregates (
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
`
	if _, err := db.ExecContext(ctx, ddl); err != nil {
		return nil, xerrors.Errorf("create aggregates table: %w", err)
	}
	return s, nil
}

var _ activityout.AggregateStore = (*SQLiteAggregateStore)(nil)

const selectAggregates = `SELECT user_id, local_date, domain, category, total_time, tz_name, offset_minutes, sessions, updated_at FROM aggregates`

func (s *SQLiteAggregateStore) Get(ctx context.Context, userID, localDate, domainName string) (domain.Aggregate, bool, error) {
	row := tx.From(ctx, s.db).QueryRowContext(ctx, selectAggregates+` WHERE user_id = ? AND local_date = ? AND domain = ?`, userID, localDate, domainName)
	agg, err := scanAggregate(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Aggregate{}, false, nil
	}
	if err != nil {
		return domain.Aggregate{}, false, err
	}
	return agg, true, nil
}

func (s *SQLiteAggregateStore) Save(ctx context.Context, agg domain.Aggregate) error {
	sessions, err := json.Marshal(agg.Sessions)
	if err != nil {
		return xerrors.Errorf("encode sessions: %w", err)
	}
	const stmt = `
INSERT INTO aggregates (user_id, local_date, domain, category, total_time, tz_name, offset_minutes, sessions, updated_at)
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
		return xerrors.Errorf("upsert aggregate: %w", err)
	}
	return nil
}

func (s *SQLiteAggregateStore) ListDay(ctx context.Context, userID, localDate string) ([]domain.Aggregate, error) {
	rows, err := tx.From(ctx, s.db).QueryContext(ctx, selectAggregates+` WHERE user_id = ? AND local_date = ? ORDER BY total_time DESC, domain`, userID, localDate)
	if err != nil {
		return nil, xerrors.Errorf("list aggregates: %w", err)
	}
	defer rows.Close()
	var out []domain.Aggregate
	for rows.Next() {
		agg, err := scanAggregate(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, agg)
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Errorf("iterate aggregates: %w", err)
	}
	return out, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanAggregate(row scanner) (domain.Aggregate, error) {
	var (
		agg      domain.Aggregate
		sessions string
	)
	if err := row.Scan(&agg.UserID, &agg.LocalDate, &agg.Domain, &agg.Category, &agg.TotalTime,
		&agg.Timezone.Name, &agg.Timezone.OffsetMinutes, &sessions, &agg.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Aggregate{}, err
		}
		return domain.Aggregate{}, xerrors.Errorf("scan aggregate: %w", err)
	}
	if err := json.Unmarshal([]byte(sessions), &agg.Sessions); err != nil {
		return domain.Aggregate{}, xerrors.Errorf("decode sessions: %w", err)
	}
	return agg, nil
}
