package out

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"golang.org/x/xerrors"

	"dwell/internal/modules/activity/domain"
	activityout "dwell/internal/modules/activity/port/out"
	"dwell/internal/platform/clock"
	"dwell/internal/platform/tx"
)

// SQLiteEventBuffer keeps intervals in an on-disk table until they are
// acknowledged, then retains a bounded number of acknowledged rows per
// (domain, local day) for recovery.
type SQLiteEventBuffer struct {
	db              *sql.DB
	tx              tx.Manager
	clock           clock.Clock
	minDuration     int64
	retentionPerDay int
}

func NewSQLiteEventBuffer(ctx context.Context, db *sql.DB, clk clock.Clock, minDuration time.Duration, retentionPerDay int) (*SQLiteEventBuffer, error) {
	b := &SQLiteEventBuffer{
		db:              db,
		tx:              tx.NewSQLManager(db),
		clock:           clk,
		minDuration:     minDuration.Milliseconds(),
		retentionPerDay: retentionPerDay,
	}
	if err := b.ensureSchema(ctx); err != nil {
		return nil, err
	}
	return b, nil
}

var _ activityout.EventBuffer = (*SQLiteEventBuffer)(nil)

func (b *SQLiteEventBuffer) ensureSchema(ctx context.Context) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS intervals (
  id TEXT PRIMARY KEY,
  kind TEXT NOT NULL,
  domain TEXT NOT NULL,
  start_ms INTEGER NOT NULL,
  end_ms INTEGER NOT NULL,
  duration INTEGER NOT NULL,
  offset_minutes INTEGER NOT NULL,
  tz_name TEXT NOT NULL,
  created_at INTEGER NOT NULL,
  local_date TEXT NOT NULL,
  state TEXT NOT NULL,
  acked_at INTEGER
);
CREATE INDEX IF NOT EXISTS intervals_state_start ON intervals(state, start_ms);
CREATE INDEX IF NOT EXISTS intervals_day ON intervals(domain, local_date, state);
`
	if _, err := b.db.ExecContext(ctx, ddl); err != nil {
		return xerrors.Errorf("create intervals table: %w", err)
	}
	return nil
}

func (b *SQLiteEventBuffer) Append(ctx context.Context, interval domain.Interval) (bool, error) {
	if interval.Duration < b.minDuration {
		return false, nil
	}
	localDate, err := interval.LocalDate()
	if err != nil {
		return false, err
	}
	const stmt = `
INSERT INTO intervals (id, kind, domain, start_ms, end_ms, duration, offset_minutes, tz_name, created_at, local_date, state)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO NOTHING;
`
	res, err := tx.From(ctx, b.db).ExecContext(ctx, stmt,
		interval.ID, interval.Kind, interval.Domain, interval.StartMs, interval.EndMs, interval.Duration,
		interval.OffsetMinutes, interval.TimezoneName, interval.CreatedAt, localDate, string(domain.StatePending),
	)
	if err != nil {
		return false, xerrors.Errorf("insert interval: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, xerrors.Errorf("insert interval: %w", err)
	}
	return n > 0, nil
}

func (b *SQLiteEventBuffer) Drain(ctx context.Context, limit int) ([]domain.Interval, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := tx.From(ctx, b.db).QueryContext(ctx, selectIntervals+` WHERE state = ? ORDER BY start_ms, id LIMIT ?`, string(domain.StatePending), limit)
	if err != nil {
		return nil, xerrors.Errorf("drain intervals: %w", err)
	}
	defer rows.Close()
	items, err := scanIntervals(rows)
	if err != nil {
		return nil, err
	}
	out := make([]domain.Interval, 0, len(items))
	for _, item := range items {
		out = append(out, item.Interval)
	}
	return out, nil
}

// Acknowledge marks ids as accepted by the remote store and prunes the
// affected days down to the retention limit.
func (b *SQLiteEventBuffer) Acknowledge(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	now := clock.NowMillis(b.clock, "buffer", "ack")
	return b.tx.Within(ctx, func(ctx context.Context) error {
		q := tx.From(ctx, b.db)
		args := append([]any{string(domain.StateAcknowledged), now, string(domain.StatePending)}, anyArgs(ids)...)
		if _, err := q.ExecContext(ctx, `UPDATE intervals SET state = ?, acked_at = ? WHERE state = ? AND id IN (`+placeholders(len(ids))+`)`, args...); err != nil {
			return xerrors.Errorf("acknowledge intervals: %w", err)
		}
		rows, err := q.QueryContext(ctx, `SELECT DISTINCT domain, local_date FROM intervals WHERE id IN (`+placeholders(len(ids))+`)`, anyArgs(ids)...)
		if err != nil {
			return xerrors.Errorf("list acknowledged days: %w", err)
		}
		type day struct{ domain, date string }
		var days []day
		for rows.Next() {
			var d day
			if err := rows.Scan(&d.domain, &d.date); err != nil {
				_ = rows.Close()
				return xerrors.Errorf("scan day: %w", err)
			}
			days = append(days, d)
		}
		if err := rows.Close(); err != nil {
			return err
		}
		for _, d := range days {
			const prune = `
DELETE FROM intervals WHERE id IN (
  SELECT id FROM intervals
  WHERE domain = ? AND local_date = ? AND state = ?
  ORDER BY acked_at DESC, start_ms DESC
  LIMIT -1 OFFSET ?
);`
			if _, err := q.ExecContext(ctx, prune, d.domain, d.date, string(domain.StateAcknowledged), b.retentionPerDay); err != nil {
				return xerrors.Errorf("prune intervals: %w", err)
			}
		}
		return nil
	})
}

func (b *SQLiteEventBuffer) Drop(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	if _, err := tx.From(ctx, b.db).ExecContext(ctx, `DELETE FROM intervals WHERE id IN (`+placeholders(len(ids))+`)`, anyArgs(ids)...); err != nil {
		return xerrors.Errorf("drop intervals: %w", err)
	}
	return nil
}

func (b *SQLiteEventBuffer) All(ctx context.Context) ([]domain.Buffered, error) {
	rows, err := tx.From(ctx, b.db).QueryContext(ctx, selectIntervals+` ORDER BY start_ms, id`)
	if err != nil {
		return nil, xerrors.Errorf("list intervals: %w", err)
	}
	defer rows.Close()
	return scanIntervals(rows)
}

func (b *SQLiteEventBuffer) Stats(ctx context.Context) (domain.BufferStats, error) {
	var stats domain.BufferStats
	err := tx.From(ctx, b.db).QueryRowContext(ctx, `
SELECT
  COALESCE(SUM(CASE WHEN state = 'pending' THEN 1 ELSE 0 END), 0),
  COALESCE(SUM(CASE WHEN state = 'acknowledged' THEN 1 ELSE 0 END), 0)
FROM intervals`).Scan(&stats.Pending, &stats.Acknowledged)
	if err != nil {
		return domain.BufferStats{}, xerrors.Errorf("buffer stats: %w", err)
	}
	return stats, nil
}

const selectIntervals = `SELECT id, kind, domain, start_ms, end_ms, duration, offset_minutes, tz_name, created_at, state, COALESCE(acked_at, 0) FROM intervals`

func scanIntervals(rows *sql.Rows) ([]domain.Buffered, error) {
	var out []domain.Buffered
	for rows.Next() {
		var (
			item  domain.Buffered
			state string
		)
		if err := rows.Scan(&item.ID, &item.Kind, &item.Domain, &item.StartMs, &item.EndMs, &item.Duration,
			&item.OffsetMinutes, &item.TimezoneName, &item.CreatedAt, &state, &item.AckedAt); err != nil {
			return nil, xerrors.Errorf("scan interval: %w", err)
		}
		item.State = domain.BufferState(state)
		out = append(out, item)
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Errorf("iterate intervals: %w", err)
	}
	return out, nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func anyArgs(values []string) []any {
	out := make([]any, len(values))
	for i, v := range values {
		out[i] = v
	}
	return out
}
