// Package history persists alert playback outcomes so the overlay UI can
// show what fired, what was skipped and why.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/pkg/errors"

	"github.com/you/gnasty-alerts/internal/httpapi"
)

const schema = `CREATE TABLE IF NOT EXISTS alerts (
  event_id INTEGER NOT NULL,
  channel TEXT NOT NULL,
  username TEXT NOT NULL,
  event_type TEXT NOT NULL,
  amount REAL NOT NULL DEFAULT 0,
  outcome TEXT NOT NULL,
  rule_kind TEXT NOT NULL DEFAULT '',
  rule_amount REAL NOT NULL DEFAULT 0,
  ts TEXT NOT NULL,
  PRIMARY KEY (channel, event_id)
);
CREATE INDEX IF NOT EXISTS alerts_outcome ON alerts (outcome);
CREATE INDEX IF NOT EXISTS alerts_ts ON alerts (ts);`

type SQLiteStore struct {
	db *sql.DB
}

const defaultListLimit = 100

func OpenSQLite(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrap(err, "open sqlite")
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "apply schema")
	}
	if _, err := db.Exec(`PRAGMA journal_mode=wal;`); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "set WAL")
	}
	ApplySQLitePragmas(context.Background(), db)
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

// RawDB exposes the underlying handle for migrations.
func (s *SQLiteStore) RawDB() *sql.DB { return s.db }

func (s *SQLiteStore) Ping() error { return s.db.Ping() }

func (s *SQLiteStore) String() string {
	return fmt.Sprintf("SQLiteStore{%p}", s.db)
}

// Write inserts one outcome row. Replays of the same (channel, event) pair
// are ignored.
func (s *SQLiteStore) Write(row httpapi.AlertRow) error {
	const q = `INSERT INTO alerts (event_id, channel, username, event_type, amount, outcome, rule_kind, rule_amount, ts)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(channel, event_id) DO NOTHING;`
	ts := row.Ts.UTC().Format(time.RFC3339Nano)
	_, err := s.db.Exec(q, row.EventID, row.Channel, row.Username, row.EventType,
		row.Amount, row.Outcome, row.RuleKind, row.RuleAmount, ts)
	return errors.Wrap(err, "insert alert")
}

func (s *SQLiteStore) CountAlerts(ctx context.Context, filters httpapi.Filters) (int64, error) {
	query, args := buildAlertQuery(filters, true)
	var n int64
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, errors.Wrap(err, "count")
	}
	return n, nil
}

func (s *SQLiteStore) ListAlerts(ctx context.Context, filters httpapi.Filters) ([]httpapi.AlertRow, error) {
	query, args := buildAlertQuery(filters, false)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "list alerts")
	}
	defer rows.Close()

	var out []httpapi.AlertRow
	for rows.Next() {
		var (
			row httpapi.AlertRow
			ts  string
		)
		if err := rows.Scan(&row.EventID, &row.Channel, &row.Username, &row.EventType,
			&row.Amount, &row.Outcome, &row.RuleKind, &row.RuleAmount, &ts); err != nil {
			return nil, errors.Wrap(err, "scan alert")
		}
		if t, err := time.Parse(time.RFC3339Nano, ts); err == nil {
			row.Ts = t
		}
		out = append(out, row)
	}

	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "iterate alerts")
	}
	return out, nil
}

func buildAlertQuery(filters httpapi.Filters, count bool) (string, []any) {
	var builder strings.Builder
	if count {
		builder.WriteString("SELECT COUNT(*) FROM alerts")
	} else {
		builder.WriteString("SELECT event_id, channel, username, event_type, amount, outcome, rule_kind, rule_amount, ts FROM alerts")
	}

	var (
		conditions []string
		args       []any
	)

	if len(filters.Channels) > 0 {
		placeholders := make([]string, 0, len(filters.Channels))
		for _, c := range filters.Channels {
			placeholders = append(placeholders, "?")
			args = append(args, c)
		}
		conditions = append(conditions, fmt.Sprintf("LOWER(channel) IN (%s)", strings.Join(placeholders, ",")))
	}

	if len(filters.Outcomes) > 0 {
		placeholders := make([]string, 0, len(filters.Outcomes))
		for _, o := range filters.Outcomes {
			placeholders = append(placeholders, "?")
			args = append(args, o)
		}
		conditions = append(conditions, fmt.Sprintf("outcome IN (%s)", strings.Join(placeholders, ",")))
	}

	if filters.Since != nil {
		conditions = append(conditions, "ts >= ?")
		args = append(args, filters.Since.UTC().Format(time.RFC3339Nano))
	}

	if len(conditions) > 0 {
		builder.WriteString(" WHERE ")
		builder.WriteString(strings.Join(conditions, " AND "))
	}

	if !count {
		order := "DESC"
		if filters.Order == httpapi.OrderAsc {
			order = "ASC"
		}
		builder.WriteString(" ORDER BY ts ")
		builder.WriteString(order)
		limit := filters.Limit
		if limit <= 0 {
			limit = defaultListLimit
		}
		builder.WriteString(" LIMIT ?")
		args = append(args, limit)
	}

	builder.WriteString(";")
	return builder.String(), args
}
