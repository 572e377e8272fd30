package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"strings"
)

type sqliteColumn struct {
	Name        string
	Type        string
	NotNull     bool
	DefaultText string
}

// migrateSQLite brings alert databases written by earlier builds up to the
// current schema: the rule columns were added after the first release, and
// replayed relay frames could leave duplicate (channel, event_id) rows.
func migrateSQLite(ctx context.Context, db *sql.DB) error {
	path := sqlitePath(ctx, db)
	userVersion, err := sqliteUserVersion(ctx, db)
	if err != nil {
		return fmt.Errorf("sqlite: user_version: %w", err)
	}

	log.Printf("alertd: sqlite: path=%s user_version=%d", path, userVersion)

	columns, err := sqliteTableInfo(ctx, db, "alerts")
	if err != nil {
		return fmt.Errorf("sqlite: describe alerts: %w", err)
	}
	if len(columns) == 0 {
		log.Printf("alertd: sqlite: alerts table missing; skipping migration")
		return nil
	}

	if _, ok := columns["rule_kind"]; !ok {
		if _, err := db.ExecContext(ctx, `ALTER TABLE alerts ADD COLUMN rule_kind TEXT NOT NULL DEFAULT '';`); err != nil {
			return fmt.Errorf("sqlite: ensure rule_kind column: %w", err)
		}
		log.Printf("alertd: sqlite: added rule_kind column to alerts")
	}
	if _, ok := columns["rule_amount"]; !ok {
		if _, err := db.ExecContext(ctx, `ALTER TABLE alerts ADD COLUMN rule_amount REAL NOT NULL DEFAULT 0;`); err != nil {
			return fmt.Errorf("sqlite: ensure rule_amount column: %w", err)
		}
		log.Printf("alertd: sqlite: added rule_amount column to alerts")
	}

	normalize := []struct {
		query string
		label string
	}{
		{`UPDATE alerts SET username='' WHERE username IS NULL;`, "username"},
		{`UPDATE alerts SET rule_kind='' WHERE rule_kind IS NULL;`, "rule_kind"},
		{`UPDATE alerts SET rule_amount=0 WHERE rule_amount IS NULL;`, "rule_amount"},
	}
	for _, step := range normalize {
		res, execErr := db.ExecContext(ctx, step.query)
		if execErr != nil {
			return fmt.Errorf("sqlite: normalize %s: %w", step.label, execErr)
		}
		if n, err := res.RowsAffected(); err == nil && n > 0 {
			log.Printf("alertd: sqlite: normalized %s nulls=%d", step.label, n)
		}
	}

	dedupeSQL := `DELETE FROM alerts
WHERE rowid NOT IN (
    SELECT MIN(rowid)
    FROM alerts
    GROUP BY channel, event_id
);`
	if res, execErr := db.ExecContext(ctx, dedupeSQL); execErr != nil {
		return fmt.Errorf("sqlite: dedupe channel/event_id: %w", execErr)
	} else if n, err := res.RowsAffected(); err == nil && n > 0 {
		log.Printf("alertd: sqlite: removed %d duplicate alerts", n)
	}

	if _, err := db.ExecContext(ctx, `CREATE UNIQUE INDEX IF NOT EXISTS alerts_uq_channel_event
        ON alerts(channel, event_id);`); err != nil {
		return fmt.Errorf("sqlite: ensure alerts_uq_channel_event: %w", err)
	}

	columns, err = sqliteTableInfo(ctx, db, "alerts")
	if err != nil {
		return fmt.Errorf("sqlite: refresh alerts schema: %w", err)
	}

	hasRuleKind := false
	if _, ok := columns["rule_kind"]; ok {
		hasRuleKind = true
	}

	hasIndex, err := sqliteHasIndex(ctx, db, "alerts", "alerts_uq_channel_event")
	if err != nil {
		return fmt.Errorf("sqlite: inspect indices: %w", err)
	}

	log.Printf("alertd: sqlite: rule_kind_column=%v alerts_uq_channel_event=%v",
		hasRuleKind,
		hasIndex,
	)

	return nil
}

func sqlitePath(ctx context.Context, db *sql.DB) string {
	rows, err := db.QueryContext(ctx, `PRAGMA database_list;`)
	if err != nil {
		return "(unknown)"
	}
	defer rows.Close()

	for rows.Next() {
		var (
			seq  int
			name string
			file sql.NullString
		)
		if err := rows.Scan(&seq, &name, &file); err != nil {
			return "(unknown)"
		}
		if strings.EqualFold(strings.TrimSpace(name), "main") {
			if file.Valid && strings.TrimSpace(file.String) != "" {
				return file.String
			}
			return "(memory)"
		}
	}
	if err := rows.Err(); err != nil {
		return "(unknown)"
	}
	return "(unknown)"
}

func sqliteUserVersion(ctx context.Context, db *sql.DB) (int, error) {
	var userVersion int
	if err := db.QueryRowContext(ctx, `PRAGMA user_version;`).Scan(&userVersion); err != nil {
		return 0, err
	}
	return userVersion, nil
}

func sqliteTableInfo(ctx context.Context, db *sql.DB, table string) (map[string]sqliteColumn, error) {
	rows, err := db.QueryContext(ctx, fmt.Sprintf(`PRAGMA table_info(%s);`, table))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]sqliteColumn)
	for rows.Next() {
		var (
			cid        int
			name       string
			colType    string
			notNull    int
			defaultVal sql.NullString
			pk         int
		)
		if err := rows.Scan(&cid, &name, &colType, &notNull, &defaultVal, &pk); err != nil {
			return nil, err
		}
		lower := strings.ToLower(strings.TrimSpace(name))
		out[lower] = sqliteColumn{
			Name:        name,
			Type:        strings.TrimSpace(colType),
			NotNull:     notNull == 1,
			DefaultText: strings.TrimSpace(defaultVal.String),
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func sqliteHasIndex(ctx context.Context, db *sql.DB, table, index string) (bool, error) {
	rows, err := db.QueryContext(ctx, fmt.Sprintf(`PRAGMA index_list('%s');`, table))
	if err != nil {
		return false, err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			seq     int
			name    string
			unique  int
			origin  string
			partial int
		)
		if err := rows.Scan(&seq, &name, &unique, &origin, &partial); err != nil {
			return false, err
		}
		if strings.EqualFold(strings.TrimSpace(name), index) {
			return true, nil
		}
	}
	if err := rows.Err(); err != nil {
		return false, err
	}
	return false, nil
}
