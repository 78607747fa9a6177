package source

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"tableview/internal/engine"
)

// SQLiteSource runs one query against a SQLite database; every result row
// becomes a record keyed by the result column names.
type SQLiteSource struct {
	db    *sql.DB
	query string
	log   *zap.Logger
}

// OpenSQLite opens the database at path and checks the connection.
func OpenSQLite(ctx context.Context, path, query string, log *zap.Logger) (*SQLiteSource, error) {
	if log == nil {
		log = zap.NewNop()
	}
	dsn := path
	if !strings.Contains(dsn, "?") {
		dsn += "?_pragma=busy_timeout(5000)"
	} else {
		dsn += "&_pragma=busy_timeout(5000)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite %s: %w", path, err)
	}
	return &SQLiteSource{db: db, query: query, log: log}, nil
}

func (s *SQLiteSource) Name() string { return "sqlite" }

func (s *SQLiteSource) Load(ctx context.Context) ([]engine.Record, error) {
	rows, err := s.db.QueryContext(ctx, s.query)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()

	names, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	values := make([]any, len(names))
	dest := make([]any, len(names))
	for i := range values {
		dest[i] = &values[i]
	}

	var out []engine.Record
	for rows.Next() {
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		rec := engine.Record{
			Keys:   make([]string, 0, len(names)),
			Values: make(map[string]any, len(names)),
		}
		for i, name := range names {
			if values[i] == nil {
				continue
			}
			rec.Keys = append(rec.Keys, name)
			rec.Values[name] = values[i]
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	s.log.Debug("sqlite query loaded", zap.Int("rows", len(out)))
	return out, nil
}

func (s *SQLiteSource) Close() error {
	return s.db.Close()
}
