package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/fleet-feedback/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite. Timestamps are
// stored as unix milliseconds so range comparisons stay numeric.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	// One writer at a time; this also keeps ":memory:" databases on one connection.
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS feedback_submissions (
	id             TEXT PRIMARY KEY,
	scheme         TEXT NOT NULL,
	entity_key     TEXT NOT NULL,
	actor_token    TEXT NOT NULL,
	kind           TEXT NOT NULL,
	message        TEXT NOT NULL,
	reporter_name  TEXT,
	reporter_phone TEXT,
	operator_name  TEXT,
	lat            REAL,
	lon            REAL,
	locality       TEXT,
	region         TEXT,
	created_at     INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_feedback_submissions_recent
	ON feedback_submissions (scheme, entity_key, actor_token, created_at);
`

const sqliteColumns = `id, scheme, entity_key, actor_token, kind, message, reporter_name, reporter_phone, operator_name, lat, lon, locality, region, created_at`

const sqliteRecentPredicate = `scheme = ? AND entity_key = ? AND actor_token = ? AND created_at >= ?`

// Migrate creates the submission table and its lookup index.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// HasRecent implements Store.
func (s *SQLiteStore) HasRecent(ctx context.Context, q RecentQuery) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM feedback_submissions WHERE `+sqliteRecentPredicate+`)`,
		recentArgs(q)...,
	).Scan(&exists)
	if err != nil {
		return false, eris.Wrap(err, "sqlite: has recent submission")
	}
	return exists, nil
}

// Insert implements Store.
func (s *SQLiteStore) Insert(ctx context.Context, sub *model.Submission) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO feedback_submissions (`+sqliteColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sqliteRowArgs(sub)...,
	)
	if err != nil {
		return eris.Wrap(err, "sqlite: insert submission")
	}
	return nil
}

// InsertUnlessRecent implements Store. The existence check is part of the
// INSERT statement, and SQLite runs one writer at a time.
func (s *SQLiteStore) InsertUnlessRecent(ctx context.Context, sub *model.Submission, since time.Time) (bool, error) {
	args := append(sqliteRowArgs(sub), recentArgs(recentOf(sub, since))...)
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO feedback_submissions (`+sqliteColumns+`)
		SELECT ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?
		WHERE NOT EXISTS (SELECT 1 FROM feedback_submissions WHERE `+sqliteRecentPredicate+`)`,
		args...,
	)
	if err != nil {
		return false, eris.Wrap(err, "sqlite: conditional insert submission")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, eris.Wrap(err, "sqlite: rows affected")
	}
	return n == 1, nil
}

func recentArgs(q RecentQuery) []any {
	return []any{string(q.Scheme), q.EntityKey, q.ActorToken, q.Since.UnixMilli()}
}

func sqliteRowArgs(sub *model.Submission) []any {
	var lat, lon, locality, region any
	if sub.Location != nil {
		lat, lon = sub.Location.Lat, sub.Location.Lon
		locality, region = nullable(sub.Location.Locality), nullable(sub.Location.Region)
	}
	return []any{
		sub.ID,
		string(sub.Scheme),
		sub.EntityKey,
		sub.ActorToken,
		string(sub.Kind),
		sub.Message,
		nullable(sub.ReporterName),
		nullable(sub.ReporterPhone),
		nullable(sub.OperatorName),
		lat,
		lon,
		locality,
		region,
		sub.CreatedAt.UnixMilli(),
	}
}
