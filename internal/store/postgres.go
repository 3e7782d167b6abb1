package store

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/ewkb"

	"github.com/sells-group/fleet-feedback/internal/db"
	"github.com/sells-group/fleet-feedback/internal/model"
)

// PostgresStore implements Store on PostGIS-enabled Postgres.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// NewPostgres creates a PostgresStore with its own connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg db.PoolConfig) (*PostgresStore, error) {
	pool, err := db.NewPool(ctx, connString, poolCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: connect submission store")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// NewPostgresFromPool wraps an existing pool. Close does not close it.
func NewPostgresFromPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const postgresMigration = `
CREATE EXTENSION IF NOT EXISTS postgis;

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
	location       geometry(Point, 4326),
	locality       TEXT,
	region         TEXT,
	created_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_feedback_submissions_recent
	ON feedback_submissions (scheme, entity_key, actor_token, created_at DESC);
`

const pgHasRecent = `SELECT EXISTS (SELECT 1 FROM feedback_submissions WHERE scheme = $1 AND entity_key = $2 AND actor_token = $3 AND created_at >= $4)`

const pgInsert = `INSERT INTO feedback_submissions (id, scheme, entity_key, actor_token, kind, message, reporter_name, reporter_phone, operator_name, location, locality, region, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, ST_GeomFromEWKB($10), $11, $12, $13)`

const pgLock = `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`

// Migrate creates the submission table and its lookup index.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

// Close releases the pool when this store owns it.
func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

// HasRecent implements Store.
func (s *PostgresStore) HasRecent(ctx context.Context, q RecentQuery) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, pgHasRecent, string(q.Scheme), q.EntityKey, q.ActorToken, q.Since).Scan(&exists)
	if err != nil {
		return false, eris.Wrap(err, "postgres: has recent submission")
	}
	return exists, nil
}

// Insert implements Store.
func (s *PostgresStore) Insert(ctx context.Context, sub *model.Submission) error {
	args, err := insertArgs(sub)
	if err != nil {
		return err
	}
	if _, err := s.pool.Exec(ctx, pgInsert, args...); err != nil {
		return eris.Wrap(err, "postgres: insert submission")
	}
	return nil
}

// InsertUnlessRecent implements Store. A transaction-scoped advisory lock on
// the (scheme, key, token) triple serializes concurrent submitters.
func (s *PostgresStore) InsertUnlessRecent(ctx context.Context, sub *model.Submission, since time.Time) (bool, error) {
	args, err := insertArgs(sub)
	if err != nil {
		return false, err
	}
	q := recentOf(sub, since)

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return false, eris.Wrap(err, "postgres: begin conditional insert")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, pgLock, lockKey(q)); err != nil {
		return false, eris.Wrap(err, "postgres: lock submission key")
	}

	var exists bool
	if err := tx.QueryRow(ctx, pgHasRecent, string(q.Scheme), q.EntityKey, q.ActorToken, q.Since).Scan(&exists); err != nil {
		return false, eris.Wrap(err, "postgres: has recent submission")
	}
	if exists {
		return false, nil
	}

	if _, err := tx.Exec(ctx, pgInsert, args...); err != nil {
		return false, eris.Wrap(err, "postgres: insert submission")
	}
	if err := tx.Commit(ctx); err != nil {
		return false, eris.Wrap(err, "postgres: commit conditional insert")
	}
	return true, nil
}

func insertArgs(sub *model.Submission) ([]any, error) {
	loc, err := encodeLocation(sub.Location)
	if err != nil {
		return nil, err
	}
	var locality, region string
	if sub.Location != nil {
		locality, region = sub.Location.Locality, sub.Location.Region
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
		loc,
		nullable(locality),
		nullable(region),
		sub.CreatedAt,
	}, nil
}

// encodeLocation renders a point as EWKB with SRID 4326, or nil when absent.
func encodeLocation(loc *model.Location) (any, error) {
	if loc == nil {
		return nil, nil
	}
	pt := geom.NewPointFlat(geom.XY, []float64{loc.Lon, loc.Lat}).SetSRID(4326)
	data, err := ewkb.Marshal(pt, ewkb.NDR)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: encode location")
	}
	return data, nil
}
