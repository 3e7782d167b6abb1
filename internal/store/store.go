// Package store persists feedback submissions. Submissions are append-only:
// nothing here updates or deletes a stored row.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/fleet-feedback/internal/db"
	"github.com/sells-group/fleet-feedback/internal/model"
)

// RecentQuery selects submissions by one actor about one entity since a cutoff.
type RecentQuery struct {
	Scheme     model.Scheme
	EntityKey  string
	ActorToken string
	Since      time.Time
}

// Store defines the persistence interface for feedback submissions.
type Store interface {
	// HasRecent reports whether a submission matching q exists with
	// created_at >= q.Since.
	HasRecent(ctx context.Context, q RecentQuery) (bool, error)

	// Insert appends a submission.
	Insert(ctx context.Context, sub *model.Submission) error

	// InsertUnlessRecent appends sub only when no submission with the same
	// scheme, entity key and actor token exists since the cutoff. The check and
	// the insert are serialized per triple. It reports whether sub was stored.
	InsertUnlessRecent(ctx context.Context, sub *model.Submission, since time.Time) (bool, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

// Open builds the Store selected by driver ("postgres" or "sqlite").
func Open(ctx context.Context, driver, dsn string, poolCfg db.PoolConfig) (Store, error) {
	switch driver {
	case "postgres":
		st, err := NewPostgres(ctx, dsn, poolCfg)
		if err != nil {
			return nil, err
		}
		return st, nil
	case "sqlite":
		st, err := NewSQLite(dsn)
		if err != nil {
			return nil, err
		}
		return st, nil
	default:
		return nil, eris.Errorf("store: unsupported driver %q", driver)
	}
}

func recentOf(sub *model.Submission, since time.Time) RecentQuery {
	return RecentQuery{
		Scheme:     sub.Scheme,
		EntityKey:  sub.EntityKey,
		ActorToken: sub.ActorToken,
		Since:      since,
	}
}

// lockKey identifies the (scheme, key, token) triple for per-triple locking.
func lockKey(q RecentQuery) string {
	return fmt.Sprintf("feedback:%s:%s:%s", q.Scheme, q.EntityKey, q.ActorToken)
}

// nullable maps empty strings to SQL NULL.
func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
