package feedback

import (
	"context"
	"time"
	_ "time/tzdata" // the civil timezone must resolve without a system zoneinfo

	"github.com/rotisserie/eris"

	"github.com/sells-group/fleet-feedback/internal/model"
	"github.com/sells-group/fleet-feedback/internal/store"
)

// DefaultTimezone is the civil timezone the duplicate window is counted in.
const DefaultTimezone = "America/Sao_Paulo"

var defaultLocation = func() *time.Location {
	loc, err := time.LoadLocation(DefaultTimezone)
	if err != nil {
		return time.UTC
	}
	return loc
}()

// RecentFinder answers whether a matching submission exists since a cutoff.
type RecentFinder interface {
	HasRecent(ctx context.Context, q store.RecentQuery) (bool, error)
}

// DuplicateGuard rejects a second submission by the same actor about the same
// entity inside a rolling window. The check is advisory: a concurrent
// submission can slip in between check and insert.
type DuplicateGuard struct {
	finder     RecentFinder
	scheme     model.Scheme
	windowDays int
	loc        *time.Location
	now        func() time.Time
}

// NewDuplicateGuard creates a guard for one key scheme. The window is counted
// in calendar days in loc; nil means DefaultTimezone.
func NewDuplicateGuard(finder RecentFinder, scheme model.Scheme, windowDays int, loc *time.Location, now func() time.Time) *DuplicateGuard {
	if loc == nil {
		loc = defaultLocation
	}
	if now == nil {
		now = time.Now
	}
	return &DuplicateGuard{
		finder:     finder,
		scheme:     scheme,
		windowDays: windowDays,
		loc:        loc,
		now:        now,
	}
}

// Scheme returns the key scheme this guard covers.
func (g *DuplicateGuard) Scheme() model.Scheme { return g.scheme }

// WindowDays returns the window length in days.
func (g *DuplicateGuard) WindowDays() int { return g.windowDays }

// Cutoff returns the start of the window as of now. Calendar arithmetic in
// the civil timezone keeps the window aligned across DST shifts.
func (g *DuplicateGuard) Cutoff() time.Time {
	return g.now().In(g.loc).AddDate(0, 0, -g.windowDays)
}

// IsRecentDuplicate reports whether (entityKey, actorToken) already has a
// submission at or after the cutoff.
func (g *DuplicateGuard) IsRecentDuplicate(ctx context.Context, entityKey, actorToken string) (bool, error) {
	found, err := g.finder.HasRecent(ctx, store.RecentQuery{
		Scheme:     g.scheme,
		EntityKey:  entityKey,
		ActorToken: actorToken,
		Since:      g.Cutoff(),
	})
	if err != nil {
		return false, eris.Wrapf(err, "feedback: duplicate check for %s", g.scheme)
	}
	return found, nil
}
