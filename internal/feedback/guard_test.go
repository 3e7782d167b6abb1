package feedback

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/fleet-feedback/internal/model"
	"github.com/sells-group/fleet-feedback/internal/store"
)

func saoPaulo(t *testing.T) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation("America/Sao_Paulo")
	require.NoError(t, err)
	return loc
}

func newTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "feedback.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func seed(t *testing.T, st store.Store, scheme model.Scheme, key, token string, at time.Time) {
	t.Helper()
	require.NoError(t, st.Insert(context.Background(), &model.Submission{
		ID:         uuid.NewString(),
		Scheme:     scheme,
		EntityKey:  key,
		ActorToken: token,
		Kind:       model.KindCompliment,
		Message:    "seeded",
		CreatedAt:  at,
	}))
}

func TestDuplicateGuard_Window(t *testing.T) {
	now := time.Date(2026, 6, 10, 14, 30, 0, 0, saoPaulo(t))
	clock := func() time.Time { return now }

	tests := []struct {
		name    string
		priorAt time.Time
		want    bool
	}{
		{"prior at T-3d is blocked", now.AddDate(0, 0, -3), true},
		{"prior at T-8d is allowed", now.AddDate(0, 0, -8), false},
		{"prior exactly at cutoff is blocked", now.AddDate(0, 0, -7), true},
		{"prior just before cutoff is allowed", now.AddDate(0, 0, -7).Add(-time.Second), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := newTestStore(t)
			seed(t, st, model.SchemeVehicle, "ABC1234", "tok-1", tt.priorAt)

			g := NewDuplicateGuard(st, model.SchemeVehicle, 7, saoPaulo(t), clock)
			dup, err := g.IsRecentDuplicate(context.Background(), "ABC1234", "tok-1")
			require.NoError(t, err)
			assert.Equal(t, tt.want, dup)
		})
	}
}

func TestDuplicateGuard_SchemesAreIndependent(t *testing.T) {
	st := newTestStore(t)
	now := time.Now()
	seed(t, st, model.SchemeOperator, "4821", "tok-1", now.Add(-time.Hour))

	vehicle := NewDuplicateGuard(st, model.SchemeVehicle, 7, saoPaulo(t), nil)
	operator := NewDuplicateGuard(st, model.SchemeOperator, 7, saoPaulo(t), nil)

	dup, err := vehicle.IsRecentDuplicate(context.Background(), "4821", "tok-1")
	require.NoError(t, err)
	assert.False(t, dup)

	dup, err = operator.IsRecentDuplicate(context.Background(), "4821", "tok-1")
	require.NoError(t, err)
	assert.True(t, dup)

	dup, err = operator.IsRecentDuplicate(context.Background(), "4821", "tok-2")
	require.NoError(t, err)
	assert.False(t, dup)
}

func TestDuplicateGuard_CutoffUsesCivilCalendar(t *testing.T) {
	loc := saoPaulo(t)
	now := time.Date(2026, 3, 2, 0, 30, 0, 0, time.UTC) // 2026-03-01 21:30 in São Paulo
	g := NewDuplicateGuard(nil, model.SchemeVehicle, 7, loc, func() time.Time { return now })

	cutoff := g.Cutoff()
	assert.Equal(t, loc, cutoff.Location())
	assert.True(t, cutoff.Equal(time.Date(2026, 2, 22, 21, 30, 0, 0, loc)), "cutoff %s", cutoff)
	assert.Equal(t, 7, g.WindowDays())
	assert.Equal(t, model.SchemeVehicle, g.Scheme())
}

type failingFinder struct{}

func (failingFinder) HasRecent(context.Context, store.RecentQuery) (bool, error) {
	return false, errors.New("database is locked")
}

func TestDuplicateGuard_StoreError(t *testing.T) {
	g := NewDuplicateGuard(failingFinder{}, model.SchemeVehicle, 7, nil, nil)
	_, err := g.IsRecentDuplicate(context.Background(), "ABC1234", "tok-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate check for vehicle")
}

func TestDuplicateGuard_DefaultsToCivilTimezone(t *testing.T) {
	// 01:00 UTC on June 10 is still June 9 in Sao Paulo.
	now := time.Date(2026, 6, 10, 1, 0, 0, 0, time.UTC)
	g := NewDuplicateGuard(nil, model.SchemeVehicle, 7, nil, func() time.Time { return now })

	cutoff := g.Cutoff()
	assert.Equal(t, DefaultTimezone, cutoff.Location().String())
	assert.True(t, cutoff.Equal(now.AddDate(0, 0, -7)))
	assert.Equal(t, 2, cutoff.Day())
}

func TestNewService_DefaultsToCivilTimezone(t *testing.T) {
	svc := NewService(nil, nil)
	assert.Equal(t, DefaultTimezone, svc.vehicleGuard.Cutoff().Location().String())
	assert.Equal(t, DefaultTimezone, svc.operatorGuard.Cutoff().Location().String())
}
