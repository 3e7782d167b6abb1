package main

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/fleet-feedback/internal/config"
	"github.com/sells-group/fleet-feedback/internal/db"
	"github.com/sells-group/fleet-feedback/internal/feedback"
	"github.com/sells-group/fleet-feedback/internal/fleet"
	"github.com/sells-group/fleet-feedback/internal/monitoring"
	"github.com/sells-group/fleet-feedback/internal/resilience"
	"github.com/sells-group/fleet-feedback/internal/store"
	"github.com/sells-group/fleet-feedback/pkg/geocode"
)

// appEnv holds everything the serve command wires together.
type appEnv struct {
	Store    store.Store
	Fleet    *pgxpool.Pool
	Resolver *fleet.ColumnResolver // nil when the assignment column is pinned
	Service  *feedback.Service
	Alerter  *monitoring.Alerter
	Drift    *monitoring.DriftChecker // nil when Resolver is nil
}

// Close releases the store and the fleet pool.
func (e *appEnv) Close() {
	if e.Store != nil {
		_ = e.Store.Close()
	}
	if e.Fleet != nil {
		e.Fleet.Close()
	}
}

// initStore opens and migrates the submission store.
func initStore(ctx context.Context) (store.Store, error) {
	st, err := store.Open(ctx, cfg.Store.Driver, cfg.Store.DatabaseURL, cfg.Store.Pool)
	if err != nil {
		return nil, eris.Wrap(err, "open store")
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}
	return st, nil
}

// fleetTables maps the fleet config section onto fleet.Tables.
func fleetTables(c config.FleetConfig) fleet.Tables {
	return fleet.Tables{
		Schema:                     c.Schema,
		ActivationTag:              c.ActivationTag,
		ActivationColumn:           c.ActivationColumn,
		CancellationColumn:         c.CancellationColumn,
		VehicleTable:               c.VehicleTable,
		VehiclePlateColumn:         c.VehiclePlateColumn,
		AssignmentTable:            c.AssignmentTable,
		AssignmentPlateColumn:      c.AssignmentPlateColumn,
		AssignmentStartColumn:      c.AssignmentStartColumn,
		PersonnelTable:             c.PersonnelTable,
		PersonnelIDColumn:          c.PersonnelIDColumn,
		PersonnelNameColumn:        c.PersonnelNameColumn,
		PersonnelTerminationColumn: c.PersonnelTerminationColumn,
	}
}

// newResolver builds the assignment column resolver.
func newResolver(pool db.Pool, c config.FleetConfig) *fleet.ColumnResolver {
	return fleet.NewColumnResolver(pool, fleetTables(c).AssignmentTarget(),
		fleet.WithMaxCandidates(c.ProbeCandidates),
		fleet.WithProbeRows(c.ProbeRows),
	)
}

// newReverser builds the geocoder with its rate limit, retry and breaker.
func newReverser(c config.GeocodeConfig) *geocode.Reverser {
	opts := []geocode.Option{
		geocode.WithUserAgent(c.UserAgent),
		geocode.WithTimeout(time.Duration(c.TimeoutMs) * time.Millisecond),
		geocode.WithRetry(resilience.FromRetryAttempts(c.MaxAttempts)),
		geocode.WithBreaker(resilience.NewCircuitBreaker(
			resilience.FromCircuitConfig(c.BreakerThreshold, c.BreakerResetSecs),
		)),
	}
	if c.RateLimit > 0 {
		opts = append(opts, geocode.WithRateLimit(c.RateLimit))
	}
	return geocode.NewReverser(c.BaseURL, opts...)
}

// serviceOptions translates dedup and geocode settings into service options.
func serviceOptions(c *config.Config) ([]feedback.Option, error) {
	loc, err := time.LoadLocation(c.Dedup.Timezone)
	if err != nil {
		return nil, eris.Wrapf(err, "load timezone %q", c.Dedup.Timezone)
	}
	opts := []feedback.Option{
		feedback.WithDedupWindow(c.Dedup.WindowDays, loc),
		feedback.WithAtomicInsert(c.Dedup.Atomic),
	}
	if c.Geocode.Enabled {
		opts = append(opts, feedback.WithEnricher(newReverser(c.Geocode)))
	}
	return opts, nil
}

// initEnv connects to both databases and builds the service graph. Callers
// should defer env.Close().
func initEnv(ctx context.Context) (*appEnv, error) {
	if cfg.Fleet.DatabaseURL == "" {
		return nil, eris.New("fleet.database_url is required")
	}

	env := &appEnv{}

	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	env.Store = st

	pool, err := db.NewPool(ctx, cfg.Fleet.DatabaseURL, cfg.Fleet.Pool)
	if err != nil {
		env.Close()
		return nil, eris.Wrap(err, "connect fleet database")
	}
	env.Fleet = pool

	if cfg.Fleet.AssignmentPlateColumn == "" {
		env.Resolver = newResolver(pool, cfg.Fleet)
	} else {
		zap.L().Info("using pinned assignment plate column",
			zap.String("column", cfg.Fleet.AssignmentPlateColumn),
		)
	}

	checker, err := fleet.NewAssetChecker(pool, fleetTables(cfg.Fleet), env.Resolver)
	if err != nil {
		env.Close()
		return nil, err
	}

	opts, err := serviceOptions(cfg)
	if err != nil {
		env.Close()
		return nil, err
	}
	env.Service = feedback.NewService(checker, st, opts...)

	env.Alerter = monitoring.NewAlerter(cfg.Monitoring)
	if env.Resolver != nil {
		env.Drift = monitoring.NewDriftChecker(env.Resolver, env.Alerter, cfg.Monitoring)
	}
	return env, nil
}
