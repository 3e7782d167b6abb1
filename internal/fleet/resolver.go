// Package fleet reads the externally owned fleet-management database: it
// discovers the identifier column of unstable tables and answers activation
// and operator questions about vehicles and personnel.
package fleet

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/sells-group/fleet-feedback/internal/db"
	"github.com/sells-group/fleet-feedback/internal/plate"
)

const (
	defaultMaxCandidates   = 25
	defaultProbeRows       = 50
	defaultDiscoverTimeout = 30 * time.Second
)

// Target describes the unstable table whose identifier column is discovered
// at runtime, plus the stable predicate columns used while probing it.
type Target struct {
	Schema             string
	Table              string
	ActivationColumn   string
	CancellationColumn string
	ActivationTag      string
	// ExcludedColumns never hold identifiers. The activation and
	// cancellation columns are always excluded.
	ExcludedColumns []string
}

// QualifiedName returns schema.table.
func (t Target) QualifiedName() string { return t.Schema + "." + t.Table }

func (t Target) excluded() []string {
	out := []string{t.ActivationColumn, t.CancellationColumn}
	return append(out, t.ExcludedColumns...)
}

// ProbeResult records what sampling one candidate column found.
type ProbeResult struct {
	Column      string `json:"column" yaml:"column"`
	Sampled     int    `json:"sampled" yaml:"sampled"`
	PlateShaped int    `json:"plate_shaped" yaml:"plate_shaped"`
	Err         string `json:"error,omitempty" yaml:"error,omitempty"`
}

// Report is the outcome of one discovery pass.
type Report struct {
	Table      string        `json:"table" yaml:"table"`
	Column     string        `json:"column,omitempty" yaml:"column,omitempty"`
	Candidates []Candidate   `json:"candidates" yaml:"candidates"`
	Probes     []ProbeResult `json:"probes" yaml:"probes"`
}

// ResolverOption configures a ColumnResolver.
type ResolverOption func(*ColumnResolver)

// WithMaxCandidates caps how many ranked candidates are probed.
func WithMaxCandidates(n int) ResolverOption {
	return func(r *ColumnResolver) {
		if n > 0 {
			r.maxCandidates = n
		}
	}
}

// WithProbeRows caps how many rows each probe samples.
func WithProbeRows(n int) ResolverOption {
	return func(r *ColumnResolver) {
		if n > 0 {
			r.probeRows = n
		}
	}
}

// WithDiscoverTimeout bounds one shared discovery pass.
func WithDiscoverTimeout(d time.Duration) ResolverOption {
	return func(r *ColumnResolver) {
		if d > 0 {
			r.discoverTimeout = d
		}
	}
}

// ColumnResolver discovers which column of an unstable table holds vehicle
// identifiers and caches the answer for the life of the process. It owns its
// cache slot; nothing else writes it, and a failed resolution leaves it unset.
type ColumnResolver struct {
	pool            db.Pool
	target          Target
	maxCandidates   int
	probeRows       int
	discoverTimeout time.Duration

	mu     sync.RWMutex
	column string
	group  singleflight.Group
}

// NewColumnResolver creates a resolver for target backed by pool.
func NewColumnResolver(pool db.Pool, target Target, opts ...ResolverOption) *ColumnResolver {
	r := &ColumnResolver{
		pool:            pool,
		target:          target,
		maxCandidates:   defaultMaxCandidates,
		probeRows:       defaultProbeRows,
		discoverTimeout: defaultDiscoverTimeout,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Target returns the table this resolver discovers columns for.
func (r *ColumnResolver) Target() Target { return r.target }

// Cached returns the adopted column without any I/O.
func (r *ColumnResolver) Cached() (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.column, r.column != ""
}

// Resolve returns the identifier column, discovering it on first use.
// Concurrent first calls share one discovery pass. The pass runs detached from
// any single caller, bounded by the discovery timeout; each caller still stops
// waiting when its own ctx is done.
func (r *ColumnResolver) Resolve(ctx context.Context) (string, error) {
	if col, ok := r.Cached(); ok {
		return col, nil
	}

	ch := r.group.DoChan("resolve", func() (any, error) {
		if col, ok := r.Cached(); ok {
			return col, nil
		}
		dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.discoverTimeout)
		defer cancel()

		report, err := r.Discover(dctx)
		if err != nil {
			return "", err
		}

		r.mu.Lock()
		r.column = report.Column
		r.mu.Unlock()

		zap.L().Info("fleet: identifier column adopted",
			zap.String("table", report.Table),
			zap.String("column", report.Column),
			zap.Any("candidates", report.Candidates),
		)
		return report.Column, nil
	})

	select {
	case <-ctx.Done():
		return "", eris.Wrapf(ctx.Err(), "fleet: resolve column of %s", r.target.QualifiedName())
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	}
}

// Discover runs a full discovery pass without reading or writing the cache.
// On failure the returned report is still populated for diagnostics.
func (r *ColumnResolver) Discover(ctx context.Context) (*Report, error) {
	report := &Report{Table: r.target.QualifiedName()}

	columns, err := r.listColumns(ctx)
	if err != nil {
		return report, err
	}

	eligible, all := RankCandidates(columns, r.target.excluded())
	report.Candidates = all
	if len(eligible) > r.maxCandidates {
		eligible = eligible[:r.maxCandidates]
	}

	for _, c := range eligible {
		res, err := r.probe(ctx, c.Name)
		if err != nil {
			return report, err
		}
		report.Probes = append(report.Probes, res)
		if res.PlateShaped > 0 {
			report.Column = c.Name
			return report, nil
		}
	}

	probed := make([]string, 0, len(report.Probes))
	for _, p := range report.Probes {
		probed = append(probed, p.Column)
	}
	resErr := &ResolutionError{Table: report.Table, Candidates: all, Probed: probed}
	zap.L().Error("fleet: identifier column resolution failed",
		zap.String("table", report.Table),
		zap.Any("candidates", all),
		zap.Any("probes", report.Probes),
	)
	return report, resErr
}

// listColumns reads the table's column names from the metadata catalog.
func (r *ColumnResolver) listColumns(ctx context.Context) ([]string, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT column_name FROM information_schema.columns WHERE table_schema = $1 AND table_name = $2`,
		r.target.Schema, r.target.Table,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "fleet: list columns of %s", r.target.QualifiedName())
	}
	defer rows.Close()

	var cols []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, eris.Wrap(err, "fleet: scan column name")
		}
		cols = append(cols, name)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrapf(err, "fleet: list columns of %s", r.target.QualifiedName())
	}
	return cols, nil
}

// probe samples up to probeRows active, non-cancelled values of column and
// counts how many normalize to a plate shape. Statement-level errors (bad
// cast, missing privilege) are recorded and the candidate skipped; anything
// else means the store is unavailable and aborts discovery.
func (r *ColumnResolver) probe(ctx context.Context, column string) (ProbeResult, error) {
	res := ProbeResult{Column: column}

	query, err := r.probeQuery(column)
	if err != nil {
		return res, err
	}

	rows, err := r.pool.Query(ctx, query, r.target.ActivationTag, r.probeRows)
	if err != nil {
		return r.probeFailed(res, err)
	}
	defer rows.Close()

	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return res, eris.Wrapf(err, "fleet: scan probe of %s", column)
		}
		res.Sampled++
		if plate.IsPlateShaped(plate.Normalize(v)) {
			res.PlateShaped++
		}
	}
	if err := rows.Err(); err != nil {
		return r.probeFailed(res, err)
	}
	return res, nil
}

func (r *ColumnResolver) probeFailed(res ProbeResult, err error) (ProbeResult, error) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		zap.L().Warn("fleet: probe query rejected, skipping candidate",
			zap.String("column", res.Column),
			zap.String("code", pgErr.Code),
			zap.Error(err),
		)
		res.Err = pgErr.Message
		return res, nil
	}
	return res, eris.Wrapf(err, "fleet: probe %s", res.Column)
}

// probeQuery builds the sampling statement. The candidate name was already
// whitelisted during ranking; QuoteIdent checks it again at substitution.
func (r *ColumnResolver) probeQuery(column string) (string, error) {
	col, err := db.QuoteIdent(column)
	if err != nil {
		return "", err
	}
	table, err := db.QuoteTable(r.target.QualifiedName())
	if err != nil {
		return "", err
	}
	act, err := db.QuoteIdent(r.target.ActivationColumn)
	if err != nil {
		return "", err
	}
	cancel, err := db.QuoteIdent(r.target.CancellationColumn)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf(
		`SELECT %[1]s::text FROM %[2]s WHERE upper(btrim(%[3]s::text)) = upper($1) AND %[4]s IS NULL AND %[1]s IS NOT NULL LIMIT $2`,
		col, table, act, cancel,
	), nil
}
