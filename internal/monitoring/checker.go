package monitoring

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/fleet-feedback/internal/config"
	"github.com/sells-group/fleet-feedback/internal/fleet"
)

// Discoverer is the part of fleet.ColumnResolver the drift checker needs.
type Discoverer interface {
	Cached() (string, bool)
	Discover(ctx context.Context) (*fleet.Report, error)
}

// DriftStatus is the outcome of one drift check.
type DriftStatus string

const (
	DriftUnresolved DriftStatus = "unresolved" // nothing adopted yet
	DriftStable     DriftStatus = "stable"
	DriftChanged    DriftStatus = "changed"
	DriftFailed     DriftStatus = "failed" // discovery found no column
	DriftError      DriftStatus = "error"  // discovery could not run
)

// DriftChecker periodically re-runs column discovery and compares the result
// to the adopted column. It never touches the resolver cache: a drifted
// column is reported, and only a restart adopts it.
type DriftChecker struct {
	resolver Discoverer
	alerter  *Alerter
	interval time.Duration
}

// NewDriftChecker creates a background drift checker.
func NewDriftChecker(resolver Discoverer, alerter *Alerter, cfg config.MonitoringConfig) *DriftChecker {
	interval := time.Duration(cfg.DriftIntervalMins) * time.Minute
	if interval <= 0 {
		interval = time.Hour
	}
	return &DriftChecker{
		resolver: resolver,
		alerter:  alerter,
		interval: interval,
	}
}

// Run starts the periodic check loop. It blocks until ctx is cancelled.
func (c *DriftChecker) Run(ctx context.Context) {
	log := zap.L().With(zap.String("component", "monitoring.drift"))
	log.Info("starting schema drift checker", zap.Duration("interval", c.interval))

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("schema drift checker stopped")
			return
		case <-ticker.C:
			c.Check(ctx)
		}
	}
}

// Check runs one comparison and alerts when warranted.
func (c *DriftChecker) Check(ctx context.Context) DriftStatus {
	log := zap.L().With(zap.String("component", "monitoring.drift"))

	adopted, ok := c.resolver.Cached()
	if !ok {
		log.Debug("monitoring: no identifier column adopted yet, skipping drift check")
		return DriftUnresolved
	}

	report, err := c.resolver.Discover(ctx)
	if err != nil {
		var resErr *fleet.ResolutionError
		if errors.As(err, &resErr) {
			log.Error("monitoring: adopted column no longer resolvable",
				zap.String("adopted", adopted),
				zap.Error(err),
			)
			c.alerter.NotifyResolutionFailure(ctx, resErr)
			return DriftFailed
		}
		log.Error("monitoring: drift check failed", zap.Error(err))
		return DriftError
	}

	if report.Column == adopted {
		log.Debug("monitoring: identifier column stable", zap.String("column", adopted))
		return DriftStable
	}

	log.Warn("monitoring: identifier column drifted",
		zap.String("table", report.Table),
		zap.String("adopted", adopted),
		zap.String("discovered", report.Column),
		zap.Any("candidates", report.Candidates),
	)
	c.alerter.Notify(ctx, DriftAlert(report.Table, adopted, report.Column))
	return DriftChanged
}
