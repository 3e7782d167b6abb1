// Package feedback validates and records feedback about fleet vehicles and
// operators.
//
// Each submission passes, in order: the activation check (the authorization
// gate), the duplicate guard, the operator lookup, best-effort geocoding, and
// finally the insert. Geocoding never fails a submission.
package feedback

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sells-group/fleet-feedback/internal/fleet"
	"github.com/sells-group/fleet-feedback/internal/model"
	"github.com/sells-group/fleet-feedback/internal/plate"
	"github.com/sells-group/fleet-feedback/internal/store"
	"github.com/sells-group/fleet-feedback/pkg/geocode"
)

// AssetChecker answers activation questions against the fleet store.
type AssetChecker interface {
	ExistsActiveAsset(ctx context.Context, key plate.Key) (bool, error)
	ExistsActivePersonnel(ctx context.Context, matricula int64) (bool, error)
	LookupOperator(ctx context.Context, key plate.Key) (string, bool, error)
}

// Enricher labels coordinates. It reports false instead of failing.
type Enricher interface {
	Reverse(ctx context.Context, lat, lon float64) (geocode.Place, bool)
}

// Option configures a Service.
type Option func(*Service)

// WithEnricher enables reverse geocoding of submission locations.
func WithEnricher(e Enricher) Option {
	return func(s *Service) {
		s.enricher = e
	}
}

// WithDedupWindow sets the duplicate window length and its civil timezone.
func WithDedupWindow(days int, loc *time.Location) Option {
	return func(s *Service) {
		if days > 0 {
			s.windowDays = days
		}
		if loc != nil {
			s.loc = loc
		}
	}
}

// WithAtomicInsert makes the insert itself re-check the window under a
// per-key lock, closing the check-then-insert race.
func WithAtomicInsert(enabled bool) Option {
	return func(s *Service) {
		s.atomic = enabled
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// Service runs the submission pipeline.
type Service struct {
	checker    AssetChecker
	store      store.Store
	enricher   Enricher
	windowDays int
	loc        *time.Location
	atomic     bool
	now        func() time.Time

	vehicleGuard  *DuplicateGuard
	operatorGuard *DuplicateGuard
}

// NewService creates a Service. Defaults: a 7 day window in DefaultTimezone, advisory
// duplicate checks, no geocoding.
func NewService(checker AssetChecker, st store.Store, opts ...Option) *Service {
	s := &Service{
		checker:    checker,
		store:      st,
		windowDays: 7,
		loc:        defaultLocation,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	clock := func() time.Time { return s.now() }
	s.vehicleGuard = NewDuplicateGuard(st, model.SchemeVehicle, s.windowDays, s.loc, clock)
	s.operatorGuard = NewDuplicateGuard(st, model.SchemeOperator, s.windowDays, s.loc, clock)
	return s
}

// WindowDays returns the duplicate window length in days.
func (s *Service) WindowDays() int { return s.windowDays }

// VehicleStatus reports whether a plate belongs to an active vehicle and who
// currently operates it.
func (s *Service) VehicleStatus(ctx context.Context, rawPlate string) (*VehicleStatus, error) {
	key := plate.Normalize(rawPlate)
	if key == "" {
		return nil, &ValidationError{Field: "plate", Message: "plate must contain letters or digits"}
	}

	active, err := s.checker.ExistsActiveAsset(ctx, key)
	if err != nil {
		return nil, &UpstreamError{Op: "active asset check", Err: err}
	}
	if !active {
		return nil, ErrNotFoundOrInactive
	}

	name, _, err := s.lookupOperator(ctx, key)
	if err != nil {
		return nil, err
	}
	return &VehicleStatus{Plate: key.String(), Active: true, Operator: name}, nil
}

// SubmitVehicle records feedback about the operator of a vehicle.
func (s *Service) SubmitVehicle(ctx context.Context, actorToken string, req VehicleFeedback) (*model.Submission, error) {
	if err := ValidateToken(actorToken); err != nil {
		return nil, err
	}
	if err := Validate(req); err != nil {
		return nil, err
	}
	key := plate.Normalize(req.Plate)
	if key == "" {
		return nil, &ValidationError{Field: "plate", Message: "plate must contain letters or digits"}
	}
	actorToken = strings.TrimSpace(actorToken)

	active, err := s.checker.ExistsActiveAsset(ctx, key)
	if err != nil {
		return nil, &UpstreamError{Op: "active asset check", Err: err}
	}
	if !active {
		return nil, ErrNotFoundOrInactive
	}

	if err := s.checkDuplicate(ctx, s.vehicleGuard, key.String(), actorToken); err != nil {
		return nil, err
	}

	operator, _, err := s.lookupOperator(ctx, key)
	if err != nil {
		return nil, err
	}

	sub := s.newSubmission(model.SchemeVehicle, key.String(), actorToken, req.Kind, req.Message, req.ReporterName, req.ReporterPhone)
	sub.OperatorName = operator
	sub.Location = s.enrich(ctx, req.Location)

	if err := s.persist(ctx, s.vehicleGuard, sub); err != nil {
		return nil, err
	}
	return sub, nil
}

// SubmitOperator records feedback about a staff member by matriculation.
func (s *Service) SubmitOperator(ctx context.Context, actorToken string, req OperatorFeedback) (*model.Submission, error) {
	if err := ValidateToken(actorToken); err != nil {
		return nil, err
	}
	if err := Validate(req); err != nil {
		return nil, err
	}
	actorToken = strings.TrimSpace(actorToken)

	active, err := s.checker.ExistsActivePersonnel(ctx, req.Matricula)
	if err != nil {
		return nil, &UpstreamError{Op: "active personnel check", Err: err}
	}
	if !active {
		return nil, ErrNotFoundOrInactive
	}

	key := strconv.FormatInt(req.Matricula, 10)
	if err := s.checkDuplicate(ctx, s.operatorGuard, key, actorToken); err != nil {
		return nil, err
	}

	sub := s.newSubmission(model.SchemeOperator, key, actorToken, req.Kind, req.Message, req.ReporterName, req.ReporterPhone)
	sub.Location = s.enrich(ctx, req.Location)

	if err := s.persist(ctx, s.operatorGuard, sub); err != nil {
		return nil, err
	}
	return sub, nil
}

func (s *Service) checkDuplicate(ctx context.Context, g *DuplicateGuard, key, token string) error {
	dup, err := g.IsRecentDuplicate(ctx, key, token)
	if err != nil {
		return &UpstreamError{Op: "duplicate check", Err: err}
	}
	if dup {
		zap.L().Info("feedback: duplicate rejected",
			zap.String("component", "feedback"),
			zap.String("scheme", string(g.Scheme())),
			zap.String("entity_key", key),
		)
		return ErrDuplicateSubmission
	}
	return nil
}

// lookupOperator keeps resolution failures typed so callers can alert on
// schema drift; everything else is an upstream failure.
func (s *Service) lookupOperator(ctx context.Context, key plate.Key) (string, bool, error) {
	name, ok, err := s.checker.LookupOperator(ctx, key)
	if err != nil {
		var resErr *fleet.ResolutionError
		if errors.As(err, &resErr) {
			return "", false, resErr
		}
		return "", false, &UpstreamError{Op: "operator lookup", Err: err}
	}
	return name, ok, nil
}

func (s *Service) newSubmission(scheme model.Scheme, key, token string, kind model.Kind, message, reporterName, reporterPhone string) *model.Submission {
	phone, _ := NormalizePhone(reporterPhone)
	return &model.Submission{
		ID:            uuid.NewString(),
		Scheme:        scheme,
		EntityKey:     key,
		ActorToken:    token,
		Kind:          kind,
		Message:       strings.TrimSpace(message),
		ReporterName:  strings.TrimSpace(reporterName),
		ReporterPhone: phone,
		CreatedAt:     s.now().UTC(),
	}
}

func (s *Service) enrich(ctx context.Context, in *LocationInput) *model.Location {
	if in == nil {
		return nil
	}
	loc := &model.Location{Lat: in.Lat, Lon: in.Lon}
	if s.enricher == nil {
		return loc
	}
	if place, ok := s.enricher.Reverse(ctx, in.Lat, in.Lon); ok {
		loc.Locality = place.Locality
		loc.Region = place.Region
	}
	return loc
}

func (s *Service) persist(ctx context.Context, g *DuplicateGuard, sub *model.Submission) error {
	if s.atomic {
		inserted, err := s.store.InsertUnlessRecent(ctx, sub, g.Cutoff())
		if err != nil {
			return &UpstreamError{Op: "insert submission", Err: err}
		}
		if !inserted {
			return ErrDuplicateSubmission
		}
	} else if err := s.store.Insert(ctx, sub); err != nil {
		return &UpstreamError{Op: "insert submission", Err: err}
	}

	zap.L().Info("feedback: submission stored",
		zap.String("component", "feedback"),
		zap.String("id", sub.ID),
		zap.String("scheme", string(sub.Scheme)),
		zap.String("entity_key", sub.EntityKey),
		zap.String("kind", string(sub.Kind)),
		zap.Bool("located", sub.Location != nil),
	)
	return nil
}
