package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	chicors "github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/sells-group/fleet-feedback/internal/config"
	"github.com/sells-group/fleet-feedback/internal/feedback"
	"github.com/sells-group/fleet-feedback/internal/fleet"
	"github.com/sells-group/fleet-feedback/internal/model"
	"github.com/sells-group/fleet-feedback/internal/monitoring"
)

const maxBodyBytes = 64 << 10

// feedbackService is the part of feedback.Service the HTTP layer calls.
type feedbackService interface {
	VehicleStatus(ctx context.Context, rawPlate string) (*feedback.VehicleStatus, error)
	SubmitVehicle(ctx context.Context, actorToken string, req feedback.VehicleFeedback) (*model.Submission, error)
	SubmitOperator(ctx context.Context, actorToken string, req feedback.OperatorFeedback) (*model.Submission, error)
	WindowDays() int
}

// api serves the public feedback endpoints.
type api struct {
	svc         feedbackService
	alerter     *monitoring.Alerter
	tokenHeader string
}

// buildRouter mounts the routes behind the shared middleware stack.
func buildRouter(a *api, sc config.ServerConfig) http.Handler {
	if a.tokenHeader == "" {
		a.tokenHeader = "X-Actor-Token"
	}
	timeout := time.Duration(sc.RequestTimeoutSecs) * time.Second
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	origins := sc.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(accessLog)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(timeout))
	r.Use(chicors.Handler(chicors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", a.tokenHeader},
		MaxAge:         300,
	}))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/v1", func(r chi.Router) {
		r.Get("/vehicles/{plate}", a.vehicleStatus)
		r.Post("/feedback/vehicle", a.submitVehicle)
		r.Post("/feedback/operator", a.submitOperator)
	})
	return r
}

func (a *api) vehicleStatus(w http.ResponseWriter, r *http.Request) {
	status, err := a.svc.VehicleStatus(r.Context(), chi.URLParam(r, "plate"))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (a *api) submitVehicle(w http.ResponseWriter, r *http.Request) {
	var req feedback.VehicleFeedback
	if !decodeBody(w, r, &req) {
		return
	}
	sub, err := a.svc.SubmitVehicle(r.Context(), r.Header.Get(a.tokenHeader), req)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, sub)
}

func (a *api) submitOperator(w http.ResponseWriter, r *http.Request) {
	var req feedback.OperatorFeedback
	if !decodeBody(w, r, &req) {
		return
	}
	sub, err := a.svc.SubmitOperator(r.Context(), r.Header.Get(a.tokenHeader), req)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, sub)
}

// writeError maps service errors onto HTTP statuses. Internal failures get a
// generic body; their detail only goes to the log.
func (a *api) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var valErr *feedback.ValidationError
	var resErr *fleet.ResolutionError
	switch {
	case errors.As(err, &valErr):
		body := map[string]string{"error": valErr.Message}
		if valErr.Field != "" {
			body["field"] = valErr.Field
		}
		writeJSON(w, http.StatusBadRequest, body)
	case errors.Is(err, feedback.ErrNotFoundOrInactive):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "vehicle or operator not found or inactive"})
	case errors.Is(err, feedback.ErrDuplicateSubmission):
		writeJSON(w, http.StatusConflict, map[string]any{
			"error":            "feedback already submitted recently",
			"retry_after_days": a.svc.WindowDays(),
		})
	case errors.As(err, &resErr):
		zap.L().Error("api: assignment column unresolved",
			zap.String("request_id", chimw.GetReqID(r.Context())),
			zap.Error(err),
		)
		// Delivery runs off the request path and outlives the request context.
		alertCtx := context.WithoutCancel(r.Context())
		go a.alerter.NotifyResolutionFailure(alertCtx, resErr)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
	default:
		zap.L().Error("api: request failed",
			zap.String("request_id", chimw.GetReqID(r.Context())),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
	}
}

// decodeBody reads a single JSON object into dst, rejecting unknown fields.
// It writes the 400 itself and reports false on failure.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// accessLog logs one line per request through the global zap logger.
func accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()

		next.ServeHTTP(ww, r)

		zap.L().Info("request done",
			zap.String("request_id", chimw.GetReqID(r.Context())),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Int("bytes", ww.BytesWritten()),
			zap.Duration("elapsed", time.Since(start)),
		)
	})
}
