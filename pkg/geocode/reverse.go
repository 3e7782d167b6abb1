// Package geocode provides best-effort reverse geocoding against a
// Nominatim-compatible endpoint.
package geocode

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/fleet-feedback/internal/resilience"
)

const (
	defaultTimeout   = 3 * time.Second
	defaultUserAgent = "fleet-feedback/1.0"
	maxBodyBytes     = 1 << 20
)

// Place is the locality label attached to a submission.
type Place struct {
	Locality string `json:"locality,omitempty"`
	Region   string `json:"region,omitempty"`
}

// IsZero reports whether neither label is set.
func (p Place) IsZero() bool {
	return p.Locality == "" && p.Region == ""
}

// nominatimResponse is the subset of the jsonv2 reverse payload we read.
type nominatimResponse struct {
	Error   string `json:"error"`
	Address struct {
		City         string `json:"city"`
		Town         string `json:"town"`
		Village      string `json:"village"`
		Municipality string `json:"municipality"`
		State        string `json:"state"`
	} `json:"address"`
}

// Option configures a Reverser.
type Option func(*Reverser)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(r *Reverser) {
		r.httpClient = hc
	}
}

// WithRateLimit sets the requests-per-second limit. Public Nominatim allows 1.
func WithRateLimit(rps float64) Option {
	return func(r *Reverser) {
		burst := int(rps)
		if burst < 1 {
			burst = 1
		}
		r.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// WithTimeout bounds a whole Reverse call, retries included.
func WithTimeout(d time.Duration) Option {
	return func(r *Reverser) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// WithUserAgent sets the User-Agent header Nominatim requires.
func WithUserAgent(ua string) Option {
	return func(r *Reverser) {
		if ua != "" {
			r.userAgent = ua
		}
	}
}

// WithRetry sets the retry policy for transient upstream failures.
func WithRetry(cfg resilience.RetryConfig) Option {
	return func(r *Reverser) {
		r.retry = cfg
	}
}

// WithBreaker wraps calls in a circuit breaker.
func WithBreaker(cb *resilience.CircuitBreaker) Option {
	return func(r *Reverser) {
		r.breaker = cb
	}
}

// Reverser turns coordinates into a Place. It never fails a caller: every
// problem degrades to an absent result.
type Reverser struct {
	baseURL    string
	userAgent  string
	httpClient *http.Client
	limiter    *rate.Limiter
	timeout    time.Duration
	retry      resilience.RetryConfig
	breaker    *resilience.CircuitBreaker
}

// NewReverser creates a Reverser for the given base URL.
func NewReverser(baseURL string, opts ...Option) *Reverser {
	r := &Reverser{
		baseURL:    strings.TrimRight(baseURL, "/"),
		userAgent:  defaultUserAgent,
		httpClient: &http.Client{},
		limiter:    rate.NewLimiter(1, 1),
		timeout:    defaultTimeout,
		retry:      resilience.FromRetryAttempts(2),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.retry.OnRetry == nil {
		r.retry.OnRetry = resilience.RetryLogger("geocode", "reverse")
	}
	return r
}

// Reverse looks up the locality for (lat, lon) within the Reverser's own
// timeout. The boolean is false when no usable result was obtained.
func (r *Reverser) Reverse(ctx context.Context, lat, lon float64) (Place, bool) {
	if lat < -90 || lat > 90 || lon < -180 || lon > 180 {
		zap.L().Debug("geocode: coordinates out of range",
			zap.Float64("lat", lat),
			zap.Float64("lon", lon),
		)
		return Place{}, false
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	place, err := resilience.ExecuteVal(ctx, r.breaker, func(ctx context.Context) (Place, error) {
		return resilience.DoVal(ctx, r.retry, func(ctx context.Context) (Place, error) {
			return r.fetch(ctx, lat, lon)
		})
	})
	if err != nil {
		zap.L().Warn("geocode: reverse lookup degraded",
			zap.String("component", "geocode"),
			zap.Float64("lat", lat),
			zap.Float64("lon", lon),
			zap.Error(err),
		)
		return Place{}, false
	}
	if place.IsZero() {
		zap.L().Debug("geocode: no locality for coordinates",
			zap.Float64("lat", lat),
			zap.Float64("lon", lon),
		)
		return Place{}, false
	}
	return place, true
}

func (r *Reverser) fetch(ctx context.Context, lat, lon float64) (Place, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return Place{}, eris.Wrap(err, "geocode: rate limit")
	}

	params := url.Values{
		"format":         {"jsonv2"},
		"lat":            {strconv.FormatFloat(lat, 'f', -1, 64)},
		"lon":            {strconv.FormatFloat(lon, 'f', -1, 64)},
		"zoom":           {"10"},
		"addressdetails": {"1"},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.baseURL+"/reverse?"+params.Encode(), nil)
	if err != nil {
		return Place{}, eris.Wrap(err, "geocode: build request")
	}
	req.Header.Set("User-Agent", r.userAgent)
	req.Header.Set("Accept-Language", "pt-BR")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return Place{}, resilience.NewTransientError(eris.Wrap(err, "geocode: request"), 0)
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		statusErr := eris.Errorf("geocode: upstream returned status %d", resp.StatusCode)
		if resilience.IsTransientHTTPStatus(resp.StatusCode) {
			return Place{}, resilience.NewTransientError(statusErr, resp.StatusCode)
		}
		return Place{}, statusErr
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return Place{}, eris.Wrap(err, "geocode: read body")
	}

	var parsed nominatimResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return Place{}, eris.Wrap(err, "geocode: parse response")
	}
	// Points at sea or outside coverage come back as {"error": "..."}.
	if parsed.Error != "" {
		return Place{}, nil
	}

	return Place{
		Locality: firstNonEmpty(parsed.Address.City, parsed.Address.Town, parsed.Address.Village, parsed.Address.Municipality),
		Region:   strings.TrimSpace(parsed.Address.State),
	}, nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}
