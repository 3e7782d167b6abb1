package geocode

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"golang.org/x/time/rate"

	"github.com/sells-group/fleet-feedback/internal/resilience"
)

const publicNominatim = "https://nominatim.openstreetmap.org"

// newTestReverser points a Reverser at srv with no rate limiting and fast retries.
func newTestReverser(t *testing.T, srv *httptest.Server, opts ...Option) *Reverser {
	t.Helper()
	base := []Option{
		WithHTTPClient(newRewriteClient(srv.URL, publicNominatim)),
		WithRetry(resilience.RetryConfig{
			MaxAttempts:    2,
			InitialBackoff: time.Millisecond,
			MaxBackoff:     2 * time.Millisecond,
		}),
	}
	r := NewReverser(publicNominatim, append(base, opts...)...)
	r.limiter = rate.NewLimiter(rate.Inf, 1)
	return r
}

// newRewriteClient sends every request under targetPrefix to the test server.
func newRewriteClient(testServerURL, targetPrefix string) *http.Client {
	return &http.Client{
		Transport: &rewriteTransport{
			base:         http.DefaultTransport,
			testServer:   testServerURL,
			targetPrefix: targetPrefix,
		},
	}
}

type rewriteTransport struct {
	base         http.RoundTripper
	testServer   string
	targetPrefix string
}

func (t *rewriteTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	origURL := req.URL.String()
	if !strings.HasPrefix(origURL, t.targetPrefix) {
		return t.base.RoundTrip(req)
	}
	parsed, err := req.URL.Parse(t.testServer + origURL[len(t.targetPrefix):])
	if err != nil {
		return nil, err
	}
	out := req.Clone(req.Context())
	out.URL = parsed
	out.Host = parsed.Host
	return t.base.RoundTrip(out)
}
