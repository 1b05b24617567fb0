package compliance

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finvela/risk-engine/internal/config"
)

func newTestVerifier(baseURL string) *HTTPVerifier {
	v := NewHTTPVerifier(config.ComplianceConfig{
		Provider:    "http",
		BaseURL:     baseURL,
		APIKey:      "test-key",
		TimeoutSecs: 2,
		RatePerSec:  100,
	})
	v.retry.InitialBackoff = 1 // keep retries fast in tests
	return v
}

func TestHTTPVerifier_Verified(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/gstin/27AAPFU0939F1ZV", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"status":"verified","data":{"legal_name":"Acme Traders"}}`)
	}))
	defer ts.Close()

	v := newTestVerifier(ts.URL)
	res, err := v.Verify(context.Background(), "27AAPFU0939F1ZV")
	require.NoError(t, err)
	assert.Equal(t, StatusVerified, res.Status)
	assert.Equal(t, "Acme Traders", res.Raw["legal_name"])
}

func TestHTTPVerifier_UnrecognizedStatus(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{"status":"pending-review"}`)
	}))
	defer ts.Close()

	v := newTestVerifier(ts.URL)
	res, err := v.Verify(context.Background(), "27AAPFU0939F1ZV")
	require.NoError(t, err)
	assert.Equal(t, StatusUnknown, res.Status, "unrecognized statuses map to unknown")
}

func TestHTTPVerifier_ServerError(t *testing.T) {
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer ts.Close()

	v := newTestVerifier(ts.URL)
	_, err := v.Verify(context.Background(), "27AAPFU0939F1ZV")
	assert.Error(t, err)
	assert.Equal(t, int32(1), calls.Load(), "HTTP 5xx is not transient, no retry")
}

func TestHTTPVerifier_BadJSON(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{"status":`)
	}))
	defer ts.Close()

	v := newTestVerifier(ts.URL)
	_, err := v.Verify(context.Background(), "27AAPFU0939F1ZV")
	assert.Error(t, err)
}
