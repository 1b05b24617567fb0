package compliance

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/finvela/risk-engine/internal/config"
	"github.com/finvela/risk-engine/internal/resilience"
)

// HTTPVerifier calls a GSTIN verification API with a bounded timeout, a
// client-side rate limit, and short retries on transient failures.
type HTTPVerifier struct {
	client  *http.Client
	baseURL string
	apiKey  string
	limiter *rate.Limiter
	retry   resilience.RetryConfig
}

// NewHTTPVerifier creates an HTTPVerifier from config.
func NewHTTPVerifier(cfg config.ComplianceConfig) *HTTPVerifier {
	timeout := time.Duration(cfg.TimeoutSecs) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	perSec := cfg.RatePerSec
	if perSec <= 0 {
		perSec = 5
	}
	return &HTTPVerifier{
		client:  &http.Client{Timeout: timeout},
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		limiter: rate.NewLimiter(rate.Limit(perSec), 1),
		retry:   resilience.DefaultRetryConfig(),
	}
}

type verifyResponse struct {
	Status string         `json:"status"`
	Data   map[string]any `json:"data"`
}

func (v *HTTPVerifier) Verify(ctx context.Context, id string) (Verification, error) {
	if err := v.limiter.Wait(ctx); err != nil {
		return Verification{}, eris.Wrap(err, "compliance: rate limit wait")
	}

	var result Verification
	err := resilience.Do(ctx, v.retry, func(ctx context.Context) error {
		verification, err := v.call(ctx, id)
		if err != nil {
			return err
		}
		result = verification
		return nil
	})
	if err != nil {
		return Verification{}, err
	}
	return result, nil
}

func (v *HTTPVerifier) call(ctx context.Context, id string) (Verification, error) {
	endpoint := fmt.Sprintf("%s/v1/gstin/%s", v.baseURL, url.PathEscape(id))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return Verification{}, eris.Wrap(err, "compliance: build request")
	}
	if v.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+v.apiKey)
	}

	resp, err := v.client.Do(req)
	if err != nil {
		return Verification{}, eris.Wrap(err, "compliance: verify request")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Verification{}, eris.Wrap(err, "compliance: read response")
	}
	if resp.StatusCode != http.StatusOK {
		zap.L().Warn("compliance: verification API error",
			zap.Int("status_code", resp.StatusCode),
		)
		return Verification{}, eris.Errorf("compliance: verify returned %d", resp.StatusCode)
	}

	var parsed verifyResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return Verification{}, eris.Wrap(err, "compliance: decode response")
	}

	status := VerificationStatus(parsed.Status)
	switch status {
	case StatusVerified, StatusUnverified, StatusInvalid, StatusUnknown:
	default:
		status = StatusUnknown
	}
	return Verification{Status: status, Raw: parsed.Data}, nil
}
