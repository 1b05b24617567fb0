// Package compliance validates declared regulatory IDs (GSTINs) through an
// external verification collaborator, degrading gracefully when it is
// unreachable.
package compliance

import (
	"context"
	"os"
	"regexp"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/finvela/risk-engine/internal/config"
)

// VerificationStatus is the collaborator's verdict on one ID.
type VerificationStatus string

const (
	StatusVerified   VerificationStatus = "verified"
	StatusUnverified VerificationStatus = "unverified"
	StatusInvalid    VerificationStatus = "invalid"
	StatusUnknown    VerificationStatus = "unknown"
)

// Verification is the result of a single ID lookup.
type Verification struct {
	Status VerificationStatus `json:"status"`
	Raw    map[string]any     `json:"raw,omitempty"`
}

// Verifier is the external ID-validation collaborator boundary.
type Verifier interface {
	Verify(ctx context.Context, id string) (Verification, error)
}

// gstinPattern is the structural GSTIN check: state code, PAN, entity
// number, the fixed Z, and a checksum character.
var gstinPattern = regexp.MustCompile(`^[0-9]{2}[A-Z]{5}[0-9]{4}[A-Z][A-Z0-9]Z[0-9A-Z]$`)

// ValidSyntax reports whether the ID is structurally a GSTIN. Syntactically
// broken IDs are invalid without consulting the collaborator.
func ValidSyntax(id string) bool {
	return gstinPattern.MatchString(id)
}

// NewVerifier builds the configured provider.
func NewVerifier(cfg config.ComplianceConfig) (Verifier, error) {
	switch cfg.Provider {
	case "", "none":
		return NoneVerifier{}, nil
	case "fixture":
		return NewFixtureVerifier(cfg.FixturePath)
	case "http":
		return NewHTTPVerifier(cfg), nil
	default:
		return nil, eris.Errorf("compliance: unknown provider %q", cfg.Provider)
	}
}

// NoneVerifier is used when verification is disabled; every lookup is
// unknown.
type NoneVerifier struct{}

func (NoneVerifier) Verify(context.Context, string) (Verification, error) {
	return Verification{
		Status: StatusUnknown,
		Raw:    map[string]any{"reason": "verification provider disabled"},
	}, nil
}

// FixtureVerifier answers lookups from a YAML registry of known GSTINs.
// Offline analogue of the real collaborator, used in tests and local runs.
type FixtureVerifier struct {
	registry map[string]VerificationStatus
}

// NewFixtureVerifier loads the registry file: a YAML map of GSTIN to
// status (verified, unverified, invalid).
func NewFixtureVerifier(path string) (*FixtureVerifier, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "compliance: read fixture %s", path)
	}
	var entries map[string]string
	if err := yaml.Unmarshal(raw, &entries); err != nil {
		return nil, eris.Wrapf(err, "compliance: parse fixture %s", path)
	}
	registry := make(map[string]VerificationStatus, len(entries))
	for id, status := range entries {
		registry[id] = VerificationStatus(status)
	}
	return &FixtureVerifier{registry: registry}, nil
}

func (f *FixtureVerifier) Verify(_ context.Context, id string) (Verification, error) {
	status, ok := f.registry[id]
	if !ok {
		return Verification{
			Status: StatusUnverified,
			Raw:    map[string]any{"reason": "not in fixture registry"},
		}, nil
	}
	return Verification{Status: status, Raw: map[string]any{"source": "fixture"}}, nil
}
