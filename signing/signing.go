// Package signing implements the versioned signature strategies that
// authenticate payment requirements end-to-end.
//
// Three interchangeable strategies sit behind one contract: Legacy (single
// shared secret, unversioned HMAC, kept for backward compatibility), Enhanced
// (multi-key timestamped HMAC with a replay window), and Asymmetric (per-key
// RSA/ECDSA pairs producing self-describing tokens, with a public-key feed
// for independent verification). Tokens are self-describing opaque strings
// whose version prefix lets a single Dispatcher route verification.
package signing

import (
	"strings"
	"time"

	"github.com/devicepay/gate402"
)

// Token version prefixes. Every signature token starts with one of these
// followed by '='.
const (
	VersionLegacy     = "v1"
	VersionEnhanced   = "v2"
	VersionAsymmetric = "v3"
)

// Verdict is the result of verifying a signature token. On failure, Reason
// carries a typed rejection from the gate402 taxonomy; KeyID, Algorithm and
// Timestamp are echoed for audit where the token declared them.
type Verdict struct {
	// Valid reports whether the token verifies against the header.
	Valid bool `json:"valid"`

	// Reason is the typed failure cause; nil when Valid.
	Reason error `json:"-"`

	// KeyID is the signing key the token declared, when present.
	KeyID string `json:"keyId,omitempty"`

	// Algorithm is the signing algorithm used or declared.
	Algorithm string `json:"algorithm,omitempty"`

	// Timestamp is the token's declared signing time, when present.
	Timestamp time.Time `json:"timestamp,omitempty"`
}

// invalid builds a failed verdict with a typed reason.
func invalid(reason error) *Verdict {
	return &Verdict{Valid: false, Reason: reason}
}

// Strategy is one signature algorithm family. Sign produces a versioned
// signature token over the deterministic requirements header; Verify checks a
// token against the header and never returns an error out-of-band: every
// failure mode is folded into the Verdict.
type Strategy interface {
	// Version returns the token version prefix this strategy emits.
	Version() string

	// Sign signs the requirements header and returns the signature token.
	Sign(header string) (string, error)

	// Verify checks the token against the header.
	Verify(header, token string) *Verdict
}

// Dispatcher routes verification to the strategy matching a token's version
// prefix, so one Verify entry point serves all configured token families.
type Dispatcher struct {
	strategies map[string]Strategy
}

// NewDispatcher builds a dispatcher over the given strategies. Later
// strategies with a duplicate version replace earlier ones.
func NewDispatcher(strategies ...Strategy) *Dispatcher {
	d := &Dispatcher{strategies: make(map[string]Strategy, len(strategies))}
	for _, s := range strategies {
		d.strategies[s.Version()] = s
	}
	return d
}

// Register adds or replaces a strategy.
func (d *Dispatcher) Register(s Strategy) {
	d.strategies[s.Version()] = s
}

// Verify inspects the token's version prefix and delegates to the matching
// strategy. Tokens with no recognizable prefix fail with
// ErrUnsupportedSignatureVersion.
func (d *Dispatcher) Verify(header, token string) *Verdict {
	version, _, ok := strings.Cut(token, "=")
	if !ok {
		return invalid(gate402.ErrMalformedInput)
	}
	s, ok := d.strategies[version]
	if !ok {
		return invalid(gate402.ErrUnsupportedSignatureVersion)
	}
	return s.Verify(header, token)
}
