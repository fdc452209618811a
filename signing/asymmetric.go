package signing

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"gopkg.in/square/go-jose.v2"
	"gopkg.in/square/go-jose.v2/jwt"

	"github.com/devicepay/gate402"
)

// DefaultTokenTTL is the asymmetric token validity window: expiry is
// issued-at plus this duration.
const DefaultTokenTTL = 300 * time.Second

// asymClaims carries the requirements header inside the token so a verifier
// can confirm the token was minted for exactly these requirement bytes.
type asymClaims struct {
	Req string `json:"req"`
}

// Asymmetric signs requirements headers as JWS compact tokens under a
// per-key-id public/private key pair, prefixed "v3=". The token carries
// issuer, audience, issued-at, expiry, a unique token id for replay audit,
// and the embedded requirements header. Third parties can verify
// independently through the ring's public-key feed.
type Asymmetric struct {
	ring     *KeyRing
	issuer   string
	audience string
	tokenTTL time.Duration
	maxSkew  time.Duration

	// now is swappable for tests.
	now func() time.Time
}

// NewAsymmetric creates the asymmetric strategy. An empty ring does not
// silently accept unsigned data: an emergency ECDSA key is generated and
// logged loudly, mirroring the shared-secret store's behavior.
func NewAsymmetric(ring *KeyRing, issuer, audience string) (*Asymmetric, error) {
	if ring == nil {
		return nil, errors.New("asymmetric strategy requires a key ring")
	}
	if issuer == "" || audience == "" {
		return nil, errors.New("asymmetric strategy requires issuer and audience")
	}

	if _, err := ring.CurrentKey(); err != nil {
		keyID, genErr := ring.GenerateEC(true)
		if genErr != nil {
			return nil, genErr
		}
		ring.mu.Lock()
		ring.emergency = true
		ring.mu.Unlock()
		slog.Default().Error("no asymmetric signing keys configured, generated emergency key; do not run production issuance on this key",
			"keyId", keyID)
	}

	return &Asymmetric{
		ring:     ring,
		issuer:   issuer,
		audience: audience,
		tokenTTL: DefaultTokenTTL,
		maxSkew:  DefaultMaxClockSkew,
		now:      time.Now,
	}, nil
}

// Version returns the asymmetric token prefix.
func (a *Asymmetric) Version() string { return VersionAsymmetric }

// Ring exposes the underlying key ring for key administration and the
// public-key feed.
func (a *Asymmetric) Ring() *KeyRing { return a.ring }

// Sign mints a JWS token over the header with the ring's current key.
func (a *Asymmetric) Sign(header string) (string, error) {
	key, err := a.ring.CurrentKey()
	if err != nil {
		return "", fmt.Errorf("asymmetric sign: %w", err)
	}

	opts := (&jose.SignerOptions{}).WithType("JWT").WithHeader("kid", key.ID)
	signer, err := jose.NewSigner(jose.SigningKey{Algorithm: key.Algorithm, Key: key.Private}, opts)
	if err != nil {
		return "", fmt.Errorf("asymmetric sign: %w", err)
	}

	now := a.now()
	cl := jwt.Claims{
		Issuer:   a.issuer,
		Audience: jwt.Audience{a.audience},
		IssuedAt: jwt.NewNumericDate(now),
		Expiry:   jwt.NewNumericDate(now.Add(a.tokenTTL)),
		ID:       uuid.NewString(),
	}

	raw, err := jwt.Signed(signer).Claims(cl).Claims(asymClaims{Req: header}).CompactSerialize()
	if err != nil {
		return "", fmt.Errorf("asymmetric sign: %w", err)
	}
	return VersionAsymmetric + "=" + raw, nil
}

// Verify parses the token, resolves the declared key id, confirms the
// declared algorithm matches the key's family, verifies the signature with
// the public half, and enforces issuer/audience and time bounds.
func (a *Asymmetric) Verify(header, token string) *Verdict {
	raw, ok := strings.CutPrefix(token, VersionAsymmetric+"=")
	if !ok {
		return invalid(gate402.ErrUnsupportedSignatureVersion)
	}

	parsed, err := jwt.ParseSigned(raw)
	if err != nil || len(parsed.Headers) != 1 {
		return invalid(gate402.ErrMalformedInput)
	}

	keyID := parsed.Headers[0].KeyID
	declaredAlg := parsed.Headers[0].Algorithm
	v := &Verdict{KeyID: keyID, Algorithm: declaredAlg}

	key, err := a.ring.Get(keyID)
	if err != nil {
		v.Reason = gate402.ErrUnknownKey
		return v
	}

	// Algorithm confusion guard: the token may not declare a different
	// algorithm than the key was registered with.
	if declaredAlg != string(key.Algorithm) {
		v.Reason = gate402.ErrSignatureMismatch
		return v
	}

	var cl jwt.Claims
	var custom asymClaims
	if err := parsed.Claims(key.Public(), &cl, &custom); err != nil {
		v.Reason = gate402.ErrSignatureMismatch
		return v
	}

	if cl.Issuer != a.issuer || !cl.Audience.Contains(a.audience) {
		v.Reason = gate402.ErrSignatureMismatch
		return v
	}

	now := a.now()
	if cl.IssuedAt != nil {
		v.Timestamp = cl.IssuedAt.Time()
		if v.Timestamp.Sub(now) > a.maxSkew {
			v.Reason = gate402.ErrFutureSignature
			return v
		}
	}
	if cl.Expiry == nil || now.After(cl.Expiry.Time().Add(a.maxSkew)) {
		v.Reason = gate402.ErrExpiredSignature
		return v
	}

	if custom.Req != header {
		v.Reason = gate402.ErrSignatureMismatch
		return v
	}

	v.Valid = true
	return v
}
