package signing

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/devicepay/gate402"
)

// Enhanced strategy defaults.
const (
	// DefaultMaxTokenAge is the replay window: tokens older than this are
	// rejected as expired.
	DefaultMaxTokenAge = 300 * time.Second

	// DefaultMaxClockSkew is how far in the future a token timestamp may sit
	// before it is rejected.
	DefaultMaxClockSkew = 60 * time.Second
)

// Enhanced signs headers with a timestamped, key-identified HMAC-SHA256 from
// a multi-key secret store. The token embeds version, timestamp, key id and
// signature:
//
//	v2=<unix-ts>.<keyId>.<base64url signature>
//
// The signature covers header || "|ts=" || unixTimestamp, so a token cannot
// be replayed outside its window or spliced onto different requirements.
type Enhanced struct {
	store   *SecretStore
	maxAge  time.Duration
	maxSkew time.Duration

	// now is swappable for tests.
	now func() time.Time
}

// NewEnhanced creates the enhanced strategy over a secret store with the
// default replay window and clock-skew tolerance.
func NewEnhanced(store *SecretStore) (*Enhanced, error) {
	if store == nil {
		return nil, errors.New("enhanced strategy requires a secret store")
	}
	return &Enhanced{
		store:   store,
		maxAge:  DefaultMaxTokenAge,
		maxSkew: DefaultMaxClockSkew,
		now:     time.Now,
	}, nil
}

// Version returns the enhanced token prefix.
func (e *Enhanced) Version() string { return VersionEnhanced }

// Store exposes the underlying secret store for key administration.
func (e *Enhanced) Store() *SecretStore { return e.store }

// Sign signs the header with the store's current key at the current time.
func (e *Enhanced) Sign(header string) (string, error) {
	keyID, secret, err := e.store.Current()
	if err != nil {
		return "", fmt.Errorf("enhanced sign: %w", err)
	}

	ts := e.now().Unix()
	sig := enhancedMAC(secret, header, ts)
	return fmt.Sprintf("%s=%d.%s.%s", VersionEnhanced, ts, keyID,
		base64.RawURLEncoding.EncodeToString(sig)), nil
}

// Verify parses the token, enforces the replay window and skew tolerance,
// resolves the declared key, and compares signatures in constant time.
func (e *Enhanced) Verify(header, token string) *Verdict {
	body, ok := strings.CutPrefix(token, VersionEnhanced+"=")
	if !ok {
		return invalid(gate402.ErrUnsupportedSignatureVersion)
	}

	parts := strings.SplitN(body, ".", 3)
	if len(parts) != 3 {
		return invalid(gate402.ErrMalformedInput)
	}

	ts, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return invalid(gate402.ErrMalformedInput)
	}
	keyID := parts[1]
	sig, err := base64.RawURLEncoding.DecodeString(parts[2])
	if err != nil {
		return invalid(gate402.ErrMalformedInput)
	}

	signedAt := time.Unix(ts, 0)
	v := &Verdict{KeyID: keyID, Algorithm: "HMAC-SHA256", Timestamp: signedAt}

	now := e.now()
	if now.Sub(signedAt) > e.maxAge {
		v.Reason = gate402.ErrExpiredSignature
		return v
	}
	if signedAt.Sub(now) > e.maxSkew {
		v.Reason = gate402.ErrFutureSignature
		return v
	}

	secret, err := e.store.Secret(keyID)
	if err != nil {
		v.Reason = gate402.ErrUnknownKey
		return v
	}

	if !hmac.Equal(sig, enhancedMAC(secret, header, ts)) {
		v.Reason = gate402.ErrSignatureMismatch
		return v
	}

	v.Valid = true
	return v
}

// enhancedMAC computes HMAC-SHA256 over header || "|ts=" || unixTimestamp.
func enhancedMAC(secret []byte, header string, ts int64) []byte {
	m := hmac.New(sha256.New, secret)
	m.Write([]byte(header))
	m.Write([]byte("|ts="))
	m.Write([]byte(strconv.FormatInt(ts, 10)))
	return m.Sum(nil)
}
