package signing

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"

	"github.com/devicepay/gate402"
)

// Legacy signs requirements headers with a single shared secret and no
// timestamp or key id. It exists only so tokens issued by older deployments
// keep verifying; it must be enabled explicitly and is never the default for
// new issuance.
type Legacy struct {
	secret []byte
}

// NewLegacy creates the legacy strategy from the single shared secret.
func NewLegacy(secret string) (*Legacy, error) {
	if secret == "" {
		return nil, errors.New("legacy strategy requires a non-empty shared secret")
	}
	return &Legacy{secret: []byte(secret)}, nil
}

// Version returns the legacy token prefix.
func (l *Legacy) Version() string { return VersionLegacy }

// Sign returns "v1=" followed by the hex HMAC-SHA256 of the header.
func (l *Legacy) Sign(header string) (string, error) {
	return VersionLegacy + "=" + hex.EncodeToString(l.mac(header)), nil
}

// Verify recomputes the HMAC and compares in constant time.
func (l *Legacy) Verify(header, token string) *Verdict {
	body, ok := strings.CutPrefix(token, VersionLegacy+"=")
	if !ok {
		return invalid(gate402.ErrUnsupportedSignatureVersion)
	}

	sig, err := hex.DecodeString(body)
	if err != nil {
		return invalid(gate402.ErrMalformedInput)
	}

	if !hmac.Equal(sig, l.mac(header)) {
		return invalid(gate402.ErrSignatureMismatch)
	}

	return &Verdict{Valid: true, Algorithm: "HMAC-SHA256"}
}

func (l *Legacy) mac(header string) []byte {
	m := hmac.New(sha256.New, l.secret)
	m.Write([]byte(header))
	return m.Sum(nil)
}
