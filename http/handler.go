package http

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/devicepay/gate402"
	"github.com/devicepay/gate402/signing"
)

// PaymentRequiredResponse is the 402 response body: the order identifiers the
// client must echo back, the human-readable accepts structure, and, when a
// claim was rejected for depth, the observed confirmation count.
type PaymentRequiredResponse struct {
	Error         string                       `json:"error"`
	OrderID       string                       `json:"orderId,omitempty"`
	Nonce         string                       `json:"nonce,omitempty"`
	ExpiresAt     *time.Time                   `json:"expiresAt,omitempty"`
	Accepts       *gate402.PaymentRequirements `json:"accepts,omitempty"`
	Confirmations *uint64                      `json:"confirmations,omitempty"`
}

// writeChallenge writes a 402 carrying the signed challenge material in
// headers and the redemption identifiers in the body.
func writeChallenge(w http.ResponseWriter, c *gate402.Challenge, reason string) {
	w.Header().Set(HeaderRequirements, c.RequirementsHeader)
	w.Header().Set(HeaderSignature, c.SignatureToken)

	expires := c.ExpiresAt
	writeJSON(w, http.StatusPaymentRequired, PaymentRequiredResponse{
		Error:     reason,
		OrderID:   c.OrderID,
		Nonce:     c.Nonce,
		ExpiresAt: &expires,
		Accepts:   &c.Accepts,
	})
}

// writeError writes a bare JSON error body.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, PaymentRequiredResponse{Error: msg})
}

// writeJSON writes a JSON response. Encoding errors are ignored; the status
// line is already committed.
func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// NewKeysHandler serves the asymmetric strategy's public-key publication feed
// as a JWKS document. The feed contains public material only.
func NewKeysHandler(ring *signing.KeyRing) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		writeJSON(w, http.StatusOK, ring.JWKS())
	})
}

// NewRotateHandler rotates the current signing key. Mount behind the
// operator trust boundary only.
func NewRotateHandler(admin signing.KeyAdmin) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		keyID, err := admin.Rotate()
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"keyId": keyID})
	})
}

// NewKeyHealthHandler reports key-store health: key lengths, presence of the
// current key, and suspect key naming.
func NewKeyHealthHandler(admin signing.KeyAdmin) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		writeJSON(w, http.StatusOK, admin.Health())
	})
}

// NewKeyStatsHandler reports aggregate key statistics.
func NewKeyStatsHandler(admin signing.KeyAdmin) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		writeJSON(w, http.StatusOK, admin.Stats())
	})
}
