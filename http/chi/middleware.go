// Package chi provides Chi-compatible wiring for gate402 payment gating.
// The middleware itself uses the stdlib http.Handler interface, so this
// package is a thin adapter plus a ready-made admin router.
package chi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	gatehttp "github.com/devicepay/gate402/http"
	"github.com/devicepay/gate402/signing"
)

// NewPaymentMiddleware returns Chi-compatible payment-gating middleware.
//
// Example usage:
//
//	r := chi.NewRouter()
//	r.Use(chix.NewPaymentMiddleware(&gatehttp.Config{Gate: g}))
//	r.Post("/devices/command", func(w http.ResponseWriter, r *http.Request) {
//		receipt := r.Context().Value(gatehttp.PaymentContextKey).(*gate.Receipt)
//		w.Write([]byte("command dispatched, paid by " + receipt.State.Payer))
//	})
func NewPaymentMiddleware(config *gatehttp.Config) func(http.Handler) http.Handler {
	return gatehttp.NewPaymentMiddleware(config)
}

// NewAdminRouter builds the operator-only key administration surface:
//
//	GET  /keys          public-key publication feed (JWKS)
//	POST /admin/rotate  rotate the current signing key
//	GET  /admin/health  key-store health report
//	GET  /admin/stats   aggregate key statistics
//
// The /admin routes sit behind a trust boundary; mount them on an internal
// listener or wrap them with operator authentication.
func NewAdminRouter(ring *signing.KeyRing, admin signing.KeyAdmin) chi.Router {
	r := chi.NewRouter()
	if ring != nil {
		r.Method(http.MethodGet, "/keys", gatehttp.NewKeysHandler(ring))
	}
	r.Route("/admin", func(r chi.Router) {
		r.Method(http.MethodPost, "/rotate", gatehttp.NewRotateHandler(admin))
		r.Method(http.MethodGet, "/health", gatehttp.NewKeyHealthHandler(admin))
		r.Method(http.MethodGet, "/stats", gatehttp.NewKeyStatsHandler(admin))
	})
	return r
}
