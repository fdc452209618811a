// Package http provides HTTP middleware for gate402 payment gating: it turns
// unpaid requests into 402 challenges and verified claims into authorized
// requests carrying a signed payment-state header.
package http

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/devicepay/gate402"
	"github.com/devicepay/gate402/chain"
	"github.com/devicepay/gate402/gate"
)

// Protocol header names.
const (
	// HeaderPayment carries the base64 payment claim on redemption requests.
	HeaderPayment = "X-Payment"

	// HeaderRequirements carries the signed requirements header, echoed back
	// by the client on redemption.
	HeaderRequirements = "X-Payment-Requirements"

	// HeaderSignature carries the versioned signature token over the
	// requirements header.
	HeaderSignature = "X-Payment-Signature"

	// HeaderState carries the paid payment-state header on success responses.
	HeaderState = "X-Payment-State"

	// HeaderStateSignature carries the signature over the state header.
	HeaderStateSignature = "X-Payment-State-Signature"

	// HeaderDeviceID and HeaderCommand are the default command-extraction
	// headers.
	HeaderDeviceID = "X-Device-Id"
	HeaderCommand  = "X-Command"
)

// contextKey is a custom type for context keys to avoid collisions.
type contextKey string

// PaymentContextKey is the context key under which the verified *gate.Receipt
// is stored for handler access.
const PaymentContextKey = contextKey("gate402_payment")

// CommandFunc extracts the device id and command a request is asking to
// execute, for pricing. The default reads the X-Device-Id and X-Command
// headers.
type CommandFunc func(r *http.Request) (deviceID, command string, err error)

// Config holds the configuration for the payment middleware.
type Config struct {
	// Gate is the authorization orchestrator (required).
	Gate *gate.Gate

	// Commands overrides how device id and command are extracted from a
	// request. Optional.
	Commands CommandFunc
}

// headerCommands is the default CommandFunc.
func headerCommands(r *http.Request) (string, string, error) {
	deviceID := r.Header.Get(HeaderDeviceID)
	command := r.Header.Get(HeaderCommand)
	if deviceID == "" || command == "" {
		return "", "", errors.New("missing " + HeaderDeviceID + " or " + HeaderCommand + " header")
	}
	return deviceID, command, nil
}

// NewPaymentMiddleware creates payment-gating middleware around the
// orchestrator. Requests without an X-Payment header receive a 402 challenge;
// requests with one are redeemed through the four veto gates, and on success
// the handler runs with the receipt in the request context and the signed
// payment-state headers already set.
func NewPaymentMiddleware(config *Config) func(http.Handler) http.Handler {
	commands := config.Commands
	if commands == nil {
		commands = headerCommands
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			logger := slog.Default()

			// OPTIONS bypass for CORS preflight support.
			if r.Method == http.MethodOptions {
				next.ServeHTTP(w, r)
				return
			}

			deviceID, command, err := commands(r)
			if err != nil {
				logger.Warn("cannot price request", "path", r.URL.Path, "error", err)
				writeError(w, http.StatusBadRequest, err.Error())
				return
			}

			claimHeader := r.Header.Get(HeaderPayment)
			if claimHeader == "" {
				// No payment provided: issue a challenge.
				logger.Info("no payment header provided", "path", r.URL.Path, "device", deviceID)
				sendChallenge(w, r, config.Gate, deviceID, command, "payment required")
				return
			}

			receipt, err := config.Gate.Redeem(r.Context(),
				claimHeader,
				r.Header.Get(HeaderRequirements),
				r.Header.Get(HeaderSignature))
			if err != nil {
				respondRejected(w, r, config.Gate, deviceID, command, err)
				return
			}

			w.Header().Set(HeaderState, receipt.StateHeader)
			w.Header().Set(HeaderStateSignature, receipt.StateToken)

			ctx := context.WithValue(r.Context(), PaymentContextKey, receipt)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// respondRejected maps a typed rejection to the wire. Protocol mismatches are
// 400s; an insufficient-confirmation rejection keeps the order alive and
// reports the observed depth so the client can retry the same claim; every
// other rejection gets a fresh challenge.
func respondRejected(w http.ResponseWriter, r *http.Request, g *gate.Gate, deviceID, command string, err error) {
	logger := slog.Default()

	switch {
	case errors.Is(err, gate402.ErrMalformedInput),
		errors.Is(err, gate402.ErrUnsupportedSignatureVersion):
		logger.Warn("invalid payment submission", "path", r.URL.Path, "error", err)
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var confErr *chain.ConfirmationsError
	if errors.As(err, &confErr) {
		logger.Info("payment pending confirmations",
			"got", confErr.Got, "want", confErr.Want, "path", r.URL.Path)
		writeJSON(w, http.StatusPaymentRequired, PaymentRequiredResponse{
			Error:         err.Error(),
			Confirmations: &confErr.Got,
		})
		return
	}

	logger.Warn("payment rejected", "path", r.URL.Path, "reason", err)
	sendChallenge(w, r, g, deviceID, command, err.Error())
}

// sendChallenge issues a fresh challenge and writes the 402 response.
func sendChallenge(w http.ResponseWriter, r *http.Request, g *gate.Gate, deviceID, command, reason string) {
	challenge, err := g.Challenge(r.Context(), deviceID, command)
	if err != nil {
		slog.Default().Error("failed to issue challenge", "path", r.URL.Path, "error", err)
		writeError(w, http.StatusServiceUnavailable, "cannot issue payment challenge")
		return
	}
	writeChallenge(w, challenge, reason)
}
