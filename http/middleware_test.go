package http

import (
	"context"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/devicepay/gate402"
	"github.com/devicepay/gate402/chain"
	"github.com/devicepay/gate402/encoding"
	"github.com/devicepay/gate402/gate"
	"github.com/devicepay/gate402/order"
	"github.com/devicepay/gate402/signing"
)

const (
	testPayTo  = "0x742d35Cc6634C0532925a3b844Bc9e7595f0bEb0"
	testTxHash = "0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"
)

type fakeTransfers struct {
	err error
}

func (f *fakeTransfers) VerifyTransfer(ctx context.Context, txHash common.Hash, recipient common.Address, minAmount *big.Int, minConfirmations uint64) (*chain.TransferProof, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &chain.TransferProof{
		From:          common.HexToAddress("0x1111111111111111111111111111111111111111"),
		Amount:        minAmount,
		BlockNumber:   100,
		Confirmations: 3,
	}, nil
}

func newTestHandler(t *testing.T, transfers gate.TransferVerifier) http.Handler {
	t.Helper()

	signer, err := signing.NewLegacy("shared-secret")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	g, err := gate.New(gate.Config{
		Pricer: gate.PricerFunc(func(ctx context.Context, deviceID, command string) (string, string, error) {
			return "0.010", "USDC", nil
		}),
		Chain:     gate402.BaseSepolia,
		PayTo:     testPayTo,
		Signer:    signer,
		Verifiers: signing.NewDispatcher(signer),
		Orders:    order.NewStore(time.Hour),
		Transfers: transfers,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := r.Context().Value(PaymentContextKey).(*gate.Receipt); !ok {
			t.Error("handler ran without a receipt in context")
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"executed"}`))
	})
	return NewPaymentMiddleware(&Config{Gate: g})(next)
}

func commandRequest(t *testing.T) *http.Request {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/devices/command", nil)
	req.Header.Set(HeaderDeviceID, "D1")
	req.Header.Set(HeaderCommand, "play")
	return req
}

func TestMiddlewareIssuesChallenge(t *testing.T) {
	h := newTestHandler(t, &fakeTransfers{})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, commandRequest(t))

	if rec.Code != http.StatusPaymentRequired {
		t.Fatalf("status: got %d, want 402", rec.Code)
	}
	if rec.Header().Get(HeaderRequirements) == "" || rec.Header().Get(HeaderSignature) == "" {
		t.Error("challenge response missing requirement headers")
	}

	var body PaymentRequiredResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if body.OrderID == "" || body.Nonce == "" {
		t.Errorf("challenge body missing identifiers: %+v", body)
	}
	if body.Accepts == nil || body.Accepts.Amount != "0.010" {
		t.Errorf("challenge body missing accepts: %+v", body.Accepts)
	}
}

func TestMiddlewareRedeemsPayment(t *testing.T) {
	h := newTestHandler(t, &fakeTransfers{})

	// First request: collect the challenge.
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, commandRequest(t))
	if rec.Code != http.StatusPaymentRequired {
		t.Fatalf("status: got %d, want 402", rec.Code)
	}

	var challenge PaymentRequiredResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &challenge); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	claim, err := encoding.EncodeClaim(gate402.PaymentClaim{
		Metadata: gate402.ClaimMetadata{
			TxHash:  testTxHash,
			OrderID: challenge.OrderID,
			Nonce:   challenge.Nonce,
		},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Second request: resubmit with the claim and the echoed challenge.
	req := commandRequest(t)
	req.Header.Set(HeaderPayment, claim)
	req.Header.Set(HeaderRequirements, rec.Header().Get(HeaderRequirements))
	req.Header.Set(HeaderSignature, rec.Header().Get(HeaderSignature))

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d, want 200 (body: %s)", rec.Code, rec.Body)
	}
	stateHeader := rec.Header().Get(HeaderState)
	if stateHeader == "" || rec.Header().Get(HeaderStateSignature) == "" {
		t.Fatal("success response missing payment-state headers")
	}
	state, err := encoding.DecodeState(stateHeader)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if state.TxHash != testTxHash || state.Confirmations != 3 {
		t.Errorf("state: %+v", state)
	}

	// Replaying the spent claim yields a fresh challenge, not authorization.
	rec2 := httptest.NewRecorder()
	h.ServeHTTP(rec2, req)
	if rec2.Code != http.StatusPaymentRequired {
		t.Errorf("replay status: got %d, want 402", rec2.Code)
	}
	var replay PaymentRequiredResponse
	if err := json.Unmarshal(rec2.Body.Bytes(), &replay); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if replay.OrderID == "" || replay.OrderID == challenge.OrderID {
		t.Errorf("replay must carry a fresh order, got %q", replay.OrderID)
	}
}

func TestMiddlewareMissingCommandHeaders(t *testing.T) {
	h := newTestHandler(t, &fakeTransfers{})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/devices/command", nil))

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status: got %d, want 400", rec.Code)
	}
}

func TestMiddlewareMalformedClaim(t *testing.T) {
	h := newTestHandler(t, &fakeTransfers{})

	req := commandRequest(t)
	req.Header.Set(HeaderPayment, "!!!")

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	// Malformed input is a protocol error, not a payment problem: no new
	// challenge is minted.
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status: got %d, want 400", rec.Code)
	}
	if rec.Header().Get(HeaderRequirements) != "" {
		t.Error("malformed claim should not receive a challenge")
	}
}

func TestMiddlewarePendingConfirmations(t *testing.T) {
	transfers := &fakeTransfers{}
	h := newTestHandler(t, transfers)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, commandRequest(t))

	var challenge PaymentRequiredResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &challenge); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	claim, err := encoding.EncodeClaim(gate402.PaymentClaim{
		Metadata: gate402.ClaimMetadata{
			TxHash:  testTxHash,
			OrderID: challenge.OrderID,
			Nonce:   challenge.Nonce,
		},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	transfers.err = &chain.ConfirmationsError{Got: 1, Want: 5}

	req := commandRequest(t)
	req.Header.Set(HeaderPayment, claim)
	req.Header.Set(HeaderRequirements, rec.Header().Get(HeaderRequirements))
	req.Header.Set(HeaderSignature, rec.Header().Get(HeaderSignature))

	rec2 := httptest.NewRecorder()
	h.ServeHTTP(rec2, req)

	if rec2.Code != http.StatusPaymentRequired {
		t.Fatalf("status: got %d, want 402", rec2.Code)
	}
	var body PaymentRequiredResponse
	if err := json.Unmarshal(rec2.Body.Bytes(), &body); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if body.Confirmations == nil || *body.Confirmations != 1 {
		t.Errorf("pending response missing observed confirmations: %+v", body)
	}
	// The order stays live: no fresh challenge identifiers are issued.
	if body.OrderID != "" {
		t.Errorf("pending response minted a new order: %q", body.OrderID)
	}

	// Once deep enough, the very same claim redeems.
	transfers.err = nil
	rec3 := httptest.NewRecorder()
	h.ServeHTTP(rec3, req)
	if rec3.Code != http.StatusOK {
		t.Errorf("retry status: got %d, want 200 (body: %s)", rec3.Code, rec3.Body)
	}
}

func TestMiddlewareOptionsBypass(t *testing.T) {
	called := false
	bypass := NewPaymentMiddleware(&Config{Gate: mustGate(t)})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusNoContent)
	}))

	rec := httptest.NewRecorder()
	bypass.ServeHTTP(rec, httptest.NewRequest(http.MethodOptions, "/devices/command", nil))

	if !called {
		t.Error("OPTIONS request did not reach the handler")
	}
	if rec.Code != http.StatusNoContent {
		t.Errorf("status: got %d, want 204", rec.Code)
	}
}

func TestKeysHandler(t *testing.T) {
	ring := signing.NewKeyRing()
	if _, err := ring.GenerateEC(true); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	rec := httptest.NewRecorder()
	NewKeysHandler(ring).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/keys", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d, want 200", rec.Code)
	}
	var feed struct {
		Keys []json.RawMessage `json:"keys"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &feed); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(feed.Keys) != 1 {
		t.Errorf("jwks keys: got %d, want 1", len(feed.Keys))
	}

	rec = httptest.NewRecorder()
	NewKeysHandler(ring).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/keys", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("POST status: got %d, want 405", rec.Code)
	}
}

func TestRotateHandler(t *testing.T) {
	store, err := signing.NewSecretStore(signing.SecretConfig{
		Secrets:      map[string]string{"primary": "0123456789abcdef0123456789abcdef"},
		CurrentKeyID: "primary",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	rec := httptest.NewRecorder()
	NewRotateHandler(store).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/admin/rotate", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d, want 200", rec.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if body["keyId"] == "" || body["keyId"] == "primary" {
		t.Errorf("rotate must return the new key id, got %q", body["keyId"])
	}

	rec = httptest.NewRecorder()
	NewRotateHandler(store).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/admin/rotate", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("GET status: got %d, want 405", rec.Code)
	}
}

func mustGate(t *testing.T) *gate.Gate {
	t.Helper()
	signer, err := signing.NewLegacy("shared-secret")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	g, err := gate.New(gate.Config{
		Pricer: gate.PricerFunc(func(ctx context.Context, deviceID, command string) (string, string, error) {
			return "0.010", "USDC", nil
		}),
		Chain:     gate402.BaseSepolia,
		PayTo:     testPayTo,
		Signer:    signer,
		Verifiers: signing.NewDispatcher(signer),
		Orders:    order.NewStore(time.Hour),
		Transfers: &fakeTransfers{},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return g
}
