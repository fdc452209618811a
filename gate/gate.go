// Package gate implements the authorization orchestrator: the public-facing
// state machine that prices a command, issues a signed payment challenge, and
// on resubmission runs the four veto gates (signature, order, chain, atomic
// consume) to produce a final verdict and a signed paid receipt.
package gate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/devicepay/gate402"
	"github.com/devicepay/gate402/chain"
	"github.com/devicepay/gate402/encoding"
	"github.com/devicepay/gate402/order"
	"github.com/devicepay/gate402/signing"
	"github.com/devicepay/gate402/validation"
)

// DefaultChallengeTTL is how long an issued challenge stays redeemable.
const DefaultChallengeTTL = 5 * time.Minute

// Pricer looks up the price of a device command. Pricing is owned by the
// caller's catalog, not by the core.
type Pricer interface {
	Price(ctx context.Context, deviceID, command string) (amount string, currency string, err error)
}

// PricerFunc adapts a function to the Pricer interface.
type PricerFunc func(ctx context.Context, deviceID, command string) (string, string, error)

// Price implements Pricer.
func (f PricerFunc) Price(ctx context.Context, deviceID, command string) (string, string, error) {
	return f(ctx, deviceID, command)
}

// TransferVerifier is the chain-verification surface the orchestrator needs.
// *chain.Verifier satisfies it; tests substitute a fake.
type TransferVerifier interface {
	VerifyTransfer(ctx context.Context, txHash common.Hash, recipient common.Address, minAmount *big.Int, minConfirmations uint64) (*chain.TransferProof, error)
}

// Config wires the orchestrator's collaborators. Everything is injected
// explicitly at startup; the orchestrator holds no ambient global state.
type Config struct {
	// Pricer resolves (deviceID, command) to an amount and currency.
	Pricer Pricer

	// Chain selects the network and token the gateway charges in.
	Chain gate402.ChainConfig

	// PayTo is the recipient address payments must reach.
	PayTo string

	// MinConfirmations is the confirmation depth required at redemption.
	MinConfirmations uint64

	// ChallengeTTL bounds challenge validity; zero means DefaultChallengeTTL.
	ChallengeTTL time.Duration

	// CallbackURL is an optional settlement notification URL placed in
	// issued requirements.
	CallbackURL string

	// Signer is the strategy used to sign new challenges and paid receipts.
	Signer signing.Strategy

	// Verifiers routes resubmitted signature tokens by version prefix. It
	// must include Signer's own version.
	Verifiers *signing.Dispatcher

	// Orders is the single-use challenge registry.
	Orders *order.Store

	// Transfers verifies claimed transactions on chain.
	Transfers TransferVerifier
}

// Receipt is the successful redemption result: the verified payment state,
// its deterministic header serialization, and the signature binding it for
// downstream session issuance.
type Receipt struct {
	State gate402.PaymentState

	// StateHeader is the base64 payment-state header.
	StateHeader string

	// StateToken is the active strategy's signature over StateHeader. It
	// carries the strategy's own freshness window, so downstream consumers
	// inherit the same replay bounds as challenge tokens.
	StateToken string
}

// Gate is the authorization orchestrator.
type Gate struct {
	cfg Config
	log *slog.Logger
}

// New validates the wiring and returns an orchestrator.
func New(cfg Config) (*Gate, error) {
	switch {
	case cfg.Pricer == nil:
		return nil, errors.New("gate: pricer is required")
	case cfg.Signer == nil:
		return nil, errors.New("gate: signer strategy is required")
	case cfg.Verifiers == nil:
		return nil, errors.New("gate: verifier dispatcher is required")
	case cfg.Orders == nil:
		return nil, errors.New("gate: order store is required")
	case cfg.Transfers == nil:
		return nil, errors.New("gate: transfer verifier is required")
	}
	if err := validation.ValidateAddress(cfg.PayTo); err != nil {
		return nil, fmt.Errorf("gate: %w", err)
	}
	if cfg.ChallengeTTL <= 0 {
		cfg.ChallengeTTL = DefaultChallengeTTL
	}
	return &Gate{cfg: cfg, log: slog.Default()}, nil
}

// Challenge prices the command, issues a single-use order, builds the payment
// requirements, and signs them with the configured strategy. The result is
// the "payment required" response material.
func (g *Gate) Challenge(ctx context.Context, deviceID, command string) (*gate402.Challenge, error) {
	amount, currency, err := g.cfg.Pricer.Price(ctx, deviceID, command)
	if err != nil {
		return nil, fmt.Errorf("gate: pricing %s/%s: %w", deviceID, command, err)
	}
	if err := validation.ValidateAmount(amount, g.cfg.Chain.Decimals); err != nil {
		return nil, fmt.Errorf("gate: pricing %s/%s: %w", deviceID, command, err)
	}

	o, err := g.cfg.Orders.Issue(g.cfg.ChallengeTTL, order.Metadata{
		DeviceID: deviceID,
		Command:  command,
		Amount:   amount,
		Currency: currency,
	})
	if err != nil {
		return nil, fmt.Errorf("gate: issuing order: %w", err)
	}

	req := gate402.PaymentRequirements{
		Scheme:           "exact",
		Network:          g.cfg.Chain.Network,
		Asset:            g.cfg.Chain.USDCAddress,
		Amount:           amount,
		Currency:         currency,
		PayTo:            g.cfg.PayTo,
		MinConfirmations: g.cfg.MinConfirmations,
		OrderID:          o.ID,
		Nonce:            o.Nonce,
		NonceExp:         o.ExpiresAt.UTC().Format(time.RFC3339),
		CallbackURL:      g.cfg.CallbackURL,
	}

	header, err := encoding.EncodeRequirements(req)
	if err != nil {
		return nil, fmt.Errorf("gate: encoding requirements: %w", err)
	}
	token, err := g.cfg.Signer.Sign(header)
	if err != nil {
		return nil, fmt.Errorf("gate: signing requirements: %w", err)
	}

	g.log.Info("issued payment challenge",
		"orderId", o.ID, "device", deviceID, "command", command,
		"amount", amount, "currency", currency)

	return &gate402.Challenge{
		RequirementsHeader: header,
		SignatureToken:     token,
		OrderID:            o.ID,
		Nonce:              o.Nonce,
		ExpiresAt:          o.ExpiresAt,
		Accepts:            req,
	}, nil
}

// Redeem runs the verification state machine over a resubmitted claim. The
// four sub-steps are independent veto gates: signature verification, order
// validation, chain verification, and atomic consumption. Any one failing
// rejects the attempt with a typed reason; consuming the order is the last
// mutating step, so a failed chain check never leaves an order half-used.
//
// On insufficient confirmations the returned error is a
// *chain.ConfirmationsError carrying the observed count for client retry
// logic.
func (g *Gate) Redeem(ctx context.Context, claimHeader, requirementsHeader, signatureToken string) (*Receipt, error) {
	// Gate 1: the requirements header must carry our own signature.
	verdict := g.cfg.Verifiers.Verify(requirementsHeader, signatureToken)
	if !verdict.Valid {
		g.log.Warn("rejected claim: signature", "reason", verdict.Reason, "keyId", verdict.KeyID)
		return nil, verdict.Reason
	}

	// The header is trusted from here on: it verified against our key.
	req, err := encoding.DecodeRequirements(requirementsHeader)
	if err != nil {
		return nil, err
	}
	if err := validation.ValidatePaymentRequirements(req, g.cfg.Chain.Decimals); err != nil {
		return nil, fmt.Errorf("%w: %v", gate402.ErrMalformedInput, err)
	}

	claim, err := encoding.DecodeClaim(claimHeader)
	if err != nil {
		return nil, err
	}
	if err := validation.ValidatePaymentClaim(claim); err != nil {
		return nil, fmt.Errorf("%w: %v", gate402.ErrMalformedInput, err)
	}

	// Gate 2: the claim must redeem a live order under the signed identifiers.
	if claim.Metadata.OrderID != req.OrderID {
		return nil, gate402.ErrOrderNotFound
	}
	if _, err := g.cfg.Orders.Validate(claim.Metadata.OrderID, claim.Metadata.Nonce); err != nil {
		g.log.Warn("rejected claim: order", "orderId", claim.Metadata.OrderID, "reason", err)
		return nil, err
	}

	// Gate 3: the claimed transaction must satisfy the signed requirements.
	minAmount, err := gate402.AmountToAtomic(req.Amount, g.cfg.Chain.Decimals)
	if err != nil {
		return nil, err
	}
	proof, err := g.cfg.Transfers.VerifyTransfer(ctx,
		common.HexToHash(claim.Metadata.TxHash),
		common.HexToAddress(req.PayTo),
		minAmount, req.MinConfirmations)
	if err != nil {
		g.log.Warn("rejected claim: chain", "orderId", req.OrderID,
			"txHash", claim.Metadata.TxHash, "reason", err)
		return nil, err
	}

	// Gate 4: consume last. If we lose the race to a concurrent redemption,
	// the whole attempt is rejected.
	if err := g.cfg.Orders.Consume(claim.Metadata.OrderID, claim.Metadata.Nonce, claim.Metadata.TxHash); err != nil {
		g.log.Warn("rejected claim: consume", "orderId", req.OrderID, "reason", err)
		return nil, err
	}

	state := gate402.PaymentState{
		TxHash:        claim.Metadata.TxHash,
		Confirmations: proof.Confirmations,
		Network:       req.Network,
		Payer:         proof.From.Hex(),
		PaidAt:        time.Now().UTC().Format(time.RFC3339),
	}
	stateHeader, err := encoding.EncodeState(state)
	if err != nil {
		return nil, fmt.Errorf("gate: encoding payment state: %w", err)
	}
	stateToken, err := g.cfg.Signer.Sign(stateHeader)
	if err != nil {
		return nil, fmt.Errorf("gate: signing payment state: %w", err)
	}

	g.log.Info("payment verified",
		"orderId", req.OrderID, "txHash", state.TxHash,
		"payer", state.Payer, "confirmations", state.Confirmations)

	return &Receipt{State: state, StateHeader: stateHeader, StateToken: stateToken}, nil
}

// VerifyState re-verifies a previously issued paid receipt, for downstream
// collaborators that want to check a payment-state header independently.
func (g *Gate) VerifyState(stateHeader, stateToken string) (*gate402.PaymentState, error) {
	verdict := g.cfg.Verifiers.Verify(stateHeader, stateToken)
	if !verdict.Valid {
		return nil, verdict.Reason
	}
	state, err := encoding.DecodeState(stateHeader)
	if err != nil {
		return nil, err
	}
	return &state, nil
}
