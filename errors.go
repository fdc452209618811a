package gate402

import "errors"

// Typed rejection reasons. Every verification failure in the core degrades to
// one of these; nothing here is fatal to the process. All are recoverable by
// the caller (request a new challenge, or wait for confirmations) except
// ErrMalformedInput and ErrUnsupportedSignatureVersion, which indicate a
// client/protocol mismatch.

var (
	// ErrMalformedInput indicates an unparseable requirements header or claim.
	ErrMalformedInput = errors.New("malformed input")

	// ErrUnknownKey indicates a signature token referencing a key id the
	// verifier does not hold.
	ErrUnknownKey = errors.New("unknown signing key")

	// ErrExpiredSignature indicates a signature token older than the replay window.
	ErrExpiredSignature = errors.New("expired signature")

	// ErrFutureSignature indicates a signature token timestamped beyond the
	// allowed clock-skew tolerance in the future.
	ErrFutureSignature = errors.New("signature timestamp in the future")

	// ErrSignatureMismatch indicates the signature does not verify against
	// the presented requirements header.
	ErrSignatureMismatch = errors.New("signature mismatch")

	// ErrUnsupportedSignatureVersion indicates a token whose version prefix
	// matches no configured strategy.
	ErrUnsupportedSignatureVersion = errors.New("unsupported signature version")

	// ErrOrderNotFound indicates a redemption against an unknown order id.
	ErrOrderNotFound = errors.New("order not found")

	// ErrOrderAlreadyUsed indicates the order was already consumed.
	ErrOrderAlreadyUsed = errors.New("order already used")

	// ErrOrderExpired indicates redemption after the order's expiry.
	ErrOrderExpired = errors.New("order expired")

	// ErrNonceMismatch indicates the nonce does not match the order.
	ErrNonceMismatch = errors.New("nonce mismatch")

	// ErrChainReceiptMissing indicates the claimed transaction has no
	// inclusion receipt on chain.
	ErrChainReceiptMissing = errors.New("chain receipt missing")

	// ErrChainReceiptFailed indicates the transaction executed but reverted.
	ErrChainReceiptFailed = errors.New("chain receipt failed")

	// ErrInsufficientConfirmations indicates the transaction is included but
	// not yet buried deep enough. Callers receive the observed count so they
	// can retry or wait.
	ErrInsufficientConfirmations = errors.New("insufficient confirmations")

	// ErrNoMatchingTransfer indicates no token-transfer event satisfied the
	// recipient/amount requirement.
	ErrNoMatchingTransfer = errors.New("no matching transfer")

	// ErrInvalidAmount indicates a malformed decimal amount string.
	ErrInvalidAmount = errors.New("invalid amount")
)
