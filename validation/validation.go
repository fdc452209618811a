// Package validation provides structural checks for payment requirements and
// client-submitted claims before they enter the verification pipeline.
package validation

import (
	"fmt"
	"regexp"
	"time"

	"github.com/devicepay/gate402"
)

var (
	// evmAddressRegex matches Ethereum-style addresses (0x followed by 40 hex chars).
	evmAddressRegex = regexp.MustCompile(`^0x[a-fA-F0-9]{40}$`)

	// txHashRegex matches EVM transaction hashes (0x followed by 64 hex chars).
	txHashRegex = regexp.MustCompile(`^0x[a-fA-F0-9]{64}$`)
)

// ValidateAmount validates that an amount string is a well-formed positive
// decimal for a token with the given precision.
func ValidateAmount(amount string, decimals int) error {
	if amount == "" {
		return fmt.Errorf("amount cannot be empty")
	}
	atomic, err := gate402.AmountToAtomic(amount, decimals)
	if err != nil {
		return fmt.Errorf("invalid amount format: %s", amount)
	}
	if atomic.Sign() <= 0 {
		return fmt.Errorf("amount must be greater than 0, got: %s", amount)
	}
	return nil
}

// ValidateAddress validates an EVM address string.
func ValidateAddress(address string) error {
	if address == "" {
		return fmt.Errorf("address cannot be empty")
	}
	if !evmAddressRegex.MatchString(address) {
		return fmt.Errorf("invalid EVM address format: %s (expected 0x followed by 40 hex characters)", address)
	}
	return nil
}

// ValidateTxHash validates an EVM transaction hash string.
func ValidateTxHash(hash string) error {
	if hash == "" {
		return fmt.Errorf("transaction hash cannot be empty")
	}
	if !txHashRegex.MatchString(hash) {
		return fmt.Errorf("invalid transaction hash format: %s", hash)
	}
	return nil
}

// ValidatePaymentRequirements performs comprehensive validation of decoded
// payment requirements: amount, addresses, scheme, identifiers, and expiry.
func ValidatePaymentRequirements(req gate402.PaymentRequirements, decimals int) error {
	if err := ValidateAmount(req.Amount, decimals); err != nil {
		return fmt.Errorf("invalid requirement: %w", err)
	}

	if req.Network == "" {
		return fmt.Errorf("invalid requirement: network cannot be empty")
	}

	if err := ValidateAddress(req.PayTo); err != nil {
		return fmt.Errorf("invalid requirement: payTo %w", err)
	}

	if err := ValidateAddress(req.Asset); err != nil {
		return fmt.Errorf("invalid requirement: asset %w", err)
	}

	switch req.Scheme {
	case "exact":
	case "":
		return fmt.Errorf("invalid requirement: scheme cannot be empty")
	default:
		return fmt.Errorf("invalid requirement: unsupported scheme %s", req.Scheme)
	}

	if req.OrderID == "" || req.Nonce == "" {
		return fmt.Errorf("invalid requirement: order id and nonce are required")
	}

	if _, err := time.Parse(time.RFC3339, req.NonceExp); err != nil {
		return fmt.Errorf("invalid requirement: nonceExp must be RFC 3339: %w", err)
	}

	return nil
}

// ValidatePaymentClaim validates the structure of a client-submitted claim:
// the redemption identifiers and the transaction hash must be present and
// well-formed. Everything the claim asserts about the payment itself is
// re-checked on chain, not here.
func ValidatePaymentClaim(claim gate402.PaymentClaim) error {
	if claim.Metadata.OrderID == "" {
		return fmt.Errorf("claim missing order id")
	}
	if claim.Metadata.Nonce == "" {
		return fmt.Errorf("claim missing nonce")
	}
	if err := ValidateTxHash(claim.Metadata.TxHash); err != nil {
		return fmt.Errorf("claim %w", err)
	}
	return nil
}
