// Package encoding provides transport codecs for gate402 payment data.
// It handles base64 and JSON marshaling for requirements headers, payment
// claims, and payment-state headers.
//
// Requirements and state headers are signed material: their JSON encoding is
// deterministic because the underlying structs contain only scalar fields
// marshaled in declaration order. Decoding and re-encoding a header yields
// the same bytes, so signer and verifier always agree.
package encoding

import (
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/devicepay/gate402"
)

// EncodeRequirements converts PaymentRequirements to the base64-encoded JSON
// requirements header. This is the exact byte string signature strategies
// sign and verify.
//
// Returns an error if JSON marshaling fails.
func EncodeRequirements(req gate402.PaymentRequirements) (string, error) {
	reqJSON, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("failed to marshal requirements: %w", err)
	}
	return base64.StdEncoding.EncodeToString(reqJSON), nil
}

// DecodeRequirements converts a requirements header back to PaymentRequirements.
//
// Returns an error wrapping gate402.ErrMalformedInput if base64 decoding or
// JSON unmarshaling fails.
func DecodeRequirements(encoded string) (gate402.PaymentRequirements, error) {
	var req gate402.PaymentRequirements

	decoded, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return req, fmt.Errorf("%w: failed to decode base64: %v", gate402.ErrMalformedInput, err)
	}

	if err := json.Unmarshal(decoded, &req); err != nil {
		return req, fmt.Errorf("%w: failed to unmarshal requirements: %v", gate402.ErrMalformedInput, err)
	}

	return req, nil
}

// EncodeClaim converts a PaymentClaim to a base64-encoded JSON string for
// the payment header on redemption requests.
//
// Returns an error if JSON marshaling fails.
func EncodeClaim(claim gate402.PaymentClaim) (string, error) {
	claimJSON, err := json.Marshal(claim)
	if err != nil {
		return "", fmt.Errorf("failed to marshal claim: %w", err)
	}
	return base64.StdEncoding.EncodeToString(claimJSON), nil
}

// DecodeClaim converts a base64-encoded JSON string to a PaymentClaim.
//
// Returns an error wrapping gate402.ErrMalformedInput if base64 decoding or
// JSON unmarshaling fails.
func DecodeClaim(encoded string) (gate402.PaymentClaim, error) {
	var claim gate402.PaymentClaim

	decoded, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return claim, fmt.Errorf("%w: failed to decode base64: %v", gate402.ErrMalformedInput, err)
	}

	if err := json.Unmarshal(decoded, &claim); err != nil {
		return claim, fmt.Errorf("%w: failed to unmarshal claim: %v", gate402.ErrMalformedInput, err)
	}

	return claim, nil
}

// EncodeState converts a PaymentState to the base64-encoded JSON
// payment-state header. Like the requirements header, this is signed
// material with a deterministic encoding.
//
// Returns an error if JSON marshaling fails.
func EncodeState(state gate402.PaymentState) (string, error) {
	stateJSON, err := json.Marshal(state)
	if err != nil {
		return "", fmt.Errorf("failed to marshal payment state: %w", err)
	}
	return base64.StdEncoding.EncodeToString(stateJSON), nil
}

// DecodeState converts a payment-state header back to a PaymentState.
//
// Returns an error wrapping gate402.ErrMalformedInput if base64 decoding or
// JSON unmarshaling fails.
func DecodeState(encoded string) (gate402.PaymentState, error) {
	var state gate402.PaymentState

	decoded, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return state, fmt.Errorf("%w: failed to decode base64: %v", gate402.ErrMalformedInput, err)
	}

	if err := json.Unmarshal(decoded, &state); err != nil {
		return state, fmt.Errorf("%w: failed to unmarshal payment state: %v", gate402.ErrMalformedInput, err)
	}

	return state, nil
}
