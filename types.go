package gate402

import "time"

// PaymentRequirements is the canonical description of what must be paid to
// satisfy a challenge. This structure is what gets signed: its JSON
// serialization follows struct declaration order, so signer and verifier
// always compute over identical bytes. Never add map-typed fields here.
type PaymentRequirements struct {
	// Scheme is the payment scheme identifier (e.g., "exact").
	Scheme string `json:"scheme"`

	// Network is the blockchain network identifier (e.g., "base", "polygon").
	Network string `json:"network"`

	// Asset is the token contract address the payment must be made in.
	Asset string `json:"asset"`

	// Amount is the payment amount as a decimal string in token units
	// (e.g., "0.010"). Never a float.
	Amount string `json:"amount"`

	// Currency is the token's currency code (e.g., "USDC").
	Currency string `json:"currency"`

	// PayTo is the recipient address for the payment.
	PayTo string `json:"payTo"`

	// MinConfirmations is the minimum confirmation depth required before the
	// payment counts as settled.
	MinConfirmations uint64 `json:"minConfirmations"`

	// OrderID identifies the single-use challenge this requirement belongs to.
	OrderID string `json:"orderId"`

	// Nonce is the second redemption factor issued alongside OrderID.
	Nonce string `json:"nonce"`

	// NonceExp is the challenge expiry as an RFC 3339 timestamp, mirroring
	// the order's expiry.
	NonceExp string `json:"nonceExp"`

	// CallbackURL is an optional URL notified out-of-band on settlement.
	CallbackURL string `json:"callbackUrl,omitempty"`
}

// ClaimMetadata carries the redemption identifiers and audit context inside a
// PaymentClaim. Only TxHash, OrderID and Nonce participate in verification;
// the rest is carried through for debugging.
type ClaimMetadata struct {
	// TxHash is the hash of the on-chain transaction claimed as payment.
	TxHash string `json:"txHash"`

	// OrderID is the challenge being redeemed.
	OrderID string `json:"orderId"`

	// Nonce is the second factor issued with the challenge.
	Nonce string `json:"nonce"`

	// DeviceID is the device the caller wants to command (audit only).
	DeviceID string `json:"deviceId,omitempty"`

	// Command is the priced command being purchased (audit only).
	Command string `json:"command,omitempty"`
}

// PaymentClaim is the client-submitted assertion that a challenge has been
// paid on-chain. The claim itself is untrusted; everything it asserts is
// re-checked against the signed requirements and the chain.
type PaymentClaim struct {
	// Amount is the claimed payment amount as a decimal string.
	Amount string `json:"amount"`

	// Currency is the claimed currency code.
	Currency string `json:"currency"`

	// Network is the blockchain network the payment was made on.
	Network string `json:"network"`

	// PayTo is the claimed recipient address.
	PayTo string `json:"payTo"`

	// Metadata carries the transaction hash and the orderId/nonce pair.
	Metadata ClaimMetadata `json:"metadata"`
}

// PaymentState binds a verified payment to its on-chain facts. It is
// serialized into the payment-state header and signed by the active
// signature strategy for downstream session issuance.
type PaymentState struct {
	// TxHash is the verified transaction hash.
	TxHash string `json:"txHash"`

	// Confirmations is the confirmation depth observed at verification time.
	Confirmations uint64 `json:"confirmations"`

	// Network is the blockchain network the payment settled on.
	Network string `json:"network"`

	// Payer is the sender address recovered from the matched transfer event.
	Payer string `json:"payer"`

	// PaidAt is the RFC 3339 timestamp of verification.
	PaidAt string `json:"paidAt"`
}

// Challenge is the "payment required" material returned to a caller: the
// signed requirements header, the signature token, and the order identifiers
// the caller must echo back on redemption.
type Challenge struct {
	// RequirementsHeader is the deterministic base64 serialization of the
	// PaymentRequirements.
	RequirementsHeader string `json:"requirementsHeader"`

	// SignatureToken is the versioned signature over RequirementsHeader.
	SignatureToken string `json:"signatureToken"`

	// OrderID identifies the issued single-use order.
	OrderID string `json:"orderId"`

	// Nonce is the second redemption factor.
	Nonce string `json:"nonce"`

	// ExpiresAt is the absolute challenge expiry.
	ExpiresAt time.Time `json:"expiresAt"`

	// Accepts is the human-readable payment description mirrored in the
	// response body.
	Accepts PaymentRequirements `json:"accepts"`
}
