// Package gate402 is the payment-authorization core of a pay-per-use
// device-control gateway. Before a device command executes, the caller must
// present cryptographic proof of an on-chain stablecoin payment: the gate
// package issues short-lived signed payment challenges, the signing package
// authenticates them end-to-end, the order package makes them single-use,
// and the chain package verifies the claimed transaction on an EVM chain.
//
// This root package holds the shared protocol types, the rejection taxonomy,
// and per-network USDC configuration.
package gate402

import (
	"fmt"
	"math/big"
	"strings"
)

// ChainConfig contains chain-specific configuration for USDC payments.
type ChainConfig struct {
	// Network is the protocol network identifier (e.g., "base").
	Network string

	// USDCAddress is the official Circle USDC contract address.
	USDCAddress string

	// Decimals is the number of decimal places for USDC (always 6).
	Decimals int
}

// Mainnet chain configurations. USDC addresses follow the verified set the
// project has shipped with since the EVM verifier landed.
var (
	// BaseMainnet is the configuration for Base mainnet.
	BaseMainnet = ChainConfig{
		Network:     "base",
		USDCAddress: "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913",
		Decimals:    6,
	}

	// PolygonMainnet is the configuration for Polygon PoS mainnet.
	PolygonMainnet = ChainConfig{
		Network:     "polygon",
		USDCAddress: "0x3c499c542cEF5E3811e1192ce70d8cC03d5c3359",
		Decimals:    6,
	}

	// AvalancheMainnet is the configuration for Avalanche C-Chain mainnet.
	AvalancheMainnet = ChainConfig{
		Network:     "avalanche",
		USDCAddress: "0xB97EF9Ef8734C71904D8002F8b6Bc66Dd9c48a6E",
		Decimals:    6,
	}

	// BaseSepolia is the configuration for the Base Sepolia testnet.
	BaseSepolia = ChainConfig{
		Network:     "base-sepolia",
		USDCAddress: "0x036CbD53842c5426634e7929541eC2318f3dCF7e",
		Decimals:    6,
	}
)

// chainsByNetwork indexes the known configurations for lookup.
var chainsByNetwork = map[string]ChainConfig{
	BaseMainnet.Network:      BaseMainnet,
	PolygonMainnet.Network:   PolygonMainnet,
	AvalancheMainnet.Network: AvalancheMainnet,
	BaseSepolia.Network:      BaseSepolia,
}

// ChainByNetwork returns the configuration for a known network identifier.
func ChainByNetwork(network string) (ChainConfig, error) {
	cfg, ok := chainsByNetwork[network]
	if !ok {
		return ChainConfig{}, fmt.Errorf("unknown network: %s", network)
	}
	return cfg, nil
}

// AmountToAtomic converts a decimal amount string to *big.Int in the token's
// smallest unit. For example, "1.5" with 6 decimals becomes 1500000. The
// conversion is exact string arithmetic; amounts with more fractional digits
// than the token carries are rejected rather than rounded.
func AmountToAtomic(amount string, decimals int) (*big.Int, error) {
	if amount == "" || decimals < 0 {
		return nil, ErrInvalidAmount
	}

	whole, frac := amount, ""
	if i := strings.IndexByte(amount, '.'); i >= 0 {
		whole, frac = amount[:i], amount[i+1:]
	}
	if whole == "" && frac == "" {
		return nil, ErrInvalidAmount
	}
	if whole == "" {
		whole = "0"
	}
	if len(frac) > decimals {
		return nil, ErrInvalidAmount
	}
	frac += strings.Repeat("0", decimals-len(frac))

	result, ok := new(big.Int).SetString(whole+frac, 10)
	if !ok || result.Sign() < 0 {
		return nil, ErrInvalidAmount
	}
	return result, nil
}

// AtomicToAmount converts a *big.Int in the token's smallest unit to a
// decimal string. For example, 1500000 with 6 decimals becomes "1.500000".
func AtomicToAmount(value *big.Int, decimals int) string {
	if value == nil {
		return "0"
	}

	s := value.String()
	if decimals == 0 {
		return s
	}
	if len(s) <= decimals {
		s = strings.Repeat("0", decimals-len(s)+1) + s
	}
	return s[:len(s)-decimals] + "." + s[len(s)-decimals:]
}
