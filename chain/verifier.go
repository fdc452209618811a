// Package chain verifies that a claimed blockchain transaction actually
// satisfies a payment requirement. It fetches the transaction's inclusion
// receipt from an EVM JSON-RPC endpoint, checks execution status and
// confirmation depth, and decodes ERC-20 Transfer events at the expected
// token contract to match recipient and amount.
//
// RPC failures degrade to verification failures; nothing here is fatal or
// retried implicitly.
package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"golang.org/x/sync/singleflight"

	"github.com/devicepay/gate402"
)

// transferTopic is the event signature hash of ERC-20
// Transfer(address,address,uint256).
var transferTopic = crypto.Keccak256Hash([]byte("Transfer(address,address,uint256)"))

// RPC is the minimal JSON-RPC surface the verifier needs. *ethclient.Client
// satisfies it; tests substitute a fake.
type RPC interface {
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	BlockNumber(ctx context.Context) (uint64, error)
}

var _ RPC = (*ethclient.Client)(nil)

// TransferProof records the on-chain facts of a matched token transfer.
type TransferProof struct {
	// TxHash is the verified transaction hash.
	TxHash common.Hash

	// From is the sender of the matched transfer.
	From common.Address

	// Amount is the transferred amount in the token's smallest unit.
	Amount *big.Int

	// BlockNumber is the inclusion height.
	BlockNumber uint64

	// Confirmations is the depth observed at verification time.
	Confirmations uint64
}

// ConfirmationsError reports an insufficient confirmation depth along with
// the observed count so callers can retry or wait.
type ConfirmationsError struct {
	Got  uint64
	Want uint64
}

func (e *ConfirmationsError) Error() string {
	return fmt.Sprintf("insufficient confirmations: got %d, want %d", e.Got, e.Want)
}

// Unwrap ties the error into the gate402 taxonomy.
func (e *ConfirmationsError) Unwrap() error { return gate402.ErrInsufficientConfirmations }

// Verifier checks token transfers against payment requirements. Concurrent
// receipt lookups for the same transaction hash are collapsed into one RPC
// call; the chain head is re-fetched on every verification so confirmation
// depth is never stale.
type Verifier struct {
	rpc   RPC
	token common.Address

	receipts singleflight.Group
}

// NewVerifier creates a verifier over an RPC client for one token contract.
func NewVerifier(rpc RPC, token common.Address) *Verifier {
	return &Verifier{rpc: rpc, token: token}
}

// Dial connects to a JSON-RPC endpoint and returns a verifier for the token
// contract at the given hex address.
func Dial(rawurl, token string) (*Verifier, error) {
	client, err := ethclient.Dial(rawurl)
	if err != nil {
		return nil, fmt.Errorf("chain: dial %s: %w", rawurl, err)
	}
	if !common.IsHexAddress(token) {
		return nil, fmt.Errorf("chain: invalid token address %q", token)
	}
	return NewVerifier(client, common.HexToAddress(token)), nil
}

// VerifyTransfer confirms that txHash transferred at least minAmount of the
// verifier's token to recipient, buried at least minConfirmations deep.
//
// On insufficient depth it returns both the proof (with the observed
// confirmation count) and a *ConfirmationsError, so callers can surface the
// count for retry logic. Every other failure returns a typed gate402 reason.
func (v *Verifier) VerifyTransfer(ctx context.Context, txHash common.Hash, recipient common.Address, minAmount *big.Int, minConfirmations uint64) (*TransferProof, error) {
	receipt, err := v.receipt(ctx, txHash)
	if err != nil {
		if errors.Is(err, ethereum.NotFound) {
			return nil, gate402.ErrChainReceiptMissing
		}
		return nil, fmt.Errorf("%w: %v", gate402.ErrChainReceiptMissing, err)
	}

	if receipt.Status != types.ReceiptStatusSuccessful {
		return nil, gate402.ErrChainReceiptFailed
	}

	head, err := v.rpc.BlockNumber(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: head lookup: %v", gate402.ErrChainReceiptMissing, err)
	}

	blockNumber := receipt.BlockNumber.Uint64()
	var confirmations uint64
	if head >= blockNumber {
		confirmations = head - blockNumber
	}

	proof := v.matchTransfer(receipt, recipient, minAmount)
	if proof == nil {
		return nil, gate402.ErrNoMatchingTransfer
	}
	proof.TxHash = txHash
	proof.BlockNumber = blockNumber
	proof.Confirmations = confirmations

	if confirmations < minConfirmations {
		return proof, &ConfirmationsError{Got: confirmations, Want: minConfirmations}
	}
	return proof, nil
}

// matchTransfer scans the receipt's logs for a Transfer event at the token
// contract whose destination is recipient and whose amount is at least
// minAmount. Address comparison is canonical, so case differences in the
// caller's hex never matter.
func (v *Verifier) matchTransfer(receipt *types.Receipt, recipient common.Address, minAmount *big.Int) *TransferProof {
	for _, log := range receipt.Logs {
		if log.Address != v.token || len(log.Topics) != 3 || log.Topics[0] != transferTopic {
			continue
		}
		to := common.BytesToAddress(log.Topics[2].Bytes())
		if to != recipient {
			continue
		}
		amount := new(big.Int).SetBytes(log.Data)
		if amount.Cmp(minAmount) < 0 {
			continue
		}
		return &TransferProof{
			From:   common.BytesToAddress(log.Topics[1].Bytes()),
			Amount: amount,
		}
	}
	return nil
}

// receipt fetches the inclusion receipt, collapsing concurrent lookups of the
// same hash into one in-flight RPC call.
func (v *Verifier) receipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	res, err, _ := v.receipts.Do(txHash.Hex(), func() (interface{}, error) {
		return v.rpc.TransactionReceipt(ctx, txHash)
	})
	if err != nil {
		return nil, err
	}
	return res.(*types.Receipt), nil
}

// WaitForConfirmations polls until txHash reaches the target confirmation
// depth or maxWait elapses, backing off between polls. It is best-effort
// only: the primary verification path always re-checks confirmations
// synchronously, so a true result here is a hint, not a verdict.
func (v *Verifier) WaitForConfirmations(ctx context.Context, txHash common.Hash, target uint64, maxWait time.Duration) bool {
	ctx, cancel := context.WithTimeout(ctx, maxWait)
	defer cancel()

	delay := 2 * time.Second
	const maxDelay = 15 * time.Second

	for {
		receipt, err := v.receipt(ctx, txHash)
		if err == nil && receipt.Status == types.ReceiptStatusSuccessful {
			if head, err := v.rpc.BlockNumber(ctx); err == nil {
				block := receipt.BlockNumber.Uint64()
				if head >= block && head-block >= target {
					return true
				}
			}
		}

		select {
		case <-ctx.Done():
			return false
		case <-time.After(delay):
		}
		if delay *= 2; delay > maxDelay {
			delay = maxDelay
		}
	}
}
