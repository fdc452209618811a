// Package order implements the in-memory registry of single-use payment
// challenges. Every challenge the orchestrator issues lives here until it is
// consumed exactly once or swept after expiry.
//
// The store is an in-process map by design; a multi-instance deployment needs
// an external shared store offering the same atomic-consume contract. That is
// an extension point, not part of the core invariant.
package order

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/devicepay/gate402"
)

// DefaultRetention is how long orders are kept past their expiry before the
// sweeper reclaims them, regardless of use state.
const DefaultRetention = time.Hour

// Metadata is caller-supplied context carried through for audit and
// debugging. It is never trusted for verification.
type Metadata struct {
	DeviceID string `json:"deviceId,omitempty"`
	Command  string `json:"command,omitempty"`
	Amount   string `json:"amount,omitempty"`
	Currency string `json:"currency,omitempty"`
}

// Order is the unit of replay protection: a single-use, time-bounded payment
// challenge identified by an id/nonce pair.
type Order struct {
	// ID is the opaque unique order identifier.
	ID string

	// Nonce is a second random identifier required on redemption.
	Nonce string

	// ExpiresAt is the absolute expiry; redemption after this is rejected.
	ExpiresAt time.Time

	// Used flips exactly once on successful consumption and never resets.
	Used bool

	// TxHash is the transaction hash recorded at consumption time.
	TxHash string

	// Metadata is the caller-supplied audit context.
	Metadata Metadata

	// CreatedAt is the issuance time.
	CreatedAt time.Time
}

// Store is the in-memory order registry. All operations are safe for
// concurrent use; Consume is atomic, so two parallel redemptions of the same
// (orderId, nonce) yield exactly one success.
type Store struct {
	mu        sync.Mutex
	orders    map[string]*Order
	byTxHash  map[string]string
	retention time.Duration

	sweepMu sync.Mutex

	// now is swappable for tests.
	now func() time.Time

	log *slog.Logger
}

// NewStore creates an order store. A non-positive retention falls back to
// DefaultRetention.
func NewStore(retention time.Duration) *Store {
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &Store{
		orders:    make(map[string]*Order),
		byTxHash:  make(map[string]string),
		retention: retention,
		now:       time.Now,
		log:       slog.Default(),
	}
}

// Issue creates and stores a new unused order with a cryptographically random
// id and nonce, returning a copy of it.
func (s *Store) Issue(ttl time.Duration, md Metadata) (Order, error) {
	nonce, err := randomNonce()
	if err != nil {
		return Order{}, err
	}

	now := s.now()
	o := &Order{
		ID:        uuid.NewString(),
		Nonce:     nonce,
		ExpiresAt: now.Add(ttl),
		Metadata:  md,
		CreatedAt: now,
	}

	s.mu.Lock()
	s.orders[o.ID] = o
	s.mu.Unlock()

	return *o, nil
}

// Validate checks that an order exists, is unused, matches the nonce, and has
// not expired. It returns a copy of the order unconsumed. Unknown ids are
// ordinary negative results, never panics.
func (s *Store) Validate(orderID, nonce string) (Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, err := s.validateLocked(orderID, nonce)
	if err != nil {
		return Order{}, err
	}
	return *o, nil
}

// Consume re-validates and atomically marks the order used, recording the
// txHash association for later lookup. Only one of any set of concurrent
// callers racing on the same order observes success.
func (s *Store) Consume(orderID, nonce, txHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, err := s.validateLocked(orderID, nonce)
	if err != nil {
		return err
	}

	o.Used = true
	o.TxHash = txHash
	if txHash != "" {
		s.byTxHash[txHash] = o.ID
	}
	return nil
}

// validateLocked runs the validation ladder. Callers must hold s.mu.
func (s *Store) validateLocked(orderID, nonce string) (*Order, error) {
	o, ok := s.orders[orderID]
	if !ok {
		return nil, gate402.ErrOrderNotFound
	}
	if o.Used {
		return nil, gate402.ErrOrderAlreadyUsed
	}
	if o.Nonce != nonce {
		return nil, gate402.ErrNonceMismatch
	}
	if s.now().After(o.ExpiresAt) {
		return nil, gate402.ErrOrderExpired
	}
	return o, nil
}

// ByTxHash returns the order id a transaction hash was consumed against.
func (s *Store) ByTxHash(txHash string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byTxHash[txHash]
	return id, ok
}

// Len reports the number of orders currently held, used or not.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.orders)
}

// Sweep removes orders whose expiry plus the retention window has passed,
// independent of use state, and returns the number removed. At most one sweep
// runs at a time; overlapping calls return 0 immediately.
func (s *Store) Sweep() int {
	if !s.sweepMu.TryLock() {
		return 0
	}
	defer s.sweepMu.Unlock()

	cutoff := s.now().Add(-s.retention)

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, o := range s.orders {
		if o.ExpiresAt.Before(cutoff) {
			if o.TxHash != "" {
				delete(s.byTxHash, o.TxHash)
			}
			delete(s.orders, id)
			removed++
		}
	}
	return removed
}

// StartSweeper runs Sweep on the given interval until ctx is canceled.
// It is intended to be launched once, as a goroutine, at startup.
func (s *Store) StartSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.Sweep(); n > 0 {
				s.log.Info("swept stale orders", "removed", n, "remaining", s.Len())
			}
		}
	}
}

// randomNonce returns a 128-bit hex nonce from crypto/rand.
func randomNonce() (string, error) {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", err
	}
	return hex.EncodeToString(b[:]), nil
}
