package order

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/devicepay/gate402"
)

func TestIssueAndValidate(t *testing.T) {
	s := NewStore(time.Hour)

	o, err := s.Issue(5*time.Minute, Metadata{DeviceID: "D1", Command: "play"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if o.ID == "" || o.Nonce == "" {
		t.Fatal("issued order missing id or nonce")
	}
	if o.ID == o.Nonce {
		t.Fatal("order id and nonce must be distinct")
	}
	if o.Used {
		t.Fatal("issued order must start unused")
	}

	got, err := s.Validate(o.ID, o.Nonce)
	if err != nil {
		t.Fatalf("validate after issue: %v", err)
	}
	if got.Used {
		t.Error("validate must not consume the order")
	}
	if got.Metadata.DeviceID != "D1" || got.Metadata.Command != "play" {
		t.Errorf("metadata not carried through: %+v", got.Metadata)
	}
}

func TestValidateFailures(t *testing.T) {
	s := NewStore(time.Hour)
	o, err := s.Issue(5*time.Minute, Metadata{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	tests := []struct {
		name    string
		setup   func()
		orderID string
		nonce   string
		want    error
	}{
		{name: "unknown order", orderID: "no-such-order", nonce: o.Nonce, want: gate402.ErrOrderNotFound},
		{name: "wrong nonce", orderID: o.ID, nonce: "wrong", want: gate402.ErrNonceMismatch},
		{
			name:    "expired",
			setup:   func() { s.now = func() time.Time { return time.Now().Add(10 * time.Minute) } },
			orderID: o.ID,
			nonce:   o.Nonce,
			want:    gate402.ErrOrderExpired,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.setup != nil {
				tt.setup()
				defer func() { s.now = time.Now }()
			}
			if _, err := s.Validate(tt.orderID, tt.nonce); !errors.Is(err, tt.want) {
				t.Errorf("got %v, want %v", err, tt.want)
			}
		})
	}
}

func TestConsumeOnce(t *testing.T) {
	s := NewStore(time.Hour)
	o, err := s.Issue(5*time.Minute, Metadata{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := s.Consume(o.ID, o.Nonce, "0xabc"); err != nil {
		t.Fatalf("first consume: %v", err)
	}
	if err := s.Consume(o.ID, o.Nonce, "0xabc"); !errors.Is(err, gate402.ErrOrderAlreadyUsed) {
		t.Errorf("second consume: got %v, want ErrOrderAlreadyUsed", err)
	}
	if _, err := s.Validate(o.ID, o.Nonce); !errors.Is(err, gate402.ErrOrderAlreadyUsed) {
		t.Errorf("validate after consume: got %v, want ErrOrderAlreadyUsed", err)
	}

	id, ok := s.ByTxHash("0xabc")
	if !ok || id != o.ID {
		t.Errorf("tx association missing: got %q, %v", id, ok)
	}
}

func TestConcurrentConsume(t *testing.T) {
	s := NewStore(time.Hour)
	o, err := s.Issue(5*time.Minute, Metadata{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	const attempts = 32
	var wg sync.WaitGroup
	results := make(chan error, attempts)

	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- s.Consume(o.ID, o.Nonce, "0xrace")
		}()
	}
	wg.Wait()
	close(results)

	successes, alreadyUsed := 0, 0
	for err := range results {
		switch {
		case err == nil:
			successes++
		case errors.Is(err, gate402.ErrOrderAlreadyUsed):
			alreadyUsed++
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}

	if successes != 1 {
		t.Errorf("got %d successes, want exactly 1", successes)
	}
	if alreadyUsed != attempts-1 {
		t.Errorf("got %d already-used rejections, want %d", alreadyUsed, attempts-1)
	}
}

func TestSweep(t *testing.T) {
	s := NewStore(time.Hour)

	stale, err := s.Issue(time.Minute, Metadata{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := s.Consume(stale.ID, stale.Nonce, "0xold"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	fresh, err := s.Issue(time.Minute, Metadata{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Nothing is old enough yet: expiry plus retention has not passed.
	if n := s.Sweep(); n != 0 {
		t.Errorf("early sweep removed %d orders, want 0", n)
	}

	// Jump past expiry + retention for the first order only.
	s.now = func() time.Time { return stale.ExpiresAt.Add(2 * time.Hour) }
	defer func() { s.now = time.Now }()

	if n := s.Sweep(); n != 2 {
		// Both orders were issued at the same time with the same TTL, so
		// both are past retention.
		t.Errorf("sweep removed %d orders, want 2", n)
	}
	if s.Len() != 0 {
		t.Errorf("store still holds %d orders", s.Len())
	}
	if _, ok := s.ByTxHash("0xold"); ok {
		t.Error("tx association survived the sweep")
	}
	if _, err := s.Validate(fresh.ID, fresh.Nonce); !errors.Is(err, gate402.ErrOrderNotFound) {
		t.Errorf("swept order still validates: %v", err)
	}
}
