package signing

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/devicepay/gate402"
)

// DefaultMaxKeys bounds how many shared secrets the store retains; once
// exceeded, the oldest non-current keys are pruned.
const DefaultMaxKeys = 5

// minSecretLen is the shortest shared secret Health does not flag as weak.
const minSecretLen = 32

// KeyHealth is the admin-facing key-store inspection report.
type KeyHealth struct {
	// Strategy names the strategy family the store serves.
	Strategy string `json:"strategy"`

	// CurrentKeyID is the key used for new issuance.
	CurrentKeyID string `json:"currentKeyId"`

	// CurrentPresent reports whether the current key actually exists.
	CurrentPresent bool `json:"currentPresent"`

	// Emergency reports whether the store is running on a self-generated
	// emergency key. A production deployment should never see this true.
	Emergency bool `json:"emergency"`

	// KeyCount is the number of live keys.
	KeyCount int `json:"keyCount"`

	// WeakKeys lists key ids whose secret material is shorter than expected.
	WeakKeys []string `json:"weakKeys,omitempty"`

	// SuspectNames lists key ids that look like non-production naming.
	SuspectNames []string `json:"suspectNames,omitempty"`
}

// KeyStats is the aggregate view exposed on the admin surface.
type KeyStats struct {
	Strategy     string `json:"strategy"`
	KeyCount     int    `json:"keyCount"`
	CurrentKeyID string `json:"currentKeyId"`
}

// KeyAdmin is the trust-boundary administrative contract both keyed stores
// implement: rotate the current key, inspect health, fetch stats.
type KeyAdmin interface {
	Rotate() (string, error)
	Health() KeyHealth
	Stats() KeyStats
}

// SecretConfig is the explicit startup configuration for the shared-secret
// store. Key material is passed in once at construction; the store never
// reads ambient environment state.
type SecretConfig struct {
	// Secrets maps key id to shared secret.
	Secrets map[string]string

	// CurrentKeyID designates the key used for new issuance. Required when
	// Secrets is non-empty; construction fails if it names an absent key.
	CurrentKeyID string

	// MaxKeys bounds retained keys; zero means DefaultMaxKeys.
	MaxKeys int
}

type secretEntry struct {
	secret  []byte
	created time.Time
}

// SecretStore holds the Enhanced strategy's live shared secrets. Multiple
// keys coexist so tokens signed under an older key remain verifiable during
// rotation; exactly one key is current for new issuance. Rotation never
// removes the current key.
type SecretStore struct {
	mu        sync.RWMutex
	secrets   map[string]*secretEntry
	current   string
	maxKeys   int
	emergency bool

	now func() time.Time
	log *slog.Logger
}

// NewSecretStore builds the store from explicit configuration. An empty
// config does not silently accept unsigned data: the store self-generates a
// random emergency key so signing always succeeds, logs it loudly, and flags
// it in Health so it is never mistaken for a production setup.
func NewSecretStore(cfg SecretConfig) (*SecretStore, error) {
	s := &SecretStore{
		secrets: make(map[string]*secretEntry),
		maxKeys: cfg.MaxKeys,
		now:     time.Now,
		log:     slog.Default(),
	}
	if s.maxKeys <= 0 {
		s.maxKeys = DefaultMaxKeys
	}

	if len(cfg.Secrets) == 0 {
		keyID, err := s.generateEmergencyKey()
		if err != nil {
			return nil, err
		}
		s.log.Error("no signing secrets configured, generated emergency key; do not run production issuance on this key",
			"keyId", keyID)
		return s, nil
	}

	if cfg.CurrentKeyID == "" {
		return nil, errors.New("secret store: current key id must be designated")
	}
	if _, ok := cfg.Secrets[cfg.CurrentKeyID]; !ok {
		return nil, fmt.Errorf("secret store: designated current key %q not present", cfg.CurrentKeyID)
	}

	created := s.now()
	for id, secret := range cfg.Secrets {
		s.secrets[id] = &secretEntry{secret: []byte(secret), created: created}
	}
	s.current = cfg.CurrentKeyID
	return s, nil
}

// Add registers a key, making it verifiable immediately and, when makeCurrent
// is set, used for all new issuance. Old keys beyond the retention bound are
// pruned, oldest first, skipping the current key.
func (s *SecretStore) Add(keyID, secret string, makeCurrent bool) error {
	if keyID == "" || secret == "" {
		return errors.New("secret store: key id and secret must be non-empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.secrets[keyID] = &secretEntry{secret: []byte(secret), created: s.now()}
	if makeCurrent {
		s.current = keyID
		s.emergency = false
	}
	s.pruneLocked()
	return nil
}

// Rotate generates a fresh random secret, registers it, and designates it
// current. It returns the new key id.
func (s *SecretStore) Rotate() (string, error) {
	var b [32]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", err
	}
	keyID := s.nextKeyID("k")
	if err := s.Add(keyID, hex.EncodeToString(b[:]), true); err != nil {
		return "", err
	}
	s.log.Info("rotated shared-secret signing key", "keyId", keyID)
	return keyID, nil
}

// Secret returns the secret for a key id.
func (s *SecretStore) Secret(keyID string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.secrets[keyID]
	if !ok {
		return nil, gate402.ErrUnknownKey
	}
	return e.secret, nil
}

// Current returns the current key id and its secret.
func (s *SecretStore) Current() (string, []byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.secrets[s.current]
	if !ok {
		return "", nil, gate402.ErrUnknownKey
	}
	return s.current, e.secret, nil
}

// Health reports key lengths, current-key presence and suspect naming.
func (s *SecretStore) Health() KeyHealth {
	s.mu.RLock()
	defer s.mu.RUnlock()

	h := KeyHealth{
		Strategy:     "enhanced",
		CurrentKeyID: s.current,
		Emergency:    s.emergency,
		KeyCount:     len(s.secrets),
	}
	_, h.CurrentPresent = s.secrets[s.current]
	for id, e := range s.secrets {
		if len(e.secret) < minSecretLen {
			h.WeakKeys = append(h.WeakKeys, id)
		}
		if suspectKeyName(id) {
			h.SuspectNames = append(h.SuspectNames, id)
		}
	}
	sort.Strings(h.WeakKeys)
	sort.Strings(h.SuspectNames)
	return h
}

// Stats returns the aggregate key-store statistics.
func (s *SecretStore) Stats() KeyStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return KeyStats{Strategy: "enhanced", KeyCount: len(s.secrets), CurrentKeyID: s.current}
}

// pruneLocked drops the oldest non-current keys once maxKeys is exceeded.
// Callers must hold s.mu.
func (s *SecretStore) pruneLocked() {
	for len(s.secrets) > s.maxKeys {
		oldest := ""
		var oldestAt time.Time
		for id, e := range s.secrets {
			if id == s.current {
				continue
			}
			if oldest == "" || e.created.Before(oldestAt) {
				oldest, oldestAt = id, e.created
			}
		}
		if oldest == "" {
			return
		}
		delete(s.secrets, oldest)
		s.log.Info("pruned retired signing key", "keyId", oldest)
	}
}

// generateEmergencyKey installs a random current key so signing never fails
// on an empty store.
func (s *SecretStore) generateEmergencyKey() (string, error) {
	var b [32]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", err
	}
	keyID := s.nextKeyID("emergency")
	s.secrets[keyID] = &secretEntry{secret: []byte(hex.EncodeToString(b[:])), created: s.now()}
	s.current = keyID
	s.emergency = true
	return keyID, nil
}

// nextKeyID builds a time-ordered key id with a short random suffix.
func (s *SecretStore) nextKeyID(prefix string) string {
	var b [4]byte
	rand.Read(b[:])
	return prefix + "-" + s.now().UTC().Format("20060102T150405") + "-" + hex.EncodeToString(b[:])
}

// suspectKeyName flags key ids that look like non-production naming.
func suspectKeyName(id string) bool {
	lower := strings.ToLower(id)
	for _, marker := range []string{"test", "dev", "emergency", "local"} {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}
