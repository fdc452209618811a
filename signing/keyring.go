package signing

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"gopkg.in/square/go-jose.v2"

	"github.com/devicepay/gate402"
)

// minRSABits is the shortest RSA modulus Health does not flag as weak.
const minRSABits = 2048

// KeyPair is one asymmetric signing key: a key id bound to a private key and
// its JWS algorithm.
type KeyPair struct {
	// ID is the key identifier carried in token headers and the public feed.
	ID string

	// Algorithm is the JWS algorithm this key signs with (RS256 or ES256).
	Algorithm jose.SignatureAlgorithm

	// Private is the private half; its public half feeds the JWKS.
	Private crypto.Signer

	// CreatedAt is the registration time, used for pruning order.
	CreatedAt time.Time
}

// Public returns the public half of the pair.
func (k *KeyPair) Public() crypto.PublicKey { return k.Private.Public() }

// KeyRing holds the Asymmetric strategy's live key pairs. Like the secret
// store, multiple keys coexist during rotation, exactly one is current for
// issuance, and rotation never removes the current key.
type KeyRing struct {
	mu        sync.RWMutex
	keys      map[string]*KeyPair
	current   string
	maxKeys   int
	emergency bool

	now func() time.Time
	log *slog.Logger
}

// NewKeyRing creates an empty key ring with the default retention bound.
func NewKeyRing() *KeyRing {
	return &KeyRing{
		keys:    make(map[string]*KeyPair),
		maxKeys: DefaultMaxKeys,
		now:     time.Now,
		log:     slog.Default(),
	}
}

// AddKey registers an existing private key under a key id, making it
// verifiable immediately and, when makeCurrent is set, used for new issuance.
func (r *KeyRing) AddKey(id string, private crypto.Signer, alg jose.SignatureAlgorithm, makeCurrent bool) error {
	if id == "" || private == nil {
		return errors.New("key ring: key id and private key must be set")
	}
	switch alg {
	case jose.RS256, jose.ES256:
	default:
		return fmt.Errorf("key ring: unsupported algorithm %s", alg)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.keys[id] = &KeyPair{ID: id, Algorithm: alg, Private: private, CreatedAt: r.now()}
	if makeCurrent {
		r.current = id
		r.emergency = false
	}
	r.pruneLocked()
	return nil
}

// GenerateRSA creates and registers a fresh RSA key pair.
func (r *KeyRing) GenerateRSA(bits int, makeCurrent bool) (string, error) {
	if bits < minRSABits {
		bits = minRSABits
	}
	key, err := rsa.GenerateKey(rand.Reader, bits)
	if err != nil {
		return "", fmt.Errorf("key ring: rsa generation: %w", err)
	}
	id := r.nextKeyID("rsa")
	if err := r.AddKey(id, key, jose.RS256, makeCurrent); err != nil {
		return "", err
	}
	return id, nil
}

// GenerateEC creates and registers a fresh P-256 ECDSA key pair.
func (r *KeyRing) GenerateEC(makeCurrent bool) (string, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return "", fmt.Errorf("key ring: ecdsa generation: %w", err)
	}
	id := r.nextKeyID("ec")
	if err := r.AddKey(id, key, jose.ES256, makeCurrent); err != nil {
		return "", err
	}
	return id, nil
}

// Rotate generates a fresh key in the current key's algorithm family (ECDSA
// when the ring is empty) and designates it current.
func (r *KeyRing) Rotate() (string, error) {
	r.mu.RLock()
	cur := r.keys[r.current]
	r.mu.RUnlock()

	var (
		id  string
		err error
	)
	if cur != nil && cur.Algorithm == jose.RS256 {
		rsaKey, ok := cur.Private.(*rsa.PrivateKey)
		bits := minRSABits
		if ok {
			bits = rsaKey.N.BitLen()
		}
		id, err = r.GenerateRSA(bits, true)
	} else {
		id, err = r.GenerateEC(true)
	}
	if err != nil {
		return "", err
	}
	r.log.Info("rotated asymmetric signing key", "keyId", id)
	return id, nil
}

// Get resolves a key pair by id.
func (r *KeyRing) Get(id string) (*KeyPair, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	k, ok := r.keys[id]
	if !ok {
		return nil, gate402.ErrUnknownKey
	}
	return k, nil
}

// CurrentKey returns the key pair designated for new issuance.
func (r *KeyRing) CurrentKey() (*KeyPair, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	k, ok := r.keys[r.current]
	if !ok {
		return nil, gate402.ErrUnknownKey
	}
	return k, nil
}

// JWKS returns the public-key publication feed: one descriptor per live key
// id, carrying public material only. Private key bytes never leave the ring.
func (r *KeyRing) JWKS() jose.JSONWebKeySet {
	r.mu.RLock()
	defer r.mu.RUnlock()

	set := jose.JSONWebKeySet{Keys: make([]jose.JSONWebKey, 0, len(r.keys))}
	for _, k := range r.keys {
		set.Keys = append(set.Keys, jose.JSONWebKey{
			Key:       k.Public(),
			KeyID:     k.ID,
			Algorithm: string(k.Algorithm),
			Use:       "sig",
		})
	}
	sort.Slice(set.Keys, func(i, j int) bool { return set.Keys[i].KeyID < set.Keys[j].KeyID })
	return set
}

// Health reports key strength, current-key presence and suspect naming.
func (r *KeyRing) Health() KeyHealth {
	r.mu.RLock()
	defer r.mu.RUnlock()

	h := KeyHealth{
		Strategy:     "asymmetric",
		CurrentKeyID: r.current,
		Emergency:    r.emergency,
		KeyCount:     len(r.keys),
	}
	_, h.CurrentPresent = r.keys[r.current]
	for id, k := range r.keys {
		if rsaKey, ok := k.Private.(*rsa.PrivateKey); ok && rsaKey.N.BitLen() < minRSABits {
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

// Stats returns the aggregate key-ring statistics.
func (r *KeyRing) Stats() KeyStats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return KeyStats{Strategy: "asymmetric", KeyCount: len(r.keys), CurrentKeyID: r.current}
}

// pruneLocked drops the oldest non-current keys once maxKeys is exceeded.
// Callers must hold r.mu.
func (r *KeyRing) pruneLocked() {
	for len(r.keys) > r.maxKeys {
		oldest := ""
		var oldestAt time.Time
		for id, k := range r.keys {
			if id == r.current {
				continue
			}
			if oldest == "" || k.CreatedAt.Before(oldestAt) {
				oldest, oldestAt = id, k.CreatedAt
			}
		}
		if oldest == "" {
			return
		}
		delete(r.keys, oldest)
		r.log.Info("pruned retired asymmetric key", "keyId", oldest)
	}
}

// nextKeyID builds a time-ordered key id with a short random suffix.
func (r *KeyRing) nextKeyID(prefix string) string {
	var b [4]byte
	rand.Read(b[:])
	return fmt.Sprintf("%s-%s-%x", prefix, r.now().UTC().Format("20060102T150405"), b)
}
