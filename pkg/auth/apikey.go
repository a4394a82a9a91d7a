package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/crypto/bcrypt"
)

const (
	KeyPrefix       = "mlp_"
	KeyRandomLength = 32 // bytes of random data
)

// BcryptCost is the cost factor for new API key hashes.
var BcryptCost = 12

var ErrAPIKeyNotFound = errors.New("API key not found")

// GenerateAPIKey returns a new key and its bcrypt hash. Only the hash should
// be stored; the key is shown once.
func GenerateAPIKey() (key, hash string, err error) {
	randomBytes := make([]byte, KeyRandomLength)
	if _, err := rand.Read(randomBytes); err != nil {
		return "", "", err
	}
	key = KeyPrefix + base64.RawURLEncoding.EncodeToString(randomBytes)

	hash, err = HashAPIKey(key)
	if err != nil {
		return "", "", err
	}
	return key, hash, nil
}

// HashAPIKey bcrypt-hashes key with BcryptCost.
func HashAPIKey(key string) (string, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(key), BcryptCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash API key: %w", err)
	}
	return string(hashed), nil
}

// KeyRing checks presented keys against a fixed set of bcrypt hashes.
// Successful matches are remembered by SHA-256 digest so that a client
// reusing its key does not pay for bcrypt on every request.
type KeyRing struct {
	hashes [][]byte

	mu       sync.RWMutex
	verified map[[sha256.Size]byte]struct{}
}

// NewKeyRing rejects anything that is not a bcrypt hash.
func NewKeyRing(hashes []string) (*KeyRing, error) {
	kr := &KeyRing{verified: make(map[[sha256.Size]byte]struct{})}
	for i, h := range hashes {
		h = strings.TrimSpace(h)
		if _, err := bcrypt.Cost([]byte(h)); err != nil {
			return nil, fmt.Errorf("api key hash %d: %w", i, err)
		}
		kr.hashes = append(kr.hashes, []byte(h))
	}
	return kr, nil
}

// Len returns the number of accepted hashes.
func (kr *KeyRing) Len() int {
	return len(kr.hashes)
}

// Verify returns nil when key matches one of the hashes.
func (kr *KeyRing) Verify(key string) error {
	if !strings.HasPrefix(key, KeyPrefix) {
		return ErrInvalidToken
	}

	digest := sha256.Sum256([]byte(key))
	kr.mu.RLock()
	_, ok := kr.verified[digest]
	kr.mu.RUnlock()
	if ok {
		return nil
	}

	for _, h := range kr.hashes {
		if bcrypt.CompareHashAndPassword(h, []byte(key)) == nil {
			kr.mu.Lock()
			kr.verified[digest] = struct{}{}
			kr.mu.Unlock()
			return nil
		}
	}
	return ErrAPIKeyNotFound
}
