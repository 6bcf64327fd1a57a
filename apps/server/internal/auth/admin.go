// Package auth gates operator actions behind a shared admin key. Only the
// bcrypt hash of the key is configured on the server.
package auth

import (
	"crypto/sha256"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"
	"sync"

	"golang.org/x/crypto/bcrypt"
)

var (
	ErrMissingKey = errors.New("missing admin key")
	ErrInvalidKey = errors.New("invalid admin key")
	ErrNoKeySet   = errors.New("admin key not configured")
	ErrShortKey   = errors.New("admin key must be at least 12 characters")
)

const minKeyLength = 12

// AdminKey verifies presented keys against a bcrypt hash.
type AdminKey struct {
	hash []byte

	mu sync.Mutex
	// verified remembers digests of keys that already passed bcrypt.
	verified map[[sha256.Size]byte]struct{}
}

func NewAdminKey(hash string) *AdminKey {
	hash = strings.TrimSpace(hash)
	if hash == "" {
		log.Printf("[Auth] ADMIN_KEY_HASH not set; operator routes will reject every request")
	}
	return &AdminKey{
		hash:     []byte(hash),
		verified: make(map[[sha256.Size]byte]struct{}),
	}
}

// HashKey returns the bcrypt hash to configure for key.
func HashKey(key string) (string, error) {
	if len(strings.TrimSpace(key)) < minKeyLength {
		return "", ErrShortKey
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

func (a *AdminKey) Verify(key string) error {
	if len(a.hash) == 0 {
		return ErrNoKeySet
	}
	if key == "" {
		return ErrMissingKey
	}
	digest := sha256.Sum256([]byte(key))
	a.mu.Lock()
	_, ok := a.verified[digest]
	a.mu.Unlock()
	if ok {
		return nil
	}
	if err := bcrypt.CompareHashAndPassword(a.hash, []byte(key)); err != nil {
		return ErrInvalidKey
	}
	a.mu.Lock()
	a.verified[digest] = struct{}{}
	a.mu.Unlock()
	return nil
}

// Require wraps next so it only runs for requests carrying the admin key,
// as a bearer token or in the X-Admin-Key header.
func (a *AdminKey) Require(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key := bearerToken(r.Header.Get("Authorization"))
		if key == "" {
			key = strings.TrimSpace(r.Header.Get("X-Admin-Key"))
		}
		if err := a.Verify(key); err != nil {
			writeUnauthorized(w, err)
			return
		}
		next(w, r)
	}
}

func bearerToken(raw string) string {
	if raw == "" {
		return ""
	}
	if !strings.HasPrefix(raw, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(raw, "Bearer "))
}

type errorBody struct {
	Message string `json:"message"`
	Code    string `json:"code"`
}

type envelope struct {
	Success bool       `json:"success"`
	Data    any        `json:"data"`
	Error   *errorBody `json:"error"`
}

func writeUnauthorized(w http.ResponseWriter, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(envelope{
		Error: &errorBody{Message: err.Error(), Code: "unauthorized"},
	})
}
