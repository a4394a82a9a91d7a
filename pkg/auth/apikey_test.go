package auth

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/dd0wney/malaphor/pkg/config"
)

func init() {
	BcryptCost = bcrypt.MinCost
}

func TestGenerateAPIKey(t *testing.T) {
	key, hash, err := GenerateAPIKey()
	if err != nil {
		t.Fatalf("GenerateAPIKey() error: %v", err)
	}
	if !strings.HasPrefix(key, KeyPrefix) {
		t.Errorf("key %q lacks prefix %q", key, KeyPrefix)
	}
	if bcrypt.CompareHashAndPassword([]byte(hash), []byte(key)) != nil {
		t.Error("hash does not match key")
	}

	other, _, _ := GenerateAPIKey()
	if other == key {
		t.Error("two generated keys are equal")
	}
}

func TestKeyRing(t *testing.T) {
	key, hash, err := GenerateAPIKey()
	if err != nil {
		t.Fatalf("GenerateAPIKey() error: %v", err)
	}
	kr, err := NewKeyRing([]string{hash})
	if err != nil {
		t.Fatalf("NewKeyRing() error: %v", err)
	}

	if err := kr.Verify(key); err != nil {
		t.Errorf("Verify(valid) = %v", err)
	}
	// Second call is served from the verified cache.
	if err := kr.Verify(key); err != nil {
		t.Errorf("Verify(valid, cached) = %v", err)
	}
	if err := kr.Verify(KeyPrefix + "wrong"); !errors.Is(err, ErrAPIKeyNotFound) {
		t.Errorf("Verify(wrong) = %v, want ErrAPIKeyNotFound", err)
	}
	if err := kr.Verify("no-prefix"); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("Verify(no prefix) = %v, want ErrInvalidToken", err)
	}

	if _, err := NewKeyRing([]string{"plaintext-key"}); err == nil {
		t.Error("NewKeyRing() accepted a non-bcrypt hash")
	}
}

func TestAuthenticator(t *testing.T) {
	key, hash, _ := GenerateAPIKey()
	a, err := NewAuthenticator(config.ServerConfig{JWTSecret: testSecret, APIKeyHashes: []string{hash}})
	if err != nil {
		t.Fatalf("NewAuthenticator() error: %v", err)
	}
	if !a.Enabled() {
		t.Fatal("authenticator should be enabled")
	}

	m, _ := NewJWTManager(testSecret, time.Minute)
	token, _ := m.GenerateToken("alice", RoleViewer)

	ctx := context.Background()
	p, err := a.Authenticate(ctx, token, "")
	if err != nil || p.Subject != "alice" || p.Method != "jwt" {
		t.Errorf("Authenticate(jwt) = %+v, %v", p, err)
	}
	if p.Allows(RoleAnalyst) {
		t.Error("viewer should not have analyst rights")
	}

	p, err = a.Authenticate(ctx, "", key)
	if err != nil || p.Role != RoleAnalyst || p.Method != "api_key" {
		t.Errorf("Authenticate(api key) = %+v, %v", p, err)
	}
	if !p.Allows(RoleViewer) || p.Allows(RoleAdmin) {
		t.Errorf("unexpected rights for %+v", p)
	}

	if _, err := a.Authenticate(ctx, "", ""); !errors.Is(err, ErrNoCredentials) {
		t.Errorf("Authenticate(none) = %v, want ErrNoCredentials", err)
	}

	got, ok := PrincipalFrom(WithPrincipal(ctx, p))
	if !ok || got != p {
		t.Error("principal not carried by context")
	}
}

func TestAuthenticatorDisabled(t *testing.T) {
	a, err := NewAuthenticator(config.ServerConfig{})
	if err != nil {
		t.Fatalf("NewAuthenticator() error: %v", err)
	}
	if a.Enabled() {
		t.Error("authenticator without credentials should be disabled")
	}
	if _, err := a.Authenticate(context.Background(), "token", ""); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("Authenticate() = %v, want ErrInvalidToken", err)
	}
}
