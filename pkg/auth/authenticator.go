package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/dd0wney/malaphor/pkg/config"
)

// Principal is an authenticated caller.
type Principal struct {
	Subject string
	Role    string
	Method  string // "jwt" or "api_key"
}

var roleRank = map[string]int{
	RoleViewer:  1,
	RoleAnalyst: 2,
	RoleAdmin:   3,
}

// Allows reports whether p holds role or a stronger one.
func (p *Principal) Allows(role string) bool {
	return p != nil && roleRank[p.Role] >= roleRank[role]
}

// Authenticator accepts either credential kind. With neither configured it
// is disabled and the API is open.
type Authenticator struct {
	jwt  *JWTManager
	keys *KeyRing
}

// DefaultTokenDuration is the lifetime of tokens minted by the CLI.
const DefaultTokenDuration = 24 * time.Hour

// NewAuthenticator builds an Authenticator from server settings.
func NewAuthenticator(cfg config.ServerConfig) (*Authenticator, error) {
	a := &Authenticator{}
	if cfg.JWTSecret != "" {
		m, err := NewJWTManager(cfg.JWTSecret, DefaultTokenDuration)
		if err != nil {
			return nil, err
		}
		a.jwt = m
	}
	if len(cfg.APIKeyHashes) > 0 {
		kr, err := NewKeyRing(cfg.APIKeyHashes)
		if err != nil {
			return nil, err
		}
		a.keys = kr
	}
	return a, nil
}

// Enabled reports whether any credential kind is configured.
func (a *Authenticator) Enabled() bool {
	return a != nil && (a.jwt != nil || a.keys != nil)
}

// Authenticate checks a bearer token first, then an API key.
func (a *Authenticator) Authenticate(ctx context.Context, bearer, apiKey string) (*Principal, error) {
	switch {
	case bearer != "" && a.jwt != nil:
		claims, err := a.jwt.ValidateToken(ctx, bearer)
		if err != nil {
			return nil, err
		}
		return &Principal{Subject: claims.Subject, Role: claims.Role, Method: "jwt"}, nil
	case apiKey != "" && a.keys != nil:
		if err := a.keys.Verify(apiKey); err != nil {
			return nil, err
		}
		return &Principal{Subject: apiKey[:min(len(apiKey), len(KeyPrefix)+6)], Role: RoleAnalyst, Method: "api_key"}, nil
	case bearer == "" && apiKey == "":
		return nil, ErrNoCredentials
	default:
		return nil, fmt.Errorf("%w: credential kind not enabled", ErrInvalidToken)
	}
}

type principalKey struct{}

// WithPrincipal stores p in ctx.
func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFrom returns the caller stored by WithPrincipal.
func PrincipalFrom(ctx context.Context) (*Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(*Principal)
	return p, ok
}
