// Package auth verifies the credentials accepted by the HTTP API: HS256
// bearer tokens and bcrypt-hashed API keys.
package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidToken  = errors.New("invalid token")
	ErrExpiredToken  = errors.New("token has expired")
	ErrInvalidClaims = errors.New("invalid token claims")
	ErrEmptySubject  = errors.New("subject cannot be empty")
	ErrInvalidRole   = errors.New("invalid role")
	ErrShortSecret   = errors.New("secret must be at least 32 characters")
	ErrNoCredentials = errors.New("no credentials supplied")
	ErrForbidden     = errors.New("insufficient role")
)

// Valid roles
const (
	RoleAdmin   = "admin"
	RoleAnalyst = "analyst"
	RoleViewer  = "viewer"
)

var validRoles = map[string]bool{
	RoleAdmin:   true,
	RoleAnalyst: true,
	RoleViewer:  true,
}

// Issuer is set on every token this package generates.
const Issuer = "malaphor"

// Claims represents JWT claims
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// JWTManager manages JWT token generation and validation
type JWTManager struct {
	secretKey     []byte
	tokenDuration time.Duration
}

// NewJWTManager creates a new JWT manager.
// Returns an error if the secret is shorter than 32 characters (security requirement).
func NewJWTManager(secret string, tokenDuration time.Duration) (*JWTManager, error) {
	if len(secret) < 32 {
		return nil, ErrShortSecret
	}

	return &JWTManager{
		secretKey:     []byte(secret),
		tokenDuration: tokenDuration,
	}, nil
}

// GenerateToken generates a new JWT token
func (m *JWTManager) GenerateToken(subject, role string) (string, error) {
	if subject == "" {
		return "", ErrEmptySubject
	}
	if !validRoles[role] {
		return "", fmt.Errorf("%w: %q", ErrInvalidRole, role)
	}

	now := time.Now()
	claims := Claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    Issuer,
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.tokenDuration)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)

	tokenString, err := token.SignedString(m.secretKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}

	return tokenString, nil
}

// ValidateToken validates a JWT token and returns claims.
func (m *JWTManager) ValidateToken(_ context.Context, tokenString string) (*Claims, error) {
	if tokenString == "" {
		return nil, ErrInvalidToken
	}

	var claims Claims
	token, err := jwt.ParseWithClaims(tokenString, &claims, func(token *jwt.Token) (any, error) {
		// Verify signing method
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return m.secretKey, nil
	}, jwt.WithIssuer(Issuer), jwt.WithExpirationRequired())

	if errors.Is(err, jwt.ErrTokenExpired) {
		return nil, ErrExpiredToken
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid {
		return nil, ErrInvalidToken
	}

	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrInvalidClaims)
	}
	if !validRoles[claims.Role] {
		return nil, fmt.Errorf("%w: role %q", ErrInvalidClaims, claims.Role)
	}

	return &claims, nil
}

// TokenDuration returns the configured token duration
func (m *JWTManager) TokenDuration() time.Duration {
	return m.tokenDuration
}
