package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const serviceTokenAudience = "creative-ledger"

// ServiceTokenManager signs and verifies the short-lived HS256 tokens
// sibling services present on internal endpoints.
type ServiceTokenManager struct {
	secret []byte
}

func NewServiceTokenManager(secret string) *ServiceTokenManager {
	return &ServiceTokenManager{secret: []byte(secret)}
}

// Enabled reports whether a signing secret is configured
func (m *ServiceTokenManager) Enabled() bool {
	return len(m.secret) > 0
}

// Sign mints a token identifying the calling service
func (m *ServiceTokenManager) Sign(caller string, ttl time.Duration) (string, error) {
	if !m.Enabled() {
		return "", fmt.Errorf("service token secret not configured")
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}

	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   caller,
		Audience:  jwt.ClaimStrings{serviceTokenAudience},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(m.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign service token: %w", err)
	}
	return signed, nil
}

// Verify checks the signature and audience and returns the caller name
func (m *ServiceTokenManager) Verify(tokenString string) (string, error) {
	if !m.Enabled() {
		return "", fmt.Errorf("service token secret not configured")
	}

	token, err := jwt.ParseWithClaims(tokenString, &jwt.RegisteredClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return m.secret, nil
	}, jwt.WithAudience(serviceTokenAudience))
	if err != nil {
		return "", fmt.Errorf("invalid service token: %w", err)
	}

	claims, ok := token.Claims.(*jwt.RegisteredClaims)
	if !ok || !token.Valid {
		return "", fmt.Errorf("invalid service token claims")
	}

	return claims.Subject, nil
}
