package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultAdminTokenTTL is how long an admin token stays valid.
const DefaultAdminTokenTTL = 24 * time.Hour

// AdminClaims are the claims of a token for the HTTP admin surface.
type AdminClaims struct {
	ClientID string `json:"client_id"`
	IsAdmin  bool   `json:"is_admin,omitempty"`
	jwt.RegisteredClaims
}

// AdminAuth issues and validates HS256 tokens for the HTTP admin surface.
type AdminAuth struct {
	secretKey []byte
}

// NewAdminAuth creates a token authority for the given shared secret.
func NewAdminAuth(secretKey string) *AdminAuth {
	return &AdminAuth{
		secretKey: []byte(secretKey),
	}
}

// GenerateToken creates a token for subject.
func (a *AdminAuth) GenerateToken(subject string, isAdmin bool, ttl time.Duration) (string, time.Time, error) {
	if subject == "" {
		return "", time.Time{}, errors.New("subject cannot be empty")
	}
	if ttl <= 0 {
		ttl = DefaultAdminTokenTTL
	}

	now := time.Now()
	expiresAt := now.Add(ttl)

	claims := AdminClaims{
		ClientID: subject,
		IsAdmin:  isAdmin,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString(a.secretKey)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to create token: %w", err)
	}

	return tokenString, expiresAt, nil
}

// ValidateToken validates a token, with or without a "Bearer " prefix, and returns its claims.
func (a *AdminAuth) ValidateToken(tokenString string) (*AdminClaims, error) {
	if tokenString == "" {
		return nil, errors.New("token cannot be empty")
	}
	tokenString = strings.TrimPrefix(tokenString, "Bearer ")

	token, err := jwt.ParseWithClaims(tokenString, &AdminClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return a.secretKey, nil
	})
	if err != nil {
		return nil, fmt.Errorf("invalid token: %w", err)
	}
	if !token.Valid {
		return nil, errors.New("token is not valid")
	}

	claims, ok := token.Claims.(*AdminClaims)
	if !ok {
		return nil, errors.New("invalid claims type")
	}
	return claims, nil
}
