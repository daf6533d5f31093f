package server

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims identifies the principal behind an API request. Actor is what
// gets recorded as approver on overrides and resolver on approvals, so
// tokens must be minted per human or per service, never shared.
type Claims struct {
	Actor string `json:"actor"`
	jwt.RegisteredClaims
}

// MintToken signs an HS256 token for actor, valid for ttl
func MintToken(actor, secret string, ttl time.Duration) (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		Actor: actor,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   actor,
			Issuer:    "changegate",
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	})
	return token.SignedString([]byte(secret))
}

// ParseClaims verifies a token signature and expiry and returns its
// claims
func ParseClaims(tokenStr, secret string) (*Claims, error) {
	t, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (any, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil {
		return nil, err
	}
	if c, ok := t.Claims.(*Claims); ok && t.Valid {
		return c, nil
	}
	return nil, jwt.ErrTokenInvalidClaims
}
