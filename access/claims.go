package access

import (
	"context"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

type contextKey string

const ClaimsKey contextKey = "claims"

// LaunchClaims identify the launch a token was minted for.
type LaunchClaims struct {
	LaunchID string `json:"lid"`
	Port     int    `json:"port"`
	Issuer   string `json:"iss"`
	Expiry   int64  `json:"exp,omitempty"`
	IssuedAt int64  `json:"iat"`
}

func (c LaunchClaims) GetExpirationTime() (*jwt.NumericDate, error) {
	if c.Expiry == 0 {
		return nil, nil
	}
	return jwt.NewNumericDate(time.Unix(c.Expiry, 0)), nil
}

func (c LaunchClaims) GetIssuedAt() (*jwt.NumericDate, error) {
	return jwt.NewNumericDate(time.Unix(c.IssuedAt, 0)), nil
}

func (c LaunchClaims) GetNotBefore() (*jwt.NumericDate, error) {
	return nil, nil
}

func (c LaunchClaims) GetIssuer() (string, error) {
	return c.Issuer, nil
}

func (c LaunchClaims) GetSubject() (string, error) {
	return c.LaunchID, nil
}

func (c LaunchClaims) GetAudience() (jwt.ClaimStrings, error) {
	return nil, nil
}

// ClaimsFromContext returns the claims stored by the token middleware.
func ClaimsFromContext(ctx context.Context) (*LaunchClaims, bool) {
	claims, ok := ctx.Value(ClaimsKey).(*LaunchClaims)
	return claims, ok
}
