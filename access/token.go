// Package access mints and verifies the per-launch bearer token shared
// between the API server and the GUI it spawns.
package access

import (
	"crypto/rand"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	// TokenEnv is the environment variable the GUI receives its token in.
	TokenEnv = "NW_LAUNCH_TOKEN"

	Issuer = "nwhost"

	secretSize = 32
)

var ErrInvalidToken = errors.New("invalid launch token")

// Authority holds the signing secret for a single launch.
type Authority struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewAuthority generates a fresh random secret. A zero ttl mints tokens
// that never expire.
func NewAuthority(ttl time.Duration) (*Authority, error) {
	b := make([]byte, secretSize)
	if _, err := rand.Read(b); err != nil {
		return nil, fmt.Errorf("failed to generate launch secret: %w", err)
	}
	return NewAuthorityWithSecret(b, ttl)
}

// NewAuthorityWithSecret uses the given secret, which must be at least 32 bytes.
func NewAuthorityWithSecret(secret []byte, ttl time.Duration) (*Authority, error) {
	if len(secret) < secretSize {
		return nil, fmt.Errorf("launch secret must be at least %d bytes, got %d", secretSize, len(secret))
	}
	if ttl < 0 {
		return nil, fmt.Errorf("negative token ttl %v", ttl)
	}
	return &Authority{
		secret: secret,
		ttl:    ttl,
		now:    time.Now,
	}, nil
}

// Mint signs a token for launchID bound to port.
func (a *Authority) Mint(launchID string, port int) (string, error) {
	now := a.now()
	claims := LaunchClaims{
		LaunchID: launchID,
		Port:     port,
		Issuer:   Issuer,
		IssuedAt: now.Unix(),
	}
	if a.ttl > 0 {
		claims.Expiry = now.Add(a.ttl).Unix()
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(a.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign launch token: %w", err)
	}
	return signed, nil
}

// Verify parses tokenString and returns its claims if the signature and
// expiry check out.
func (a *Authority) Verify(tokenString string) (*LaunchClaims, error) {
	var claims LaunchClaims
	token, err := jwt.ParseWithClaims(tokenString, &claims, func(token *jwt.Token) (interface{}, error) {
		return a.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(Issuer),
		jwt.WithTimeFunc(a.now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid {
		return nil, ErrInvalidToken
	}
	return &claims, nil
}
