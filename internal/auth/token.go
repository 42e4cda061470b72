// ABOUTME: Internal credential verification and minting
// ABOUTME: Uses HS256 signing with the gateway's own secret

package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// InternalVerifier validates credentials the gateway issued itself.
type InternalVerifier struct {
	secret []byte
	now    func() time.Time
}

// NewInternalVerifier creates a verifier with the given secret
func NewInternalVerifier(secret []byte) *InternalVerifier {
	return &InternalVerifier{secret: secret, now: time.Now}
}

// Verify validates raw and builds a Principal from its email and name claims.
// The principal id is the sub claim, or the email when sub is absent.
func (v *InternalVerifier) Verify(_ context.Context, raw string) (Principal, error) {
	unverified, _, err := jwt.NewParser().ParseUnverified(raw, jwt.MapClaims{})
	if err != nil {
		return Principal{}, errors.Join(ErrMalformedCredential, err)
	}
	if alg := unverified.Method.Alg(); alg != jwt.SigningMethodHS256.Alg() {
		return Principal{}, fmt.Errorf("%w: unexpected signing method %s", ErrMalformedCredential, alg)
	}

	claims := jwt.MapClaims{}
	_, err = jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(v.now),
	).ParseWithClaims(raw, claims, func(token *jwt.Token) (any, error) {
		return v.secret, nil
	})
	if err != nil {
		return Principal{}, classifyJWTError(err)
	}

	email := firstClaim(claims, "email")
	id := firstClaim(claims, "sub")
	if id == "" {
		id = email
	}
	if id == "" {
		return Principal{}, fmt.Errorf("%w: missing sub and email claims", ErrMalformedCredential)
	}

	name := firstClaim(claims, "name")
	if name == "" {
		name = email
	}

	return Principal{
		ID:          id,
		DisplayName: name,
		Email:       email,
		AuthSource:  AuthSourceInternal,
	}, nil
}

// Issue mints an internal credential for p that expires after ttl.
func (v *InternalVerifier) Issue(p Principal, ttl time.Duration) (string, error) {
	if p.ID == "" && p.Email == "" {
		return "", fmt.Errorf("principal needs an id or email")
	}

	now := v.now()
	claims := jwt.MapClaims{
		"iat": now.Unix(),
		"exp": now.Add(ttl).Unix(),
	}
	if p.ID != "" {
		claims["sub"] = p.ID
	}
	if p.Email != "" {
		claims["email"] = p.Email
	}
	if p.DisplayName != "" {
		claims["name"] = p.DisplayName
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(v.secret)
}
