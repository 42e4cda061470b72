// ABOUTME: Error taxonomy for credential verification and key ring failures
// ABOUTME: Maps jwt library errors onto verification kinds and hides them behind AuthenticationError

package auth

import (
	"context"
	"errors"

	"github.com/golang-jwt/jwt/v5"
)

// Verification failure kinds.
var (
	ErrMalformedCredential = errors.New("malformed credential")
	ErrExpiredCredential   = errors.New("credential expired")
	ErrInvalidSignature    = errors.New("invalid credential signature or claims")
	ErrUnknownSigningKey   = errors.New("unknown signing key")
	ErrProviderUnavailable = errors.New("identity provider unavailable")
)

// Key ring errors.
var (
	ErrKeyNotFound = errors.New("signing key not found")

	// ErrKeyRingUnavailable means no key set has ever been fetched successfully.
	ErrKeyRingUnavailable = errors.New("key ring unavailable")
)

// AuthenticationError is what callers of Resolve see. Its message is
// deliberately uniform; the specific kind is reachable with errors.Is for
// logging but must not be echoed to the client.
type AuthenticationError struct {
	Kind error
}

func (e *AuthenticationError) Error() string {
	return "unauthenticated"
}

func (e *AuthenticationError) Unwrap() error {
	return e.Kind
}

// kindOf returns the verification kind carried by err, defaulting to
// ErrMalformedCredential.
func kindOf(err error) error {
	for _, kind := range []error{
		ErrExpiredCredential,
		ErrInvalidSignature,
		ErrUnknownSigningKey,
		ErrProviderUnavailable,
		ErrMalformedCredential,
	} {
		if errors.Is(err, kind) {
			return kind
		}
	}
	return ErrMalformedCredential
}

// specificity ranks kinds so the resolver can report the most telling one
// when both verifiers fail.
func specificity(kind error) int {
	switch kind {
	case ErrExpiredCredential:
		return 5
	case ErrInvalidSignature:
		return 4
	case ErrUnknownSigningKey:
		return 3
	case ErrProviderUnavailable:
		return 2
	default:
		return 1
	}
}

// classifyJWTError maps an error from the jwt parser onto a verification kind,
// keeping the original error in the chain.
func classifyJWTError(err error) error {
	if err == nil {
		return nil
	}

	switch {
	case errors.Is(err, ErrUnknownSigningKey),
		errors.Is(err, ErrProviderUnavailable),
		errors.Is(err, ErrMalformedCredential),
		errors.Is(err, ErrInvalidSignature):
		return err
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return errors.Join(ErrProviderUnavailable, err)
	case errors.Is(err, jwt.ErrTokenExpired):
		return errors.Join(ErrExpiredCredential, err)
	case errors.Is(err, jwt.ErrTokenMalformed),
		errors.Is(err, jwt.ErrTokenRequiredClaimMissing):
		return errors.Join(ErrMalformedCredential, err)
	case errors.Is(err, jwt.ErrTokenSignatureInvalid),
		errors.Is(err, jwt.ErrTokenInvalidAudience),
		errors.Is(err, jwt.ErrTokenInvalidIssuer),
		errors.Is(err, jwt.ErrTokenNotValidYet),
		errors.Is(err, jwt.ErrTokenUsedBeforeIssued),
		errors.Is(err, jwt.ErrTokenInvalidClaims):
		return errors.Join(ErrInvalidSignature, err)
	default:
		return errors.Join(ErrMalformedCredential, err)
	}
}
