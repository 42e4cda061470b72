// ABOUTME: CredentialResolver turns an opaque credential into a Principal
// ABOUTME: Tries external verification first, then internal, and reports one uniform failure

package auth

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/2389/quotagate/internal/credcache"
)

// Verifier validates one credential format.
type Verifier interface {
	Verify(ctx context.Context, raw string) (Principal, error)
}

// CredentialResolver is what request handlers depend on.
type CredentialResolver interface {
	Resolve(ctx context.Context, raw string) (Principal, error)
}

// Resolver dispatches a credential across both trust domains. The order is
// fixed: external first, then internal. The credential's shape is never
// used to guess which domain issued it.
type Resolver struct {
	external Verifier
	internal Verifier
	logger   *slog.Logger
}

// NewResolver creates a resolver. external may be nil when no identity
// provider is configured.
func NewResolver(external, internal Verifier, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{
		external: external,
		internal: internal,
		logger:   logger.With("component", "resolver"),
	}
}

// Resolve returns the principal for raw or an *AuthenticationError.
func (r *Resolver) Resolve(ctx context.Context, raw string) (Principal, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Principal{}, &AuthenticationError{Kind: ErrMalformedCredential}
	}

	var externalErr error
	if r.external != nil {
		p, err := r.external.Verify(ctx, raw)
		if err == nil {
			return p, nil
		}
		externalErr = err
	}

	p, internalErr := r.internal.Verify(ctx, raw)
	if internalErr == nil {
		if externalErr != nil {
			r.logger.Debug("external verification failed, internal accepted",
				"credential", credcache.Fingerprint(raw),
				"external_error", externalErr,
			)
		}
		return p, nil
	}

	kind := kindOf(internalErr)
	if externalErr != nil {
		if ek := kindOf(externalErr); specificity(ek) > specificity(kind) {
			kind = ek
		}
	}

	attrs := []any{
		"reason", kind.Error(),
		"credential", credcache.Fingerprint(raw),
		"internal_error", internalErr,
	}
	if externalErr != nil {
		attrs = append(attrs, "external_error", externalErr)
	}
	r.logger.Warn("auth failure", attrs...)

	return Principal{}, &AuthenticationError{Kind: kind}
}

// IsAuthenticationError reports whether err is a resolution failure.
func IsAuthenticationError(err error) bool {
	var authErr *AuthenticationError
	return errors.As(err, &authErr)
}
