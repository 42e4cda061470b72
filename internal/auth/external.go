// ABOUTME: Verifies credentials issued by the external identity provider
// ABOUTME: Asymmetric signatures checked against the KeyRing, results cached briefly

package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/2389/quotagate/internal/credcache"
)

// asymmetricAlgorithms are the signing methods accepted from the identity provider.
var asymmetricAlgorithms = []string{
	"RS256", "RS384", "RS512",
	"PS256", "PS384", "PS512",
	"ES256", "ES384", "ES512",
	"EdDSA",
}

// ExternalVerifierOptions configures an ExternalVerifier.
type ExternalVerifierOptions struct {
	// Audience is enforced when non-empty.
	Audience string
	// Issuer is enforced when non-empty.
	Issuer string
	// AllowAudienceFallback permits a second verification pass without the
	// audience check when the only failure was the audience. Every use is
	// logged at Warn.
	AllowAudienceFallback bool
	// Cache holds recently verified credentials. Nil disables caching.
	Cache  *credcache.Cache[Principal]
	Logger *slog.Logger
	Now    func() time.Time
}

// ExternalVerifier validates credentials signed by the identity provider.
type ExternalVerifier struct {
	keys          KeyProvider
	audience      string
	issuer        string
	allowFallback bool
	cache         *credcache.Cache[Principal]
	logger        *slog.Logger
	now           func() time.Time
}

// NewExternalVerifier creates a verifier backed by keys.
func NewExternalVerifier(keys KeyProvider, opts ExternalVerifierOptions) *ExternalVerifier {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &ExternalVerifier{
		keys:          keys,
		audience:      opts.Audience,
		issuer:        opts.Issuer,
		allowFallback: opts.AllowAudienceFallback,
		cache:         opts.Cache,
		logger:        opts.Logger.With("component", "external_verifier"),
		now:           opts.Now,
	}
}

// Verify checks raw and returns the principal it identifies.
func (v *ExternalVerifier) Verify(ctx context.Context, raw string) (Principal, error) {
	if v.cache != nil {
		if p, ok := v.cache.Get(raw); ok {
			return p, nil
		}
	}

	unverified, _, err := jwt.NewParser().ParseUnverified(raw, jwt.MapClaims{})
	if err != nil {
		return Principal{}, errors.Join(ErrMalformedCredential, err)
	}
	keyID, _ := unverified.Header["kid"].(string)
	if keyID == "" {
		return Principal{}, fmt.Errorf("%w: missing kid header", ErrMalformedCredential)
	}

	key, err := v.keys.GetKey(ctx, keyID)
	if err != nil {
		switch {
		case errors.Is(err, ErrKeyNotFound):
			return Principal{}, fmt.Errorf("%w: %s", ErrUnknownSigningKey, keyID)
		default:
			return Principal{}, errors.Join(ErrProviderUnavailable, err)
		}
	}

	claims, err := v.parse(raw, key, v.audience)
	if err != nil && v.audience != "" && v.allowFallback && errors.Is(err, jwt.ErrTokenInvalidAudience) {
		claims, err = v.parse(raw, key, "")
		if err == nil {
			aud, _ := claims.GetAudience()
			v.logger.Warn("accepted credential without audience match",
				"trust_boundary", "audience_relaxed",
				"expected_audience", v.audience,
				"presented_audience", []string(aud),
				"kid", keyID,
				"credential", credcache.Fingerprint(raw),
			)
		}
	}
	if err != nil {
		return Principal{}, classifyJWTError(err)
	}

	p, err := externalPrincipal(claims)
	if err != nil {
		return Principal{}, err
	}

	if v.cache != nil {
		var notAfter time.Time
		if exp, _ := claims.GetExpirationTime(); exp != nil {
			notAfter = exp.Time
		}
		v.cache.Put(raw, p, notAfter)
	}
	return p, nil
}

// parse verifies signature and registered claims with key. An empty audience
// skips the audience check.
func (v *ExternalVerifier) parse(raw string, key *SigningKey, audience string) (jwt.MapClaims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods(asymmetricAlgorithms),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(v.now),
	}
	if audience != "" {
		opts = append(opts, jwt.WithAudience(audience))
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}

	claims := jwt.MapClaims{}
	_, err := jwt.NewParser(opts...).ParseWithClaims(raw, claims, func(token *jwt.Token) (any, error) {
		if key.Algorithm != "" && token.Method.Alg() != key.Algorithm {
			return nil, fmt.Errorf("%w: key %s is for %s, credential uses %s",
				ErrInvalidSignature, key.KeyID, key.Algorithm, token.Method.Alg())
		}
		return key.Key, nil
	})
	if err != nil {
		return nil, err
	}
	return claims, nil
}

// externalPrincipal builds a Principal from standard identity provider claims.
func externalPrincipal(claims jwt.MapClaims) (Principal, error) {
	sub, _ := claims.GetSubject()
	if sub == "" {
		return Principal{}, fmt.Errorf("%w: missing sub claim", ErrMalformedCredential)
	}

	email := firstClaim(claims, "email", "preferred_username", "upn")
	name := firstClaim(claims, "name")
	if name == "" {
		name = email
	}

	return Principal{
		ID:          sub,
		DisplayName: name,
		Email:       email,
		AuthSource:  AuthSourceExternal,
	}, nil
}

// firstClaim returns the first non-empty string claim among names.
func firstClaim(claims jwt.MapClaims, names ...string) string {
	for _, n := range names {
		if s, ok := claims[n].(string); ok && s != "" {
			return s
		}
	}
	return ""
}
