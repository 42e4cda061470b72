// Package auth resolves inbound credentials to a Principal.
//
// # Trust Domains
//
// Two credential formats are accepted:
//
//   - External: JWTs signed by an identity provider with an asymmetric key
//     (RS*, PS*, ES*, EdDSA). Keys come from the provider's JWKS endpoint and
//     are held by a KeyRing.
//
//   - Internal: JWTs the gateway minted itself, signed HS256 with
//     auth.jwt_secret and carrying email and name claims.
//
// # Resolution
//
// Resolver always tries the external verifier first and the internal one
// second. When both fail the caller gets an *AuthenticationError whose message
// is "unauthenticated"; the more specific of the two failure kinds is kept in
// the error chain for logs only:
//
//	p, err := resolver.Resolve(ctx, token)
//	if errors.Is(err, auth.ErrExpiredCredential) { ... }
//
// # Key Ring
//
// KeyRing keeps the last good key set. Unknown key ids trigger a coalesced,
// rate-limited refresh. A failed refresh never empties a populated ring;
// ErrKeyRingUnavailable is returned only before the first successful fetch,
// and only the external path is affected by it.
//
// # Verified Credential Cache
//
// ExternalVerifier caches successful results for at most the configured TTL
// (five minutes by default), clamped to the credential's own expiry.
package auth
