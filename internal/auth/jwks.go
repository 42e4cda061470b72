// ABOUTME: Fetches the identity provider's published key set over HTTP
// ABOUTME: Decodes JWKS documents with go-jose and discovers jwks_uri with go-oidc

package auth

import (
	"context"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rsa"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/go-jose/go-jose/v4"
)

// maxJWKSBytes caps the size of a key discovery response.
const maxJWKSBytes = 1 << 20

// JWKSFetcher reads a JSON Web Key Set from a URL.
type JWKSFetcher struct {
	url    string
	client *http.Client
}

// NewJWKSFetcher creates a fetcher for url. A nil client uses http.DefaultClient.
func NewJWKSFetcher(url string, client *http.Client) *JWKSFetcher {
	if client == nil {
		client = http.DefaultClient
	}
	return &JWKSFetcher{url: url, client: client}
}

// URL returns the key set location.
func (f *JWKSFetcher) URL() string {
	return f.url
}

// FetchKeys downloads and decodes the key set. Private keys, keys without an
// id, and keys not meant for signatures are skipped.
func (f *JWKSFetcher) FetchKeys(ctx context.Context) ([]*SigningKey, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.url, nil)
	if err != nil {
		return nil, fmt.Errorf("creating key set request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching key set: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("key set endpoint returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxJWKSBytes))
	if err != nil {
		return nil, fmt.Errorf("reading key set: %w", err)
	}

	var set jose.JSONWebKeySet
	if err := json.Unmarshal(body, &set); err != nil {
		return nil, fmt.Errorf("decoding key set: %w", err)
	}

	keys := make([]*SigningKey, 0, len(set.Keys))
	for _, k := range set.Keys {
		if k.KeyID == "" || !k.IsPublic() {
			continue
		}
		if k.Use != "" && k.Use != "sig" {
			continue
		}
		alg := k.Algorithm
		if alg == "" {
			alg = defaultAlgorithm(k.Key)
		}
		keys = append(keys, &SigningKey{
			KeyID:     k.KeyID,
			Algorithm: alg,
			Key:       k.Key,
		})
	}
	return keys, nil
}

// defaultAlgorithm guesses the signing algorithm for a key published without "alg".
func defaultAlgorithm(key any) string {
	switch k := key.(type) {
	case *rsa.PublicKey:
		return "RS256"
	case *ecdsa.PublicKey:
		switch k.Curve.Params().BitSize {
		case 384:
			return "ES384"
		case 521:
			return "ES512"
		default:
			return "ES256"
		}
	case ed25519.PublicKey:
		return "EdDSA"
	default:
		return ""
	}
}

// DiscoverJWKSURL reads the provider's OpenID configuration and returns its jwks_uri.
func DiscoverJWKSURL(ctx context.Context, issuerURL string, client *http.Client) (string, error) {
	if client != nil {
		ctx = oidc.ClientContext(ctx, client)
	}

	provider, err := oidc.NewProvider(ctx, issuerURL)
	if err != nil {
		return "", fmt.Errorf("oidc provider discovery: %w", err)
	}

	var meta struct {
		JWKSURL string `json:"jwks_uri"`
	}
	if err := provider.Claims(&meta); err != nil {
		return "", fmt.Errorf("reading discovery document: %w", err)
	}
	if meta.JWKSURL == "" {
		return "", fmt.Errorf("discovery document for %s has no jwks_uri", issuerURL)
	}
	return meta.JWKSURL, nil
}

// DiscoveryFetcher finds the provider's jwks_uri through OpenID discovery on
// first use and fetches keys from it. Discovery is retried on every fetch
// until it succeeds, so a provider that is down at startup only delays the
// external path.
type DiscoveryFetcher struct {
	issuerURL string
	client    *http.Client

	mu      sync.Mutex
	fetcher *JWKSFetcher
}

// NewDiscoveryFetcher creates a fetcher for the provider at issuerURL.
func NewDiscoveryFetcher(issuerURL string, client *http.Client) *DiscoveryFetcher {
	return &DiscoveryFetcher{issuerURL: issuerURL, client: client}
}

// FetchKeys discovers the key set location if needed and downloads it.
func (d *DiscoveryFetcher) FetchKeys(ctx context.Context) ([]*SigningKey, error) {
	d.mu.Lock()
	fetcher := d.fetcher
	d.mu.Unlock()

	if fetcher == nil {
		url, err := DiscoverJWKSURL(ctx, d.issuerURL, d.client)
		if err != nil {
			return nil, err
		}
		fetcher = NewJWKSFetcher(url, d.client)

		d.mu.Lock()
		d.fetcher = fetcher
		d.mu.Unlock()
	}
	return fetcher.FetchKeys(ctx)
}
