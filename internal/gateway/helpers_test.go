// ABOUTME: Shared fixtures for gateway tests
// ABOUTME: Builds a gateway on a temp SQLite store and mints credentials for both trust domains

package gateway

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"github.com/2389/quotagate/internal/auth"
	"github.com/2389/quotagate/internal/config"
)

const (
	testSecret   = "test-secret-key-for-jwt-signing-32b"
	testAdminID  = "admin-1"
	testAudience = "api://quotagate"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := &config.Config{
		Server:   config.ServerConfig{HTTPAddr: "127.0.0.1:0"},
		Database: config.DatabaseConfig{Path: filepath.Join(t.TempDir(), "quotagate.db")},
		Auth: config.AuthConfig{
			JWTSecret:        testSecret,
			AdminPrincipalID: testAdminID,
		},
		Quota: config.QuotaConfig{MonthlyUnitBudget: 1000},
	}
	cfg.ApplyDefaults()
	require.NoError(t, cfg.Validate())
	return cfg
}

// newTestGateway builds a gateway and shuts it down when the test ends.
func newTestGateway(t *testing.T, cfg *config.Config, opts ...Option) *Gateway {
	t.Helper()
	gw, err := New(cfg, testLogger(), opts...)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = gw.Shutdown(context.Background())
	})
	return gw
}

// internalToken mints an internal credential for id.
func internalToken(t *testing.T, id string) string {
	t.Helper()
	token, err := auth.NewInternalVerifier([]byte(testSecret)).Issue(auth.Principal{
		ID:          id,
		DisplayName: "User " + id,
		Email:       id + "@example.edu",
	}, time.Hour)
	require.NoError(t, err)
	return token
}

// doRequest runs one request through the gateway handler.
func doRequest(t *testing.T, gw *Gateway, method, path, token, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	gw.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v), "body: %s", rec.Body.String())
}

// testIDP is an identity provider publishing one RSA key over JWKS.
type testIDP struct {
	kid string
	key *rsa.PrivateKey
	srv *httptest.Server
}

func newTestIDP(t *testing.T) *testIDP {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	idp := &testIDP{kid: "kid-1", key: key}
	idp.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(jose.JSONWebKeySet{Keys: []jose.JSONWebKey{
			{Key: &key.PublicKey, KeyID: idp.kid, Algorithm: "RS256", Use: "sig"},
		}})
	}))
	t.Cleanup(idp.srv.Close)
	return idp
}

func (i *testIDP) mint(t *testing.T, sub string) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, jwt.MapClaims{
		"sub":   sub,
		"aud":   testAudience,
		"name":  "Ada Lovelace",
		"email": "ada@example.edu",
		"exp":   time.Now().Add(time.Hour).Unix(),
	})
	tok.Header["kid"] = i.kid
	signed, err := tok.SignedString(i.key)
	require.NoError(t, err)
	return signed
}
