package auth

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const secret = "test-secret"

func sign(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

func TestIdentifyHS256(t *testing.T) {
	a, err := New(context.Background(), Config{JWTSecret: secret, Issuer: "taskstream"})
	require.NoError(t, err)
	require.True(t, a.Enabled())

	token, _, err := IssueToken(secret, "user-42", "taskstream", time.Minute)
	require.NoError(t, err)

	id, err := a.Identify(context.Background(), "Bearer "+token)
	require.NoError(t, err)
	assert.Equal(t, "user-42", id.Subject)
	assert.True(t, id.Authenticated)

	id, err = a.Identify(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, "user-42", id.Subject)
}

func TestIdentifySubjectFallbacks(t *testing.T) {
	a, err := New(context.Background(), Config{JWTSecret: secret})
	require.NoError(t, err)
	exp := time.Now().Add(time.Minute).Unix()

	id, err := a.Identify(context.Background(), sign(t, jwt.MapClaims{"id": float64(1001), "exp": exp}))
	require.NoError(t, err)
	assert.Equal(t, "1001", id.Subject)

	id, err = a.Identify(context.Background(), sign(t, jwt.MapClaims{"user_id": "u-9", "exp": exp}))
	require.NoError(t, err)
	assert.Equal(t, "u-9", id.Subject)

	_, err = a.Identify(context.Background(), sign(t, jwt.MapClaims{"exp": exp}))
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestIdentifyRejects(t *testing.T) {
	a, err := New(context.Background(), Config{JWTSecret: secret, Issuer: "taskstream", Leeway: time.Second})
	require.NoError(t, err)
	ctx := context.Background()

	_, err = a.Identify(ctx, "")
	assert.ErrorIs(t, err, ErrMissingToken)

	_, err = a.Identify(ctx, "Bearer not-a-jwt")
	assert.ErrorIs(t, err, ErrUnauthorized)

	expired := sign(t, jwt.MapClaims{"sub": "u", "iss": "taskstream", "exp": time.Now().Add(-time.Hour).Unix()})
	_, err = a.Identify(ctx, expired)
	assert.ErrorIs(t, err, ErrUnauthorized)

	wrongIssuer := sign(t, jwt.MapClaims{"sub": "u", "iss": "elsewhere", "exp": time.Now().Add(time.Hour).Unix()})
	_, err = a.Identify(ctx, wrongIssuer)
	assert.ErrorIs(t, err, ErrUnauthorized)

	forged, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "u", "iss": "taskstream"}).SignedString([]byte("other"))
	require.NoError(t, err)
	_, err = a.Identify(ctx, forged)
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestIdentifyWithoutVerifier(t *testing.T) {
	a, err := New(context.Background(), Config{})
	require.NoError(t, err)
	assert.False(t, a.Enabled())
	_, err = a.Identify(context.Background(), "Bearer x")
	assert.ErrorIs(t, err, ErrUnauthorized)

	assert.Equal(t, Identity{Subject: "dev-user"}, Fallback(" dev-user "))
	assert.Equal(t, Identity{Subject: Anonymous}, Fallback(""))
}

func rsaJWKS(t *testing.T) (*rsa.PrivateKey, string) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	b64 := base64.RawURLEncoding.EncodeToString
	return key, fmt.Sprintf(`{"keys":[{"kty":"RSA","kid":"k1","alg":"RS256","use":"sig","n":%q,"e":%q}]}`,
		b64(key.N.Bytes()), b64(big.NewInt(int64(key.E)).Bytes()))
}

func TestIdentifyWithJWKSKeyfunc(t *testing.T) {
	key, jwks := rsaJWKS(t)
	kf, err := keyfunc.NewJWKSetJSON([]byte(jwks))
	require.NoError(t, err)

	a, err := New(context.Background(), Config{}, WithKeyfunc(kf.Keyfunc, "RS256"))
	require.NoError(t, err)

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, jwt.MapClaims{"sub": "rsa-user", "exp": time.Now().Add(time.Minute).Unix()})
	token.Header["kid"] = "k1"
	signed, err := token.SignedString(key)
	require.NoError(t, err)

	id, err := a.Identify(context.Background(), "bearer "+signed)
	require.NoError(t, err)
	assert.Equal(t, "rsa-user", id.Subject)

	_, err = a.Identify(context.Background(), sign(t, jwt.MapClaims{"sub": "hs"}))
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestIdentifyWithOIDCDiscovery(t *testing.T) {
	key, jwks := rsaJWKS(t)
	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	defer srv.Close()
	mux.HandleFunc("/.well-known/openid-configuration", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"issuer":%q,"jwks_uri":%q,"authorization_endpoint":%q,"token_endpoint":%q}`,
			srv.URL, srv.URL+"/jwks", srv.URL+"/authorize", srv.URL+"/token")
	})
	mux.HandleFunc("/jwks", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(jwks))
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	a, err := New(ctx, Config{Issuer: srv.URL, Discover: true})
	require.NoError(t, err)
	require.True(t, a.Enabled())

	mint := func(issuer string) string {
		token := jwt.NewWithClaims(jwt.SigningMethodRS256, jwt.MapClaims{
			"sub": "oidc-user", "iss": issuer, "exp": time.Now().Add(time.Minute).Unix(),
		})
		token.Header["kid"] = "k1"
		signed, err := token.SignedString(key)
		require.NoError(t, err)
		return signed
	}

	id, err := a.Identify(ctx, mint(srv.URL))
	require.NoError(t, err)
	assert.Equal(t, "oidc-user", id.Subject)

	_, err = a.Identify(ctx, mint("https://elsewhere.example.com"))
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestDiscoveryRequiresIssuer(t *testing.T) {
	_, err := New(context.Background(), Config{Discover: true})
	assert.Error(t, err)
}
