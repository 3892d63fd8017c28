// Package auth resolves the caller identity that keys streaming tasks.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/golang-jwt/jwt/v5"
)

// Anonymous is the identity used when no verifier is configured and the
// request names no user.
const Anonymous = "anonymous"

var (
	// ErrMissingToken is returned when a verifier is configured but the
	// request carries no bearer token.
	ErrMissingToken = errors.New("auth: missing bearer token")
	// ErrUnauthorized is returned for tokens that fail validation.
	ErrUnauthorized = errors.New("auth: unauthorized")
)

// Config selects the verifier. Discovery wins over JWKSURL, which wins over
// JWTSecret.
type Config struct {
	JWTSecret string
	JWKSURL   string
	Issuer    string
	// Discover resolves the JWKS endpoint from Issuer's OpenID
	// configuration document.
	Discover  bool
	Leeway    time.Duration
}

var asymmetricMethods = []string{"RS256", "RS384", "RS512", "ES256", "ES384", "PS256"}

// Identity is a resolved caller.
type Identity struct {
	Subject       string
	Authenticated bool
	Claims        map[string]any
}

// Authenticator validates bearer tokens. The zero value has no verifier.
type Authenticator struct {
	keyfunc jwt.Keyfunc
	methods []string
	issuer  string
	leeway  time.Duration
}

// Option customizes an Authenticator.
type Option func(*Authenticator)

// WithKeyfunc installs a custom key lookup accepting the given algorithms.
func WithKeyfunc(fn jwt.Keyfunc, methods ...string) Option {
	return func(a *Authenticator) {
		a.keyfunc = fn
		a.methods = methods
	}
}

// New builds an Authenticator. A JWKS endpoint is fetched once here and
// refreshed in the background until ctx ends.
func New(ctx context.Context, cfg Config, opts ...Option) (*Authenticator, error) {
	a := &Authenticator{issuer: cfg.Issuer, leeway: cfg.Leeway}
	if a.leeway == 0 {
		a.leeway = time.Minute
	}
	switch {
	case cfg.Discover:
		jwksURL, issuer, err := discover(ctx, cfg.Issuer)
		if err != nil {
			return nil, err
		}
		kf, err := keyfunc.NewDefaultCtx(ctx, []string{jwksURL})
		if err != nil {
			return nil, fmt.Errorf("jwks init failed: %w", err)
		}
		a.keyfunc = kf.Keyfunc
		a.methods = asymmetricMethods
		a.issuer = issuer
	case cfg.JWKSURL != "":
		kf, err := keyfunc.NewDefaultCtx(ctx, []string{cfg.JWKSURL})
		if err != nil {
			return nil, fmt.Errorf("jwks init failed: %w", err)
		}
		a.keyfunc = kf.Keyfunc
		a.methods = asymmetricMethods
	case cfg.JWTSecret != "":
		secret := []byte(cfg.JWTSecret)
		a.keyfunc = func(*jwt.Token) (any, error) { return secret, nil }
		a.methods = []string{jwt.SigningMethodHS256.Alg()}
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// discover reads the issuer's OpenID configuration and returns its JWKS
// endpoint and canonical issuer.
func discover(ctx context.Context, issuer string) (string, string, error) {
	if issuer == "" {
		return "", "", errors.New("oidc discovery requires an issuer")
	}
	provider, err := oidc.NewProvider(ctx, issuer)
	if err != nil {
		return "", "", fmt.Errorf("oidc discovery failed: %w", err)
	}
	var meta struct {
		Issuer  string `json:"issuer"`
		JwksURI string `json:"jwks_uri"`
	}
	if err := provider.Claims(&meta); err != nil {
		return "", "", fmt.Errorf("invalid discovery metadata: %w", err)
	}
	if meta.JwksURI == "" {
		return "", "", errors.New("discovery incomplete: missing jwks_uri")
	}
	return meta.JwksURI, meta.Issuer, nil
}

// Enabled reports whether tokens are verified.
func (a *Authenticator) Enabled() bool {
	return a != nil && a.keyfunc != nil
}

// Identify validates bearer, with or without the "Bearer " prefix, and
// returns its subject. The subject comes from "sub", then "id", then
// "user_id".
func (a *Authenticator) Identify(_ context.Context, bearer string) (Identity, error) {
	if !a.Enabled() {
		return Identity{}, fmt.Errorf("%w: no verifier configured", ErrUnauthorized)
	}
	raw := strings.TrimSpace(bearer)
	if len(raw) >= 7 && strings.EqualFold(raw[:7], "bearer ") {
		raw = strings.TrimSpace(raw[7:])
	}
	if raw == "" {
		return Identity{}, ErrMissingToken
	}

	parserOpts := []jwt.ParserOption{jwt.WithValidMethods(a.methods), jwt.WithLeeway(a.leeway)}
	if a.issuer != "" {
		parserOpts = append(parserOpts, jwt.WithIssuer(a.issuer))
	}
	claims := jwt.MapClaims{}
	if _, err := jwt.ParseWithClaims(raw, claims, a.keyfunc, parserOpts...); err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}
	subject := subjectOf(claims)
	if subject == "" {
		return Identity{}, fmt.Errorf("%w: token has no subject", ErrUnauthorized)
	}
	return Identity{Subject: subject, Authenticated: true, Claims: claims}, nil
}

// Fallback returns the identity for unverified requests.
func Fallback(userHeader string) Identity {
	if subject := strings.TrimSpace(userHeader); subject != "" {
		return Identity{Subject: subject}
	}
	return Identity{Subject: Anonymous}
}

func subjectOf(claims jwt.MapClaims) string {
	for _, key := range []string{"sub", "id", "user_id"} {
		switch v := claims[key].(type) {
		case string:
			if v = strings.TrimSpace(v); v != "" {
				return v
			}
		case float64:
			return strconv.FormatFloat(v, 'f', -1, 64)
		}
	}
	return ""
}

// IssueToken signs an HS256 token for subject, for local development and
// tests.
func IssueToken(secret, subject, issuer string, ttl time.Duration) (string, time.Time, error) {
	if secret == "" {
		return "", time.Time{}, errors.New("jwt secret not configured")
	}
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	expiresAt := time.Now().Add(ttl)
	claims := jwt.MapClaims{
		"sub": subject,
		"exp": expiresAt.Unix(),
		"iat": time.Now().Unix(),
	}
	if issuer != "" {
		claims["iss"] = issuer
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}
