// Package auth obtains the bearer credential every backend request carries.
// The token comes from a local endpoint that proxies the external identity
// provider; the provider's internals are out of scope here.
package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/memorahq/memora/internal/errors"
)

const (
	// refreshSkew refreshes tokens slightly before their recorded expiry.
	refreshSkew = 30 * time.Second
	// fallbackTTL caches tokens whose expiry cannot be read from the JWT.
	fallbackTTL = time.Minute
)

// TokenSource supplies a bearer token for outgoing backend requests.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// StaticTokenSource returns a fixed token. Used by the CLI --token flag and
// by tests.
type StaticTokenSource struct {
	token string
}

// NewStatic creates a StaticTokenSource.
func NewStatic(token string) *StaticTokenSource {
	return &StaticTokenSource{token: token}
}

// Token returns the fixed token.
func (s *StaticTokenSource) Token(_ context.Context) (string, error) {
	if s.token == "" {
		return "", errors.NewUnauthenticated()
	}
	return s.token, nil
}

// tokenResponse is the local token endpoint's payload. Both key spellings
// occur in the wild.
type tokenResponse struct {
	AccessToken      string `json:"access_token"`
	AccessTokenCamel string `json:"accessToken"`
}

func (r tokenResponse) value() string {
	if r.AccessToken != "" {
		return r.AccessToken
	}
	return r.AccessTokenCamel
}

// EndpointTokenSource fetches tokens from the local token endpoint and
// caches them until shortly before the JWT's exp claim.
type EndpointTokenSource struct {
	url    string
	client *http.Client

	mu     sync.Mutex
	token  string
	expiry time.Time
}

// NewEndpointSource creates an EndpointTokenSource for the given token URL.
// A nil client uses a default with a short timeout.
func NewEndpointSource(url string, client *http.Client) *EndpointTokenSource {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &EndpointTokenSource{url: url, client: client}
}

// Token returns a cached token while it is fresh, otherwise fetches a new
// one. A 401 from the token endpoint means the user has no session and must
// re-authenticate.
func (s *EndpointTokenSource) Token(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.token != "" && time.Now().Before(s.expiry) {
		return s.token, nil
	}

	token, err := s.fetch(ctx)
	if err != nil {
		return "", err
	}

	s.token = token
	s.expiry = tokenExpiry(token)
	return token, nil
}

// Invalidate drops the cached token so the next call refetches. Called when
// the backend rejects a request with 401 despite a cached token.
func (s *EndpointTokenSource) Invalidate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = ""
	s.expiry = time.Time{}
}

func (s *EndpointTokenSource) fetch(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return "", errors.NewInternal(err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return "", errors.NewInternal(fmt.Errorf("token endpoint: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return "", errors.NewUnauthenticated()
	}
	if resp.StatusCode != http.StatusOK {
		return "", errors.NewBackend(resp.StatusCode, "token endpoint")
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", errors.NewInternal(err)
	}

	var payload tokenResponse
	if err := json.Unmarshal(body, &payload); err != nil {
		return "", errors.NewInternal(fmt.Errorf("token endpoint payload: %w", err))
	}

	token := payload.value()
	if token == "" {
		return "", errors.NewUnauthenticated()
	}
	return token, nil
}

// Subject reads the sub claim from a JWT without verifying it. The viewer's
// identity is only used client-side to decide which data to show; the
// backend enforces the real ownership checks.
func Subject(token string) (string, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return "", errors.NewInternal(fmt.Errorf("parsing token: %w", err))
	}
	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return "", errors.NewUnauthenticated()
	}
	return sub, nil
}

// tokenExpiry reads the exp claim without verifying the signature; the
// client only needs a refresh hint, the backend does the real validation.
func tokenExpiry(token string) time.Time {
	parser := jwt.NewParser()
	claims := jwt.MapClaims{}
	if _, _, err := parser.ParseUnverified(token, claims); err != nil {
		return time.Now().Add(fallbackTTL)
	}

	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Now().Add(fallbackTTL)
	}

	expiry := exp.Time.Add(-refreshSkew)
	if !expiry.After(time.Now()) {
		// Already expired or about to: don't cache.
		return time.Now()
	}
	return expiry
}
