package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/opentranslator/client/internal/httpclient"
	"github.com/opentranslator/client/internal/logger"
	"github.com/opentranslator/client/internal/metrics"
)

const (
	// InterceptorName is the key the bearer-token hook is registered under.
	// Registration replaces any previous hook with the same name, so
	// re-attaching after a sign-in change never stacks duplicate headers.
	InterceptorName = "auth"

	DefaultTokenLifetime = 60 * time.Minute
	DefaultSafetyMargin  = 5 * time.Minute
	DefaultRefreshEvery  = 50 * time.Minute

	fetchTimeout = 10 * time.Second
)

// tokenResponse is the identity provider's token grant payload
type tokenResponse struct {
	AccessToken string `json:"accessToken"`
	TokenType   string `json:"tokenType,omitempty"`
	ExpiresIn   int    `json:"expiresIn,omitempty"`
}

// ProviderConfig holds configuration for the token provider
type ProviderConfig struct {
	IdentityURL  string
	APIKey       string
	Lifetime     time.Duration
	SafetyMargin time.Duration
}

// Provider obtains bearer tokens from an external identity provider and
// caches them with an expiry window. All callers share one cache; a
// background refresh keeps long-running operations clear of the expiry.
type Provider struct {
	identityURL  string
	apiKey       string
	lifetime     time.Duration
	safetyMargin time.Duration
	httpClient   *http.Client
	log          *logger.Logger

	mu        sync.Mutex
	token     string
	expiresAt time.Time
	fetching  bool
	fetchDone chan struct{}

	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewProvider creates a token provider
func NewProvider(cfg ProviderConfig) *Provider {
	lifetime := cfg.Lifetime
	if lifetime <= 0 {
		lifetime = DefaultTokenLifetime
	}
	margin := cfg.SafetyMargin
	if margin <= 0 || margin >= lifetime {
		margin = DefaultSafetyMargin
	}

	return &Provider{
		identityURL:  cfg.IdentityURL,
		apiKey:       cfg.APIKey,
		lifetime:     lifetime,
		safetyMargin: margin,
		httpClient:   &http.Client{Timeout: fetchTimeout},
		log:          logger.Default().WithComponent("auth"),
		stopCh:       make(chan struct{}),
	}
}

// ValidToken returns a cached token when it has not crossed the safety
// margin, otherwise fetches a fresh one. Concurrent callers during a fetch
// wait for the single in-flight request.
func (p *Provider) ValidToken(ctx context.Context) (string, error) {
	p.mu.Lock()
	if p.token != "" && time.Now().Before(p.expiresAt) {
		token := p.token
		p.mu.Unlock()
		return token, nil
	}

	for p.fetching {
		done := p.fetchDone
		p.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
			return "", ctx.Err()
		}
		p.mu.Lock()
		if p.token != "" && time.Now().Before(p.expiresAt) {
			token := p.token
			p.mu.Unlock()
			return token, nil
		}
	}

	p.fetching = true
	p.fetchDone = make(chan struct{})
	p.mu.Unlock()

	token, expiresAt, err := p.fetchToken(ctx)

	p.mu.Lock()
	p.fetching = false
	close(p.fetchDone)
	if err != nil {
		p.mu.Unlock()
		return "", err
	}
	p.token = token
	p.expiresAt = expiresAt
	p.mu.Unlock()

	return token, nil
}

// ForceRefresh drops the cached token and fetches a new one. Used by the
// single-retry policy after a confirmed 401.
func (p *Provider) ForceRefresh(ctx context.Context) error {
	p.mu.Lock()
	p.token = ""
	p.expiresAt = time.Time{}
	p.mu.Unlock()

	_, err := p.ValidToken(ctx)
	return err
}

// Clear drops the cached token without fetching a replacement
func (p *Provider) Clear() {
	p.mu.Lock()
	p.token = ""
	p.expiresAt = time.Time{}
	p.mu.Unlock()
}

// fetchToken requests a fresh token from the identity provider
func (p *Provider) fetchToken(ctx context.Context) (string, time.Time, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.identityURL, nil)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to create token request: %w", err)
	}
	if p.apiKey != "" {
		req.Header.Set("X-Api-Key", p.apiKey)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("identity provider unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", time.Time{}, fmt.Errorf("identity provider returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to read token response: %w", err)
	}

	var grant tokenResponse
	if err := json.Unmarshal(body, &grant); err != nil {
		return "", time.Time{}, fmt.Errorf("failed to parse token response: %w", err)
	}
	if grant.AccessToken == "" {
		return "", time.Time{}, fmt.Errorf("identity provider returned an empty token")
	}

	metrics.Default().IncCounter("token_fetches_total")
	return grant.AccessToken, p.computeExpiry(grant), nil
}

// computeExpiry derives the cache expiry: the JWT exp claim when the token
// carries one, else the grant's expiresIn, else the configured lifetime.
// The safety margin is subtracted in every case.
func (p *Provider) computeExpiry(grant tokenResponse) time.Time {
	lifetime := p.lifetime

	if grant.ExpiresIn > 0 {
		lifetime = time.Duration(grant.ExpiresIn) * time.Second
	}

	if exp, ok := jwtExpiry(grant.AccessToken); ok {
		until := time.Until(exp)
		if until > 0 {
			lifetime = until
		}
	}

	if lifetime <= p.safetyMargin {
		// Very short grants still get cached for half their life.
		return time.Now().Add(lifetime / 2)
	}
	return time.Now().Add(lifetime - p.safetyMargin)
}

// jwtExpiry reads the exp claim from a JWT without verifying the signature.
// The client cannot verify anyway; expiry is the only claim it needs.
func jwtExpiry(token string) (time.Time, bool) {
	if strings.Count(token, ".") != 2 {
		return time.Time{}, false
	}

	parser := jwt.NewParser()
	claims := jwt.MapClaims{}
	if _, _, err := parser.ParseUnverified(token, claims); err != nil {
		return time.Time{}, false
	}

	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, false
	}
	return exp.Time, true
}

// Attach registers the bearer-token interceptor on the API client. A hook
// registered earlier under the same name is replaced, not duplicated. The
// hook fails open: when no token can be obtained the request proceeds
// without a header and the server rejects it.
func (p *Provider) Attach(client *httpclient.Client) {
	client.SetInterceptor(InterceptorName, func(req *http.Request) error {
		token, err := p.ValidToken(req.Context())
		if err != nil {
			p.log.Warn(req.Context(), "proceeding without bearer token", map[string]interface{}{
				"reason": err.Error(),
			})
			return nil
		}
		req.Header.Set("Authorization", "Bearer "+token)
		return nil
	})
}

// Detach deregisters the bearer-token interceptor
func (p *Provider) Detach(client *httpclient.Client) {
	client.RemoveInterceptor(InterceptorName)
}

// StartBackgroundRefresh refreshes the token on a period shorter than its
// lifetime so in-flight long operations never race an expiry. Stop ends it.
func (p *Provider) StartBackgroundRefresh(interval time.Duration) {
	if interval <= 0 {
		interval = DefaultRefreshEvery
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				ctx, cancel := context.WithTimeout(context.Background(), fetchTimeout)
				if err := p.ForceRefresh(ctx); err != nil {
					p.log.Warn(ctx, "background token refresh failed", map[string]interface{}{
						"reason": err.Error(),
					})
				}
				cancel()
			case <-p.stopCh:
				return
			}
		}
	}()
}

// Stop ends the background refresh and clears the cache
func (p *Provider) Stop() {
	p.stopOnce.Do(func() {
		close(p.stopCh)
	})
	p.Clear()
}
