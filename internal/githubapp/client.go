// Authenticates as a GitHub App: JWT generation, installation lookup and
// installation token caching.

package githubapp

import (
	"context"
	"crypto/rsa"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2"
)

const defaultAPI = "https://api.github.com"

// Client manages GitHub App authentication.
type Client struct {
	appID      int64
	privateKey *rsa.PrivateKey
	httpClient *http.Client
	api        string

	mu     sync.Mutex
	tokens map[int64]cachedToken // installationID -> cached token
}

type cachedToken struct {
	Token     string
	ExpiresAt time.Time
}

// NewClient creates a new GitHub App client. api defaults to the public
// GitHub API.
func NewClient(appID int64, privateKey *rsa.PrivateKey, api string) *Client {
	if api == "" {
		api = defaultAPI
	}
	return &Client{
		appID:      appID,
		privateKey: privateKey,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		api:        strings.TrimSuffix(api, "/"),
		tokens:     make(map[int64]cachedToken),
	}
}

// LoadPrivateKey reads a PEM encoded RSA key as downloaded from the App
// settings page.
func LoadPrivateKey(path string) (*rsa.PrivateKey, error) {
	b, err := os.ReadFile(path) //nolint:gosec // G304: operator supplied path
	if err != nil {
		return nil, err
	}
	key, err := jwt.ParseRSAPrivateKeyFromPEM(b)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return key, nil
}

// GenerateJWT creates a signed JWT for GitHub App authentication.
// The JWT is valid for 10 minutes per GitHub's requirements.
func (c *Client) GenerateJWT() (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		IssuedAt:  jwt.NewNumericDate(now.Add(-60 * time.Second)), // 60s clock drift
		ExpiresAt: jwt.NewNumericDate(now.Add(10 * time.Minute)),
		Issuer:    strconv.FormatInt(c.appID, 10),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	return token.SignedString(c.privateKey)
}

// RepoInstallation returns the installation id of the App on owner/repo.
func (c *Client) RepoInstallation(ctx context.Context, owner, repo string) (int64, error) {
	var result struct {
		ID int64 `json:"id"`
	}
	if err := c.appCall(ctx, http.MethodGet, fmt.Sprintf("/repos/%s/%s/installation", owner, repo), http.StatusOK, &result); err != nil {
		return 0, err
	}
	return result.ID, nil
}

// GetInstallationToken returns a valid installation access token, using cache when possible.
func (c *Client) GetInstallationToken(ctx context.Context, installationID int64) (string, time.Time, error) {
	c.mu.Lock()
	if cached, ok := c.tokens[installationID]; ok {
		// Use cached token if it expires more than 5 minutes from now.
		if time.Until(cached.ExpiresAt) > 5*time.Minute {
			c.mu.Unlock()
			return cached.Token, cached.ExpiresAt, nil
		}
	}
	c.mu.Unlock()

	var result struct {
		Token     string    `json:"token"`
		ExpiresAt time.Time `json:"expires_at"`
	}
	path := fmt.Sprintf("/app/installations/%d/access_tokens", installationID)
	if err := c.appCall(ctx, http.MethodPost, path, http.StatusCreated, &result); err != nil {
		return "", time.Time{}, err
	}

	c.mu.Lock()
	c.tokens[installationID] = cachedToken{Token: result.Token, ExpiresAt: result.ExpiresAt}
	c.mu.Unlock()

	return result.Token, result.ExpiresAt, nil
}

// appCall makes a call authenticated as the App itself.
func (c *Client) appCall(ctx context.Context, method, path string, want int, out any) error {
	jwtToken, err := c.GenerateJWT()
	if err != nil {
		return fmt.Errorf("generate JWT: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.api+path, http.NoBody)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+jwtToken)
	req.Header.Set("Accept", "application/vnd.github+json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != want {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("GitHub API error %d: %s", resp.StatusCode, string(body))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

// TokenSource returns an oauth2.TokenSource minting installation tokens.
// ctx is used for every token request.
func (c *Client) TokenSource(ctx context.Context, installationID int64) oauth2.TokenSource {
	return &installationTokenSource{ctx: ctx, c: c, id: installationID}
}

type installationTokenSource struct {
	ctx context.Context //nolint:containedctx // oauth2.TokenSource has no context parameter
	c   *Client
	id  int64
}

func (s *installationTokenSource) Token() (*oauth2.Token, error) {
	tok, exp, err := s.c.GetInstallationToken(s.ctx, s.id)
	if err != nil {
		return nil, err
	}
	// Refresh a bit before GitHub expires it.
	return &oauth2.Token{AccessToken: tok, TokenType: "Bearer", Expiry: exp.Add(-time.Minute)}, nil
}
