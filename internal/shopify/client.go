package shopify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

const (
	// DefaultAPIVersion is the Admin REST API version the theme endpoints are pinned to.
	DefaultAPIVersion = "2023-01"
	// DefaultUserAgent identifies requests made by themesync.
	DefaultUserAgent = "Shopify Theme Action"
)

// Role is a theme role as reported by the Admin API.
type Role string

const (
	RoleMain        Role = "main"
	RoleUnpublished Role = "unpublished"
	RoleDemo        Role = "demo"
	RoleDevelopment Role = "development"
)

// Theme is the subset of the Admin API theme resource used here.
type Theme struct {
	ID                int64     `json:"id"`
	Name              string    `json:"name"`
	Role              Role      `json:"role"`
	Previewable       bool      `json:"previewable"`
	Processing        bool      `json:"processing"`
	ThemeStoreID      *int64    `json:"theme_store_id"`
	AdminGraphQLAPIID string    `json:"admin_graphql_api_id"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// APIError is returned for any non-2xx Admin API response.
type APIError struct {
	Method     string
	URL        string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("shopify API error: %s %s: status %d, body: %s", e.Method, e.URL, e.StatusCode, e.Body)
}

// Client talks to the theme and asset endpoints of one store.
type Client struct {
	baseURL     string
	accessToken string
	userAgent   string
	httpClient  *http.Client
	limiter     *rate.Limiter
	logger      *slog.Logger
}

// Option customizes a Client.
type Option func(*Client)

// WithBaseURL overrides the API root (used by tests).
func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = strings.TrimSuffix(u, "/") }
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithRateLimit paces requests to rps requests per second with the given burst.
// A non-positive rps disables pacing.
func WithRateLimit(rps float64, burst int) Option {
	return func(c *Client) {
		if rps <= 0 {
			c.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(c *Client) {
		if ua != "" {
			c.userAgent = ua
		}
	}
}

// WithLogger sets the logger used for request tracing.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// NormalizeStore strips scheme and trailing slashes from a store domain.
func NormalizeStore(store string) string {
	store = strings.TrimSpace(store)
	store = strings.TrimPrefix(store, "https://")
	store = strings.TrimPrefix(store, "http://")
	return strings.TrimSuffix(store, "/")
}

// NewClient creates a client for store using an Admin API access token.
func NewClient(store, accessToken, apiVersion string, opts ...Option) *Client {
	if apiVersion == "" {
		apiVersion = DefaultAPIVersion
	}

	c := &Client{
		baseURL:     fmt.Sprintf("https://%s/admin/api/%s", NormalizeStore(store), apiVersion),
		accessToken: accessToken,
		userAgent:   DefaultUserAgent,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		limiter: rate.NewLimiter(rate.Limit(2), 10),
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ListThemes returns every theme of the store.
func (c *Client) ListThemes(ctx context.Context) ([]Theme, error) {
	var resp struct {
		Themes []Theme `json:"themes"`
	}
	if err := c.do(ctx, http.MethodGet, "/themes.json", nil, nil, &resp); err != nil {
		return nil, fmt.Errorf("failed to list themes: %w", err)
	}
	return resp.Themes, nil
}

// CreateTheme creates an empty theme with the given name and role.
func (c *Client) CreateTheme(ctx context.Context, name string, role Role) (*Theme, error) {
	if role == "" {
		role = RoleDevelopment
	}

	body := map[string]any{
		"theme": map[string]any{
			"name": name,
			"role": role,
		},
	}
	var resp struct {
		Theme Theme `json:"theme"`
	}
	if err := c.do(ctx, http.MethodPost, "/themes.json", nil, body, &resp); err != nil {
		return nil, fmt.Errorf("failed to create theme %q: %w", name, err)
	}
	if resp.Theme.ID == 0 {
		return nil, fmt.Errorf("failed to create theme %q: response contained no theme id", name)
	}
	return &resp.Theme, nil
}

// DeleteTheme deletes a theme by ID.
func (c *Client) DeleteTheme(ctx context.Context, themeID int64) error {
	if err := c.do(ctx, http.MethodDelete, fmt.Sprintf("/themes/%d.json", themeID), nil, nil, nil); err != nil {
		return fmt.Errorf("failed to delete theme %d: %w", themeID, err)
	}
	return nil
}

// DeleteAsset deletes a single asset (theme-relative key) from a theme.
func (c *Client) DeleteAsset(ctx context.Context, themeID int64, key string) error {
	query := url.Values{}
	query.Set("asset[key]", key)
	if err := c.do(ctx, http.MethodDelete, fmt.Sprintf("/themes/%d/assets.json", themeID), query, nil, nil); err != nil {
		return fmt.Errorf("failed to delete asset %s: %w", key, err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, in, out any) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
	}

	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("X-Shopify-Access-Token", c.accessToken)

	c.logger.Debug("shopify request", "method", method, "path", path)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to execute request: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &APIError{
			Method:     method,
			URL:        c.baseURL + path,
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(data)),
		}
	}

	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to unmarshal response: %w, body: %s", err, string(data))
	}
	return nil
}

// FindTheme returns the theme whose name equals name, falling back to the
// first theme whose name contains it. It returns nil when nothing matches.
func FindTheme(themes []Theme, name string) *Theme {
	for i := range themes {
		if themes[i].Name == name {
			return &themes[i]
		}
	}
	for i := range themes {
		if strings.Contains(themes[i].Name, name) {
			return &themes[i]
		}
	}
	return nil
}
