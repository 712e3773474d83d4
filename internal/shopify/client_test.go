package shopify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient("juno.myshopify.com", "shpat_test", "", WithBaseURL(srv.URL), WithRateLimit(0, 0))
}

func TestNewClientBaseURL(t *testing.T) {
	c := NewClient("https://juno.myshopify.com/", "token", "")
	assert.Equal(t, "https://juno.myshopify.com/admin/api/2023-01", c.baseURL)

	c = NewClient("juno.myshopify.com", "token", "2024-04")
	assert.Equal(t, "https://juno.myshopify.com/admin/api/2024-04", c.baseURL)
}

func TestListThemes(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/themes.json", r.URL.Path)
		assert.Equal(t, "shpat_test", r.Header.Get("X-Shopify-Access-Token"))
		assert.Equal(t, DefaultUserAgent, r.Header.Get("User-Agent"))

		_, _ = io.WriteString(w, `{"themes":[
			{"id":1,"name":"Live","role":"main"},
			{"id":2,"name":"Juno/feature - Preview","role":"development"}
		]}`)
	})

	themes, err := c.ListThemes(context.Background())
	require.NoError(t, err)
	require.Len(t, themes, 2)
	assert.Equal(t, int64(2), themes[1].ID)
	assert.Equal(t, RoleMain, themes[0].Role)
}

func TestCreateTheme(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/themes.json", r.URL.Path)

		var body struct {
			Theme struct {
				Name string `json:"name"`
				Role string `json:"role"`
			} `json:"theme"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "Juno/feature - Preview", body.Theme.Name)
		assert.Equal(t, "development", body.Theme.Role)

		w.WriteHeader(http.StatusCreated)
		_, _ = io.WriteString(w, `{"theme":{"id":99,"name":"Juno/feature - Preview","role":"development"}}`)
	})

	theme, err := c.CreateTheme(context.Background(), "Juno/feature - Preview", "")
	require.NoError(t, err)
	assert.Equal(t, int64(99), theme.ID)
}

func TestCreateThemeMissingID(t *testing.T) {
	for name, payload := range map[string]string{
		"empty object": `{}`,
		"no id":        `{"theme":{"name":"Juno/feature - Preview"}}`,
	} {
		t.Run(name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusCreated)
				_, _ = io.WriteString(w, payload)
			})

			theme, err := c.CreateTheme(context.Background(), "Juno/feature - Preview", "")
			require.Error(t, err)
			assert.Nil(t, theme)
			assert.Contains(t, err.Error(), "no theme id")
		})
	}
}

func TestDeleteTheme(t *testing.T) {
	var called atomic.Bool
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		called.Store(true)
		assert.Equal(t, http.MethodDelete, r.Method)
		assert.Equal(t, "/themes/99.json", r.URL.Path)
		_, _ = io.WriteString(w, `{"id":99}`)
	})

	require.NoError(t, c.DeleteTheme(context.Background(), 99))
	assert.True(t, called.Load())
}

func TestDeleteAsset(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		assert.Equal(t, "/themes/7/assets.json", r.URL.Path)
		assert.Equal(t, "snippets/old card.liquid", r.URL.Query().Get("asset[key]"))
		_, _ = io.WriteString(w, `{"message":"snippets/old card.liquid was successfully deleted"}`)
	})

	require.NoError(t, c.DeleteAsset(context.Background(), 7, "snippets/old card.liquid"))
}

func TestAPIError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = io.WriteString(w, `{"errors":"Forbidden"}`)
	})

	err := c.DeleteAsset(context.Background(), 7, "layout/theme.liquid")
	require.Error(t, err)

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusForbidden, apiErr.StatusCode)
	assert.Equal(t, http.MethodDelete, apiErr.Method)
	assert.Contains(t, apiErr.Body, "Forbidden")
	assert.Contains(t, err.Error(), "layout/theme.liquid")
}

func TestMalformedResponse(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"themes":`)
	})

	_, err := c.ListThemes(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to unmarshal response")
}

func TestCancelledContext(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("request should not be sent")
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.ListThemes(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRateLimitedClientWaits(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		_, _ = io.WriteString(w, `{"themes":[]}`)
	}))
	t.Cleanup(srv.Close)

	c := NewClient("juno.myshopify.com", "token", "", WithBaseURL(srv.URL), WithRateLimit(1000, 1))
	for i := 0; i < 3; i++ {
		_, err := c.ListThemes(context.Background())
		require.NoError(t, err)
	}
	assert.Equal(t, int32(3), hits.Load())
}

func TestFindTheme(t *testing.T) {
	themes := []Theme{
		{ID: 1, Name: "Live"},
		{ID: 2, Name: "Juno/feature - Preview (old)"},
		{ID: 3, Name: "Juno/feature - Preview"},
	}

	got := FindTheme(themes, "Juno/feature - Preview")
	require.NotNil(t, got)
	assert.Equal(t, int64(3), got.ID, "exact match wins over substring")

	got = FindTheme(themes, "feature")
	require.NotNil(t, got)
	assert.Equal(t, int64(2), got.ID, "first substring match")

	assert.Nil(t, FindTheme(themes, "missing"))
	assert.Nil(t, FindTheme(nil, "Live"))
}

func TestNormalizeStore(t *testing.T) {
	tests := map[string]string{
		"juno.myshopify.com":          "juno.myshopify.com",
		"https://juno.myshopify.com/": "juno.myshopify.com",
		" http://juno.myshopify.com ": "juno.myshopify.com",
	}
	for in, want := range tests {
		assert.Equal(t, want, NormalizeStore(in), in)
	}
}
