package github

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestParseRepository(t *testing.T) {
	repo, err := ParseRepository("juno/storefront")
	require.NoError(t, err)
	assert.Equal(t, Repository{Owner: "juno", Name: "storefront"}, repo)
	assert.Equal(t, "juno/storefront", repo.String())

	for _, bad := range []string{"", "juno", "/storefront", "juno/", "a/b/c"} {
		_, err := ParseRepository(bad)
		assert.Error(t, err, bad)
	}
}

func TestLoadEvent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "event.json")
	payload := `{
		"action": "synchronize",
		"number": 17,
		"pull_request": {"number": 17, "state": "open", "head": {"ref": "feature/cart", "sha": "abc"}},
		"repository": {"full_name": "juno/storefront"}
	}`
	require.NoError(t, os.WriteFile(path, []byte(payload), 0644))

	ev, err := LoadEvent(path)
	require.NoError(t, err)
	assert.Equal(t, 17, ev.PRNumber())
	assert.Equal(t, "feature/cart", ev.HeadRef())
	assert.Equal(t, "juno/storefront", ev.Repository.FullName)
}

func TestLoadEventErrors(t *testing.T) {
	_, err := LoadEvent("")
	assert.Error(t, err)

	_, err = LoadEvent(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "event.json")
	require.NoError(t, os.WriteFile(path, []byte("{"), 0644))
	_, err = LoadEvent(path)
	assert.Error(t, err)
}

func TestEventWithoutPullRequest(t *testing.T) {
	ev, err := ParseEvent([]byte(`{"action":"push"}`))
	require.NoError(t, err)
	assert.Zero(t, ev.PRNumber())
	assert.Empty(t, ev.HeadRef())
}

// fakeIssues is an in-memory issue comments API.
type fakeIssues struct {
	mu       sync.Mutex
	comments []Comment
	created  []string
	auth     []string
}

func (f *fakeIssues) handler(t *testing.T) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()

		f.auth = append(f.auth, r.Header.Get("Authorization"))
		assert.Equal(t, "/repos/juno/storefront/issues/17/comments", r.URL.Path)

		switch r.Method {
		case http.MethodGet:
			page := r.URL.Query().Get("page")
			perPage := commentsPerPage
			start := 0
			if page != "" {
				var p int
				_, _ = fmt.Sscan(page, &p)
				start = (p - 1) * perPage
			}
			end := start + perPage
			if start > len(f.comments) {
				start = len(f.comments)
			}
			if end > len(f.comments) {
				end = len(f.comments)
			}
			_ = json.NewEncoder(w).Encode(f.comments[start:end])
		case http.MethodPost:
			var body struct {
				Body string `json:"body"`
			}
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			f.created = append(f.created, body.Body)
			c := Comment{ID: int64(1000 + len(f.created)), Body: body.Body}
			f.comments = append(f.comments, c)
			w.WriteHeader(http.StatusCreated)
			_ = json.NewEncoder(w).Encode(c)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	})
}

func TestEnsurePreviewComment(t *testing.T) {
	fake := &fakeIssues{comments: []Comment{{ID: 1, Body: "LGTM"}}}
	srv := httptest.NewServer(fake.handler(t))
	t.Cleanup(srv.Close)

	ctx := context.Background()
	client := NewCommentClient(ctx, srv.URL, "ghs_token", testLogger())
	repo := Repository{Owner: "juno", Name: "storefront"}
	body := PreviewCommentBody("juno.myshopify.com", 99)

	created, err := client.EnsurePreviewComment(ctx, repo, 17, body)
	require.NoError(t, err)
	assert.True(t, created)

	created, err = client.EnsurePreviewComment(ctx, repo, 17, body)
	require.NoError(t, err)
	assert.False(t, created, "second call must find the existing comment")

	fake.mu.Lock()
	defer fake.mu.Unlock()
	require.Len(t, fake.created, 1)
	for _, h := range fake.auth {
		assert.Equal(t, "Bearer ghs_token", h)
	}
}

func TestListCommentsPaginates(t *testing.T) {
	fake := &fakeIssues{}
	for i := 0; i < commentsPerPage+5; i++ {
		fake.comments = append(fake.comments, Comment{ID: int64(i), Body: "comment"})
	}
	fake.comments = append(fake.comments, Comment{ID: 9999, Body: PreviewCommentMarker + "\nold"})

	srv := httptest.NewServer(fake.handler(t))
	t.Cleanup(srv.Close)

	ctx := context.Background()
	client := NewCommentClient(ctx, srv.URL, "token", testLogger())
	repo := Repository{Owner: "juno", Name: "storefront"}

	comments, err := client.ListComments(ctx, repo, 17)
	require.NoError(t, err)
	assert.Len(t, comments, commentsPerPage+6)

	created, err := client.EnsurePreviewComment(ctx, repo, 17, "body")
	require.NoError(t, err)
	assert.False(t, created, "marker on the second page must be found")
}

func TestCommentAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = io.WriteString(w, `{"message":"Bad credentials"}`)
	}))
	t.Cleanup(srv.Close)

	ctx := context.Background()
	client := NewCommentClient(ctx, srv.URL, "bad", testLogger())
	_, err := client.EnsurePreviewComment(ctx, Repository{Owner: "juno", Name: "storefront"}, 17, "body")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 401")
}

func TestPreviewCommentBody(t *testing.T) {
	body := PreviewCommentBody("juno.myshopify.com", 123)

	assert.True(t, strings.HasPrefix(body, PreviewCommentMarker+"\n"), body)
	assert.Contains(t, body, "Preview deployed successfully!")
	assert.Contains(t, body, "https://juno.myshopify.com/?preview_theme_id=123")
	assert.Contains(t, body, "https://juno.myshopify.com/admin/themes/123/editor")
	assert.Equal(t, 2, strings.Count(body, "```"))
	assert.NotContains(t, body, "\t")
}
