package github

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/MakeNowJust/heredoc/v2"
	"golang.org/x/oauth2"
)

// PreviewCommentMarker identifies the preview comment among PR comments.
const PreviewCommentMarker = "<!-- Comment by Shopify Theme Deploy Previews Action -->"

const commentsPerPage = 100

// Comment is an issue comment
type Comment struct {
	ID   int64  `json:"id"`
	Body string `json:"body"`
}

// CommentClient lists and creates pull request comments
type CommentClient struct {
	apiURL     string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewCommentClient creates a client authenticated with token
func NewCommentClient(ctx context.Context, apiURL, token string, logger *slog.Logger) *CommentClient {
	src := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
	return &CommentClient{
		apiURL:     strings.TrimSuffix(apiURL, "/"),
		httpClient: oauth2.NewClient(ctx, src),
		logger:     logger,
	}
}

// ListComments returns every comment on an issue or pull request
func (c *CommentClient) ListComments(ctx context.Context, repo Repository, number int) ([]Comment, error) {
	var all []Comment
	for page := 1; ; page++ {
		url := fmt.Sprintf("%s/repos/%s/%s/issues/%d/comments?per_page=%d&page=%d",
			c.apiURL, repo.Owner, repo.Name, number, commentsPerPage, page)

		var batch []Comment
		if err := c.do(ctx, http.MethodGet, url, nil, &batch); err != nil {
			return nil, fmt.Errorf("failed to list comments: %w", err)
		}
		all = append(all, batch...)
		if len(batch) < commentsPerPage {
			return all, nil
		}
	}
}

// CreateComment posts a new comment
func (c *CommentClient) CreateComment(ctx context.Context, repo Repository, number int, body string) (*Comment, error) {
	url := fmt.Sprintf("%s/repos/%s/%s/issues/%d/comments", c.apiURL, repo.Owner, repo.Name, number)

	var created Comment
	if err := c.do(ctx, http.MethodPost, url, map[string]string{"body": body}, &created); err != nil {
		return nil, fmt.Errorf("failed to create comment: %w", err)
	}
	return &created, nil
}

// EnsurePreviewComment creates the preview comment unless one carrying
// PreviewCommentMarker already exists. It reports whether a comment was created.
func (c *CommentClient) EnsurePreviewComment(ctx context.Context, repo Repository, number int, body string) (bool, error) {
	c.logger.Debug("searching for comment", "repo", repo.String(), "pr", number)

	comments, err := c.ListComments(ctx, repo, number)
	if err != nil {
		return false, err
	}
	for _, comment := range comments {
		if strings.Contains(comment.Body, PreviewCommentMarker) {
			c.logger.Debug("found comment", "id", comment.ID)
			return false, nil
		}
	}

	c.logger.Debug("comment not found, adding comment to PR")
	if _, err := c.CreateComment(ctx, repo, number, body); err != nil {
		return false, err
	}
	c.logger.Debug("comment added successfully")
	return true, nil
}

func (c *CommentClient) do(ctx context.Context, method, url string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("X-GitHub-Api-Version", "2022-11-28")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%s %s: status %d: %s", method, url, resp.StatusCode, strings.TrimSpace(string(data)))
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(data, out)
}

// PreviewCommentBody renders the preview comment for a theme on store
func PreviewCommentBody(store string, themeID int64) string {
	const fence = "```"
	return heredoc.Docf(`
		%s
		🚀 Preview deployed successfully!
		Please add the below urls to your Jira ticket, for the PM to review.

		%s
		Theme preview:
		https://%s/?preview_theme_id=%d

		Customize this theme in the Theme Editor
		https://%s/admin/themes/%d/editor
		%s
	`, PreviewCommentMarker, fence, store, themeID, store, themeID, fence)
}
