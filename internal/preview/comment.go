package preview

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/schaermu/themesync/internal/config"
	"github.com/schaermu/themesync/internal/github"
	"github.com/schaermu/themesync/internal/shopify"
)

// PRCommenter posts the preview comment on the pull request that triggered
// the workflow.
type PRCommenter struct {
	cfg    *config.Config
	logger *slog.Logger
}

// NewPRCommenter creates a commenter reading the workflow event lazily
func NewPRCommenter(cfg *config.Config, logger *slog.Logger) *PRCommenter {
	return &PRCommenter{cfg: cfg, logger: logger}
}

// Comment ensures the preview comment for themeID exists
func (c *PRCommenter) Comment(ctx context.Context, themeID int64) error {
	event, err := github.LoadEvent(c.cfg.GitHub.EventPath)
	if err != nil {
		return fmt.Errorf("unable to find PR: %w", err)
	}
	number := event.PRNumber()
	if number == 0 {
		return fmt.Errorf("unable to find PR")
	}

	if c.cfg.GitHub.Token == "" {
		return fmt.Errorf("missing github.token (GITHUB_TOKEN)")
	}

	full := c.cfg.GitHub.Repository
	if full == "" {
		full = event.Repository.FullName
	}
	repo, err := github.ParseRepository(full)
	if err != nil {
		return err
	}

	client := github.NewCommentClient(ctx, c.cfg.GitHub.APIURL, c.cfg.GitHub.Token, c.logger)
	body := github.PreviewCommentBody(shopify.NormalizeStore(c.cfg.Shopify.Store), themeID)
	if _, err := client.EnsurePreviewComment(ctx, repo, number, body); err != nil {
		return err
	}
	return nil
}
