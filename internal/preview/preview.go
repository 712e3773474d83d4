// Package preview manages per-branch preview themes.
package preview

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/afero"
	"golang.org/x/sync/errgroup"

	"github.com/schaermu/themesync/internal/actionlog"
	"github.com/schaermu/themesync/internal/config"
	"github.com/schaermu/themesync/internal/shopify"
	"github.com/schaermu/themesync/internal/theme"
	"github.com/schaermu/themesync/internal/themecli"
	"github.com/schaermu/themesync/internal/themekit"
)

// Themes is the store API surface used for preview themes
type Themes interface {
	ListThemes(ctx context.Context) ([]shopify.Theme, error)
	CreateTheme(ctx context.Context, name string, role shopify.Role) (*shopify.Theme, error)
	DeleteTheme(ctx context.Context, themeID int64) error
}

// ThemeKit runs legacy ThemeKit commands
type ThemeKit interface {
	Run(ctx context.Context, command string, flags themekit.Flags) error
}

// Commenter announces a deployed preview theme
type Commenter interface {
	Comment(ctx context.Context, themeID int64) error
}

// Service implements the preview workflows
type Service struct {
	cfg       *config.Config
	themes    Themes
	cli       themecli.Executor
	kit       ThemeKit
	commenter Commenter
	fs        afero.Fs
	logger    *slog.Logger
}

// NewService creates a preview service. kit may be nil when the ThemeKit
// workflow is not used.
func NewService(cfg *config.Config, themes Themes, cli themecli.Executor, kit ThemeKit, commenter Commenter, fs afero.Fs, logger *slog.Logger) *Service {
	return &Service{
		cfg:       cfg,
		themes:    themes,
		cli:       cli,
		kit:       kit,
		commenter: commenter,
		fs:        fs,
		logger:    logger,
	}
}

// Create creates or updates the preview theme for the configured head ref
func (s *Service) Create(ctx context.Context) error {
	name := s.cfg.PreviewThemeName(s.cfg.Preview.HeadRef)

	actionlog.Step(s.logger, "Check if preview theme already exists")
	themes, err := s.themes.ListThemes(ctx)
	if err != nil {
		return err
	}

	var preview *shopify.Theme
	for i := range themes {
		if themes[i].Name == name {
			preview = &themes[i]
			break
		}
	}

	ignore := s.cfg.Theme.IgnoredFiles

	if preview == nil {
		actionlog.Step(s.logger, "Preview theme not found, creating new theme")

		liveDir := s.cfg.Preview.LiveDir
		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			created, err := s.themes.CreateTheme(gctx, name, shopify.RoleDevelopment)
			if err != nil {
				return err
			}
			preview = created
			return nil
		})
		g.Go(func() error {
			if err := s.cli.Pull(gctx, liveDir, themecli.PullOptions{Live: true, Ignore: ignore}); err != nil {
				return fmt.Errorf("failed to pull live theme: %w", err)
			}
			return nil
		})
		if err := g.Wait(); err != nil {
			return err
		}

		s.logger.Info("created preview theme", "name", name, "theme_id", preview.ID)

		if err := s.cli.Push(ctx, liveDir, themecli.PushOptions{ThemeID: preview.ID, Ignore: ignore}); err != nil {
			return fmt.Errorf("failed to seed preview theme: %w", err)
		}
	}

	actionlog.Step(s.logger, "Update preview theme")
	if err := s.cli.Push(ctx, s.cfg.Theme.Root, themecli.PushOptions{
		ThemeID:  preview.ID,
		NoDelete: true,
		Ignore:   ignore,
	}); err != nil {
		return fmt.Errorf("failed to update preview theme: %w", err)
	}

	actionlog.Step(s.logger, "Create github comment")
	return s.comment(ctx, preview.ID)
}

// Delete removes the preview theme for headRef. A missing theme is not an error.
func (s *Service) Delete(ctx context.Context, headRef string) error {
	name := s.cfg.PreviewThemeName(headRef)

	actionlog.Step(s.logger, "Retrieve preview theme id")
	themes, err := s.themes.ListThemes(ctx)
	if err != nil {
		return err
	}

	preview := shopify.FindTheme(themes, name)
	if preview == nil {
		actionlog.Notice(ctx, s.logger, fmt.Sprintf("Preview theme [%s] not found. Skipping.", name))
		return nil
	}

	actionlog.Step(s.logger, "Deleting preview theme")
	if err := s.themes.DeleteTheme(ctx, preview.ID); err != nil {
		return err
	}
	s.logger.Info(fmt.Sprintf("Preview theme [%s] has been deleted", name))
	return nil
}

// RunThemeKit runs the legacy ThemeKit preview workflow for action
func (s *Service) RunThemeKit(ctx context.Context, action config.PreviewAction) error {
	if action != config.ActionCreatePreview && action != config.ActionRemovePreview {
		return fmt.Errorf("unknown action - %s", action)
	}
	if s.kit == nil {
		return fmt.Errorf("themekit runner is not configured")
	}

	name := s.cfg.PreviewThemeName(s.cfg.Preview.HeadRef)
	themes, err := s.themes.ListThemes(ctx)
	if err != nil {
		return err
	}
	preview := shopify.FindTheme(themes, name)
	s.logger.Debug("preview theme data", "theme", preview)

	if action == config.ActionRemovePreview {
		if preview == nil {
			return nil
		}
		if err := s.themes.DeleteTheme(ctx, preview.ID); err != nil {
			return err
		}
		s.logger.Info("Deleted preview theme")
		return nil
	}

	if preview == nil {
		preview, err = s.duplicateLiveTheme(ctx, name)
		if err != nil {
			return err
		}
	}

	if err := s.kit.Run(ctx, "deploy", themekit.Flags{
		Dir:          s.cfg.BuildPath(),
		Env:          "Preview Work",
		IgnoredFiles: s.cfg.Theme.IgnoredFiles,
		NoDelete:     true,
		Password:     s.cfg.Shopify.Password,
		Store:        s.cfg.Shopify.Store,
		ThemeID:      preview.ID,
	}); err != nil {
		return err
	}
	s.logger.Info("Deployed updates from this PR")

	return s.comment(ctx, preview.ID)
}

// duplicateLiveTheme creates a preview theme seeded with the live theme's
// non-asset files. Templates are deployed after everything they reference.
func (s *Service) duplicateLiveTheme(ctx context.Context, name string) (*shopify.Theme, error) {
	tmpDir, err := afero.TempDir(s.fs, "", "juno-theme-preview")
	if err != nil {
		return nil, fmt.Errorf("failed to create temporary directory: %w", err)
	}
	defer func() {
		_ = s.fs.RemoveAll(tmpDir)
	}()
	s.logger.Debug("created temporary directory", "dir", tmpDir)

	var created *shopify.Theme
	var g errgroup.Group
	g.Go(func() error {
		var err error
		created, err = s.themes.CreateTheme(ctx, name, shopify.RoleDevelopment)
		return err
	})

	if err := s.kit.Run(ctx, "download", themekit.Flags{
		Dir:          tmpDir,
		IgnoredFiles: []string{"assets/**.*"},
		Live:         true,
		Password:     s.cfg.Shopify.Password,
		Store:        s.cfg.Shopify.Store,
	}); err != nil {
		s.logger.Error("Unable to download live theme.", "error", err)
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	s.logger.Debug("created preview theme", "theme_id", created.ID, "name", created.Name)

	paths, err := theme.Discover(s.fs, tmpDir, nil)
	if err != nil {
		return nil, err
	}
	files, templates := theme.Partition(paths)

	for _, batch := range [][]string{files, templates} {
		if len(batch) == 0 {
			continue
		}
		if err := s.kit.Run(ctx, "deploy", themekit.Flags{
			Dir:      tmpDir,
			Files:    batch,
			Password: s.cfg.Shopify.Password,
			Store:    s.cfg.Shopify.Store,
			ThemeID:  created.ID,
		}); err != nil {
			return nil, err
		}
	}

	return created, nil
}

func (s *Service) comment(ctx context.Context, themeID int64) error {
	if s.commenter == nil {
		return fmt.Errorf("no pull request commenter configured")
	}
	return s.commenter.Comment(ctx, themeID)
}
