package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/spf13/afero"

	"github.com/schaermu/themesync/internal/actionlog"
	"github.com/schaermu/themesync/internal/batch"
	"github.com/schaermu/themesync/internal/config"
	"github.com/schaermu/themesync/internal/manifest"
	"github.com/schaermu/themesync/internal/themecli"
)

// AssetRemover deletes single assets from a theme
type AssetRemover interface {
	DeleteAsset(ctx context.Context, themeID int64, key string) error
}

// Engine orchestrates a manifest-driven deploy
type Engine struct {
	cfg    *config.Config
	cli    themecli.Executor
	assets AssetRemover
	fs     afero.Fs
	logger *slog.Logger
	dryRun bool
}

// NewEngine creates a new deploy engine
func NewEngine(cfg *config.Config, cli themecli.Executor, assets AssetRemover, fs afero.Fs, logger *slog.Logger, dryRun bool) *Engine {
	return &Engine{
		cfg:    cfg,
		cli:    cli,
		assets: assets,
		fs:     fs,
		logger: logger,
		dryRun: dryRun,
	}
}

// Run executes the complete deploy
func (e *Engine) Run(ctx context.Context) error {
	e.logger.Info("starting deploy",
		"store", e.cfg.Shopify.Store,
		"theme_id", e.cfg.Shopify.ThemeID,
		"dry_run", e.dryRun)

	templates, err := e.cfg.TemplateMatcher()
	if err != nil {
		return fmt.Errorf("invalid template pattern: %w", err)
	}

	actionlog.Step(e.logger, "Download previous build manifest file")
	previous := e.fetchPreviousManifest(ctx)

	actionlog.Step(e.logger, "Calculate diff")
	current, err := manifest.Load(e.fs, e.cfg.ManifestPath())
	if err != nil {
		return fmt.Errorf("failed to load current build manifest: %w", err)
	}

	plan := ComputePlan(previous, current, e.cfg.Theme.BuildManifest, templates)
	counts := manifest.Count(plan.Entries)

	e.logger.Info("sync plan",
		"create", counts[manifest.Create],
		"change", counts[manifest.Change],
		"remove", counts[manifest.Remove],
		"upload", len(plan.Uploads),
		"skipped", len(plan.Skipped))

	if plan.NoChanges() {
		actionlog.Notice(ctx, e.logger, "No file changes detected for this store")
		return nil
	}

	for _, path := range plan.Skipped {
		e.logger.Debug("skipping changed template", "path", path)
	}

	// check for dry-run mode
	if e.dryRun {
		e.logPlanDetails(plan)
		e.logger.Info("dry-run complete, no changes applied")
		return nil
	}

	if plan.Idle() {
		e.logger.Info("only excluded template changes detected, nothing to deploy")
		return nil
	}

	if len(plan.Uploads) > 0 {
		actionlog.Step(e.logger, "Upload files")
		if err := e.cli.Push(ctx, e.cfg.Theme.Root, themecli.PushOptions{
			ThemeID:   e.cfg.Shopify.ThemeID,
			AllowLive: true,
			NoDelete:  true,
			Only:      plan.Uploads,
		}); err != nil {
			return fmt.Errorf("failed to upload files: %w", err)
		}
	}

	if len(plan.Removals) > 0 {
		actionlog.Step(e.logger, "Remove files")
		if err := e.removeFiles(ctx, plan.Removals); err != nil {
			return err
		}
	}

	e.logger.Info("deploy completed successfully",
		"uploaded", len(plan.Uploads),
		"removed", len(plan.Removals))
	return nil
}

// fetchPreviousManifest pulls the manifest of the last deploy from the
// theme. Any failure falls back to an empty manifest.
func (e *Engine) fetchPreviousManifest(ctx context.Context) manifest.Manifest {
	tmpDir, err := afero.TempDir(e.fs, "", "theme-deploy")
	if err != nil {
		e.logger.Warn("failed to create temporary directory", "error", err)
		return manifest.Manifest{}
	}
	defer func() {
		_ = e.fs.RemoveAll(tmpDir)
	}()

	if err := e.cli.Pull(ctx, tmpDir, themecli.PullOptions{
		ThemeID: e.cfg.Shopify.ThemeID,
		Only:    []string{e.cfg.Theme.BuildManifest},
	}); err != nil {
		e.logger.Warn("failed to download previous build manifest (treating theme as empty)", "error", err)
		return manifest.Manifest{}
	}

	previous, err := manifest.LoadOrEmpty(e.fs, filepath.Join(tmpDir, filepath.FromSlash(e.cfg.Theme.BuildManifest)))
	if err != nil {
		e.logger.Warn("previous build manifest unusable (treating theme as empty)", "error", err)
	}
	return previous
}

// removeFiles deletes removed assets and applies the removal failure policy
func (e *Engine) removeFiles(ctx context.Context, paths []string) error {
	total := len(paths)
	progress := batch.ObserverFunc(func(index int, path string) {
		e.logger.Info(fmt.Sprintf("%d/%d | Deleting [%s]", index+1, total, path))
	})

	themeID := e.cfg.Shopify.ThemeID
	report := batch.RemoveAll(ctx, paths, func(ctx context.Context, path string) error {
		return e.assets.DeleteAsset(ctx, themeID, path)
	}, e.cfg.Sync.Concurrency, progress)

	err := report.Err()
	if err == nil {
		return nil
	}

	for _, res := range report.Failed() {
		e.logger.Warn("failed to remove file", "path", res.Path, "error", res.Err)
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("file removal interrupted: %w", errors.Join(ctxErr, err))
	}

	if e.cfg.Sync.RemovalFailures == config.RemovalFailuresFail {
		return err
	}

	e.logger.Warn("some files could not be removed",
		"failed", len(report.Failed()),
		"removed", report.Succeeded())
	return nil
}

// logPlanDetails logs detailed plan information for dry-run
func (e *Engine) logPlanDetails(plan *Plan) {
	for _, path := range plan.Uploads {
		e.logger.Info("[dry-run] would upload", "path", path)
	}
	for _, path := range plan.Removals {
		e.logger.Info("[dry-run] would remove", "path", path)
	}
	for _, path := range plan.Skipped {
		e.logger.Info("[dry-run] would skip changed template", "path", path)
	}
}
