package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/schaermu/themesync/internal/actionlog"
	"github.com/schaermu/themesync/internal/config"
	"github.com/schaermu/themesync/internal/preview"
	"github.com/schaermu/themesync/internal/shopify"
	"github.com/schaermu/themesync/internal/sync"
	"github.com/schaermu/themesync/internal/themecli"
	"github.com/schaermu/themesync/internal/themekit"
	"github.com/schaermu/themesync/internal/webhook"
)

const defaultConfigPath = "~/.config/themesync/config.yaml"

var (
	// Set by goreleaser
	version = "dev"
	commit  = "none"
	date    = "unknown"

	// Global flags
	cfgFile   string
	logLevel  string
	logFormat string
	dotEnv    string
	dryRun    bool
	action    string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "themesync",
	Short: "Deploy Shopify themes from CI",
	Long: `themesync deploys Shopify themes from a build directory.

It pushes only what changed since the previous deployment by diffing build
manifests, manages per-branch preview themes for pull requests, and can run a
webhook janitor that removes preview themes once their pull request closes.`,
	SilenceUsage: true,
}

var deployCmd = &cobra.Command{
	Use:   "deploy",
	Short: "Deploy changed theme files to the configured theme",
	Long: `Deploy downloads the build manifest of the previous deployment from the
theme, diffs it against the local one and uploads created and changed files
(JSON templates excluded) before removing deleted files from the theme.`,
	RunE: runDeploy,
}

var previewCmd = &cobra.Command{
	Use:   "preview",
	Short: "Manage the preview theme of the current branch",
}

var previewCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create or update the preview theme and comment on the pull request",
	RunE:  runPreviewCreate,
}

var previewDeleteCmd = &cobra.Command{
	Use:   "delete",
	Short: "Delete the preview theme of the current branch",
	RunE:  runPreviewDelete,
}

var themekitPreviewCmd = &cobra.Command{
	Use:   "themekit-preview",
	Short: "Run the ThemeKit preview workflow (CREATE_PREVIEW or REMOVE_PREVIEW)",
	RunE:  runThemeKitPreview,
}

var setupCLICmd = &cobra.Command{
	Use:   "setup-cli",
	Short: "Configure the Shopify CLI and log in to the store",
	RunE:  runSetupCLI,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the preview janitor webhook server",
	Long: `Serve starts a long-running HTTP server that listens for GitHub pull_request
webhooks and deletes the preview theme of every closed pull request.

The listener is taken from systemd socket activation when available.`,
	RunE: runServe,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		out := cmd.OutOrStdout()
		_, _ = fmt.Fprintf(out, "themesync %s\n", version)
		_, _ = fmt.Fprintf(out, "  commit: %s\n", commit)
		_, _ = fmt.Fprintf(out, "  built:  %s\n", date)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is "+defaultConfigPath+" when present)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, notice, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "github", "log format (github, text, json)")
	rootCmd.PersistentFlags().StringVar(&dotEnv, "env-file", ".env", "dotenv file loaded before reading the environment")

	deployCmd.Flags().BoolVar(&dryRun, "dry-run", false, "show what would be done without making changes")
	themekitPreviewCmd.Flags().StringVar(&action, "action", "", "CREATE_PREVIEW or REMOVE_PREVIEW (default from ACTION)")

	previewCmd.AddCommand(previewCreateCmd)
	previewCmd.AddCommand(previewDeleteCmd)

	rootCmd.AddCommand(deployCmd)
	rootCmd.AddCommand(previewCmd)
	rootCmd.AddCommand(themekitPreviewCmd)
	rootCmd.AddCommand(setupCLICmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(versionCmd)
}

func runDeploy(cmd *cobra.Command, args []string) error {
	ctx, cancel := setupSignalHandler()
	defer cancel()

	logger := setupLogger()

	cfg, err := loadConfig(logger)
	if err != nil {
		return fail(logger, fmt.Errorf("failed to load config: %w", err))
	}
	if err := cfg.ValidateDeploy(); err != nil {
		return fail(logger, err)
	}

	engine := sync.NewEngine(cfg, newShellClient(cfg, logger), newShopifyClient(cfg, logger), afero.NewOsFs(), logger, dryRun)

	if err := engine.Run(ctx); err != nil {
		return fail(logger, err)
	}
	return nil
}

func runPreviewCreate(cmd *cobra.Command, args []string) error {
	ctx, cancel := setupSignalHandler()
	defer cancel()

	logger := setupLogger()

	cfg, err := loadConfig(logger)
	if err != nil {
		return fail(logger, fmt.Errorf("failed to load config: %w", err))
	}
	if err := cfg.ValidatePreviewCreate(); err != nil {
		return fail(logger, err)
	}

	if err := newPreviewService(cfg, logger, nil).Create(ctx); err != nil {
		return fail(logger, err)
	}
	return nil
}

func runPreviewDelete(cmd *cobra.Command, args []string) error {
	ctx, cancel := setupSignalHandler()
	defer cancel()

	logger := setupLogger()

	cfg, err := loadConfig(logger)
	if err != nil {
		return fail(logger, fmt.Errorf("failed to load config: %w", err))
	}
	if err := cfg.ValidatePreview(); err != nil {
		return fail(logger, err)
	}

	if err := newPreviewService(cfg, logger, nil).Delete(ctx, cfg.Preview.HeadRef); err != nil {
		return fail(logger, err)
	}
	return nil
}

func runThemeKitPreview(cmd *cobra.Command, args []string) error {
	ctx, cancel := setupSignalHandler()
	defer cancel()

	logger := setupLogger()

	cfg, err := loadConfig(logger)
	if err != nil {
		return fail(logger, fmt.Errorf("failed to load config: %w", err))
	}
	if action != "" {
		cfg.Preview.Action = config.PreviewAction(action)
	}
	if err := cfg.ValidateThemeKitPreview(); err != nil {
		return fail(logger, err)
	}

	kit, err := themekit.NewRunner(cfg.ThemeKit.Version, cfg.ThemeKit.BaseURL, cfg.ThemeKit.BinDir, logger)
	if err != nil {
		return fail(logger, err)
	}

	if err := newPreviewService(cfg, logger, kit).RunThemeKit(ctx, cfg.Preview.Action); err != nil {
		return fail(logger, err)
	}
	return nil
}

func runSetupCLI(cmd *cobra.Command, args []string) error {
	ctx, cancel := setupSignalHandler()
	defer cancel()

	logger := setupLogger()

	cfg, err := loadConfig(logger)
	if err != nil {
		return fail(logger, fmt.Errorf("failed to load config: %w", err))
	}
	if err := cfg.ValidateSetupCLI(); err != nil {
		return fail(logger, err)
	}

	actionlog.Step(logger, "Configure Shopify CLI")
	path, err := themecli.Configure(afero.NewOsFs(), cfg.CLI.ConfigPath)
	if err != nil {
		return fail(logger, err)
	}
	logger.Info("wrote cli config", "path", path)

	actionlog.Step(logger, "Log in to store")
	if err := newShellClient(cfg, logger).Login(ctx, cfg.CLI.LoginTimeout); err != nil {
		return fail(logger, err)
	}
	return nil
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, cancel := setupSignalHandler()
	defer cancel()

	logger := setupLogger()

	cfg, err := loadConfig(logger)
	if err != nil {
		return fail(logger, fmt.Errorf("failed to load config: %w", err))
	}
	if err := cfg.ValidateServe(); err != nil {
		return fail(logger, err)
	}

	server, err := webhook.NewServer(cfg, newPreviewService(cfg, logger, nil), logger)
	if err != nil {
		return fail(logger, err)
	}

	if err := server.Start(ctx); err != nil {
		return fail(logger, err)
	}
	return nil
}

// fail logs err at error level so it surfaces as a workflow annotation.
func fail(logger *slog.Logger, err error) error {
	logger.Error(err.Error())
	return err
}

func newShopifyClient(cfg *config.Config, logger *slog.Logger) *shopify.Client {
	opts := []shopify.Option{
		shopify.WithHTTPClient(&http.Client{Timeout: cfg.Shopify.Timeout}),
		shopify.WithRateLimit(cfg.Shopify.RequestsPerSecond, 10),
		shopify.WithUserAgent(cfg.Shopify.UserAgent),
		shopify.WithLogger(logger),
	}
	if cfg.Shopify.BaseURL != "" {
		opts = append(opts, shopify.WithBaseURL(strings.TrimSuffix(cfg.Shopify.BaseURL, "/")+"/admin/api/"+cfg.Shopify.APIVersion))
	}
	return shopify.NewClient(cfg.Shopify.Store, cfg.Shopify.Password, cfg.Shopify.APIVersion, opts...)
}

func newShellClient(cfg *config.Config, logger *slog.Logger) *themecli.ShellClient {
	return themecli.NewShellClient(cfg.CLI.Executable, logger,
		themecli.WithEnv(themecli.StoreEnv(cfg.Shopify.Store, cfg.Shopify.Password)...),
	)
}

func newPreviewService(cfg *config.Config, logger *slog.Logger, kit preview.ThemeKit) *preview.Service {
	return preview.NewService(cfg,
		newShopifyClient(cfg, logger),
		newShellClient(cfg, logger),
		kit,
		preview.NewPRCommenter(cfg, logger),
		afero.NewOsFs(),
		logger,
	)
}

func setupLogger() *slog.Logger {
	level, err := actionlog.ParseLevel(logLevel)
	if err != nil {
		level = slog.LevelInfo
	}

	runID := actionlog.NewRunID()
	opts := &slog.HandlerOptions{Level: level, ReplaceAttr: actionlog.ReplaceLevel}

	switch logFormat {
	case "json":
		return slog.New(slog.NewJSONHandler(os.Stdout, opts)).With("run", runID)
	case "text":
		return slog.New(slog.NewTextHandler(os.Stdout, opts)).With("run", runID)
	default:
		return slog.New(actionlog.NewHandler(os.Stdout, level, runID))
	}
}

func loadConfig(logger *slog.Logger) (*config.Config, error) {
	if err := config.LoadDotEnv(dotEnv); err != nil {
		return nil, err
	}

	configPath := cfgFile
	if configPath == "" {
		if p, err := homedir.Expand(defaultConfigPath); err == nil {
			if _, err := os.Stat(p); err == nil {
				configPath = p
			} else if !errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("failed to stat %s: %w", p, err)
			}
		}
	}

	if configPath != "" {
		logger.Debug("loading configuration", "path", configPath)
	} else {
		logger.Debug("loading configuration from environment")
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	logger.Debug("configuration loaded",
		"store", cfg.Shopify.Store,
		"theme_id", cfg.Shopify.ThemeID,
		"theme_root", cfg.Theme.Root,
		"concurrency", cfg.Sync.Concurrency)

	return cfg, nil
}

func setupSignalHandler() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigCh
		cancel()
	}()

	return ctx, cancel
}
