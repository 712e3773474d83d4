package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/schaermu/themesync/internal/theme"
)

// RemovalFailurePolicy defines how partial asset removal failures end a deploy
type RemovalFailurePolicy string

const (
	RemovalFailuresWarn RemovalFailurePolicy = "warn"
	RemovalFailuresFail RemovalFailurePolicy = "fail"
)

// PreviewAction selects the legacy ThemeKit preview workflow
type PreviewAction string

const (
	ActionCreatePreview PreviewAction = "CREATE_PREVIEW"
	ActionRemovePreview PreviewAction = "REMOVE_PREVIEW"
)

const (
	DefaultAPIVersion        = "2023-01"
	DefaultUserAgent         = "Shopify Theme Action"
	DefaultBuildManifest     = "manifest.json"
	DefaultConcurrency       = 2
	DefaultPreviewNameFormat = "Juno/{branch} - Preview"
	DefaultLiveDir           = "dist-live-theme"
	DefaultCLIExecutable     = "shopify"
	DefaultCLIConfigPath     = "~/.config/shopify/config"
	DefaultLoginTimeout      = 30 * time.Second
	DefaultThemeKitVersion   = "1.3.0"
	DefaultThemeKitBaseURL   = "https://shopify-themekit.s3.amazonaws.com"
	DefaultGitHubAPIURL      = "https://api.github.com"
	DefaultServeDebounce     = 5 * time.Second
)

// Config represents the complete themesync configuration
type Config struct {
	Shopify  ShopifyConfig  `yaml:"shopify"`
	Theme    ThemeConfig    `yaml:"theme"`
	Sync     SyncConfig     `yaml:"sync"`
	Preview  PreviewConfig  `yaml:"preview"`
	GitHub   GitHubConfig   `yaml:"github"`
	CLI      CLIConfig      `yaml:"cli"`
	ThemeKit ThemeKitConfig `yaml:"themekit"`
	Serve    ServeConfig    `yaml:"serve"`
}

// ShopifyConfig configures store access
type ShopifyConfig struct {
	Store             string        `yaml:"store"`
	Password          string        `yaml:"password"`
	ThemeID           int64         `yaml:"theme_id"`
	APIVersion        string        `yaml:"api_version"`
	BaseURL           string        `yaml:"base_url"`
	UserAgent         string        `yaml:"user_agent"`
	RequestsPerSecond float64       `yaml:"requests_per_second"`
	Timeout           time.Duration `yaml:"timeout"`
}

// ThemeConfig configures the local theme tree
type ThemeConfig struct {
	Root            string   `yaml:"root"`
	BuildManifest   string   `yaml:"build_manifest"`
	IgnoredFiles    []string `yaml:"ignored_files"`
	TemplatePattern string   `yaml:"template_pattern"`
	WorkDir         string   `yaml:"work_dir"`
	BuildDir        string   `yaml:"build_dir"`
}

// SyncConfig configures deploy behavior
type SyncConfig struct {
	Concurrency     int                  `yaml:"concurrency"`
	RemovalFailures RemovalFailurePolicy `yaml:"removal_failures"`
}

// PreviewConfig configures preview themes
type PreviewConfig struct {
	HeadRef    string        `yaml:"head_ref"`
	NameFormat string        `yaml:"name_format"`
	LiveDir    string        `yaml:"live_dir"`
	Action     PreviewAction `yaml:"action"`
}

// GitHubConfig configures pull request comments
type GitHubConfig struct {
	Token      string `yaml:"token"`
	Repository string `yaml:"repository"`
	EventPath  string `yaml:"event_path"`
	APIURL     string `yaml:"api_url"`
}

// CLIConfig configures the Shopify CLI
type CLIConfig struct {
	Executable   string        `yaml:"executable"`
	LoginTimeout time.Duration `yaml:"login_timeout"`
	ConfigPath   string        `yaml:"config_path"`
}

// ThemeKitConfig configures the ThemeKit binary
type ThemeKitConfig struct {
	Version string `yaml:"version"`
	BaseURL string `yaml:"base_url"`
	BinDir  string `yaml:"bin_dir"`
}

// ServeConfig configures the preview janitor webhook server
type ServeConfig struct {
	ListenAddr              string        `yaml:"listen_addr"`
	GitHubWebhookSecretFile string        `yaml:"github_webhook_secret_file"`
	AllowedEventTypes       []string      `yaml:"allowed_event_types"`
	AllowedRepos            []string      `yaml:"allowed_repos"`
	Debounce                time.Duration `yaml:"debounce"`
}

// LoadDotEnv loads variables from a dotenv file without overriding the
// environment. A missing file is not an error.
func LoadDotEnv(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}

// Load reads the optional configuration file and overlays environment variables.
// An empty path skips the file so a run can be configured from the environment alone.
func Load(path string) (*Config, error) {
	var cfg Config

	if path != "" {
		path = os.ExpandEnv(path)

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}

		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, fmt.Errorf("failed to read environment: %w", err)
	}

	cfg.expandEnv()
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// envBindings maps config keys to the environment variables that may set them.
// The INPUT_ names are how GitHub Actions passes step inputs.
var envBindings = map[string][]string{
	"shopify.store":         {"SHOPIFY_SHOP", "SHOPIFY_STORE", "INPUT_SHOPIFY_STORE"},
	"shopify.password":      {"SHOPIFY_PASSWORD", "INPUT_SHOPIFY_PASSWORD"},
	"shopify.theme_id":      {"SHOPIFY_THEME_ID", "INPUT_SHOPIFY_THEME_ID"},
	"shopify.api_version":   {"SHOPIFY_API_VERSION"},
	"shopify.base_url":      {"SHOPIFY_API_BASE_URL"},
	"theme.root":            {"THEME_ROOT"},
	"theme.build_manifest":  {"BUILD_MANIFEST"},
	"theme.ignored_files":   {"IGNORED_FILES", "INPUT_IGNORED_FILES"},
	"theme.work_dir":        {"WORK_DIR"},
	"theme.build_dir":       {"BUILD_DIR"},
	"sync.concurrency":      {"THEMESYNC_CONCURRENCY"},
	"sync.removal_failures": {"THEMESYNC_REMOVAL_FAILURES"},
	"preview.head_ref":      {"GITHUB_HEAD_REF"},
	"preview.action":        {"ACTION", "INPUT_ACTION"},
	"github.token":          {"GITHUB_TOKEN", "INPUT_GITHUB_TOKEN"},
	"github.repository":     {"GITHUB_REPOSITORY"},
	"github.event_path":     {"GITHUB_EVENT_PATH"},
	"github.api_url":        {"GITHUB_API_URL"},
}

// applyEnv overlays bound environment variables onto the parsed file.
func (c *Config) applyEnv() error {
	v := viper.New()
	for key, names := range envBindings {
		if err := v.BindEnv(append([]string{key}, names...)...); err != nil {
			return err
		}
	}

	setString := func(key string, dst *string) {
		if v.IsSet(key) {
			*dst = strings.TrimSpace(v.GetString(key))
		}
	}

	setString("shopify.store", &c.Shopify.Store)
	setString("shopify.password", &c.Shopify.Password)
	setString("shopify.api_version", &c.Shopify.APIVersion)
	setString("shopify.base_url", &c.Shopify.BaseURL)
	setString("theme.root", &c.Theme.Root)
	setString("theme.build_manifest", &c.Theme.BuildManifest)
	setString("theme.work_dir", &c.Theme.WorkDir)
	setString("theme.build_dir", &c.Theme.BuildDir)
	setString("preview.head_ref", &c.Preview.HeadRef)
	setString("github.token", &c.GitHub.Token)
	setString("github.repository", &c.GitHub.Repository)
	setString("github.event_path", &c.GitHub.EventPath)
	setString("github.api_url", &c.GitHub.APIURL)

	if v.IsSet("shopify.theme_id") {
		raw := strings.TrimSpace(v.GetString("shopify.theme_id"))
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return fmt.Errorf("SHOPIFY_THEME_ID must be numeric: %q", raw)
		}
		c.Shopify.ThemeID = id
	}
	if v.IsSet("theme.ignored_files") {
		c.Theme.IgnoredFiles = v.GetStringSlice("theme.ignored_files")
	}
	if v.IsSet("sync.concurrency") {
		c.Sync.Concurrency = v.GetInt("sync.concurrency")
	}
	if v.IsSet("sync.removal_failures") {
		c.Sync.RemovalFailures = RemovalFailurePolicy(strings.ToLower(v.GetString("sync.removal_failures")))
	}
	if v.IsSet("preview.action") {
		c.Preview.Action = PreviewAction(strings.ToUpper(strings.TrimSpace(v.GetString("preview.action"))))
	}

	return nil
}

// expandEnv expands environment variables in path-like string fields
func (c *Config) expandEnv() {
	c.Theme.Root = os.ExpandEnv(c.Theme.Root)
	c.Theme.WorkDir = os.ExpandEnv(c.Theme.WorkDir)
	c.Theme.BuildDir = os.ExpandEnv(c.Theme.BuildDir)
	c.Preview.LiveDir = os.ExpandEnv(c.Preview.LiveDir)
	c.GitHub.EventPath = os.ExpandEnv(c.GitHub.EventPath)
	c.CLI.ConfigPath = os.ExpandEnv(c.CLI.ConfigPath)
	c.ThemeKit.BinDir = os.ExpandEnv(c.ThemeKit.BinDir)
	c.Serve.ListenAddr = os.ExpandEnv(c.Serve.ListenAddr)
	c.Serve.GitHubWebhookSecretFile = os.ExpandEnv(c.Serve.GitHubWebhookSecretFile)
}

// applyDefaults fills in zero-value fields with sensible defaults.
func (c *Config) applyDefaults() {
	if c.Shopify.APIVersion == "" {
		c.Shopify.APIVersion = DefaultAPIVersion
	}
	if c.Shopify.UserAgent == "" {
		c.Shopify.UserAgent = DefaultUserAgent
	}
	if c.Shopify.RequestsPerSecond == 0 {
		c.Shopify.RequestsPerSecond = 2
	}
	if c.Shopify.Timeout == 0 {
		c.Shopify.Timeout = 30 * time.Second
	}
	if c.Theme.BuildManifest == "" {
		c.Theme.BuildManifest = DefaultBuildManifest
	}
	if c.Theme.TemplatePattern == "" {
		c.Theme.TemplatePattern = theme.DefaultTemplatePattern
	}
	if c.Sync.Concurrency == 0 {
		c.Sync.Concurrency = DefaultConcurrency
	}
	if c.Sync.RemovalFailures == "" {
		c.Sync.RemovalFailures = RemovalFailuresWarn
	}
	if c.Preview.NameFormat == "" {
		c.Preview.NameFormat = DefaultPreviewNameFormat
	}
	if c.Preview.LiveDir == "" {
		c.Preview.LiveDir = DefaultLiveDir
	}
	if c.GitHub.APIURL == "" {
		c.GitHub.APIURL = DefaultGitHubAPIURL
	}
	if c.CLI.Executable == "" {
		c.CLI.Executable = DefaultCLIExecutable
	}
	if c.CLI.LoginTimeout == 0 {
		c.CLI.LoginTimeout = DefaultLoginTimeout
	}
	if c.CLI.ConfigPath == "" {
		c.CLI.ConfigPath = DefaultCLIConfigPath
	}
	if c.ThemeKit.Version == "" {
		c.ThemeKit.Version = DefaultThemeKitVersion
	}
	if c.ThemeKit.BaseURL == "" {
		c.ThemeKit.BaseURL = DefaultThemeKitBaseURL
	}
	if c.ThemeKit.BinDir == "" {
		c.ThemeKit.BinDir = filepath.Join(os.TempDir(), "themekit")
	}
	if c.Serve.Debounce == 0 {
		c.Serve.Debounce = DefaultServeDebounce
	}
	if len(c.Serve.AllowedEventTypes) == 0 {
		c.Serve.AllowedEventTypes = []string{"pull_request"}
	}
}

// Validate checks settings shared by every command
func (c *Config) Validate() error {
	if c.Sync.Concurrency < 1 {
		return fmt.Errorf("sync.concurrency must be at least 1, got %d", c.Sync.Concurrency)
	}

	switch c.Sync.RemovalFailures {
	case RemovalFailuresWarn, RemovalFailuresFail:
		// valid
	default:
		return fmt.Errorf("invalid sync.removal_failures policy: %s (must be warn or fail)", c.Sync.RemovalFailures)
	}

	if c.Shopify.RequestsPerSecond < 0 {
		return fmt.Errorf("shopify.requests_per_second must not be negative")
	}

	if _, err := theme.NewMatcher(c.Theme.TemplatePattern); err != nil {
		return fmt.Errorf("theme.template_pattern: %w", err)
	}
	if _, err := theme.NewMatcher(c.Theme.IgnoredFiles...); err != nil {
		return fmt.Errorf("theme.ignored_files: %w", err)
	}

	if !strings.Contains(c.Preview.NameFormat, "{branch}") {
		return fmt.Errorf("preview.name_format must contain {branch}: %s", c.Preview.NameFormat)
	}

	return nil
}

func (c *Config) requireStore() error {
	if c.Shopify.Store == "" {
		return fmt.Errorf("shopify.store is required (SHOPIFY_SHOP)")
	}
	if c.Shopify.Password == "" {
		return fmt.Errorf("shopify.password is required (SHOPIFY_PASSWORD)")
	}
	return nil
}

// ValidateDeploy checks the settings needed by the deploy command
func (c *Config) ValidateDeploy() error {
	if err := c.requireStore(); err != nil {
		return err
	}
	if c.Shopify.ThemeID <= 0 {
		return fmt.Errorf("shopify.theme_id is required (SHOPIFY_THEME_ID)")
	}
	if c.Theme.Root == "" {
		return fmt.Errorf("theme.root is required (THEME_ROOT)")
	}
	return nil
}

// ValidateSetupCLI checks the settings needed to log the Shopify CLI in
func (c *Config) ValidateSetupCLI() error {
	return c.requireStore()
}

// ValidatePreview checks the settings needed by the preview commands
func (c *Config) ValidatePreview() error {
	if err := c.requireStore(); err != nil {
		return err
	}
	if c.Preview.HeadRef == "" {
		return fmt.Errorf("preview.head_ref is required (GITHUB_HEAD_REF)")
	}
	return nil
}

// ValidatePreviewCreate additionally requires the theme tree.
func (c *Config) ValidatePreviewCreate() error {
	if err := c.ValidatePreview(); err != nil {
		return err
	}
	if c.Theme.Root == "" {
		return fmt.Errorf("theme.root is required (THEME_ROOT)")
	}
	return nil
}

// ValidateThemeKitPreview checks the settings needed by the ThemeKit preview flow
func (c *Config) ValidateThemeKitPreview() error {
	if err := c.ValidatePreview(); err != nil {
		return err
	}
	switch c.Preview.Action {
	case ActionCreatePreview:
		if c.Theme.WorkDir == "" {
			return fmt.Errorf("theme.work_dir is required (WORK_DIR)")
		}
		if c.Theme.BuildDir == "" {
			return fmt.Errorf("theme.build_dir is required (BUILD_DIR)")
		}
	case ActionRemovePreview:
		// valid
	default:
		return fmt.Errorf("unknown action - %s", c.Preview.Action)
	}
	return nil
}

// ValidateServe checks the settings needed by the webhook server
func (c *Config) ValidateServe() error {
	if err := c.requireStore(); err != nil {
		return err
	}
	if c.Serve.ListenAddr == "" {
		return fmt.Errorf("serve.listen_addr is required")
	}
	if c.Serve.GitHubWebhookSecretFile == "" {
		return fmt.Errorf("serve.github_webhook_secret_file is required")
	}
	return nil
}

// PreviewThemeName returns the preview theme name for a branch
func (c *Config) PreviewThemeName(branch string) string {
	return strings.ReplaceAll(c.Preview.NameFormat, "{branch}", branch)
}

// ManifestPath returns the local path of the current build manifest
func (c *Config) ManifestPath() string {
	return filepath.Join(c.Theme.Root, filepath.FromSlash(c.Theme.BuildManifest))
}

// TemplateMatcher compiles theme.template_pattern
func (c *Config) TemplateMatcher() (*theme.Matcher, error) {
	return theme.NewMatcher(c.Theme.TemplatePattern)
}

// IgnoreMatcher compiles theme.ignored_files
func (c *Config) IgnoreMatcher() (*theme.Matcher, error) {
	return theme.NewMatcher(c.Theme.IgnoredFiles...)
}

// BuildPath returns work_dir joined with build_dir
func (c *Config) BuildPath() string {
	return filepath.Join(c.Theme.WorkDir, c.Theme.BuildDir)
}
