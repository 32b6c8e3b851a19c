package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// DefaultTitlePrefix is the reserved discussion-title namespace. Changing
// it orphans every previously created discussion, so it is configurable
// but should be set once before the first sync.
const DefaultTitlePrefix = "[Masonry] "

// Config represents the application configuration
type Config struct {
	// Repo is the owner/name of the repository holding the discussions.
	Repo string `yaml:"repo,omitempty"`
	// RepoID and CategoryID are the GraphQL node ids required by
	// createDiscussion.
	RepoID     string `yaml:"repo_id,omitempty"`
	CategoryID string `yaml:"category_id,omitempty"`

	// TitlePrefix namespaces discussion titles; defaults to DefaultTitlePrefix.
	TitlePrefix string `yaml:"title_prefix,omitempty"`
	// Manifest is the path to the gallery manifest file.
	Manifest string `yaml:"manifest,omitempty"`
	// PayloadDir is where per-page payload JSON files are written.
	PayloadDir string `yaml:"payload_dir,omitempty"`

	Site     SiteConfig     `yaml:"site,omitempty"`
	Previews PreviewsConfig `yaml:"previews,omitempty"`
	Sync     SyncConfig     `yaml:"sync,omitempty"`
	Relay    RelayConfig    `yaml:"relay,omitempty"`
}

// SiteConfig carries the metadata templated into discussion bodies.
type SiteConfig struct {
	Title  string `yaml:"title,omitempty"`
	Author string `yaml:"author,omitempty"`
	URL    string `yaml:"url,omitempty"`
}

// PreviewsConfig maps image ids to browsable preview URLs.
type PreviewsConfig struct {
	BaseURL string `yaml:"base_url,omitempty"`
	// LossyWebP mirrors the image pipeline's lossy conversion setting:
	// when on, jpg/png previews are served as .webp.
	LossyWebP bool `yaml:"lossy_webp,omitempty"`
}

// SyncConfig tunes the mutation executor.
type SyncConfig struct {
	// DelayMS is the fixed pause before each mutating call, in milliseconds.
	DelayMS int `yaml:"delay_ms,omitempty"`
	// MaxRetries bounds retries per operation.
	MaxRetries int `yaml:"max_retries,omitempty"`
}

// Delay returns the configured pacing delay, or 0 when unset (the
// executor applies its own default).
func (s SyncConfig) Delay() time.Duration {
	return time.Duration(s.DelayMS) * time.Millisecond
}

// RelayConfig describes the optional CORS relay deployment.
type RelayConfig struct {
	Listen          string   `yaml:"listen,omitempty"`
	Origins         []string `yaml:"origins,omitempty"`
	GraphQLUpstream string   `yaml:"graphql_upstream,omitempty"`
	TokenUpstream   string   `yaml:"token_upstream,omitempty"`
}

// DefaultConfigDir returns the default config directory
func DefaultConfigDir() string {
	configDir, err := os.UserConfigDir()
	if err != nil {
		return ".gallerist"
	}
	return filepath.Join(configDir, "gallerist")
}

// ConfigPath returns the path to the global config file
func ConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.yaml")
}

// LocalConfigPath returns the path to the local config file in the current directory
func LocalConfigPath() string {
	return ".gallerist.yaml"
}

// Load loads the configuration from disk.
// It first loads the global config from the XDG config directory, then
// merges any local .gallerist.yaml on top (local values take precedence).
// A .env file in the working directory, if present, seeds the environment
// before the token is read.
func Load() (*Config, error) {
	// Best effort; absence of a .env file is the normal case.
	_ = godotenv.Load()

	cfg := defaults()

	globalPath := ConfigPath()
	if _, err := os.Stat(globalPath); err == nil {
		data, err := os.ReadFile(globalPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read global config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse global config file: %w", err)
		}
	}

	localPath := LocalConfigPath()
	if _, err := os.Stat(localPath); err == nil {
		data, err := os.ReadFile(localPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read local config file: %w", err)
		}
		var localCfg Config
		if err := yaml.Unmarshal(data, &localCfg); err != nil {
			return nil, fmt.Errorf("failed to parse local config file: %w", err)
		}
		cfg = mergeConfig(cfg, &localCfg)
	}

	applyDefaults(cfg)
	return cfg, nil
}

// Parse decodes a config from raw YAML, applying defaults. Used by tests
// and by callers embedding config in another file.
func Parse(data []byte) (*Config, error) {
	cfg := defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	applyDefaults(cfg)
	return cfg, nil
}

func defaults() *Config {
	return &Config{
		TitlePrefix: DefaultTitlePrefix,
		Manifest:    "masonry.yml",
		PayloadDir:  filepath.Join("public", "reactions"),
	}
}

func applyDefaults(cfg *Config) {
	if cfg.TitlePrefix == "" {
		cfg.TitlePrefix = DefaultTitlePrefix
	}
	if cfg.Manifest == "" {
		cfg.Manifest = "masonry.yml"
	}
	if cfg.PayloadDir == "" {
		cfg.PayloadDir = filepath.Join("public", "reactions")
	}
	if cfg.Relay.Listen == "" {
		cfg.Relay.Listen = ":8787"
	}
}

// mergeConfig merges local config on top of global config.
// Local values take precedence; unset local values preserve global values.
func mergeConfig(global, local *Config) *Config {
	result := *global

	if local.Repo != "" {
		result.Repo = local.Repo
	}
	if local.RepoID != "" {
		result.RepoID = local.RepoID
	}
	if local.CategoryID != "" {
		result.CategoryID = local.CategoryID
	}
	if local.TitlePrefix != "" {
		result.TitlePrefix = local.TitlePrefix
	}
	if local.Manifest != "" {
		result.Manifest = local.Manifest
	}
	if local.PayloadDir != "" {
		result.PayloadDir = local.PayloadDir
	}

	if local.Site.Title != "" {
		result.Site.Title = local.Site.Title
	}
	if local.Site.Author != "" {
		result.Site.Author = local.Site.Author
	}
	if local.Site.URL != "" {
		result.Site.URL = local.Site.URL
	}

	if local.Previews.BaseURL != "" {
		result.Previews.BaseURL = local.Previews.BaseURL
	}
	if local.Previews.LossyWebP {
		result.Previews.LossyWebP = true
	}

	if local.Sync.DelayMS != 0 {
		result.Sync.DelayMS = local.Sync.DelayMS
	}
	if local.Sync.MaxRetries != 0 {
		result.Sync.MaxRetries = local.Sync.MaxRetries
	}

	if local.Relay.Listen != "" {
		result.Relay.Listen = local.Relay.Listen
	}
	if len(local.Relay.Origins) > 0 {
		result.Relay.Origins = local.Relay.Origins
	}
	if local.Relay.GraphQLUpstream != "" {
		result.Relay.GraphQLUpstream = local.Relay.GraphQLUpstream
	}
	if local.Relay.TokenUpstream != "" {
		result.Relay.TokenUpstream = local.Relay.TokenUpstream
	}

	return &result
}

// Missing lists the required reconciliation fields that are unset. An
// incomplete config downgrades the sync command to a logged no-op rather
// than failing the site build.
func (c *Config) Missing() []string {
	var missing []string
	if c.Repo == "" {
		missing = append(missing, "repo")
	}
	if c.RepoID == "" {
		missing = append(missing, "repo_id")
	}
	if c.CategoryID == "" {
		missing = append(missing, "category_id")
	}
	return missing
}

// Complete reports whether reconciliation can run.
func (c *Config) Complete() bool {
	return len(c.Missing()) == 0
}

// GetGitHubToken returns the GitHub token from the GITHUB_TOKEN environment variable.
// Following 12-factor app best practices, tokens are only read from the environment.
func (c *Config) GetGitHubToken() string {
	return os.Getenv("GITHUB_TOKEN")
}

// Save saves the configuration to the global config path
func (c *Config) Save() error {
	configDir := DefaultConfigDir()
	if err := os.MkdirAll(configDir, 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(ConfigPath(), data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// ToYAML returns the config as a YAML string
func (c *Config) ToYAML() (string, error) {
	data, err := yaml.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("failed to marshal config: %w", err)
	}
	return string(data), nil
}

// ConfigPathInfo contains information about config file paths
type ConfigPathInfo struct {
	GlobalPath   string
	GlobalExists bool
	LocalPath    string
	LocalExists  bool
}

// GetConfigPaths returns path info for both global and local configs
func GetConfigPaths() ConfigPathInfo {
	globalPath := ConfigPath()
	localPath := LocalConfigPath()

	absLocalPath, err := filepath.Abs(localPath)
	if err != nil {
		absLocalPath = localPath
	}

	_, globalErr := os.Stat(globalPath)
	_, localErr := os.Stat(localPath)

	return ConfigPathInfo{
		GlobalPath:   globalPath,
		GlobalExists: globalErr == nil,
		LocalPath:    absLocalPath,
		LocalExists:  localErr == nil,
	}
}

// MinimalConfig returns a minimal config template with comments
func MinimalConfig() string {
	return `# Gallerist configuration file
# The GitHub token is read from the GITHUB_TOKEN environment variable
# (a .env file in the working directory is honored).

# Repository holding the reaction discussions
# repo: owner/photos
# repo_id: R_kgDOxxxxxxx
# category_id: DIC_kwDOxxxxxxx

# Gallery manifest and payload output
manifest: masonry.yml
payload_dir: public/reactions

# Site metadata templated into discussion bodies
# site:
#   title: My Photos
#   author: Me
#   url: https://photos.example.com

# Image preview URLs
# previews:
#   base_url: https://photos.example.com/img
#   lossy_webp: true
`
}

// SaveTo writes content to a specific path, creating directories as needed
func SaveTo(path string, content string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		return fmt.Errorf("failed to write file %s: %w", path, err)
	}
	return nil
}
