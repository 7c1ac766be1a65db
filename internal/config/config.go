package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/webmemo-code/flickr-to-instagram-automation/pkg/flickr"
)

// Config holds the application configuration loaded from files and environment variables.
type Config struct {
	AppName  string `mapstructure:"app_name"`
	Env      string `mapstructure:"app_env"`
	LogLevel string `mapstructure:"log_level"`

	// Account selects the entry from the accounts registry to run for.
	Account      string `mapstructure:"account"`
	AccountsFile string `mapstructure:"accounts_file"`

	// Flickr catalog source.
	FlickrAPIKey   string `mapstructure:"flickr_api_key"`
	FlickrUserID   string `mapstructure:"flickr_user_id"`
	FlickrUsername string `mapstructure:"flickr_username"`
	FlickrAlbumID  string `mapstructure:"flickr_album_id"`
	FlickrAPIURL   string `mapstructure:"flickr_api_url"`

	// Instagram Graph API publishing.
	InstagramAccessToken string `mapstructure:"instagram_access_token"`
	InstagramAccountID   string `mapstructure:"instagram_account_id"`
	GraphAPIDomain       string `mapstructure:"graph_api_domain"`
	GraphAPIVersion      string `mapstructure:"graph_api_version"`

	// Gemini caption generation.
	GeminiAPIKey string `mapstructure:"gemini_api_key"`
	GeminiModel  string `mapstructure:"gemini_model"`

	// State storage backend: "github", "bbolt" or "memory".
	StorageType string `mapstructure:"storage_type"`
	GitHubToken string `mapstructure:"github_token"`
	GitHubRepo  string `mapstructure:"github_repository"`
	StateBranch string `mapstructure:"state_branch"`
	BBoltPath   string `mapstructure:"bbolt_path"`

	// Notification channels file (optional; empty disables notifications).
	NotifyChannelsFile string `mapstructure:"notify_channels_file"`

	// Run identifier, taken from the CI environment when present.
	RunID string `mapstructure:"github_run_id"`

	// Progression policy knobs (spec'd defaults are the conservative ones).
	FinalizeRetries      int  `mapstructure:"finalize_retries"`
	MaxAutoRetries       int  `mapstructure:"max_auto_retries"`
	AllowMismatchedRetry bool `mapstructure:"allow_mismatched_retry"`

	HTTPTimeoutSeconds int64         `mapstructure:"http_timeout_seconds"`
	HTTPTimeout        time.Duration `mapstructure:"-"`
}

// Load reads configuration from environment variables and config files.
func Load() (*Config, error) {
	_ = godotenv.Load("configs/.env")

	v := viper.New()

	v.SetDefault("app_name", "flickr-to-instagram-automation")
	v.SetDefault("app_env", "development")
	v.SetDefault("log_level", "info")
	v.SetDefault("account", "primary")
	v.SetDefault("accounts_file", "./configs/accounts.yaml")
	// Credential and id keys default to empty so AutomaticEnv can fill
	// them; viper's Unmarshal only sees keys it knows about.
	v.SetDefault("flickr_api_key", "")
	v.SetDefault("flickr_user_id", "")
	v.SetDefault("flickr_username", "")
	v.SetDefault("flickr_album_id", "")
	v.SetDefault("instagram_access_token", "")
	v.SetDefault("instagram_account_id", "")
	v.SetDefault("gemini_api_key", "")
	v.SetDefault("github_token", "")
	v.SetDefault("github_repository", "")
	v.SetDefault("github_run_id", "")
	v.SetDefault("flickr_api_url", flickr.DefaultAPIURL)
	v.SetDefault("graph_api_domain", "https://graph.facebook.com")
	v.SetDefault("graph_api_version", "v18.0")
	v.SetDefault("gemini_model", "gemini-2.0-flash")
	v.SetDefault("storage_type", "github")
	v.SetDefault("state_branch", "automation-state")
	v.SetDefault("bbolt_path", "./data/state.db")
	v.SetDefault("notify_channels_file", "")
	v.SetDefault("finalize_retries", 3)
	v.SetDefault("max_auto_retries", 0) // never auto-exhaust failed positions
	v.SetDefault("allow_mismatched_retry", false)
	v.SetDefault("http_timeout_seconds", 30)

	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	cfg.HTTPTimeout = time.Duration(cfg.HTTPTimeoutSeconds) * time.Second
	return &cfg, nil
}

// validate checks the invariants the automation cannot run without. Creds for
// collaborators are checked where the collaborator is constructed, so a
// stats-only invocation does not demand publish credentials.
func (c *Config) validate() error {
	if c.FlickrAlbumID == "" {
		return fmt.Errorf("flickr_album_id is required")
	}
	if c.FlickrAPIKey == "" || c.FlickrUserID == "" {
		return fmt.Errorf("flickr_api_key and flickr_user_id are required")
	}
	switch c.StorageType {
	case "github":
		if c.GitHubToken == "" || c.GitHubRepo == "" {
			return fmt.Errorf("github storage requires github_token and github_repository")
		}
	case "bbolt":
		if c.BBoltPath == "" {
			return fmt.Errorf("bbolt storage requires bbolt_path")
		}
	case "memory":
	default:
		return fmt.Errorf("unsupported storage_type %q", c.StorageType)
	}
	if c.HTTPTimeoutSeconds <= 0 {
		return fmt.Errorf("invalid http_timeout_seconds (must be positive seconds)")
	}
	if c.FinalizeRetries < 0 {
		return fmt.Errorf("invalid finalize_retries (must be >= 0)")
	}
	return nil
}
