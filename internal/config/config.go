package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config carries everything the sync run needs beyond the CLI flags.
// Credentials and endpoints given on the command line override these values
// in cmd/sync163.
type Config struct {
	// Posting service settings
	Service    string `envconfig:"BSKY_SERVICE" default:"https://bsky.social"`
	Identifier string `envconfig:"BSKY_IDENTIFIER"`
	Password   string `envconfig:"BSKY_PASSWORD"`

	// Proxy settings
	ProxyUsername string `envconfig:"PROXY_USERNAME"`
	ProxyPassword string `envconfig:"PROXY_PASSWORD"`
	ProxyFilePath string `envconfig:"PROXY_FILE_PATH" default:"proxies.json"`
	ProbeURL      string `envconfig:"PROXY_PROBE_URL" default:"https://static.ws.126.net/163/f2e/news/index2023/images/logo.png"`

	// Feed settings
	FeedsConfigPath string `envconfig:"FEEDS_CONFIG_PATH" default:"configs/feeds.yaml"`

	// State files
	WatermarkPath string `envconfig:"WATERMARK_PATH" default:"pre_news_time"`
	WindowPath    string `envconfig:"WINDOW_PATH" default:"recent_posts.json"`

	// Durable commit settings
	GitAuthorName  string `envconfig:"GIT_AUTHOR_NAME" default:"robot auto"`
	GitAuthorEmail string `envconfig:"GIT_AUTHOR_EMAIL" default:"xiaopengyou@live.com"`
	CommitMessage  string `envconfig:"COMMIT_MESSAGE" default:"update pre news time"`

	// App settings
	RequestTimeout time.Duration `envconfig:"REQUEST_TIMEOUT" default:"30s"`
	ImageTimeout   time.Duration `envconfig:"IMAGE_TIMEOUT" default:"15s"`
	RetryAttempts  int           `envconfig:"RETRY_ATTEMPTS" default:"3"`
	RetryDelay     time.Duration `envconfig:"RETRY_DELAY" default:"5s"`
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return &cfg, nil
}

// ValidateSync checks the fields a publishing run requires. The proxy
// health-check mode has its own, weaker requirements.
func (c *Config) ValidateSync() error {
	if c.Service == "" {
		return fmt.Errorf("BSKY_SERVICE is required")
	}
	if c.Identifier == "" {
		return fmt.Errorf("BSKY_IDENTIFIER is required")
	}
	if c.Password == "" {
		return fmt.Errorf("BSKY_PASSWORD is required")
	}
	return nil
}
