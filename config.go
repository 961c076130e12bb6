package data_portal

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/kelseyhightower/envconfig"
)

const envPrefix = "portal"

// Config is everything the client needs to talk to a deployment, loaded from
// PORTAL_* environment variables and usually overridden per-flag by the CLI.
type Config struct {
	// APIBaseURL is the backend base URL, e.g. "http://portal.example.com:9900".
	APIBaseURL string `envconfig:"API_URL" default:"http://localhost:9900"`
	// StateDir holds the credential store and download history; defaults to
	// <user config dir>/data-portal.
	StateDir string `envconfig:"STATE_DIR"`
	// TargetDir is where downloads are saved.
	TargetDir string `envconfig:"TARGET_DIR" default:"."`
	// MaxActiveDownloads is the batch concurrency ceiling.
	MaxActiveDownloads int `envconfig:"MAX_ACTIVE_DOWNLOADS" default:"10"`
	// RateLimit caps download bandwidth in bytes/second; 0 means unlimited.
	RateLimit int64 `envconfig:"RATE_LIMIT" default:"0"`
	// RefreshInterval is how often the session exchanges its token.
	RefreshInterval time.Duration `envconfig:"REFRESH_INTERVAL" default:"30m"`
}

// LoadConfig reads the environment and fills in derived defaults.
func LoadConfig() (Config, error) {
	var c Config
	if err := envconfig.Process(envPrefix, &c); err != nil {
		return c, err
	}
	if c.StateDir == "" {
		base, err := os.UserConfigDir()
		if err != nil {
			return c, fmt.Errorf("cannot determine state dir: %w", err)
		}
		c.StateDir = filepath.Join(base, "data-portal")
	}
	return c, nil
}

func (c *Config) Validate() error {
	var result error
	if c.APIBaseURL == "" {
		result = multierror.Append(result, fmt.Errorf("API base URL must not be empty"))
	}
	if c.StateDir == "" {
		result = multierror.Append(result, fmt.Errorf("state dir must not be empty"))
	}
	if c.MaxActiveDownloads < 1 {
		result = multierror.Append(result, fmt.Errorf("max active downloads must be >= 1, got %d", c.MaxActiveDownloads))
	}
	if c.RateLimit < 0 {
		result = multierror.Append(result, fmt.Errorf("rate limit must be >= 0, got %d", c.RateLimit))
	}
	if c.RefreshInterval <= 0 {
		result = multierror.Append(result, fmt.Errorf("refresh interval must be positive, got %v", c.RefreshInterval))
	}
	return result
}

// CredentialsPath is the bbolt file backing the credential store.
func (c *Config) CredentialsPath() string {
	return filepath.Join(c.StateDir, "credentials.db")
}

// HistoryPath is the sqlite file backing the download history.
func (c *Config) HistoryPath() string {
	return filepath.Join(c.StateDir, "history.sqlite3")
}
