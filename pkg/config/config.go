package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	apperrors "bskycrawler/pkg/errors"
)

const (
	ModePosts = "posts"
	ModeUsers = "users"

	FormatJSON   = "json"
	FormatJSONL  = "jsonl"
	FormatSQLite = "sqlite"

	// MaxConcurrency is the upper bound of the engine worker pool
	MaxConcurrency = 30

	envPrefix = "BSKYCRAWLER_"
)

// Config holds all configuration options for the Bluesky crawler
type Config struct {
	// Bluesky account and identity service
	Bluesky BlueskyConfig `yaml:"bluesky" json:"bluesky"`

	// What to crawl
	Crawl CrawlConfig `yaml:"crawl" json:"crawl"`

	// Crawling engine envelope
	Engine EngineConfig `yaml:"engine" json:"engine"`

	// Retry policy for transient fetch failures
	Retry RetryConfig `yaml:"retry" json:"retry"`

	// Output settings
	Output OutputConfig `yaml:"output" json:"output"`

	// Notification preferences
	Notifications NotificationConfig `yaml:"notifications" json:"notifications"`

	// Logging configuration
	Logging LoggingConfig `yaml:"logging" json:"logging"`
}

// BlueskyConfig holds the account used to open a session
type BlueskyConfig struct {
	Identifier  string `yaml:"identifier" json:"identifier"`
	AppPassword string `yaml:"app_password" json:"app_password"`
	ServiceURL  string `yaml:"service_url" json:"service_url"`
	UserAgent   string `yaml:"user_agent" json:"user_agent"`
}

// CrawlConfig selects the queries, mode and request budget of a run
type CrawlConfig struct {
	Queries     []string `yaml:"queries" json:"queries"`
	Mode        string   `yaml:"mode" json:"mode"`
	MaxRequests int      `yaml:"max_requests" json:"max_requests"`
}

// EngineConfig holds the concurrency envelope of the crawling engine
type EngineConfig struct {
	Concurrency       int           `yaml:"concurrency" json:"concurrency"`
	RequestsPerMinute int           `yaml:"requests_per_minute" json:"requests_per_minute"`
	BurstSize         int           `yaml:"burst_size" json:"burst_size"`
	RequestTimeout    time.Duration `yaml:"request_timeout" json:"request_timeout"`
	MaxBodyBytes      int64         `yaml:"max_body_bytes" json:"max_body_bytes"`
}

// RetryConfig holds backoff settings
type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts" json:"max_attempts"`
	BaseDelay   time.Duration `yaml:"base_delay" json:"base_delay"`
	MaxDelay    time.Duration `yaml:"max_delay" json:"max_delay"`
	Multiplier  float64       `yaml:"multiplier" json:"multiplier"`
	Jitter      bool          `yaml:"jitter" json:"jitter"`
}

// OutputConfig holds where and how records are written
type OutputConfig struct {
	Directory  string `yaml:"directory" json:"directory"`
	Format     string `yaml:"format" json:"format"`
	PostsFile  string `yaml:"posts_file" json:"posts_file"`
	UsersFile  string `yaml:"users_file" json:"users_file"`
	SQLitePath string `yaml:"sqlite_path" json:"sqlite_path"`
	// Manifest writes a run-<id>.json summary next to the datasets
	Manifest bool `yaml:"manifest" json:"manifest"`
}

// NotificationConfig holds notification preferences
type NotificationConfig struct {
	Enabled    bool `yaml:"enabled" json:"enabled"`
	OnComplete bool `yaml:"on_complete" json:"on_complete"`
	OnError    bool `yaml:"on_error" json:"on_error"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level         string `yaml:"level" json:"level"`
	Format        string `yaml:"format" json:"format"`
	File          string `yaml:"file" json:"file"`
	IncludeCaller bool   `yaml:"include_caller" json:"include_caller"`
}

// DefaultConfig returns a Config instance with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Bluesky: BlueskyConfig{
			ServiceURL: "https://bsky.social",
			UserAgent:  "bskycrawler/1.0",
		},
		Crawl: CrawlConfig{
			Queries:     []string{"python", "apify", "crawlee"},
			Mode:        ModePosts,
			MaxRequests: 100,
		},
		Engine: EngineConfig{
			Concurrency:       10,
			RequestsPerMinute: 200,
			BurstSize:         10,
			RequestTimeout:    30 * time.Second,
			MaxBodyBytes:      10 << 20,
		},
		Retry: RetryConfig{
			MaxAttempts: 3,
			BaseDelay:   time.Second,
			MaxDelay:    30 * time.Second,
			Multiplier:  2.0,
			Jitter:      true,
		},
		Output: OutputConfig{
			Directory:  "./data",
			Format:     FormatJSON,
			PostsFile:  "posts.json",
			UsersFile:  "users.json",
			SQLitePath: "bskycrawler.db",
			Manifest:   true,
		},
		Notifications: NotificationConfig{
			Enabled:    false,
			OnComplete: true,
			OnError:    true,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// LoadFromEnv loads configuration from environment variables
func (c *Config) LoadFromEnv() error {
	var errs []error

	// The unprefixed names are what the Bluesky tooling documents
	if v := firstEnv(envPrefix+"IDENTIFIER", "BLUESKY_IDENTIFIER"); v != "" {
		c.Bluesky.Identifier = v
	}
	if v := firstEnv(envPrefix+"APP_PASSWORD", "BLUESKY_APP_PASSWORD"); v != "" {
		c.Bluesky.AppPassword = v
	}
	if v := os.Getenv(envPrefix + "SERVICE_URL"); v != "" {
		c.Bluesky.ServiceURL = v
	}
	if v := os.Getenv(envPrefix + "USER_AGENT"); v != "" {
		c.Bluesky.UserAgent = v
	}

	if v := os.Getenv(envPrefix + "QUERIES"); v != "" {
		c.Crawl.Queries = splitList(v)
	}
	if v := os.Getenv(envPrefix + "MODE"); v != "" {
		c.Crawl.Mode = strings.ToLower(v)
	}
	if v := os.Getenv(envPrefix + "MAX_REQUESTS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%sMAX_REQUESTS: %w", envPrefix, err))
		} else {
			c.Crawl.MaxRequests = n
		}
	}

	if v := os.Getenv(envPrefix + "CONCURRENCY"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%sCONCURRENCY: %w", envPrefix, err))
		} else {
			c.Engine.Concurrency = n
		}
	}
	if v := os.Getenv(envPrefix + "REQUESTS_PER_MINUTE"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%sREQUESTS_PER_MINUTE: %w", envPrefix, err))
		} else {
			c.Engine.RequestsPerMinute = n
		}
	}

	if v := os.Getenv(envPrefix + "OUTPUT_DIR"); v != "" {
		c.Output.Directory = v
	}
	if v := os.Getenv(envPrefix + "OUTPUT_FORMAT"); v != "" {
		c.Output.Format = strings.ToLower(v)
	}

	if v := os.Getenv(envPrefix + "NOTIFICATIONS_ENABLED"); v != "" {
		c.Notifications.Enabled = strings.ToLower(v) == "true"
	}

	if v := os.Getenv(envPrefix + "LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv(envPrefix + "LOG_FORMAT"); v != "" {
		c.Logging.Format = v
	}
	if v := os.Getenv(envPrefix + "LOG_FILE"); v != "" {
		c.Logging.File = v
	}

	return errors.Join(errs...)
}

// LoadFromFile loads configuration from a YAML file
func (c *Config) LoadFromFile(path string) error {
	// If path is empty, try default locations
	if path == "" {
		path = FindConfigFile()
		if path == "" {
			return nil // No config file found, not an error
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// FindConfigFile returns the first existing config file in the standard locations,
// or an empty string
func FindConfigFile() string {
	home := os.Getenv("HOME")
	locations := []string{
		"bskycrawler.yaml",
		".bskycrawler.yaml",
		".bskycrawler.yml",
		filepath.Join(home, ".config", "bskycrawler", "config.yaml"),
		filepath.Join(home, ".config", "bskycrawler", "config.yml"),
	}

	for _, loc := range locations {
		if _, err := os.Stat(loc); err == nil {
			return loc
		}
	}

	return ""
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	var errs []error

	if err := ValidateServiceURL(c.Bluesky.ServiceURL); err != nil {
		errs = append(errs, err)
	}

	switch c.Crawl.Mode {
	case ModePosts, ModeUsers:
	default:
		errs = append(errs, fmt.Errorf("invalid crawl mode %q (want %s or %s)", c.Crawl.Mode, ModePosts, ModeUsers))
	}
	if c.Crawl.MaxRequests < 0 {
		errs = append(errs, errors.New("max requests cannot be negative"))
	}

	if c.Engine.Concurrency <= 0 {
		errs = append(errs, errors.New("concurrency must be positive"))
	}
	if c.Engine.Concurrency > MaxConcurrency {
		errs = append(errs, fmt.Errorf("concurrency should not exceed %d", MaxConcurrency))
	}
	if c.Engine.RequestsPerMinute <= 0 {
		errs = append(errs, errors.New("requests per minute must be positive"))
	}
	if c.Engine.BurstSize < 0 {
		errs = append(errs, errors.New("burst size cannot be negative"))
	}
	if c.Engine.RequestTimeout <= 0 {
		errs = append(errs, errors.New("request timeout must be positive"))
	}

	if c.Retry.MaxAttempts < 1 {
		errs = append(errs, errors.New("retry max attempts must be at least 1"))
	}
	if c.Retry.BaseDelay < 0 || c.Retry.MaxDelay < 0 {
		errs = append(errs, errors.New("retry delays cannot be negative"))
	}
	if c.Retry.Multiplier < 1 {
		errs = append(errs, errors.New("retry multiplier must be at least 1"))
	}

	switch c.Output.Format {
	case FormatJSON, FormatJSONL, FormatSQLite:
	default:
		errs = append(errs, fmt.Errorf("invalid output format %q", c.Output.Format))
	}
	if c.Output.Directory == "" {
		errs = append(errs, errors.New("output directory is required"))
	}

	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLogLevels[strings.ToLower(c.Logging.Level)] {
		errs = append(errs, errors.New("invalid log level"))
	}
	validLogFormats := map[string]bool{"console": true, "json": true}
	if !validLogFormats[strings.ToLower(c.Logging.Format)] {
		errs = append(errs, errors.New("invalid log format"))
	}

	if len(errs) > 0 {
		return apperrors.NewConfigurationError("invalid configuration", errors.Join(errs...))
	}

	return nil
}

// ValidateCredentials checks that an account is configured
func (c *Config) ValidateCredentials() error {
	var errs []error
	if c.Bluesky.Identifier == "" {
		errs = append(errs, errors.New("Bluesky identifier is required"))
	}
	if c.Bluesky.AppPassword == "" {
		errs = append(errs, errors.New("Bluesky app password is required"))
	}
	if len(errs) > 0 {
		return apperrors.NewConfigurationError("missing credentials", errors.Join(errs...))
	}
	return nil
}

// ValidateServiceURL checks that u is an absolute http(s) URL with a host
func ValidateServiceURL(u string) error {
	parsed, err := url.Parse(u)
	if err != nil {
		return fmt.Errorf("invalid service URL %q: %w", u, err)
	}
	if (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		return fmt.Errorf("invalid service URL %q: must be an absolute http(s) URL", u)
	}
	return nil
}

// Save saves the configuration to a file
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// MergeCommandLineFlags merges command line flags into the configuration.
// Zero values are treated as unset.
func (c *Config) MergeCommandLineFlags(flags map[string]interface{}) {
	if v, ok := flags["identifier"].(string); ok && v != "" {
		c.Bluesky.Identifier = v
	}
	if v, ok := flags["app-password"].(string); ok && v != "" {
		c.Bluesky.AppPassword = v
	}
	if v, ok := flags["service-url"].(string); ok && v != "" {
		c.Bluesky.ServiceURL = v
	}
	if v, ok := flags["query"].([]string); ok && len(v) > 0 {
		c.Crawl.Queries = v
	}
	if v, ok := flags["mode"].(string); ok && v != "" {
		c.Crawl.Mode = strings.ToLower(v)
	}
	if v, ok := flags["max-requests"].(int); ok && v > 0 {
		c.Crawl.MaxRequests = v
	}
	if v, ok := flags["unbounded"].(bool); ok && v {
		c.Crawl.MaxRequests = 0
	}
	if v, ok := flags["concurrency"].(int); ok && v > 0 {
		c.Engine.Concurrency = v
	}
	if v, ok := flags["rpm"].(int); ok && v > 0 {
		c.Engine.RequestsPerMinute = v
	}
	if v, ok := flags["output"].(string); ok && v != "" {
		c.Output.Directory = v
	}
	if v, ok := flags["format"].(string); ok && v != "" {
		c.Output.Format = strings.ToLower(v)
	}
	if v, ok := flags["notify"].(bool); ok && v {
		c.Notifications.Enabled = true
	}
	if v, ok := flags["log-level"].(string); ok && v != "" {
		c.Logging.Level = v
	}
	if v, ok := flags["log-format"].(string); ok && v != "" {
		c.Logging.Format = v
	}
}

// Load loads configuration from all sources with proper precedence
// Precedence order: Command line flags > Environment variables > .env file > Config file > Defaults
func Load(configPath string, flags map[string]interface{}) (*Config, error) {
	// Missing .env files are fine
	_ = godotenv.Load(".env")
	_ = godotenv.Load(filepath.Join(os.Getenv("HOME"), ".bskycrawler.env"))

	config := DefaultConfig()

	if err := config.LoadFromFile(configPath); err != nil {
		return nil, apperrors.NewConfigurationError("failed to load config file", err)
	}

	if err := config.LoadFromEnv(); err != nil {
		return nil, apperrors.NewConfigurationError("failed to load environment variables", err)
	}

	config.MergeCommandLineFlags(flags)

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

func firstEnv(keys ...string) string {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return ""
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
