package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	apperrors "bskycrawler/pkg/errors"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "https://bsky.social", cfg.Bluesky.ServiceURL)
	assert.Equal(t, []string{"python", "apify", "crawlee"}, cfg.Crawl.Queries)
	assert.Equal(t, ModePosts, cfg.Crawl.Mode)
	assert.Equal(t, 100, cfg.Crawl.MaxRequests)

	assert.Equal(t, 10, cfg.Engine.Concurrency)
	assert.Equal(t, 200, cfg.Engine.RequestsPerMinute)
	assert.Equal(t, 30*time.Second, cfg.Engine.RequestTimeout)

	assert.Equal(t, 3, cfg.Retry.MaxAttempts)
	assert.Equal(t, 2.0, cfg.Retry.Multiplier)

	assert.Equal(t, FormatJSON, cfg.Output.Format)
	assert.Equal(t, "posts.json", cfg.Output.PostsFile)
	assert.Equal(t, "users.json", cfg.Output.UsersFile)

	assert.Equal(t, "info", cfg.Logging.Level)
	assert.NoError(t, cfg.Validate())
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("BSKYCRAWLER_IDENTIFIER", "alice.bsky.social")
	t.Setenv("BSKYCRAWLER_APP_PASSWORD", "abcd-efgh-ijkl-mnop")
	t.Setenv("BSKYCRAWLER_QUERIES", "golang, rust ,,zig")
	t.Setenv("BSKYCRAWLER_MODE", "USERS")
	t.Setenv("BSKYCRAWLER_MAX_REQUESTS", "500")
	t.Setenv("BSKYCRAWLER_CONCURRENCY", "20")
	t.Setenv("BSKYCRAWLER_OUTPUT_DIR", "/tmp/crawl")
	t.Setenv("BSKYCRAWLER_OUTPUT_FORMAT", "sqlite")
	t.Setenv("BSKYCRAWLER_LOG_LEVEL", "debug")

	cfg := DefaultConfig()
	require.NoError(t, cfg.LoadFromEnv())

	assert.Equal(t, "alice.bsky.social", cfg.Bluesky.Identifier)
	assert.Equal(t, "abcd-efgh-ijkl-mnop", cfg.Bluesky.AppPassword)
	assert.Equal(t, []string{"golang", "rust", "zig"}, cfg.Crawl.Queries)
	assert.Equal(t, ModeUsers, cfg.Crawl.Mode)
	assert.Equal(t, 500, cfg.Crawl.MaxRequests)
	assert.Equal(t, 20, cfg.Engine.Concurrency)
	assert.Equal(t, "/tmp/crawl", cfg.Output.Directory)
	assert.Equal(t, FormatSQLite, cfg.Output.Format)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoadFromEnvBlueskyNames(t *testing.T) {
	t.Setenv("BLUESKY_IDENTIFIER", "bob.bsky.social")
	t.Setenv("BLUESKY_APP_PASSWORD", "secret")

	cfg := DefaultConfig()
	require.NoError(t, cfg.LoadFromEnv())
	assert.Equal(t, "bob.bsky.social", cfg.Bluesky.Identifier)
	assert.Equal(t, "secret", cfg.Bluesky.AppPassword)

	// Prefixed names win
	t.Setenv("BSKYCRAWLER_IDENTIFIER", "carol.bsky.social")
	require.NoError(t, cfg.LoadFromEnv())
	assert.Equal(t, "carol.bsky.social", cfg.Bluesky.Identifier)
}

func TestLoadFromEnvInvalidNumber(t *testing.T) {
	t.Setenv("BSKYCRAWLER_MAX_REQUESTS", "lots")

	cfg := DefaultConfig()
	err := cfg.LoadFromEnv()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "BSKYCRAWLER_MAX_REQUESTS")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr string
	}{
		{"defaults", func(c *Config) {}, ""},
		{"users mode", func(c *Config) { c.Crawl.Mode = ModeUsers }, ""},
		{"unbounded budget", func(c *Config) { c.Crawl.MaxRequests = 0 }, ""},
		{"invalid mode", func(c *Config) { c.Crawl.Mode = "likes" }, "invalid crawl mode"},
		{"relative service url", func(c *Config) { c.Bluesky.ServiceURL = "bsky.social" }, "invalid service URL"},
		{"ftp service url", func(c *Config) { c.Bluesky.ServiceURL = "ftp://bsky.social" }, "invalid service URL"},
		{"negative budget", func(c *Config) { c.Crawl.MaxRequests = -1 }, "max requests cannot be negative"},
		{"zero concurrency", func(c *Config) { c.Engine.Concurrency = 0 }, "concurrency must be positive"},
		{"too much concurrency", func(c *Config) { c.Engine.Concurrency = 31 }, "should not exceed 30"},
		{"zero rate", func(c *Config) { c.Engine.RequestsPerMinute = 0 }, "requests per minute"},
		{"zero attempts", func(c *Config) { c.Retry.MaxAttempts = 0 }, "max attempts"},
		{"bad format", func(c *Config) { c.Output.Format = "csv" }, "invalid output format"},
		{"bad log level", func(c *Config) { c.Logging.Level = "verbose" }, "invalid log level"},
		{"bad log format", func(c *Config) { c.Logging.Format = "xml" }, "invalid log format"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
			assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeConfiguration))
		})
	}
}

func TestValidateReportsAllProblems(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Crawl.Mode = "nope"
	cfg.Output.Format = "nope"

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid crawl mode")
	assert.Contains(t, err.Error(), "invalid output format")
}

func TestValidateCredentials(t *testing.T) {
	cfg := DefaultConfig()
	err := cfg.ValidateCredentials()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "identifier is required")
	assert.Contains(t, err.Error(), "app password is required")

	cfg.Bluesky.Identifier = "alice.bsky.social"
	cfg.Bluesky.AppPassword = "pw"
	assert.NoError(t, cfg.ValidateCredentials())
}

func TestMergeCommandLineFlags(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MergeCommandLineFlags(map[string]interface{}{
		"identifier":   "alice.bsky.social",
		"query":        []string{"golang"},
		"mode":         "Users",
		"max-requests": 50,
		"concurrency":  5,
		"format":       "JSONL",
		"output":       "/out",
		"log-level":    "warn",
		// Zero values leave the config alone
		"service-url": "",
		"rpm":         0,
	})

	assert.Equal(t, "alice.bsky.social", cfg.Bluesky.Identifier)
	assert.Equal(t, []string{"golang"}, cfg.Crawl.Queries)
	assert.Equal(t, ModeUsers, cfg.Crawl.Mode)
	assert.Equal(t, 50, cfg.Crawl.MaxRequests)
	assert.Equal(t, 5, cfg.Engine.Concurrency)
	assert.Equal(t, FormatJSONL, cfg.Output.Format)
	assert.Equal(t, "/out", cfg.Output.Directory)
	assert.Equal(t, "warn", cfg.Logging.Level)
	assert.Equal(t, "https://bsky.social", cfg.Bluesky.ServiceURL)
	assert.Equal(t, 200, cfg.Engine.RequestsPerMinute)

	cfg.MergeCommandLineFlags(map[string]interface{}{"unbounded": true})
	assert.Equal(t, 0, cfg.Crawl.MaxRequests)
}

func TestSaveAndLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	cfg := DefaultConfig()
	cfg.Crawl.Queries = []string{"atproto"}
	cfg.Crawl.Mode = ModeUsers
	cfg.Retry.BaseDelay = 250 * time.Millisecond
	require.NoError(t, cfg.Save(path))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	loaded := DefaultConfig()
	require.NoError(t, loaded.LoadFromFile(path))
	assert.Equal(t, cfg, loaded)
}

func TestLoadFromFileErrors(t *testing.T) {
	cfg := DefaultConfig()
	assert.Error(t, cfg.LoadFromFile(filepath.Join(t.TempDir(), "missing.yaml")))

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("crawl: [unclosed"), 0644))
	err := cfg.LoadFromFile(bad)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse config file")
}

func TestDurationParsing(t *testing.T) {
	var cfg Config
	data := []byte("engine:\n  request_timeout: 45s\nretry:\n  max_delay: 2m\n")
	require.NoError(t, yaml.Unmarshal(data, &cfg))
	assert.Equal(t, 45*time.Second, cfg.Engine.RequestTimeout)
	assert.Equal(t, 2*time.Minute, cfg.Retry.MaxDelay)
}

func TestLoad(t *testing.T) {
	t.Run("precedence order", func(t *testing.T) {
		configPath := filepath.Join(t.TempDir(), "config.yaml")
		content := `
bluesky:
  identifier: file.bsky.social
  app_password: file-pass
crawl:
  mode: users
output:
  directory: /file/output
`
		require.NoError(t, os.WriteFile(configPath, []byte(content), 0644))

		t.Setenv("BSKYCRAWLER_IDENTIFIER", "env.bsky.social")
		t.Setenv("BSKYCRAWLER_OUTPUT_DIR", "/env/output")

		cfg, err := Load(configPath, map[string]interface{}{
			"identifier": "flag.bsky.social",
		})
		require.NoError(t, err)

		assert.Equal(t, "flag.bsky.social", cfg.Bluesky.Identifier)
		assert.Equal(t, "file-pass", cfg.Bluesky.AppPassword)
		assert.Equal(t, "/env/output", cfg.Output.Directory)
		assert.Equal(t, ModeUsers, cfg.Crawl.Mode)
	})

	t.Run("validation failure", func(t *testing.T) {
		cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"), nil)
		assert.Error(t, err)
		assert.Nil(t, cfg)

		cfg, err = Load("", map[string]interface{}{"mode": "followers"})
		require.Error(t, err)
		assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeConfiguration))
		assert.Nil(t, cfg)
	})

	t.Run("loads .env file", func(t *testing.T) {
		oldDir, err := os.Getwd()
		require.NoError(t, err)
		defer os.Chdir(oldDir)
		require.NoError(t, os.Chdir(t.TempDir()))

		t.Setenv("BSKYCRAWLER_APP_PASSWORD", "")
		os.Unsetenv("BSKYCRAWLER_APP_PASSWORD")
		t.Setenv("BLUESKY_APP_PASSWORD", "")
		os.Unsetenv("BLUESKY_APP_PASSWORD")

		require.NoError(t, os.WriteFile(".env", []byte("BLUESKY_APP_PASSWORD=dotenv-pass\n"), 0644))

		cfg, err := Load("", nil)
		require.NoError(t, err)
		assert.Equal(t, "dotenv-pass", cfg.Bluesky.AppPassword)
	})
}
