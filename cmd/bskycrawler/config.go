package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"bskycrawler/pkg/auth"
	"bskycrawler/pkg/config"
	"bskycrawler/pkg/ui"
)

var forceInit bool

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration files",
	Long: `Manage bskycrawler configuration files.

Configuration is loaded from, highest priority first:
  - Command line flags
  - Environment variables (BSKYCRAWLER_*, BLUESKY_IDENTIFIER, BLUESKY_APP_PASSWORD)
  - .env file
  - Configuration file
  - Default values`,
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create an example configuration file",
	Long: `Create an example configuration file with all available options.

The file is created as 'bskycrawler.yaml' in the current directory unless a
different path is given with --config.`,
	Args: cobra.NoArgs,
	RunE: runConfigInit,
}

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the effective configuration",
	Long:  `Show the configuration after merging every source. The app password is masked.`,
	Args:  cobra.NoArgs,
	RunE:  runConfigShow,
}

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the configuration",
	Long: `Validate the configuration for syntax errors and invalid values.

This command checks:
  - YAML syntax
  - Mode, output format and service URL
  - Concurrency, rate and retry ranges
  - Output and log path accessibility`,
	Args: cobra.NoArgs,
	RunE: runConfigValidate,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(initCmd)
	configCmd.AddCommand(showCmd)
	configCmd.AddCommand(validateCmd)

	initCmd.Flags().BoolVar(&forceInit, "force", false, "overwrite an existing file")
}

const exampleConfig = `# bskycrawler configuration
#
# Every option can also be set with an environment variable prefixed with
# BSKYCRAWLER_, for example BSKYCRAWLER_IDENTIFIER or BSKYCRAWLER_MAX_REQUESTS.

bluesky:
  # Handle, DID or email of the crawling account
  identifier: ""
  # App password (Settings > Privacy and security > App passwords).
  # Prefer 'bskycrawler auth login' over storing it here.
  app_password: ""
  service_url: "https://bsky.social"
  user_agent: "bskycrawler/1.0"

crawl:
  queries:
    - python
    - apify
    - crawlee
  # posts: store matching posts. users: store the profiles of their authors.
  mode: posts
  # Request budget per run. 0 means unbounded.
  max_requests: 100

engine:
  # Range: 1-30
  concurrency: 10
  requests_per_minute: 200
  burst_size: 10
  request_timeout: 30s
  max_body_bytes: 10485760

retry:
  max_attempts: 3
  base_delay: 1s
  max_delay: 30s
  multiplier: 2.0
  jitter: true

output:
  directory: "./data"
  # json, jsonl or sqlite
  format: json
  posts_file: posts.json
  users_file: users.json
  sqlite_path: bskycrawler.db
  # Write a run-<id>.json summary of every run
  manifest: true

notifications:
  enabled: false
  on_complete: true
  on_error: true

logging:
  # debug, info, warn, error
  level: info
  # console or json
  format: console
  # Log to a file instead of stdout
  file: ""
  include_caller: false
`

func runConfigInit(cmd *cobra.Command, args []string) error {
	configPath := configFile
	if configPath == "" {
		configPath = "bskycrawler.yaml"
	}

	if _, err := os.Stat(configPath); err == nil && !forceInit {
		fmt.Println("\nTo overwrite it, run again with --force")
		return fmt.Errorf("configuration file already exists: %s", configPath)
	}

	if dir := filepath.Dir(configPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
	}
	if err := os.WriteFile(configPath, []byte(exampleConfig), 0600); err != nil {
		return fmt.Errorf("failed to create configuration file: %w", err)
	}

	ui.PrintSuccess("Configuration file created: " + configPath)
	fmt.Println("\nNext steps:")
	fmt.Println("1. Store credentials with 'bskycrawler auth login'")
	fmt.Println("2. Edit the queries and output settings")
	fmt.Println("3. Run 'bskycrawler config validate' to check the configuration")
	fmt.Println("4. Start crawling with 'bskycrawler crawl'")
	return nil
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(nil)
	if err != nil {
		return err
	}

	display := *cfg
	if display.Bluesky.AppPassword != "" {
		display.Bluesky.AppPassword = auth.MaskString(display.Bluesky.AppPassword)
	}

	data, err := yaml.Marshal(&display)
	if err != nil {
		return fmt.Errorf("failed to format configuration: %w", err)
	}

	ui.PrintHighlight("Current Configuration")
	fmt.Println()
	fmt.Print(string(data))

	fmt.Println("\nConfiguration sources (in order of priority):")
	fmt.Println("1. Command line flags")
	fmt.Println("2. Environment variables (BSKYCRAWLER_*)")
	fmt.Println("3. .env file")
	fmt.Printf("4. Configuration file: %s\n", describeConfigFile())
	fmt.Println("5. Default values")
	return nil
}

func describeConfigFile() string {
	if configFile != "" {
		return configFile
	}
	if found := config.FindConfigFile(); found != "" {
		return found
	}
	return "(none found)"
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	ui.PrintInfo("Validating configuration", describeConfigFile())

	cfg, err := loadConfig(nil)
	if err != nil {
		ui.PrintError("Configuration validation failed")
		return err
	}

	var warnings, problems []string

	if err := cfg.ValidateCredentials(); err != nil {
		warnings = append(warnings, "No credentials configured; 'bskycrawler auth login' or the environment will be used")
	} else if !auth.LooksLikeAppPassword(cfg.Bluesky.AppPassword) {
		warnings = append(warnings, "app_password does not look like an app password (xxxx-xxxx-xxxx-xxxx)")
	}

	if err := os.MkdirAll(cfg.Output.Directory, 0755); err != nil {
		problems = append(problems, fmt.Sprintf("Cannot create output directory: %v", err))
	}
	if cfg.Logging.File != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.Logging.File), 0755); err != nil {
			problems = append(problems, fmt.Sprintf("Cannot create log directory: %v", err))
		}
	}
	if cfg.Crawl.MaxRequests == 0 {
		warnings = append(warnings, "max_requests is 0; crawls run until every result page is exhausted")
	}
	if cfg.Output.Format == config.FormatJSON {
		warnings = append(warnings, "json output is rewritten by every run; use jsonl or sqlite for scheduled crawls")
	}

	for _, w := range warnings {
		ui.PrintWarning("Warning", w)
	}
	for _, p := range problems {
		ui.PrintError("Error", p)
	}

	if len(problems) > 0 {
		return fmt.Errorf("configuration has %d problems", len(problems))
	}
	ui.PrintSuccess("Configuration is valid")
	return nil
}
