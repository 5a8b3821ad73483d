package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"bskycrawler/internal/engine"
	"bskycrawler/pkg/auth"
	"bskycrawler/pkg/bluesky"
	"bskycrawler/pkg/config"
	"bskycrawler/pkg/crawler"
	errs "bskycrawler/pkg/errors"
	"bskycrawler/pkg/logger"
	"bskycrawler/pkg/metadata"
	"bskycrawler/pkg/ratelimit"
	"bskycrawler/pkg/retry"
	"bskycrawler/pkg/storage"
	"bskycrawler/pkg/ui"
)

// Crawl flags, shared with the schedule command
var (
	queries     []string
	mode        string
	maxRequests int
	unbounded   bool
	concurrency int
	rpm         int
	outputDir   string
	format      string
	accountName string
	notify      bool
)

// maxSkippedShown caps the skipped pages printed after a run
const maxSkippedShown = 20

var crawlCmd = &cobra.Command{
	Use:   "crawl",
	Short: "Run one crawl",
	Long: `Search Bluesky for each query and store the results.

In posts mode every matching post is written to the posts dataset. In users mode
the profile of every distinct author is fetched once and written to the users
dataset. Search pagination is followed until the request budget is spent.

Credentials are taken from, in order:
  - the account named with --account
  - BSKYCRAWLER_IDENTIFIER / BSKYCRAWLER_APP_PASSWORD (or BLUESKY_*)
  - the configuration file
  - the most recently stored account ('bskycrawler auth login')`,
	Example: `  # Crawl posts for the default queries
  bskycrawler crawl

  # Crawl author profiles for two queries into SQLite
  bskycrawler crawl -q python -q golang --mode users --format sqlite

  # Larger budget, fewer workers
  bskycrawler crawl -q bluesky --max-requests 500 --concurrency 4`,
	Args: cobra.NoArgs,
	RunE: runCrawlCmd,
}

func init() {
	rootCmd.AddCommand(crawlCmd)
	addCrawlFlags(crawlCmd)
}

func addCrawlFlags(cmd *cobra.Command) {
	cmd.Flags().StringArrayVarP(&queries, "query", "q", nil, "search query (repeatable, default: python, apify, crawlee)")
	cmd.Flags().StringVarP(&mode, "mode", "m", "", "crawl mode: posts or users")
	cmd.Flags().IntVar(&maxRequests, "max-requests", 0, "request budget for the run (default 100)")
	cmd.Flags().BoolVar(&unbounded, "unbounded", false, "crawl without a request budget")
	cmd.Flags().IntVar(&concurrency, "concurrency", 0, "number of concurrent requests (max 30)")
	cmd.Flags().IntVar(&rpm, "rate-limit", 0, "requests per minute")
	cmd.Flags().StringVarP(&outputDir, "output", "o", "", "output directory")
	cmd.Flags().StringVarP(&format, "format", "f", "", "output format: json, jsonl or sqlite")
	cmd.Flags().StringVarP(&accountName, "account", "a", "", "use a specific stored account")
	cmd.Flags().BoolVar(&notify, "notify", false, "send a desktop notification when the crawl ends")
}

func crawlFlags() map[string]interface{} {
	flags := map[string]interface{}{
		"query":        queries,
		"mode":         mode,
		"max-requests": maxRequests,
		"unbounded":    unbounded,
		"concurrency":  concurrency,
		"rpm":          rpm,
		"output":       outputDir,
		"format":       format,
		"notify":       notify,
	}
	return flags
}

func runCrawlCmd(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(crawlFlags())
	if err != nil {
		return err
	}
	if err := resolveCredentials(cfg, accountName); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	notifier := ui.NewNotifier(cfg.Notifications.Enabled)

	summary, err := executeCrawl(ctx, cfg, !quiet)
	if summary != nil {
		printSummary(summary)
		writeManifest(cfg, summary, err)
	}
	if err != nil {
		if cfg.Notifications.OnError {
			notifier.SendError("Crawl failed", err.Error())
		}
		return err
	}

	if cfg.Notifications.OnComplete {
		notifier.SendSuccess("Crawl complete", fmt.Sprintf("%d %s written", summary.Records(), recordNoun(summary.Mode)))
	}
	return nil
}

// resolveCredentials fills the Bluesky account from the credential manager when the
// configuration does not carry one
func resolveCredentials(cfg *config.Config, account string) error {
	if account == "" && cfg.Bluesky.Identifier != "" && cfg.Bluesky.AppPassword != "" {
		logger.WithField("identifier", cfg.Bluesky.Identifier).Info("Using credentials from configuration")
		return nil
	}

	manager, err := auth.NewManager()
	if err != nil {
		return errs.NewConfigurationError("failed to initialize credential manager", err)
	}

	var stored *auth.Account
	if account != "" {
		stored, err = manager.Retrieve(account)
		if err != nil {
			return errs.NewConfigurationError(fmt.Sprintf("account %s not found, see 'bskycrawler auth list'", account), err)
		}
	} else {
		stored, err = manager.RetrieveDefault()
		if err != nil {
			fmt.Println("\nTo store credentials securely, run:")
			fmt.Println("  bskycrawler auth login")
			fmt.Println("\nOr set environment variables:")
			fmt.Println("  export BSKYCRAWLER_IDENTIFIER=alice.bsky.social")
			fmt.Println("  export BSKYCRAWLER_APP_PASSWORD=xxxx-xxxx-xxxx-xxxx")
			return errs.NewConfigurationError("no Bluesky credentials found", err)
		}
	}

	cfg.Bluesky.Identifier = stored.Identifier
	cfg.Bluesky.AppPassword = stored.AppPassword
	if stored.ServiceURL != "" {
		cfg.Bluesky.ServiceURL = stored.ServiceURL
	}
	logger.WithField("identifier", stored.Identifier).Info("Using stored credentials")

	return cfg.ValidateCredentials()
}

// executeCrawl wires one crawl run: session client, engine, sink and orchestrator.
// Sinks are closed before it returns, so the datasets are complete once it does.
func executeCrawl(ctx context.Context, cfg *config.Config, showProgress bool) (summary *crawler.Summary, err error) {
	log := logger.GetLogger()

	crawlMode, err := crawler.ParseMode(cfg.Crawl.Mode)
	if err != nil {
		return nil, err
	}

	runID := uuid.NewString()

	client := bluesky.NewClient(cfg.Bluesky.ServiceURL, cfg.Engine.RequestTimeout, log)
	client.SetUserAgent(cfg.Bluesky.UserAgent)

	fetcher := engine.NewHTTPFetcher(cfg.Engine.RequestTimeout, cfg.Engine.MaxBodyBytes, cfg.Bluesky.UserAgent, log)
	eng := engine.New(fetcher, engine.Options{
		Concurrency: cfg.Engine.Concurrency,
		MaxRequests: cfg.Crawl.MaxRequests,
		Limiter:     ratelimit.PerMinute(cfg.Engine.RequestsPerMinute, cfg.Engine.BurstSize),
		Retry:       retry.FromSettings(ctx, cfg.Retry, log),
	}, log)

	sink, err := storage.Open(cfg.Output, runID, log)
	if err != nil {
		return nil, errs.NewConfigurationError("failed to open output", err)
	}
	defer func() {
		if closeErr := sink.Close(); closeErr != nil {
			log.WithError(closeErr).Error("Failed to finalize output")
			if err == nil {
				err = closeErr
			}
		}
	}()

	c, err := crawler.New(client, eng, sink, sink, crawler.Options{
		Mode:    crawlMode,
		Queries: cfg.Crawl.Queries,
		RunID:   runID,
		Logger:  log,
	})
	if err != nil {
		return nil, err
	}

	logger.LogComponentStart("crawler", map[string]interface{}{
		"run_id":      runID,
		"mode":        crawlMode.String(),
		"queries":     strings.Join(cfg.Crawl.Queries, ","),
		"budget":      cfg.Crawl.MaxRequests,
		"concurrency": cfg.Engine.Concurrency,
		"rpm":         cfg.Engine.RequestsPerMinute,
		"format":      cfg.Output.Format,
	})

	watchDone := make(chan struct{})
	watchCtx, stopWatch := context.WithCancel(ctx)
	if showProgress {
		tracker := ui.NewStatusTracker(cfg.Crawl.MaxRequests)
		go func() {
			defer close(watchDone)
			tracker.Watch(watchCtx, os.Stderr, time.Second, func() ui.Progress {
				stats := eng.Snapshot()
				progress := c.Progress()
				return ui.Progress{
					Handled:  stats.Succeeded,
					Failed:   stats.Failed,
					Queued:   stats.Queued,
					InFlight: stats.InFlight,
					Records:  progress.Records(),
					Retries:  stats.Retries,
				}
			})
		}()
	} else {
		close(watchDone)
	}

	summary, err = c.Run(ctx, cfg.Bluesky.Identifier, cfg.Bluesky.AppPassword)
	stopWatch()
	<-watchDone

	if summary != nil {
		logger.LogCrawlProgress(crawlMode.String(), int(summary.Engine.Succeeded+summary.Engine.Failed), cfg.Crawl.MaxRequests)
		logger.LogMetrics("crawl", map[string]interface{}{
			"run_id":   summary.RunID,
			"requests": summary.Engine.Submitted,
			"failed":   summary.Engine.Failed,
			"retries":  summary.Engine.Retries,
			"records":  summary.Records(),
			"duration": summary.Engine.Duration,
		})
	}
	logger.LogComponentStop("crawler", stopReason(err))

	return summary, err
}

func stopReason(err error) string {
	switch {
	case err == nil:
		return "completed"
	case errs.IsType(err, errs.ErrorTypeAuthentication):
		return "authentication failed"
	case errs.IsType(err, errs.ErrorTypeConfiguration):
		return "configuration error"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "interrupted"
	default:
		return "failed"
	}
}

// writeManifest stores the run manifest next to the datasets when enabled
func writeManifest(cfg *config.Config, summary *crawler.Summary, runErr error) {
	if !cfg.Output.Manifest {
		return
	}
	manifest := metadata.FromSummary(summary, cfg.Output.Format, storage.Paths(cfg.Output), runErr)
	path, err := manifest.Save(cfg.Output.Directory)
	if err != nil {
		logger.WithError(err).Warn("Failed to write run manifest")
		return
	}
	logger.WithField("path", path).Debug("Run manifest written")
}

func recordNoun(m crawler.Mode) string {
	if m == crawler.ModeUsers {
		return "profiles"
	}
	return "posts"
}

func printSummary(s *crawler.Summary) {
	fmt.Println()
	ui.PrintHighlight("[CRAWL SUMMARY]")
	ui.PrintInfo("Run", s.RunID)
	ui.PrintInfo("Mode", s.Mode.String())
	ui.PrintInfo("Queries", strings.Join(s.Queries, ", "))
	if s.Handle != "" {
		ui.PrintInfo("Account", s.Handle)
	}
	ui.PrintInfo("Duration", ui.FormatDuration(s.Duration))
	ui.PrintInfo("Search pages", fmt.Sprintf("%d (%d empty, %d continuations)", s.SearchPages, s.EmptyPages, s.Continuations))
	if s.Mode == crawler.ModeUsers {
		ui.PrintInfo("Profiles", fmt.Sprintf("%d written of %d requested", s.ProfilesWritten, s.ProfileRequests))
	} else {
		ui.PrintInfo("Posts", fmt.Sprintf("%d written, %d duplicates", s.PostsWritten, s.DuplicatePosts))
	}
	ui.PrintInfo("Requests", fmt.Sprintf("%d ok, %d failed, %d retries, %d over budget",
		s.Engine.Succeeded, s.Engine.Failed, s.Engine.Retries, s.Engine.Rejected))

	if s.MalformedEntries > 0 {
		ui.PrintWarning(fmt.Sprintf("%d malformed entries skipped", s.MalformedEntries))
	}
	if s.SinkErrors > 0 {
		ui.PrintWarning(fmt.Sprintf("%d record writes failed", s.SinkErrors))
	}
	if s.TeardownErr != nil {
		ui.PrintWarning("Session teardown failed", s.TeardownErr)
	}

	if len(s.SkippedPages) > 0 {
		ui.PrintWarning(fmt.Sprintf("%d pages skipped", len(s.SkippedPages)))
		for i, p := range s.SkippedPages {
			if i == maxSkippedShown {
				fmt.Println(ui.Dim(fmt.Sprintf("  ... and %d more", len(s.SkippedPages)-maxSkippedShown)))
				break
			}
			fmt.Printf("  %s %s\n    %s\n", ui.Yellow(p.Label), p.URL, ui.Dim(p.Error))
		}
	}
}
