package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"bskycrawler/internal/scheduler"
	"bskycrawler/pkg/logger"
	"bskycrawler/pkg/metadata"
	"bskycrawler/pkg/ui"
)

var (
	cronSpec      string
	timezone      string
	jobTimeout    time.Duration
	runAtStart    bool
	keepManifests int
	scheduleJob   = "crawl"
)

var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Repeat the crawl on a cron schedule",
	Long: `Run a crawl on a recurring schedule until interrupted.

Every tick opens a new session and runs a complete crawl with the same settings
as 'bskycrawler crawl'. A tick that arrives while the previous crawl is still
running is skipped. With the json format each run replaces the datasets; use
jsonl or sqlite to accumulate results across runs.`,
	Example: `  # Every six hours, appending to SQLite
  bskycrawler schedule --cron "@every 6h" -q golang --format sqlite

  # Daily at 07:00 Berlin time, crawling profiles
  bskycrawler schedule --cron "0 7 * * *" --timezone Europe/Berlin --mode users`,
	Args: cobra.NoArgs,
	RunE: runSchedule,
}

func init() {
	rootCmd.AddCommand(scheduleCmd)
	addCrawlFlags(scheduleCmd)

	scheduleCmd.Flags().StringVar(&cronSpec, "cron", "@every 6h", "cron expression or descriptor (@hourly, @every 30m)")
	scheduleCmd.Flags().StringVar(&timezone, "timezone", "", "timezone for cron expressions (default: local)")
	scheduleCmd.Flags().DurationVar(&jobTimeout, "timeout", 30*time.Minute, "maximum duration of one crawl")
	scheduleCmd.Flags().BoolVar(&runAtStart, "now", false, "run one crawl immediately before waiting for the schedule")
	scheduleCmd.Flags().IntVar(&keepManifests, "keep-manifests", 50, "number of run manifests to keep (0 keeps all)")
}

func runSchedule(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(crawlFlags())
	if err != nil {
		return err
	}
	if err := resolveCredentials(cfg, accountName); err != nil {
		return err
	}

	s, err := scheduler.New(timezone, logger.GetLogger())
	if err != nil {
		return err
	}

	notifier := ui.NewNotifier(cfg.Notifications.Enabled)

	job := func(ctx context.Context) error {
		summary, err := executeCrawl(ctx, cfg, false)
		if summary != nil {
			if !quiet {
				printSummary(summary)
			}
			writeManifest(cfg, summary, err)
			if keepManifests > 0 {
				if _, pruneErr := metadata.Prune(cfg.Output.Directory, keepManifests); pruneErr != nil {
					logger.WithError(pruneErr).Warn("Failed to prune run manifests")
				}
			}
		}
		if err != nil {
			if cfg.Notifications.OnError {
				notifier.SendError("Scheduled crawl failed", err.Error())
			}
			return err
		}
		if cfg.Notifications.OnComplete {
			notifier.SendSuccess("Scheduled crawl complete", fmt.Sprintf("%d %s written", summary.Records(), recordNoun(summary.Mode)))
		}
		return nil
	}

	if err := s.AddJob(scheduleJob, cronSpec, jobTimeout, job); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if runAtStart {
		// Failed runs are logged; the schedule keeps going
		_ = s.RunNow(scheduleJob, jobTimeout, job)
	}

	s.Start()
	for _, j := range s.ListJobs() {
		ui.PrintInfo("Next crawl", j.NextRun.In(s.Location()).Format(time.RFC1123))
	}
	ui.PrintInfo("Schedule", cronSpec)
	fmt.Println(ui.Dim("Press Ctrl+C to stop"))

	<-ctx.Done()

	ui.PrintWarning("Stopping, waiting for a running crawl to finish")
	<-s.Stop().Done()
	return nil
}
