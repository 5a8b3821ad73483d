// Package scheduler runs recurring jobs on cron schedules. It backs the
// schedule command, where every tick performs one complete crawl run.
package scheduler
