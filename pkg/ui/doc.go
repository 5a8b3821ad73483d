// Package ui provides terminal output helpers for the crawler CLI: colored
// status lines, a crawl progress tracker and best-effort desktop notifications.
//
// Colors are disabled automatically when stdout is not a terminal or NO_COLOR is set.
//
//	tracker := ui.NewStatusTracker(cfg.Crawl.MaxRequests)
//	go tracker.Watch(ctx, os.Stderr, time.Second, poll)
package ui
