// Package logger provides a structured logging interface for the Bluesky crawler.
//
// It wraps the zerolog library to provide a small API with support for:
// - Multiple log levels (Debug, Info, Warn, Error, Fatal)
// - Structured logging with fields
// - Pretty console output with colors, or JSON lines
// - Optional file output
// - A global logger instance for easy access
//
// Basic Usage:
//
//	cfg := &config.LoggingConfig{
//	    Level:  "info",
//	    Format: "console",
//	}
//	err := logger.Initialize(cfg)
//
//	logger.Info("Crawl started")
//	logger.WithField("query", "golang").Info("Seeding search")
//	logger.WithError(err).Error("Session teardown failed")
//
// Components usually keep a child logger:
//
//	log := logger.GetLogger().WithField("component", "engine")
//	log.InfoWithFields("Run finished", map[string]interface{}{
//	    "succeeded": 42,
//	    "failed":    1,
//	})
//
// Tests can use NewNopLogger or NewTestLogger, which records every entry.
package logger
