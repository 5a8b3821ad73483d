package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"bskycrawler/pkg/bluesky"
	"bskycrawler/pkg/config"
	"bskycrawler/pkg/logger"
)

// Sink receives the records of a crawl run. Writes may come from several goroutines.
// Close finalizes the output; records are not guaranteed to be durable before it returns.
type Sink interface {
	WritePosts(ctx context.Context, posts []bluesky.PostRecord) error
	WriteProfile(ctx context.Context, profile bluesky.ProfileRecord) error
	Close() error
}

// Open creates the sink selected by cfg.Format. runID tags rows in formats that keep history.
func Open(cfg config.OutputConfig, runID string, log logger.Logger) (Sink, error) {
	if log == nil {
		log = logger.GetLogger()
	}
	if err := os.MkdirAll(cfg.Directory, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	paths := Paths(cfg)

	switch strings.ToLower(cfg.Format) {
	case config.FormatJSON, "":
		return NewJSONSink(paths[0], paths[1], log), nil
	case config.FormatJSONL:
		return NewJSONLSink(paths[0], paths[1], log)
	case config.FormatSQLite:
		return NewSQLiteSink(paths[0], runID, log)
	default:
		return nil, fmt.Errorf("unsupported output format %q", cfg.Format)
	}
}

// Paths returns the files the sink selected by cfg writes to
func Paths(cfg config.OutputConfig) []string {
	switch strings.ToLower(cfg.Format) {
	case config.FormatJSONL:
		return []string{
			withExt(resolve(cfg.Directory, cfg.PostsFile, "posts.json"), ".jsonl"),
			withExt(resolve(cfg.Directory, cfg.UsersFile, "users.json"), ".jsonl"),
		}
	case config.FormatSQLite:
		return []string{resolve(cfg.Directory, cfg.SQLitePath, "bskycrawler.db")}
	default:
		return []string{
			resolve(cfg.Directory, cfg.PostsFile, "posts.json"),
			resolve(cfg.Directory, cfg.UsersFile, "users.json"),
		}
	}
}

// resolve places name under dir unless it is already absolute
func resolve(dir, name, fallback string) string {
	if name == "" {
		name = fallback
	}
	if filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(dir, name)
}

func withExt(path, ext string) string {
	return strings.TrimSuffix(path, filepath.Ext(path)) + ext
}

// WriteFileAtomic writes data to a temporary file next to filename and renames it into place
func WriteFileAtomic(filename string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(filename), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	tempFile := filename + ".tmp"
	out, err := os.Create(tempFile)
	if err != nil {
		return fmt.Errorf("failed to create temporary file: %w", err)
	}

	_, err = out.Write(data)
	closeErr := out.Close()

	if err != nil {
		os.Remove(tempFile)
		return fmt.Errorf("failed to write data: %w", err)
	}
	if closeErr != nil {
		os.Remove(tempFile)
		return fmt.Errorf("failed to close file: %w", closeErr)
	}

	if err := os.Rename(tempFile, filename); err != nil {
		os.Remove(tempFile)
		return fmt.Errorf("failed to rename temporary file: %w", err)
	}
	return nil
}
