package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"bskycrawler/pkg/bluesky"
	"bskycrawler/pkg/logger"
)

// JSONLSink streams one JSON object per line. Files are opened on first write and appended to.
type JSONLSink struct {
	posts  *lineFile
	users  *lineFile
	logger logger.Logger
}

type lineFile struct {
	path  string
	mu    sync.Mutex
	file  *os.File
	w     *bufio.Writer
	count int
	done  bool
}

// NewJSONLSink creates a streaming sink
func NewJSONLSink(postsPath, usersPath string, log logger.Logger) (*JSONLSink, error) {
	if log == nil {
		log = logger.GetLogger()
	}
	for _, p := range []string{postsPath, usersPath} {
		if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
	}
	return &JSONLSink{
		posts:  &lineFile{path: postsPath},
		users:  &lineFile{path: usersPath},
		logger: log.WithField("component", "jsonl_sink"),
	}, nil
}

func (s *JSONLSink) WritePosts(ctx context.Context, posts []bluesky.PostRecord) error {
	lines := make([]interface{}, len(posts))
	for i := range posts {
		lines[i] = posts[i]
	}
	return s.posts.append(lines)
}

func (s *JSONLSink) WriteProfile(ctx context.Context, profile bluesky.ProfileRecord) error {
	return s.users.append([]interface{}{profile})
}

// Close flushes and closes both files
func (s *JSONLSink) Close() error {
	var errs []error
	for _, f := range []*lineFile{s.posts, s.users} {
		count, err := f.close()
		errs = append(errs, err)
		if err == nil && count > 0 {
			s.logger.InfoWithFields("Dataset written", map[string]interface{}{
				"path":    f.path,
				"records": count,
			})
		}
	}
	return errors.Join(errs...)
}

func (f *lineFile) append(records []interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.done {
		return errSinkClosed
	}
	if f.file == nil {
		file, err := os.OpenFile(f.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return fmt.Errorf("failed to open %s: %w", f.path, err)
		}
		f.file = file
		f.w = bufio.NewWriter(file)
	}

	enc := json.NewEncoder(f.w)
	for _, r := range records {
		if err := enc.Encode(r); err != nil {
			return fmt.Errorf("failed to encode record: %w", err)
		}
		f.count++
	}
	// Each batch is flushed before returning
	return f.w.Flush()
}

func (f *lineFile) close() (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.done || f.file == nil {
		f.done = true
		return f.count, nil
	}
	f.done = true

	flushErr := f.w.Flush()
	closeErr := f.file.Close()
	return f.count, errors.Join(flushErr, closeErr)
}
