package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"bskycrawler/pkg/bluesky"
	"bskycrawler/pkg/logger"
)

// JSONSink collects records in memory and writes each dataset as an indented JSON array on Close
type JSONSink struct {
	postsPath string
	usersPath string
	logger    logger.Logger

	mu       sync.Mutex
	posts    []bluesky.PostRecord
	profiles []bluesky.ProfileRecord
	closed   bool
}

// NewJSONSink creates a sink writing posts and profiles to the given files
func NewJSONSink(postsPath, usersPath string, log logger.Logger) *JSONSink {
	if log == nil {
		log = logger.GetLogger()
	}
	return &JSONSink{
		postsPath: postsPath,
		usersPath: usersPath,
		logger:    log.WithField("component", "json_sink"),
	}
}

func (s *JSONSink) WritePosts(ctx context.Context, posts []bluesky.PostRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errSinkClosed
	}
	s.posts = append(s.posts, posts...)
	return nil
}

func (s *JSONSink) WriteProfile(ctx context.Context, profile bluesky.ProfileRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errSinkClosed
	}
	s.profiles = append(s.profiles, profile)
	return nil
}

// Close writes both datasets. A dataset with no records is written as an empty array.
func (s *JSONSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true

	posts := s.posts
	if posts == nil {
		posts = []bluesky.PostRecord{}
	}
	profiles := s.profiles
	if profiles == nil {
		profiles = []bluesky.ProfileRecord{}
	}
	return errors.Join(
		s.writeDataset(s.postsPath, posts, len(posts)),
		s.writeDataset(s.usersPath, profiles, len(profiles)),
	)
}

func (s *JSONSink) writeDataset(path string, records interface{}, count int) error {
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", path, err)
	}
	if err := WriteFileAtomic(path, append(data, '\n')); err != nil {
		return err
	}
	s.logger.InfoWithFields("Dataset written", map[string]interface{}{
		"path":    path,
		"records": count,
	})
	return nil
}

var errSinkClosed = errors.New("storage: sink is closed")
