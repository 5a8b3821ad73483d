package storage

import (
	"context"
	"sync"

	"bskycrawler/pkg/bluesky"
)

// MemorySink keeps records in memory
type MemorySink struct {
	mu       sync.Mutex
	posts    []bluesky.PostRecord
	profiles []bluesky.ProfileRecord
}

func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

func (m *MemorySink) WritePosts(ctx context.Context, posts []bluesky.PostRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.posts = append(m.posts, posts...)
	return nil
}

func (m *MemorySink) WriteProfile(ctx context.Context, profile bluesky.ProfileRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.profiles = append(m.profiles, profile)
	return nil
}

func (m *MemorySink) Close() error { return nil }

// Posts returns a copy of the stored posts
func (m *MemorySink) Posts() []bluesky.PostRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]bluesky.PostRecord(nil), m.posts...)
}

// Profiles returns a copy of the stored profiles
func (m *MemorySink) Profiles() []bluesky.ProfileRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]bluesky.ProfileRecord(nil), m.profiles...)
}
