package crawler

import (
	"sync"

	"bskycrawler/internal/engine"
	"bskycrawler/pkg/bluesky"
)

// seenSet is a set with an atomic check-and-insert
type seenSet struct {
	mu    sync.Mutex
	items map[string]struct{}
}

func newSeenSet() *seenSet {
	return &seenSet{items: make(map[string]struct{})}
}

// Add inserts key and reports whether it was absent
func (s *seenSet) Add(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[key]; ok {
		return false
	}
	s.items[key] = struct{}{}
	return true
}

func (s *seenSet) Remove(key string) {
	s.mu.Lock()
	delete(s.items, key)
	s.mu.Unlock()
}

// ProfileEmitter hands out at most one profile request per author DID for the lifetime of a run
type ProfileEmitter struct {
	endpoint string
	headers  map[string]string
	seen     *seenSet
}

// NewProfileEmitter creates an emitter for profile requests against endpoint.
// headers are attached to every request it emits.
func NewProfileEmitter(endpoint string, headers map[string]string) (*ProfileEmitter, error) {
	if err := bluesky.ValidateEndpoint(endpoint); err != nil {
		return nil, err
	}
	return &ProfileEmitter{
		endpoint: endpoint,
		headers:  headers,
		seen:     newSeenSet(),
	}, nil
}

// Offer returns a profile request the first time did is offered, and false afterwards.
// It is safe for concurrent use.
func (e *ProfileEmitter) Offer(did string) (engine.Request, bool) {
	if did == "" || !e.seen.Add(did) {
		return engine.Request{}, false
	}

	u, err := bluesky.BuildProfileURL(e.endpoint, did)
	if err != nil {
		e.seen.Remove(did)
		return engine.Request{}, false
	}

	return engine.Request{
		URL:       u,
		Label:     LabelUser,
		UniqueKey: LabelUser + ":" + did,
		Headers:   e.headers,
	}, true
}
