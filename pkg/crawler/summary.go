package crawler

import (
	"sync"
	"sync/atomic"
	"time"

	"bskycrawler/internal/engine"
)

// SkippedPage is a request that produced no records
type SkippedPage struct {
	URL   string `json:"url"`
	Label string `json:"label"`
	Error string `json:"error"`
}

// Summary describes a finished run
type Summary struct {
	RunID            string
	Mode             Mode
	Queries          []string
	Handle           string
	StartedAt        time.Time
	Duration         time.Duration
	SearchPages      int64
	EmptyPages       int64
	PostsWritten     int64
	DuplicatePosts   int64
	ProfileRequests  int64
	ProfilesWritten  int64
	Continuations    int64
	MalformedEntries int64
	SinkErrors       int64
	SkippedPages     []SkippedPage
	Engine           engine.Stats
	// TeardownErr is set when the session could not be destroyed. It never fails the run.
	TeardownErr error
}

// counters are updated from concurrent response callbacks
type counters struct {
	searchPages      atomic.Int64
	emptyPages       atomic.Int64
	postsWritten     atomic.Int64
	duplicatePosts   atomic.Int64
	profileRequests  atomic.Int64
	profilesWritten  atomic.Int64
	continuations    atomic.Int64
	malformedEntries atomic.Int64
	sinkErrors       atomic.Int64

	mu      sync.Mutex
	skipped []SkippedPage
}

func (c *counters) skip(req engine.Request, err error) {
	c.mu.Lock()
	c.skipped = append(c.skipped, SkippedPage{URL: req.URL, Label: req.Label, Error: err.Error()})
	c.mu.Unlock()
}

func (c *counters) fill(s *Summary) {
	s.SearchPages = c.searchPages.Load()
	s.EmptyPages = c.emptyPages.Load()
	s.PostsWritten = c.postsWritten.Load()
	s.DuplicatePosts = c.duplicatePosts.Load()
	s.ProfileRequests = c.profileRequests.Load()
	s.ProfilesWritten = c.profilesWritten.Load()
	s.Continuations = c.continuations.Load()
	s.MalformedEntries = c.malformedEntries.Load()
	s.SinkErrors = c.sinkErrors.Load()

	c.mu.Lock()
	s.SkippedPages = append([]SkippedPage(nil), c.skipped...)
	c.mu.Unlock()
}

// Records returns the number of records written in the run's mode
func (s *Summary) Records() int64 {
	if s.Mode == ModeUsers {
		return s.ProfilesWritten
	}
	return s.PostsWritten
}
