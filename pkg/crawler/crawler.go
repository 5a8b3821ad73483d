package crawler

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"bskycrawler/internal/engine"
	"bskycrawler/pkg/bluesky"
	errs "bskycrawler/pkg/errors"
	"bskycrawler/pkg/logger"
)

// Request labels
const (
	LabelSearch = "search"
	LabelUser   = "user"
)

// teardownTimeout bounds deleteSession once the crawl is over
const teardownTimeout = 15 * time.Second

// DefaultQueries are searched when a run is started without queries
var DefaultQueries = []string{"python", "apify", "crawlee"}

// ErrRunStarted is returned when Run is called on a crawler that already ran
var ErrRunStarted = errors.New("crawler: run already started")

// Options configures a Crawler
type Options struct {
	Mode    Mode
	Queries []string
	// RunID tags the run. A random UUID is used when empty.
	RunID  string
	Logger logger.Logger
}

// Crawler drives one crawl run: it authenticates, seeds the engine with one search
// per query, classifies every response and feeds follow-up requests back to the engine.
type Crawler struct {
	sessions SessionManager
	engine   Engine
	posts    PostSink
	users    UserSink
	mode     Mode
	queries  []string
	logger   logger.Logger

	state    atomic.Int32
	started  atomic.Bool
	runID    string
	headers  map[string]string
	emitter  *ProfileEmitter
	seenURIs *seenSet
	counters counters
}

// New creates a crawler. The sink for the selected mode is required.
func New(sessions SessionManager, eng Engine, posts PostSink, users UserSink, opts Options) (*Crawler, error) {
	if sessions == nil || eng == nil {
		return nil, errs.NewConfigurationError("crawler needs a session manager and an engine", nil)
	}
	switch opts.Mode {
	case ModePosts:
		if posts == nil {
			return nil, errs.NewConfigurationError("posts mode needs a post sink", nil)
		}
	case ModeUsers:
		if users == nil {
			return nil, errs.NewConfigurationError("users mode needs a user sink", nil)
		}
	default:
		return nil, errs.NewConfigurationError(fmt.Sprintf("invalid crawl mode %s", opts.Mode), nil)
	}

	queries := make([]string, 0, len(opts.Queries))
	for _, q := range opts.Queries {
		if q != "" {
			queries = append(queries, q)
		}
	}
	if len(queries) == 0 {
		queries = append(queries, DefaultQueries...)
	}

	log := opts.Logger
	if log == nil {
		log = logger.GetLogger()
	}

	runID := opts.RunID
	if runID == "" {
		runID = uuid.NewString()
	}
	return &Crawler{
		sessions: sessions,
		engine:   eng,
		posts:    posts,
		users:    users,
		mode:     opts.Mode,
		queries:  queries,
		runID:    runID,
		logger:   log.WithFields(map[string]interface{}{"run_id": runID, "mode": opts.Mode.String()}),
		seenURIs: newSeenSet(),
	}, nil
}

// RunID identifies this run in logs and stored rows
func (c *Crawler) RunID() string {
	return c.runID
}

// State returns the current lifecycle state
func (c *Crawler) State() State {
	return State(c.state.Load())
}

func (c *Crawler) setState(s State) {
	c.state.Store(int32(s))
	c.logger.DebugWithFields("crawl state changed", map[string]interface{}{"state": s.String()})
}

// Progress returns the counters of a run in progress
func (c *Crawler) Progress() Summary {
	s := Summary{RunID: c.runID, Mode: c.mode, Queries: c.queries}
	c.counters.fill(&s)
	return s
}

// Run executes the crawl. An authentication or configuration failure aborts the run;
// failed pages are skipped and listed in the summary. Once a session exists it is
// destroyed before Run returns, whatever the outcome.
func (c *Crawler) Run(ctx context.Context, identifier, password string) (summary *Summary, err error) {
	if !c.started.CompareAndSwap(false, true) {
		return nil, ErrRunStarted
	}

	summary = &Summary{
		RunID:     c.runID,
		Mode:      c.mode,
		Queries:   c.queries,
		StartedAt: time.Now(),
	}

	session, err := c.sessions.CreateSession(ctx, identifier, password)
	if err != nil {
		c.logger.WithError(err).Error("Session creation failed")
		return summary, err
	}
	c.headers = map[string]string{"Authorization": "Bearer " + session.AccessToken()}
	summary.Handle = session.Handle()
	c.setState(StateSessionActive)
	c.logger.InfoWithFields("Session created", map[string]interface{}{
		"handle":   session.Handle(),
		"endpoint": session.ServiceEndpoint(),
	})

	defer func() {
		c.setState(StateDraining)
		summary.TeardownErr = c.teardown(ctx, session)
		c.counters.fill(summary)
		summary.Duration = time.Since(summary.StartedAt)
		c.setState(StateClosed)
	}()

	c.emitter, err = NewProfileEmitter(session.ServiceEndpoint(), c.headers)
	if err != nil {
		return summary, err
	}

	seeds := make([]engine.Request, 0, len(c.queries))
	for _, q := range c.queries {
		u, err := bluesky.BuildSearchURL(session.ServiceEndpoint(), q, "")
		if err != nil {
			return summary, err
		}
		seeds = append(seeds, engine.Request{URL: u, Label: LabelSearch, Headers: c.headers})
	}

	c.setState(StateCrawling)
	c.logger.InfoWithFields("Starting crawl", map[string]interface{}{
		"queries": c.queries,
	})

	stats, err := c.engine.Run(ctx, seeds, c.handle, c.onFailure)
	summary.Engine = stats
	if err != nil {
		c.logger.WithError(err).Warn("Crawl stopped early")
		return summary, err
	}
	return summary, nil
}

// teardown destroys the session. Failures are logged and returned for the summary only.
func (c *Crawler) teardown(ctx context.Context, session *bluesky.Session) error {
	tctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), teardownTimeout)
	defer cancel()

	if err := c.sessions.DestroySession(tctx, session); err != nil {
		c.logger.WithError(err).Warn("Session teardown failed")
		return err
	}
	c.logger.Debug("Session destroyed")
	return nil
}

// handle is the engine callback. It may run concurrently for several responses.
func (c *Crawler) handle(ctx context.Context, resp *engine.Response) error {
	switch resp.Request.Label {
	case LabelSearch:
		return c.handleSearch(ctx, resp)
	case LabelUser:
		return c.handleProfile(ctx, resp)
	default:
		return errs.NewConfigurationError(fmt.Sprintf("unknown request label %q", resp.Request.Label), nil)
	}
}

func (c *Crawler) handleSearch(ctx context.Context, resp *engine.Response) error {
	req := resp.Request
	c.logger.Info("Processing search " + req.URL)
	c.counters.searchPages.Add(1)

	page, err := bluesky.ClassifySearchResponse(resp.Body)
	if err != nil {
		return err
	}

	if page.NoPosts {
		c.counters.emptyPages.Add(1)
		c.logger.WarnWithFields("No posts found in response", map[string]interface{}{"url": req.URL})
	}
	if page.CursorErr != nil {
		c.counters.malformedEntries.Add(1)
		c.logger.WithError(page.CursorErr).WarnWithFields("Ignoring malformed cursor", map[string]interface{}{"url": req.URL})
	}
	for _, skipped := range page.Skipped {
		c.counters.malformedEntries.Add(1)
		c.logger.WithError(skipped).WarnWithFields("Skipping malformed post", map[string]interface{}{"url": req.URL})
	}

	switch c.mode {
	case ModePosts:
		c.writePosts(ctx, req, page.Posts)
	case ModeUsers:
		for _, did := range page.Authors {
			profileReq, ok := c.emitter.Offer(did)
			if !ok {
				continue
			}
			if c.engine.Submit(profileReq) {
				c.counters.profileRequests.Add(1)
			}
		}
	}

	if page.Cursor != "" {
		c.continueSearch(req, page.Cursor)
	}
	return nil
}

func (c *Crawler) writePosts(ctx context.Context, req engine.Request, posts []bluesky.PostRecord) {
	fresh := make([]bluesky.PostRecord, 0, len(posts))
	for _, p := range posts {
		if c.seenURIs.Add(p.URI) {
			fresh = append(fresh, p)
		} else {
			c.counters.duplicatePosts.Add(1)
		}
	}
	if len(fresh) == 0 {
		return
	}

	if err := c.posts.WritePosts(ctx, fresh); err != nil {
		// Unwritten posts must stay eligible when another page carries them
		for _, p := range fresh {
			c.seenURIs.Remove(p.URI)
		}
		c.counters.sinkErrors.Add(1)
		c.logger.WithError(err).ErrorWithFields("Failed to write posts", map[string]interface{}{
			"url":   req.URL,
			"count": len(fresh),
		})
		return
	}
	c.counters.postsWritten.Add(int64(len(fresh)))
	logger.LogPage(req.Label, req.URL, len(fresh), nil)
}

func (c *Crawler) continueSearch(req engine.Request, cursor string) {
	next, err := bluesky.WithCursor(req.URL, cursor)
	if err != nil {
		c.logger.WithError(err).ErrorWithFields("Failed to build next page", map[string]interface{}{"url": req.URL})
		return
	}

	if c.engine.Submit(engine.Request{URL: next, Label: LabelSearch, Headers: req.Headers}) {
		c.counters.continuations.Add(1)
		return
	}
	c.logger.DebugWithFields("Next page not queued", map[string]interface{}{
		"url":    next,
		"cursor": cursor,
	})
}

func (c *Crawler) handleProfile(ctx context.Context, resp *engine.Response) error {
	req := resp.Request
	c.logger.Info("Processing user " + req.URL)

	profile, err := bluesky.ClassifyProfileResponse(resp.Body)
	if err != nil {
		return err
	}

	if err := c.users.WriteProfile(ctx, *profile); err != nil {
		c.counters.sinkErrors.Add(1)
		c.logger.WithError(err).ErrorWithFields("Failed to write profile", map[string]interface{}{
			"url": req.URL,
			"did": profile.DID,
		})
		return nil
	}
	c.counters.profilesWritten.Add(1)
	logger.LogPage(req.Label, req.URL, 1, nil)
	return nil
}

// onFailure records a request that produced nothing
func (c *Crawler) onFailure(req engine.Request, err error) {
	c.counters.skip(req, err)
	c.logger.WithError(err).ErrorWithFields("Skipping page", map[string]interface{}{
		"url":   req.URL,
		"label": req.Label,
	})
}
