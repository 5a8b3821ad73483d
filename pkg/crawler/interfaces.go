package crawler

import (
	"context"

	"bskycrawler/internal/engine"
	"bskycrawler/pkg/bluesky"
)

// SessionManager creates and destroys the authenticated session for a run
type SessionManager interface {
	CreateSession(ctx context.Context, identifier, password string) (*bluesky.Session, error)
	DestroySession(ctx context.Context, session *bluesky.Session) error
}

// Engine executes requests and calls back per response. One Engine serves one run.
type Engine interface {
	Submit(req engine.Request) bool
	Run(ctx context.Context, seeds []engine.Request, handle engine.Handler, onFailure engine.FailureHandler) (engine.Stats, error)
}

// PostSink receives post records. It may be called from several goroutines.
type PostSink interface {
	WritePosts(ctx context.Context, posts []bluesky.PostRecord) error
}

// UserSink receives profile records. It may be called from several goroutines.
type UserSink interface {
	WriteProfile(ctx context.Context, profile bluesky.ProfileRecord) error
}
