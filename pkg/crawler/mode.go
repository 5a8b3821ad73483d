package crawler

import (
	"fmt"
	"strings"

	errs "bskycrawler/pkg/errors"
)

// Mode selects which record stream a run populates
type Mode int

const (
	// ModePosts writes every post found by the search queries
	ModePosts Mode = iota
	// ModeUsers fetches the profile of every distinct author found by the search queries
	ModeUsers
)

func (m Mode) String() string {
	switch m {
	case ModePosts:
		return "posts"
	case ModeUsers:
		return "users"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// ParseMode converts a configured mode name
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "posts", "":
		return ModePosts, nil
	case "users":
		return ModeUsers, nil
	default:
		return 0, errs.NewConfigurationError(fmt.Sprintf("invalid crawl mode %q (expected posts or users)", s), nil)
	}
}

// State is the lifecycle position of a run
type State int32

const (
	StateUnauthenticated State = iota
	StateSessionActive
	StateCrawling
	StateDraining
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUnauthenticated:
		return "unauthenticated"
	case StateSessionActive:
		return "session_active"
	case StateCrawling:
		return "crawling"
	case StateDraining:
		return "draining"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}
