package main

import (
	"compress/gzip"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"bskycrawler/pkg/bluesky"
)

// mockPDS simulates the identity service and the PDS of one account.
// Search results are served per query as a list of pages chained by cursors.
type mockPDS struct {
	server *httptest.Server

	mu             sync.RWMutex
	pages          map[string][]mockPage             // query -> pages
	profiles       map[string]map[string]interface{} // did -> profile view
	errorResponses map[string]int                    // path or actor -> status
	transient      map[string]int                    // path -> remaining 429 responses
	rejectLogin    bool

	requestCount   int32
	rateLimitHits  int32
	deleteSessions int32
	searchRequests int32
	profileFetches map[string]int
}

type mockPage struct {
	posts []map[string]interface{}
}

func newMockPDS(t *testing.T) *mockPDS {
	t.Helper()
	m := &mockPDS{
		pages:          make(map[string][]mockPage),
		profiles:       make(map[string]map[string]interface{}),
		errorResponses: make(map[string]int),
		transient:      make(map[string]int),
		profileFetches: make(map[string]int),
	}

	mux := http.NewServeMux()
	mux.HandleFunc(bluesky.CreateSessionPath, m.handleCreateSession)
	mux.HandleFunc(bluesky.DeleteSessionPath, m.handleDeleteSession)
	mux.HandleFunc(bluesky.SearchPostsPath, m.handleSearch)
	mux.HandleFunc(bluesky.GetProfilePath, m.handleProfile)

	m.server = httptest.NewServer(mux)
	t.Cleanup(m.server.Close)
	return m
}

func (m *mockPDS) URL() string {
	return m.server.URL
}

// AddQuery registers the result pages of a query
func (m *mockPDS) AddQuery(query string, pages ...[]map[string]interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range pages {
		m.pages[query] = append(m.pages[query], mockPage{posts: p})
	}
}

// AddProfile registers a profile for getProfile
func (m *mockPDS) AddProfile(did, handle string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.profiles[did] = map[string]interface{}{
		"did":            did,
		"handle":         handle,
		"displayName":    strings.ToUpper(handle),
		"createdAt":      "2023-04-01T00:00:00.000Z",
		"indexedAt":      "2024-01-01T00:00:00.000Z",
		"postsCount":     12,
		"followersCount": 34,
		"followsCount":   56,
	}
}

// SetErrorResponse makes a path, or the profile of one actor, fail with code
func (m *mockPDS) SetErrorResponse(key string, code int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errorResponses[key] = code
}

// RateLimitNext answers the next n requests to path with 429
func (m *mockPDS) RateLimitNext(path string, n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.transient[path] = n
}

func (m *mockPDS) RejectLogin() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rejectLogin = true
}

func (m *mockPDS) ProfileFetches(did string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.profileFetches[did]
}

func (m *mockPDS) preflight(w http.ResponseWriter, r *http.Request, keys ...string) bool {
	atomic.AddInt32(&m.requestCount, 1)

	if r.Header.Get("Authorization") != "Bearer access-jwt" {
		m.sendError(w, http.StatusUnauthorized, "ExpiredToken")
		return false
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if n := m.transient[r.URL.Path]; n > 0 {
		m.transient[r.URL.Path] = n - 1
		atomic.AddInt32(&m.rateLimitHits, 1)
		m.sendError(w, http.StatusTooManyRequests, "RateLimitExceeded")
		return false
	}
	for _, k := range append([]string{r.URL.Path}, keys...) {
		if code := m.errorResponses[k]; code != 0 {
			m.sendError(w, code, "InternalServerError")
			return false
		}
	}
	return true
}

func (m *mockPDS) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	atomic.AddInt32(&m.requestCount, 1)

	var req struct {
		Identifier string `json:"identifier"`
		Password   string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		m.sendError(w, http.StatusBadRequest, "InvalidRequest")
		return
	}

	m.mu.RLock()
	reject := m.rejectLogin
	m.mu.RUnlock()
	if reject || req.Password != "abcd-efgh-ijkl-mnop" {
		m.sendError(w, http.StatusUnauthorized, "AuthenticationRequired")
		return
	}

	writeJSON(w, r, map[string]interface{}{
		"did":        "did:plc:crawler",
		"handle":     req.Identifier,
		"accessJwt":  "access-jwt",
		"refreshJwt": "refresh-jwt",
		"didDoc": map[string]interface{}{
			"id": "did:plc:crawler",
			"service": []map[string]string{
				{"id": "#atproto_pds", "type": "AtprotoPersonalDataServer", "serviceEndpoint": m.server.URL},
			},
		},
	})
}

func (m *mockPDS) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	atomic.AddInt32(&m.requestCount, 1)
	atomic.AddInt32(&m.deleteSessions, 1)
	if r.Header.Get("Authorization") != "Bearer refresh-jwt" {
		m.sendError(w, http.StatusUnauthorized, "InvalidToken")
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (m *mockPDS) handleSearch(w http.ResponseWriter, r *http.Request) {
	atomic.AddInt32(&m.searchRequests, 1)
	if !m.preflight(w, r) {
		return
	}

	query := r.URL.Query().Get("q")
	page := 0
	if cursor := r.URL.Query().Get("cursor"); cursor != "" {
		fmt.Sscanf(cursor, "page-%d", &page)
	}

	m.mu.RLock()
	pages := m.pages[query]
	m.mu.RUnlock()

	body := map[string]interface{}{"posts": []map[string]interface{}{}}
	if page < len(pages) {
		body["posts"] = pages[page].posts
		if page+1 < len(pages) {
			body["cursor"] = fmt.Sprintf("page-%d", page+1)
		}
	}
	writeJSON(w, r, body)
}

func (m *mockPDS) handleProfile(w http.ResponseWriter, r *http.Request) {
	actor := r.URL.Query().Get("actor")

	m.mu.Lock()
	m.profileFetches[actor]++
	m.mu.Unlock()

	if !m.preflight(w, r, actor) {
		return
	}

	m.mu.RLock()
	profile, ok := m.profiles[actor]
	m.mu.RUnlock()
	if !ok {
		m.sendError(w, http.StatusBadRequest, "InvalidRequest")
		return
	}
	writeJSON(w, r, profile)
}

// sendError writes an XRPC error body
func (m *mockPDS) sendError(w http.ResponseWriter, code int, name string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{
		"error":   name,
		"message": fmt.Sprintf("mock %s", name),
	})
}

// writeJSON gzips the body when the client accepts it
func writeJSON(w http.ResponseWriter, r *http.Request, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if !strings.Contains(r.Header.Get("Accept-Encoding"), "gzip") {
		json.NewEncoder(w).Encode(v)
		return
	}
	w.Header().Set("Content-Encoding", "gzip")
	gz := gzip.NewWriter(w)
	defer gz.Close()
	json.NewEncoder(gz).Encode(v)
}

// mockPost builds a post view by author
func mockPost(n int, authorDID string) map[string]interface{} {
	return map[string]interface{}{
		"uri":         fmt.Sprintf("at://%s/app.bsky.feed.post/%d", authorDID, n),
		"cid":         fmt.Sprintf("bafy%d", n),
		"author":      map[string]interface{}{"did": authorDID, "handle": strings.TrimPrefix(authorDID, "did:plc:") + ".test"},
		"record":      map[string]interface{}{"text": fmt.Sprintf("post %d", n), "createdAt": "2024-05-01T10:00:00.000Z", "langs": []string{"en"}},
		"indexedAt":   "2024-05-01T10:00:01.000Z",
		"replyCount":  1,
		"repostCount": 2,
		"likeCount":   3,
		"quoteCount":  0,
	}
}
