package metadata

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"bskycrawler/pkg/crawler"
	"bskycrawler/pkg/storage"
)

const (
	manifestPrefix = "run-"
	manifestExt    = ".json"
)

// RunManifest is the sidecar written next to the datasets of one crawl run
type RunManifest struct {
	// Core identifiers
	RunID   string   `json:"run_id"`
	Mode    string   `json:"mode"`
	Queries []string `json:"queries"`
	Handle  string   `json:"handle,omitempty"`

	// Timestamps
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Duration   string    `json:"duration"`

	// Output
	Format  string   `json:"format"`
	Outputs []string `json:"outputs,omitempty"`

	// Counts
	Counts Counts `json:"counts"`

	// Failures
	SkippedPages []crawler.SkippedPage `json:"skipped_pages,omitempty"`
	TeardownErr  string                `json:"teardown_error,omitempty"`
	Error        string                `json:"error,omitempty"`
}

// Counts are the record and request counters of a run
type Counts struct {
	SearchPages      int64 `json:"search_pages"`
	EmptyPages       int64 `json:"empty_pages"`
	Continuations    int64 `json:"continuations"`
	PostsWritten     int64 `json:"posts_written"`
	DuplicatePosts   int64 `json:"duplicate_posts"`
	ProfileRequests  int64 `json:"profile_requests"`
	ProfilesWritten  int64 `json:"profiles_written"`
	MalformedEntries int64 `json:"malformed_entries"`
	SinkErrors       int64 `json:"sink_errors"`
	Requests         int64 `json:"requests"`
	Failed           int64 `json:"failed"`
	Retries          int64 `json:"retries"`
	OverBudget       int64 `json:"over_budget"`
}

// FromSummary converts a run summary. runErr is the error Run returned, if any.
func FromSummary(s *crawler.Summary, format string, outputs []string, runErr error) *RunManifest {
	m := &RunManifest{
		RunID:      s.RunID,
		Mode:       s.Mode.String(),
		Queries:    s.Queries,
		Handle:     s.Handle,
		StartedAt:  s.StartedAt,
		FinishedAt: s.StartedAt.Add(s.Duration),
		Duration:   s.Duration.Round(time.Millisecond).String(),
		Format:     format,
		Outputs:    outputs,
		Counts: Counts{
			SearchPages:      s.SearchPages,
			EmptyPages:       s.EmptyPages,
			Continuations:    s.Continuations,
			PostsWritten:     s.PostsWritten,
			DuplicatePosts:   s.DuplicatePosts,
			ProfileRequests:  s.ProfileRequests,
			ProfilesWritten:  s.ProfilesWritten,
			MalformedEntries: s.MalformedEntries,
			SinkErrors:       s.SinkErrors,
			Requests:         s.Engine.Submitted,
			Failed:           s.Engine.Failed,
			Retries:          s.Engine.Retries,
			OverBudget:       s.Engine.Rejected,
		},
		SkippedPages: s.SkippedPages,
	}

	if s.TeardownErr != nil {
		m.TeardownErr = s.TeardownErr.Error()
	}
	if runErr != nil {
		m.Error = runErr.Error()
	}

	return m
}

// Path returns where the manifest is stored under directory
func (m *RunManifest) Path(directory string) string {
	return filepath.Join(directory, manifestPrefix+m.RunID+manifestExt)
}

// Save writes the manifest to directory and returns its path
func (m *RunManifest) Save(directory string) (string, error) {
	if m.RunID == "" {
		return "", fmt.Errorf("manifest has no run ID")
	}

	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal manifest: %w", err)
	}

	path := m.Path(directory)
	if err := storage.WriteFileAtomic(path, append(data, '\n')); err != nil {
		return "", fmt.Errorf("failed to write manifest: %w", err)
	}

	return path, nil
}

// Load reads a manifest file
func Load(path string) (*RunManifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}

	var m RunManifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to unmarshal manifest: %w", err)
	}

	return &m, nil
}

// List returns the manifests in directory, newest first. Unreadable files are skipped.
func List(directory string) ([]*RunManifest, error) {
	entries, err := os.ReadDir(directory)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read directory: %w", err)
	}

	var manifests []*RunManifest
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, manifestPrefix) || filepath.Ext(name) != manifestExt {
			continue
		}
		m, err := Load(filepath.Join(directory, name))
		if err != nil {
			continue
		}
		manifests = append(manifests, m)
	}

	sort.Slice(manifests, func(i, j int) bool {
		return manifests[i].StartedAt.After(manifests[j].StartedAt)
	})
	return manifests, nil
}

// Prune keeps the newest keep manifests in directory and removes the rest
func Prune(directory string, keep int) (int, error) {
	manifests, err := List(directory)
	if err != nil {
		return 0, err
	}
	if keep < 0 {
		keep = 0
	}

	removed := 0
	for i := keep; i < len(manifests); i++ {
		if err := os.Remove(manifests[i].Path(directory)); err != nil && !os.IsNotExist(err) {
			return removed, fmt.Errorf("failed to remove manifest %s: %w", manifests[i].RunID, err)
		}
		removed++
	}
	return removed, nil
}
