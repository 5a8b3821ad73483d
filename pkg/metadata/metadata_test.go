package metadata

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bskycrawler/internal/engine"
	"bskycrawler/pkg/crawler"
)

func sampleSummary(runID string, started time.Time) *crawler.Summary {
	return &crawler.Summary{
		RunID:           runID,
		Mode:            crawler.ModeUsers,
		Queries:         []string{"python", "golang"},
		Handle:          "me.test",
		StartedAt:       started,
		Duration:        1500 * time.Millisecond,
		SearchPages:     4,
		Continuations:   2,
		ProfileRequests: 9,
		ProfilesWritten: 8,
		SkippedPages: []crawler.SkippedPage{
			{URL: "https://pds.test/xrpc/app.bsky.actor.getProfile?actor=did%3Aplc%3Ax", Label: "user", Error: "status 502"},
		},
		Engine:      engine.Stats{Submitted: 13, Succeeded: 12, Failed: 1, Retries: 3, Rejected: 2},
		TeardownErr: errors.New("deleteSession: 500"),
	}
}

func TestFromSummary(t *testing.T) {
	started := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	m := FromSummary(sampleSummary("run-a", started), "sqlite", []string{"data/bskycrawler.db"}, nil)

	assert.Equal(t, "run-a", m.RunID)
	assert.Equal(t, "users", m.Mode)
	assert.Equal(t, started.Add(1500*time.Millisecond), m.FinishedAt)
	assert.Equal(t, "1.5s", m.Duration)
	assert.Equal(t, int64(8), m.Counts.ProfilesWritten)
	assert.Equal(t, int64(13), m.Counts.Requests)
	assert.Equal(t, int64(2), m.Counts.OverBudget)
	assert.Equal(t, "deleteSession: 500", m.TeardownErr)
	assert.Empty(t, m.Error)
	require.Len(t, m.SkippedPages, 1)

	failed := FromSummary(sampleSummary("run-b", started), "json", nil, errors.New("authentication failed"))
	assert.Equal(t, "authentication failed", failed.Error)
}

func TestSaveAndLoad(t *testing.T) {
	dir := t.TempDir()
	started := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	m := FromSummary(sampleSummary("abc", started), "json", []string{"posts.json", "users.json"}, nil)

	path, err := m.Save(dir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "run-abc.json"), path)

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, m.RunID, loaded.RunID)
	assert.Equal(t, m.Counts, loaded.Counts)
	assert.True(t, m.StartedAt.Equal(loaded.StartedAt))
	assert.Equal(t, m.SkippedPages, loaded.SkippedPages)

	_, err = (&RunManifest{}).Save(dir)
	assert.Error(t, err)
}

func TestListAndPrune(t *testing.T) {
	dir := t.TempDir()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	for i, id := range []string{"one", "two", "three"} {
		m := FromSummary(sampleSummary(id, base.Add(time.Duration(i)*time.Hour)), "jsonl", nil, nil)
		_, err := m.Save(dir)
		require.NoError(t, err)
	}
	// Files that are not manifests are left alone
	require.NoError(t, os.WriteFile(filepath.Join(dir, "posts.json"), []byte("[]"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "run-broken.json"), []byte("{"), 0644))

	manifests, err := List(dir)
	require.NoError(t, err)
	require.Len(t, manifests, 3)
	assert.Equal(t, []string{"three", "two", "one"}, []string{manifests[0].RunID, manifests[1].RunID, manifests[2].RunID})

	removed, err := Prune(dir, 1)
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	manifests, err = List(dir)
	require.NoError(t, err)
	require.Len(t, manifests, 1)
	assert.Equal(t, "three", manifests[0].RunID)
	assert.FileExists(t, filepath.Join(dir, "posts.json"))
}

func TestListMissingDirectory(t *testing.T) {
	manifests, err := List(filepath.Join(t.TempDir(), "absent"))
	require.NoError(t, err)
	assert.Empty(t, manifests)
}
