package ui

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"
)

const (
	ProgressBar   = "█"
	ProgressEmpty = "░"
	barWidth      = 20
)

// Progress is a point-in-time view of a crawl
type Progress struct {
	Handled  int64
	Failed   int64
	Queued   int64
	InFlight int64
	Records  int64
	Retries  int64
}

// StatusTracker keeps track of crawl progress against the request budget
type StatusTracker struct {
	mu        sync.Mutex
	budget    int
	current   Progress
	StartTime time.Time
}

// NewStatusTracker creates a tracker. A budget of 0 means unbounded.
func NewStatusTracker(budget int) *StatusTracker {
	return &StatusTracker{
		budget:    budget,
		StartTime: time.Now(),
	}
}

// Update replaces the tracked progress
func (st *StatusTracker) Update(p Progress) {
	st.mu.Lock()
	st.current = p
	st.mu.Unlock()
}

// Current returns the last recorded progress
func (st *StatusTracker) Current() Progress {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.current
}

// GetBudgetProgress returns a progress bar of requests finished against the budget
func (st *StatusTracker) GetBudgetProgress() string {
	p := st.Current()
	done := p.Handled + p.Failed

	if st.budget <= 0 {
		return fmt.Sprintf("[%s] %d", strings.Repeat(ProgressEmpty, barWidth), done)
	}

	ratio := float64(done) / float64(st.budget)
	if ratio > 1 {
		ratio = 1
	}
	filled := int(ratio * barWidth)

	bar := strings.Repeat(ProgressBar, filled) + strings.Repeat(ProgressEmpty, barWidth-filled)
	return fmt.Sprintf("[%s] %d/%d", bar, done, st.budget)
}

// GetElapsedTime returns the elapsed time since tracking started
func (st *StatusTracker) GetElapsedTime() time.Duration {
	return time.Since(st.StartTime)
}

// GetRequestRate returns finished requests per minute
func (st *StatusTracker) GetRequestRate() float64 {
	elapsed := st.GetElapsedTime().Minutes()
	if elapsed == 0 {
		return 0
	}
	p := st.Current()
	return float64(p.Handled+p.Failed) / elapsed
}

// PrintProgress writes a single status line, overwriting the previous one
func (st *StatusTracker) PrintProgress(w io.Writer) {
	p := st.Current()
	fmt.Fprintf(w, "\r%s %s | records %d | queued %d | in flight %d | failed %d | %.0f req/min | %s",
		Green("[CRAWLING]"),
		st.GetBudgetProgress(),
		p.Records,
		p.Queued,
		p.InFlight,
		p.Failed,
		st.GetRequestRate(),
		Dim(FormatDuration(st.GetElapsedTime())))
}

// Watch polls for progress and prints it every interval until ctx is done
func (st *StatusTracker) Watch(ctx context.Context, w io.Writer, interval time.Duration, poll func() Progress) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			st.Update(poll())
			st.PrintProgress(w)
			fmt.Fprintln(w)
			return
		case <-ticker.C:
			st.Update(poll())
			st.PrintProgress(w)
		}
	}
}

// FormatDuration formats a duration as 1h02m03s, 2m03s or 3s
func FormatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60

	switch {
	case h > 0:
		return fmt.Sprintf("%dh%02dm%02ds", h, m, s)
	case m > 0:
		return fmt.Sprintf("%dm%02ds", m, s)
	default:
		return fmt.Sprintf("%ds", s)
	}
}
