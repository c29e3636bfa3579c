package monitoring

import (
	"context"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/takeoff/internal/model"
	"github.com/sells-group/takeoff/internal/store"
)

// MetricsSnapshot holds a point-in-time view of takeoff run health.
type MetricsSnapshot struct {
	// Runs within the lookback window.
	RunsTotal     int     `json:"runs_total"`
	RunsComplete  int     `json:"runs_complete"`
	RunsBlocked   int     `json:"runs_blocked"`
	RunsFailed    int     `json:"runs_failed"`
	RunsCancelled int     `json:"runs_cancelled"`
	RunsActive    int     `json:"runs_active"`
	FailRate      float64 `json:"fail_rate"`
	BlockedRate   float64 `json:"blocked_rate"`

	// Rows of finished runs, from their summaries.
	RowsTotal    int     `json:"rows_total"`
	RowsApproved int     `json:"rows_approved"`
	RowsPending  int     `json:"rows_pending"`
	PendingShare float64 `json:"pending_share"`

	// Metadata.
	LookbackHours int       `json:"lookback_hours"`
	CollectedAt   time.Time `json:"collected_at"`
}

// RunLister is the part of the store the collector reads.
type RunLister interface {
	ListRuns(ctx context.Context, filter store.RunFilter) ([]model.Run, error)
}

// Collector gathers run metrics from the store.
type Collector struct {
	store RunLister
	now   func() time.Time
}

// NewCollector creates a new metrics collector.
func NewCollector(st RunLister) *Collector {
	return &Collector{store: st, now: time.Now}
}

// Collect gathers a snapshot over the given lookback window.
func (c *Collector) Collect(ctx context.Context, lookbackHours int) (*MetricsSnapshot, error) {
	if lookbackHours <= 0 {
		lookbackHours = 24
	}
	now := c.now().UTC()
	snap := &MetricsSnapshot{
		LookbackHours: lookbackHours,
		CollectedAt:   now,
	}

	runs, err := c.store.ListRuns(ctx, store.RunFilter{
		CreatedAfter: now.Add(-time.Duration(lookbackHours) * time.Hour),
		Limit:        10000,
	})
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list runs")
	}

	snap.RunsTotal = len(runs)
	for _, r := range runs {
		switch r.Status {
		case model.RunStatusComplete:
			snap.RunsComplete++
		case model.RunStatusBlocked:
			snap.RunsBlocked++
		case model.RunStatusFailed:
			snap.RunsFailed++
		case model.RunStatusCancelled:
			snap.RunsCancelled++
		default:
			snap.RunsActive++
		}
		if r.Summary == nil {
			continue
		}
		for status, n := range r.Summary.ByStatus {
			switch {
			case status == model.StatusTitle || status == model.StatusIgnored:
				continue
			case status == model.StatusApproved:
				snap.RowsApproved += n
			case strings.HasPrefix(string(status), "pending"):
				snap.RowsPending += n
			}
			snap.RowsTotal += n
		}
	}

	if finished := snap.finished(); finished > 0 {
		snap.FailRate = float64(snap.RunsFailed) / float64(finished)
		snap.BlockedRate = float64(snap.RunsBlocked) / float64(finished)
	}
	if snap.RowsTotal > 0 {
		snap.PendingShare = float64(snap.RowsPending) / float64(snap.RowsTotal)
	}
	return snap, nil
}

// finished counts runs that reached a terminal state other than cancelled.
func (s *MetricsSnapshot) finished() int {
	return s.RunsComplete + s.RunsBlocked + s.RunsFailed
}
