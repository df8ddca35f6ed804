package cost

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func waitUntil(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition never became true")
}

func noopMetrics() *Metrics {
	return &Metrics{SetCostPerMinute: func(float64) {}, AddCostTotal: func(float64) {}, WarningEmitted: func(string) {}}
}

func TestAggregatorSnapshotSumsAcrossProcesses(t *testing.T) {
	reg := NewRegistry()
	tracker := NewTracker(reg)
	now := time.Now()

	agg := NewAggregator(tracker, now.Add(-time.Minute), "", nil, noopMetrics(), nil)

	tracker.RecordUpdate("p1", UsageEvent{ModelID: "m", Cost: 1.0}, now)
	tracker.RecordUpdate("p2", UsageEvent{ModelID: "m", Cost: 2.0}, now)

	snap := agg.Snapshot(now)
	require.InDelta(t, 3.0, snap.TotalCost, 0.0001)
	require.Equal(t, 2, snap.NumProcesses)
	require.Greater(t, snap.CostPerMinute, 0.0)
}

func TestAggregatorDailyLimitExceededWarnsOnce(t *testing.T) {
	dir := t.TempDir()
	limitPath := filepath.Join(dir, "dailyCostLimit.json")
	require.NoError(t, os.WriteFile(limitPath, []byte(`{"dailyLimit": 1.0}`), 0o644))

	reg := NewRegistry()
	tracker := NewTracker(reg)
	now := time.Now()

	var warnings []string
	agg := NewAggregator(tracker, now, limitPath, nil, noopMetrics(), func(msg string, exceeded bool) {
		warnings = append(warnings, msg)
	})

	agg.RecordAndCheck("p1", UsageEvent{ModelID: "m", Cost: 1.5}, now)
	agg.RecordAndCheck("p1", UsageEvent{ModelID: "m", Cost: 0.1}, now)

	require.Len(t, warnings, 1, "should only warn once while flagged")
}

func TestAggregatorApproachingLimitThrottled(t *testing.T) {
	dir := t.TempDir()
	limitPath := filepath.Join(dir, "dailyCostLimit.json")
	require.NoError(t, os.WriteFile(limitPath, []byte(`{"dailyLimit": 10.0}`), 0o644))

	reg := NewRegistry()
	tracker := NewTracker(reg)
	now := time.Now()

	var warnings int
	agg := NewAggregator(tracker, now, limitPath, nil, noopMetrics(), func(msg string, exceeded bool) {
		warnings++
	})

	agg.RecordAndCheck("p1", UsageEvent{ModelID: "m", Cost: 8.5}, now)
	agg.RecordAndCheck("p1", UsageEvent{ModelID: "m", Cost: 0.01}, now)

	require.Equal(t, 1, warnings, "second approaching-warning within 60s should be suppressed")
}

func TestAggregatorWatchLimitFilePicksUpEdit(t *testing.T) {
	dir := t.TempDir()
	limitPath := filepath.Join(dir, "dailyCostLimit.json")
	require.NoError(t, os.WriteFile(limitPath, []byte(`{"dailyLimit": 100.0}`), 0o644))

	reg := NewRegistry()
	tracker := NewTracker(reg)
	now := time.Now()

	var warnings []string
	agg := NewAggregator(tracker, now, limitPath, nil, noopMetrics(), func(msg string, exceeded bool) {
		warnings = append(warnings, msg)
	})

	agg.RecordAndCheck("p1", UsageEvent{ModelID: "m", Cost: 1.0}, now)
	require.Empty(t, warnings, "well under the original 100.0 limit")

	stop, err := agg.WatchLimitFile(nil)
	require.NoError(t, err)
	defer stop()

	require.NoError(t, os.WriteFile(limitPath, []byte(`{"dailyLimit": 0.5}`), 0o644))

	waitUntil(t, func() bool {
		limit := agg.effectiveLimit()
		return limit != nil && *limit == 0.5
	})

	agg.RecordAndCheck("p1", UsageEvent{ModelID: "m", Cost: 0.01}, now)
	require.Contains(t, warnings, "daily cost limit exceeded")
}

func TestAggregatorWatchLimitFileNoPathIsNoop(t *testing.T) {
	reg := NewRegistry()
	tracker := NewTracker(reg)
	agg := NewAggregator(tracker, time.Now(), "", nil, noopMetrics(), nil)

	stop, err := agg.WatchLimitFile(nil)
	require.NoError(t, err)
	stop()
}

func TestAggregatorNoLimitFileIsNoop(t *testing.T) {
	reg := NewRegistry()
	tracker := NewTracker(reg)
	now := time.Now()
	agg := NewAggregator(tracker, now, "", nil, noopMetrics(), func(string, bool) {
		t.Fatal("should not warn without a limit file")
	})
	agg.RecordAndCheck("p1", UsageEvent{ModelID: "m", Cost: 1000}, now)
}
