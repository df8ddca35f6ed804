package cost

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/magi-project/magi/internal/observability"
)

// GlobalCostSnapshot is the aggregated view across every tracked process,
// emitted after every cost update per spec §3/§4.10.
type GlobalCostSnapshot struct {
	TotalCost      float64
	LastMinuteCost float64
	TokensIn       int64
	TokensOut      int64
	ModelBreakdown map[string]ModelBreakdown
	CostPerMinute  float64
	NumProcesses   int
	SystemStartTime time.Time
	Now            time.Time
}

// DailyLimitFile is the persisted `{ dailyLimit: number | null }` document
// named in spec §6, loaded on every cost update (subject to the fsnotify
// cache-invalidation optimization described in SPEC_FULL.md).
type DailyLimitFile struct {
	DailyLimit *float64 `json:"dailyLimit"`
}

// Aggregator is the controller-side Cost Aggregator & Limit Enforcer (C3 /
// spec §4.10). It owns the Tracker, the system start time, and the
// over-limit/approaching-limit flagging state machine.
type Aggregator struct {
	tracker         *Tracker
	systemStartTime time.Time
	logger          *observability.Logger
	metrics         *Metrics

	limitPath string

	mu                 sync.Mutex
	cachedLimit        *float64
	limitLoaded        bool
	overLimitFlagged   bool
	lastApproachWarnAt time.Time

	onWarning func(message string, exceeded bool)
}

// Metrics is the subset of observability.Metrics the aggregator updates.
// Declared as an interface-shaped struct of function fields so tests can
// supply a no-op without importing prometheus.
type Metrics struct {
	SetCostPerMinute func(float64)
	AddCostTotal     func(float64)
	WarningEmitted   func(kind string)
}

// NewAggregator wires a Tracker to limit-file path and a warning sink. now
// is the controller's start time (spec's systemStartTime).
func NewAggregator(tracker *Tracker, now time.Time, limitPath string, logger *observability.Logger, metrics *Metrics, onWarning func(message string, exceeded bool)) *Aggregator {
	if metrics == nil {
		metrics = &Metrics{SetCostPerMinute: func(float64) {}, AddCostTotal: func(float64) {}, WarningEmitted: func(string) {}}
	}
	return &Aggregator{
		tracker:         tracker,
		systemStartTime: now,
		logger:          logger,
		metrics:         metrics,
		limitPath:       limitPath,
		onWarning:       onWarning,
	}
}

// Snapshot computes the GlobalCostSnapshot: total, last_min, tokens, and
// per-model sums across every process, plus costPerMinute =
// total/elapsedMinutes (0 if elapsed is effectively zero).
func (a *Aggregator) Snapshot(now time.Time) GlobalCostSnapshot {
	states := a.tracker.All(now)

	snap := GlobalCostSnapshot{
		ModelBreakdown:  make(map[string]ModelBreakdown),
		SystemStartTime: a.systemStartTime,
		Now:             now,
		NumProcesses:    len(states),
	}

	for _, s := range states {
		snap.TotalCost += s.TotalCost
		snap.LastMinuteCost += s.LastMinuteCost
		snap.TokensIn += s.TokensIn
		snap.TokensOut += s.TokensOut
		for model, mb := range s.ModelBreakdown {
			agg := snap.ModelBreakdown[model]
			agg.Cost += mb.Cost
			agg.Calls += mb.Calls
			snap.ModelBreakdown[model] = agg
		}
	}

	elapsedMinutes := now.Sub(a.systemStartTime).Minutes()
	if elapsedMinutes > 1.0/60000.0 {
		snap.CostPerMinute = snap.TotalCost / elapsedMinutes
	}

	a.metrics.SetCostPerMinute(snap.CostPerMinute)
	return snap
}

// RecordAndCheck applies a cost event for processID then runs the daily
// limit check described in spec §4.10, invoking onWarning for any
// newly-crossed threshold. Call this once per inbound cost_update event;
// it records the event into the per-process state itself via the Tracker.
func (a *Aggregator) RecordAndCheck(processID string, ev UsageEvent, now time.Time) GlobalCostSnapshot {
	state := a.tracker.RecordUpdate(processID, ev, now)
	_ = state
	a.metrics.AddCostTotal(ev.Cost)

	snap := a.Snapshot(now)
	a.checkDailyLimit(snap, now)
	return snap
}

func (a *Aggregator) loadDailyLimit() *float64 {
	if a.limitPath == "" {
		return nil
	}
	data, err := os.ReadFile(a.limitPath)
	if err != nil {
		return nil
	}
	var doc DailyLimitFile
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil
	}
	return doc.DailyLimit
}

// InvalidateLimitCache drops the cached daily limit so the next check
// re-reads the file.
func (a *Aggregator) InvalidateLimitCache() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.limitLoaded = false
	a.cachedLimit = nil
}

// WatchLimitFile watches limitPath's directory (fsnotify doesn't reliably
// track a single file across editor-style rename-replace writes, and the
// file may not exist yet at startup) and invalidates the cached daily limit
// on every write or create, so spec §4.10's "loaded on every cost update"
// is satisfied without a stat+read on every single cost event. A no-op
// stop func and nil error are returned when no limit file is configured.
func (a *Aggregator) WatchLimitFile(logger *observability.Logger) (stop func(), err error) {
	if a.limitPath == "" {
		return func() {}, nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	done := make(chan struct{})
	go func() {
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Name != a.limitPath {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove) != 0 {
					a.InvalidateLimitCache()
				}
			case werr, ok := <-watcher.Errors:
				if !ok {
					return
				}
				if logger != nil {
					logger.Warn(context.Background(), "cost: limit file watch error", "error", werr)
				}
			case <-done:
				return
			}
		}
	}()

	dir := filepath.Dir(a.limitPath)
	if err := watcher.Add(dir); err != nil {
		close(done)
		_ = watcher.Close()
		return nil, err
	}

	return func() {
		close(done)
		_ = watcher.Close()
	}, nil
}

func (a *Aggregator) effectiveLimit() *float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.limitLoaded {
		a.cachedLimit = a.loadDailyLimit()
		a.limitLoaded = true
	}
	return a.cachedLimit
}

func (a *Aggregator) checkDailyLimit(snap GlobalCostSnapshot, now time.Time) {
	limit := a.effectiveLimit()
	if limit == nil {
		return
	}

	a.mu.Lock()
	wasOver := a.overLimitFlagged
	lastWarn := a.lastApproachWarnAt
	a.mu.Unlock()

	switch {
	case snap.TotalCost > *limit:
		if !wasOver {
			a.mu.Lock()
			a.overLimitFlagged = true
			a.mu.Unlock()
			a.metrics.WarningEmitted("exceeded")
			if a.onWarning != nil {
				a.onWarning("daily cost limit exceeded", true)
			}
			if a.logger != nil {
				a.logger.Warn(context.Background(), "daily cost limit exceeded", "total", snap.TotalCost, "limit", *limit)
			}
		}
	case snap.TotalCost > 0.8*(*limit):
		if now.Sub(lastWarn) >= 60*time.Second {
			a.mu.Lock()
			a.lastApproachWarnAt = now
			a.mu.Unlock()
			a.metrics.WarningEmitted("approaching")
			if a.onWarning != nil {
				a.onWarning("approaching daily cost limit", false)
			}
		}
	default:
		if wasOver {
			a.mu.Lock()
			a.overLimitFlagged = false
			a.mu.Unlock()
		}
	}
}
