package cost

import (
	"sync"
	"time"
)

// windowDuration is the trailing interval over which last_min is computed.
const windowDuration = 60 * time.Second

// costPoint is one entry of a ProcessCostState's recentEvents sequence.
type costPoint struct {
	timestampMs int64
	cost        float64
}

// ModelBreakdown accumulates cost and call count for one model within a
// process's lifetime.
type ModelBreakdown struct {
	Cost  float64
	Calls int
}

// ProcessCostState is the per-process accumulator described in spec §3. It
// is lazily created on a process's first cost event and discarded when the
// process is forgotten.
type ProcessCostState struct {
	mu sync.Mutex

	StartTime  time.Time
	LastUpdate time.Time
	TotalCost  float64
	TokensIn   int64
	TokensOut  int64

	modelBreakdown map[string]*ModelBreakdown
	recentEvents   []costPoint
}

// NewProcessCostState creates a freshly zeroed accumulator.
func NewProcessCostState(now time.Time) *ProcessCostState {
	return &ProcessCostState{
		StartTime:      now,
		LastUpdate:     now,
		modelBreakdown: make(map[string]*ModelBreakdown),
	}
}

// Record applies one cost_update usage event to the state: appends to the
// sliding window, prunes entries older than 60s, and updates totals.
// eventTime of zero value means "now" per spec §4.8 ("now if invalid/missing").
func (s *ProcessCostState) Record(model string, inputTokens, outputTokens int64, usdCost float64, eventTime time.Time, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if eventTime.IsZero() {
		eventTime = now
	}

	s.TotalCost += usdCost
	s.TokensIn += inputTokens
	s.TokensOut += outputTokens
	s.LastUpdate = now

	if s.modelBreakdown == nil {
		s.modelBreakdown = make(map[string]*ModelBreakdown)
	}
	mb, ok := s.modelBreakdown[model]
	if !ok {
		mb = &ModelBreakdown{}
		s.modelBreakdown[model] = mb
	}
	mb.Cost += usdCost
	mb.Calls++

	s.recentEvents = append(s.recentEvents, costPoint{timestampMs: eventTime.UnixMilli(), cost: usdCost})
	s.pruneLocked(now)
}

// pruneLocked drops recentEvents older than now-60s. Caller must hold s.mu.
func (s *ProcessCostState) pruneLocked(now time.Time) {
	cutoff := now.Add(-windowDuration).UnixMilli()
	kept := s.recentEvents[:0]
	for _, e := range s.recentEvents {
		if e.timestampMs >= cutoff {
			kept = append(kept, e)
		}
	}
	s.recentEvents = kept
}

// LastMinute sums the cost of events still within the trailing 60s window
// as of now, pruning expired entries first (invariant 1/2 in spec §8).
func (s *ProcessCostState) LastMinute(now time.Time) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pruneLocked(now)
	var sum float64
	for _, e := range s.recentEvents {
		sum += e.cost
	}
	return sum
}

// Snapshot returns a read-only copy safe to hand to callers outside the lock.
type Snapshot struct {
	StartTime      time.Time
	LastUpdate     time.Time
	TotalCost      float64
	TokensIn       int64
	TokensOut      int64
	LastMinuteCost float64
	ModelBreakdown map[string]ModelBreakdown
}

func (s *ProcessCostState) Snapshot(now time.Time) Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pruneLocked(now)

	var lastMin float64
	for _, e := range s.recentEvents {
		lastMin += e.cost
	}

	mb := make(map[string]ModelBreakdown, len(s.modelBreakdown))
	for k, v := range s.modelBreakdown {
		mb[k] = *v
	}

	return Snapshot{
		StartTime:      s.StartTime,
		LastUpdate:     s.LastUpdate,
		TotalCost:      s.TotalCost,
		TokensIn:       s.TokensIn,
		TokensOut:      s.TokensOut,
		LastMinuteCost: lastMin,
		ModelBreakdown: mb,
	}
}

// Tracker owns one ProcessCostState per process id.
type Tracker struct {
	registry *Registry

	mu    sync.Mutex
	procs map[string]*ProcessCostState
}

func NewTracker(registry *Registry) *Tracker {
	return &Tracker{registry: registry, procs: make(map[string]*ProcessCostState)}
}

// RecordUpdate applies a cost_update event for a process, lazily creating
// its state, and returns the state for further inspection (e.g. by the
// aggregator).
func (t *Tracker) RecordUpdate(processID string, ev UsageEvent, now time.Time) *ProcessCostState {
	t.mu.Lock()
	state, ok := t.procs[processID]
	if !ok {
		state = NewProcessCostState(now)
		t.procs[processID] = state
	}
	t.mu.Unlock()

	usd := ev.Cost
	if usd == 0 && t.registry != nil {
		usd = t.registry.Estimate(ev)
	}
	state.Record(ev.ModelID, ev.InputTokens, ev.OutputTokens, usd, ev.Timestamp, now)
	return state
}

// Forget removes a process's cost state, e.g. once it has been reaped.
func (t *Tracker) Forget(processID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.procs, processID)
}

// State returns the process's cost state, or nil if it has none yet.
func (t *Tracker) State(processID string) *ProcessCostState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.procs[processID]
}

// All returns a snapshot of every tracked process's state, keyed by id.
func (t *Tracker) All(now time.Time) map[string]Snapshot {
	t.mu.Lock()
	ids := make([]string, 0, len(t.procs))
	states := make([]*ProcessCostState, 0, len(t.procs))
	for id, s := range t.procs {
		ids = append(ids, id)
		states = append(states, s)
	}
	t.mu.Unlock()

	out := make(map[string]Snapshot, len(ids))
	for i, id := range ids {
		out[id] = states[i].Snapshot(now)
	}
	return out
}
