// Package cost implements the model price registry, the per-process cost
// tracker with its 60-second sliding window, and the controller-side cost
// aggregator with daily-limit enforcement.
package cost

import "time"

// PricingKind selects how a Model's price is computed for a given usage event.
type PricingKind string

const (
	PricingFlat     PricingKind = "flat"
	PricingTiered   PricingKind = "tiered"
	PricingTimeOfDay PricingKind = "time_of_day"
)

// Price is a per-million-token rate pair.
type Price struct {
	InputPerMillion  float64
	OutputPerMillion float64
}

// TieredPricing selects BelowThreshold when input_tokens <= Threshold,
// otherwise AboveThreshold applies to the whole usage event.
type TieredPricing struct {
	ThresholdTokens int64
	BelowThreshold  Price
	AboveThreshold  Price
}

// TimeOfDayPricing selects Peak when the usage timestamp's UTC wall-clock
// time falls within [PeakStartUTC, PeakEndUTC), otherwise OffPeak.
type TimeOfDayPricing struct {
	PeakStartUTC time.Duration // offset from UTC midnight
	PeakEndUTC   time.Duration
	Peak         Price
	OffPeak      Price
}

// Features describes a model's capability flags, surfaced for callers that
// need to pick a model by capability rather than by id.
type Features struct {
	ContextLength  int
	Modalities     []string
	ToolUse        bool
	Streaming      bool
	JSONOutput     bool
	ReasoningOutput bool
}

// Model is one entry in the registry.
type Model struct {
	ID       string
	Provider string
	Aliases  []string
	Kind     PricingKind
	Flat     Price
	Tiered   TieredPricing
	TimeOfDay TimeOfDayPricing
	ImagePrice float64 // per image, 0 if unsupported/free
	Features Features
	// RateLimitFallback names the model the Runner should fall back to
	// when this model reports a rate-limit error.
	RateLimitFallback string
	Disabled          bool
}

// Registry resolves model ids/aliases to pricing and feature data.
type Registry struct {
	models map[string]*Model
}

// NewRegistry builds an empty registry. Use Register to populate it.
func NewRegistry() *Registry {
	return &Registry{models: make(map[string]*Model)}
}

// Register adds or replaces a model entry, indexed by its id. Aliases are
// not indexed; FindModel resolves them by scanning every entry.
func (r *Registry) Register(m Model) {
	cp := m
	r.models[m.ID] = &cp
}

// FindModel resolves an id: exact id match first, then any model whose
// Aliases include it.
func (r *Registry) FindModel(id string) *Model {
	if m, ok := r.models[id]; ok {
		return m
	}
	for _, m := range r.models {
		for _, alias := range m.Aliases {
			if alias == id {
				return m
			}
		}
	}
	return nil
}

// Enabled reports whether id resolves to a model that is not disabled.
func (r *Registry) Enabled(id string) bool {
	m := r.FindModel(id)
	return m != nil && !m.Disabled
}

// UsageEvent is the minimal shape Estimate needs to price a call.
type UsageEvent struct {
	ModelID       string
	InputTokens   int64
	OutputTokens  int64
	CachedTokens  int64
	Images        int
	Timestamp     time.Time
	FreeTierForced bool
	// Cost is a USD cost already reported with the event. Tracker uses it
	// as-is when non-zero and falls back to Estimate otherwise.
	Cost float64
}

// Estimate computes the USD cost of a usage event per spec §4.2: tiered
// pricing picks a band from total input tokens, time-of-day pricing keys off
// the usage timestamp's UTC wall-clock time, and a free-tier flag forces
// zero regardless of the model's pricing kind.
func (r *Registry) Estimate(ev UsageEvent) float64 {
	if ev.FreeTierForced {
		return 0
	}
	m := r.FindModel(ev.ModelID)
	if m == nil {
		return 0
	}

	var price Price
	switch m.Kind {
	case PricingTiered:
		if ev.InputTokens <= m.Tiered.ThresholdTokens {
			price = m.Tiered.BelowThreshold
		} else {
			price = m.Tiered.AboveThreshold
		}
	case PricingTimeOfDay:
		if ev.Timestamp.IsZero() {
			ev.Timestamp = time.Now().UTC()
		}
		price = offPeakOrPeak(m.TimeOfDay, ev.Timestamp)
	default:
		price = m.Flat
	}

	cost := float64(ev.InputTokens)*price.InputPerMillion/1_000_000 +
		float64(ev.OutputTokens)*price.OutputPerMillion/1_000_000
	if ev.Images > 0 {
		cost += float64(ev.Images) * m.ImagePrice
	}
	return cost
}

func offPeakOrPeak(tod TimeOfDayPricing, ts time.Time) Price {
	utc := ts.UTC()
	midnight := time.Date(utc.Year(), utc.Month(), utc.Day(), 0, 0, 0, 0, time.UTC)
	offset := utc.Sub(midnight)
	if offset >= tod.PeakStartUTC && offset < tod.PeakEndUTC {
		return tod.Peak
	}
	return tod.OffPeak
}
