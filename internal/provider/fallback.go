package provider

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/magi-project/magi/internal/backoff"
	"github.com/magi-project/magi/pkg/wire"
)

// FallbackConfig configures the chain of models a runner falls back
// through when a provider errors out (spec §4.4).
type FallbackConfig struct {
	MaxAttemptsPerModel int
	CircuitThreshold    int
	CircuitCooldown     time.Duration
	Policy              backoff.BackoffPolicy
}

// DefaultFallbackConfig mirrors the teacher's DefaultFailoverConfig
// defaults, adapted to magi's naming.
func DefaultFallbackConfig() FallbackConfig {
	return FallbackConfig{
		MaxAttemptsPerModel: 2,
		CircuitThreshold:    3,
		CircuitCooldown:     30 * time.Second,
		Policy:              backoff.ProviderFallbackPolicy(),
	}
}

type circuitState struct {
	failures    int
	open        bool
	openedAt    time.Time
}

func (s *circuitState) available(cooldown time.Duration) bool {
	if !s.open {
		return true
	}
	return time.Since(s.openedAt) > cooldown
}

// Chain tries a sequence of (provider, model) pairs in order, applying
// per-provider retry with backoff and a circuit breaker that skips a
// provider which has failed repeatedly until its cooldown elapses.
type Chain struct {
	cfg    FallbackConfig
	mu     sync.Mutex
	states map[string]*circuitState
}

// ModelCandidate is one link in a fallback chain: a provider paired with
// the model id to request from it.
type ModelCandidate struct {
	Provider Provider
	Model    string
}

func NewChain(cfg FallbackConfig) *Chain {
	return &Chain{cfg: cfg, states: make(map[string]*circuitState)}
}

func (c *Chain) stateFor(key string) *circuitState {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.states[key]
	if !ok {
		s = &circuitState{}
		c.states[key] = s
	}
	return s
}

func (c *Chain) recordSuccess(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.states, key)
}

func (c *Chain) recordFailure(key string) {
	c.mu.Lock()
	s, ok := c.states[key]
	if !ok {
		s = &circuitState{}
		c.states[key] = s
	}
	s.failures++
	if s.failures >= c.cfg.CircuitThreshold {
		s.open = true
		s.openedAt = time.Now()
	}
	c.mu.Unlock()
}

// Stream walks candidates in order, returning the first successful
// stream. Each candidate is retried up to MaxAttemptsPerModel times
// before moving to the next. A candidate whose circuit is open (too many
// recent failures, still within cooldown) is skipped entirely.
func (c *Chain) Stream(ctx context.Context, req CompletionRequest, candidates []ModelCandidate) (<-chan wire.Event, string, error) {
	var lastErr error

	for _, cand := range candidates {
		key := cand.Provider.Name() + "/" + cand.Model
		state := c.stateFor(key)
		if !state.available(c.cfg.CircuitCooldown) {
			continue
		}

		r := req
		r.Model = cand.Model

		ch, err := c.tryCandidate(ctx, cand.Provider, r)
		if err == nil {
			c.recordSuccess(key)
			return ch, key, nil
		}

		lastErr = err
		c.recordFailure(key)

		if !ShouldFallback(err) {
			return nil, key, err
		}
	}

	if lastErr == nil {
		lastErr = fmt.Errorf("provider fallback: no candidates available")
	}
	return nil, "", lastErr
}

func (c *Chain) tryCandidate(ctx context.Context, p Provider, req CompletionRequest) (<-chan wire.Event, error) {
	attempts := c.cfg.MaxAttemptsPerModel
	if attempts <= 0 {
		attempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		ch, err := p.Stream(ctx, req)
		if err == nil {
			return ch, nil
		}
		lastErr = err

		if !Retryable(err) {
			return nil, err
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if attempt == attempts-1 {
			break
		}

		delay := backoff.ComputeBackoff(c.cfg.Policy, attempt+1)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return nil, lastErr
}
