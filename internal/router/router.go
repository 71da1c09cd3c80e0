// Package router resolves a client-visible model name into a concrete
// (providerKey, upstreamModelId, perModelConfig) triple, and tracks
// per-provider cooldown so a failing upstream can be skipped for a window
// without disabling it permanently. Cooldown is call-outcome-driven: there
// is no background health-check loop, only ReportSuccess/ReportFailure.
package router

import (
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/taipm/llmproxy/internal/config"
)

// Strategy selects among multiple entries sharing the same client-visible
// model name.
type Strategy string

const (
	StrategyFirst      Strategy = "first"
	StrategyRoundRobin Strategy = "round_robin"
	StrategyWeighted   Strategy = "weighted"
	StrategyRandom     Strategy = "random"
)

// Resolution is what the router hands back to the pipeline controller.
type Resolution struct {
	ProviderKey    string
	UpstreamModel  string
	EnsureToolCall bool
	Overrides      map[string]any
}

// Router resolves model aliases to provider/upstream pairs and tracks
// provider cooldown.
type Router struct {
	mu       sync.Mutex
	groups   map[string][]config.ModelDefinition
	strategy Strategy
	rrIndex  map[string]int

	cooldownMu      sync.RWMutex
	cooldownUntil   map[string]time.Time
	cooldownFor     time.Duration
	failureStreak   map[string]int
	failureThreshold int
}

// New builds a router from the configured model definitions, grouping
// entries that share a name.
func New(models config.ModelsConfig) *Router {
	groups := make(map[string][]config.ModelDefinition)
	for _, def := range models.Definitions {
		groups[def.Name] = append(groups[def.Name], def)
	}
	strategy := Strategy(models.DefaultStrategy)
	if strategy == "" {
		strategy = StrategyFirst
	}
	return &Router{
		groups:           groups,
		strategy:         strategy,
		rrIndex:          make(map[string]int),
		cooldownUntil:    make(map[string]time.Time),
		cooldownFor:      30 * time.Second,
		failureStreak:    make(map[string]int),
		failureThreshold: 3,
	}
}

// Resolve picks one entry from the group registered under name, skipping
// providers currently in cooldown unless every candidate is cooling down (in
// which case cooldown is ignored rather than failing the request).
func (r *Router) Resolve(name string) (Resolution, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	group, ok := r.groups[name]
	if !ok || len(group) == 0 {
		return Resolution{}, fmt.Errorf("router: no model definition registered for %q", name)
	}

	candidates := r.availableEntries(group)
	if len(candidates) == 0 {
		candidates = group
	}

	var chosen config.ModelDefinition
	switch r.strategy {
	case StrategyRoundRobin:
		idx := r.rrIndex[name] % len(candidates)
		r.rrIndex[name]++
		chosen = candidates[idx]
	case StrategyWeighted:
		chosen = weightedPick(candidates)
	case StrategyRandom:
		chosen = candidates[rand.Intn(len(candidates))]
	default: // StrategyFirst
		chosen = candidates[0]
	}

	return Resolution{
		ProviderKey:    chosen.Provider,
		UpstreamModel:  chosen.UpstreamModel,
		EnsureToolCall: chosen.EnsureToolCall,
		Overrides:      chosen.Overrides,
	}, nil
}

func (r *Router) availableEntries(group []config.ModelDefinition) []config.ModelDefinition {
	var out []config.ModelDefinition
	for _, def := range group {
		if !r.inCooldown(def.Provider) {
			out = append(out, def)
		}
	}
	return out
}

func weightedPick(entries []config.ModelDefinition) config.ModelDefinition {
	total := 0.0
	for _, e := range entries {
		total += normalizedWeight(e.Weight)
	}
	if total == 0 {
		return entries[0]
	}
	pick := rand.Float64() * total
	for _, e := range entries {
		w := normalizedWeight(e.Weight)
		if pick < w {
			return e
		}
		pick -= w
	}
	return entries[len(entries)-1]
}

func normalizedWeight(w float64) float64 {
	if w <= 0 {
		return 1
	}
	return w
}

// ReportFailure records an upstream failure (status>=500) for providerKey.
// After failureThreshold consecutive failures it puts the provider into
// cooldown, so subsequent Resolve calls prefer other group members until
// the window elapses.
func (r *Router) ReportFailure(providerKey string) {
	r.cooldownMu.Lock()
	defer r.cooldownMu.Unlock()
	r.failureStreak[providerKey]++
	if r.failureStreak[providerKey] >= r.failureThreshold {
		r.cooldownUntil[providerKey] = time.Now().Add(r.cooldownFor)
	}
}

// ReportSuccess clears any active cooldown and failure streak for
// providerKey.
func (r *Router) ReportSuccess(providerKey string) {
	r.cooldownMu.Lock()
	defer r.cooldownMu.Unlock()
	delete(r.cooldownUntil, providerKey)
	delete(r.failureStreak, providerKey)
}

func (r *Router) inCooldown(providerKey string) bool {
	r.cooldownMu.RLock()
	defer r.cooldownMu.RUnlock()
	until, ok := r.cooldownUntil[providerKey]
	return ok && time.Now().Before(until)
}
