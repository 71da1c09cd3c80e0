// Package transform implements the stage registry every semantic transform
// plugs into: ingress (on the UIR-Request before invoke), provider (on the
// raw provider body before UIR conversion), and egress (on the UIR-Response
// before rendering). Transforms within a stage run in ascending priority
// order, ties broken by registration order.
package transform

import (
	"context"
	"sort"

	"github.com/taipm/llmproxy/internal/uir"
)

// Stage identifies which point in the pipeline a transform runs at.
type Stage string

const (
	StageIngress  Stage = "ingress"
	StageProvider Stage = "provider"
	StageEgress   Stage = "egress"
)

// Context is what a transform operates on. Which fields are populated
// depends on the stage: ingress transforms mutate Request directly (the UIR
// carries the same information a raw request body would, so there's no
// separate provider-body representation to mutate at this stage); provider
// transforms see RawProviderBody and ProviderResponseHeaders; egress
// transforms see Response.
type Context struct {
	Stage   Stage
	Request *uir.Request

	// RawProviderBody is the provider stage's raw JSON document, mutated in
	// place via gjson/sjson by provider-stage transforms (design note 3).
	RawProviderBody string

	// ProviderResponseHeaders carries the captured upstream response
	// headers, e.g. for detecting x-synthetic-response: true so
	// provider-stage transforms can skip a synthesized response.
	ProviderResponseHeaders map[string]string

	Response *uir.Response
}

// Transform is one stage-scoped behavioral contract. Applies reports
// whether Transform should run at all for this context; an exception from
// Transform aborts the current pipeline attempt.
type Transform interface {
	Name() string
	Stage() Stage
	Priority() int
	Applies(ctx *Context) bool
	Run(ctx *Context) error
}

// registration pairs a Transform with the order it was registered in, so
// Registry.For can break priority ties deterministically.
type registration struct {
	t     Transform
	order int
}

// Registry holds every registered transform, immutable once built so it can
// be read without synchronization.
type Registry struct {
	byStage map[Stage][]registration
}

// NewRegistry returns an empty registry. Register every transform before
// the first request is served.
func NewRegistry() *Registry {
	return &Registry{byStage: make(map[Stage][]registration)}
}

// Register adds t to its declared stage. Call Freeze after the last
// Register to sort each stage's list once.
func (r *Registry) Register(t Transform) {
	stage := t.Stage()
	r.byStage[stage] = append(r.byStage[stage], registration{t: t, order: len(r.byStage[stage])})
}

// Freeze sorts every stage's transforms by ascending priority, stable on
// registration order. Call once after all Register calls.
func (r *Registry) Freeze() {
	for stage, regs := range r.byStage {
		sort.SliceStable(regs, func(i, j int) bool {
			return regs[i].t.Priority() < regs[j].t.Priority()
		})
		r.byStage[stage] = regs
	}
}

// For returns the ordered transform list for a stage.
func (r *Registry) For(stage Stage) []Transform {
	regs := r.byStage[stage]
	out := make([]Transform, len(regs))
	for i, reg := range regs {
		out[i] = reg.t
	}
	return out
}

// Run executes every applicable transform in stage against ctx, in order,
// stopping at the first error.
func Run(ctx context.Context, stage Stage, registry *Registry, tctx *Context) error {
	for _, t := range registry.For(stage) {
		if !t.Applies(tctx) {
			continue
		}
		if err := t.Run(tctx); err != nil {
			return err
		}
	}
	return nil
}
