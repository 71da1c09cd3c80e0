// Package pipeline implements the controller state machine: it sequences
// normalize -> ingress transforms -> invoke -> provider-stage transforms ->
// egress transforms -> render, with bounded retry and synthetic-response
// short-circuiting. It is the one place that owns control flow between the
// otherwise-independent adapters, transforms, and router.
package pipeline

import (
	"context"
	"crypto/rand"

	"github.com/taipm/llmproxy/internal/clientapi"
	"github.com/taipm/llmproxy/internal/config"
	"github.com/taipm/llmproxy/internal/logging"
	"github.com/taipm/llmproxy/internal/perrors"
	"github.com/taipm/llmproxy/internal/provider"
	"github.com/taipm/llmproxy/internal/router"
	"github.com/taipm/llmproxy/internal/synthetic"
	"github.com/taipm/llmproxy/internal/transform"
	"github.com/taipm/llmproxy/internal/uir"
)

// Exchange is everything a log store needs to record about one completed
// pipeline run, handed off after rendering. Failure to log never fails the
// client response.
type Exchange struct {
	RequestID            string
	Method               string
	URL                  string
	Model                string
	Provider             string
	Operation            uir.Operation
	StatusCode           int
	RequestBody          any
	ResponseBody         any
	ProviderRequestBody  any
	ProviderResponseBody any
}

// LogStore is the narrow interface the controller depends on for
// persistence; the real implementation lives in internal/httpstore.
// Append must not block the client response.
type LogStore interface {
	Append(ctx context.Context, ex Exchange)
}

// noopLogStore discards every exchange; used when no store is configured.
type noopLogStore struct{}

func (noopLogStore) Append(context.Context, Exchange) {}

// Controller wires the client/provider registries, the transform registry,
// and the model router into the request/response state machine.
type Controller struct {
	Clients    *clientapi.Registry
	Providers  *provider.Registry
	Transforms *transform.Registry
	Router     *router.Router
	Log        logging.Logger
	Store      LogStore
}

// New builds a Controller, defaulting Log to a no-op logger and Store to a
// no-op log store when left nil.
func New(clients *clientapi.Registry, providers *provider.Registry, transforms *transform.Registry, r *router.Router) *Controller {
	return &Controller{
		Clients:    clients,
		Providers:  providers,
		Transforms: transforms,
		Router:     r,
		Log:        logging.Noop{},
		Store:      noopLogStore{},
	}
}

// Handle runs one inbound HTTP request through the full pipeline: resolve
// adapters, normalize, route, attempt loop, render. It never returns a nil
// body on success; on an unrecoverable error it returns a nil body, status 0
// and the error, and rendering an error response is left to the caller.
func (c *Controller) Handle(ctx context.Context, clientFormat string, body map[string]any, headers map[string]string) (map[string]any, int, error) {
	clientAdapter, err := c.Clients.Resolve(clientFormat)
	if err != nil {
		return nil, 0, perrors.New("ingress", "", perrors.ErrInvalidConfig, err)
	}

	req, err := clientAdapter.ToUIR(body, headers)
	if err != nil {
		return nil, 0, perrors.New("ingress", "", perrors.ErrClientDialectParse, err)
	}
	c.stampRequest(req, clientFormat)

	resolution, err := c.Router.Resolve(req.Model)
	if err != nil {
		return nil, 0, perrors.New("router", "", perrors.ErrInvalidConfig, err)
	}
	providerAdapter, err := c.Providers.Resolve(resolution.ProviderKey)
	if err != nil {
		return nil, 0, perrors.New("router", "", perrors.ErrInvalidConfig, err)
	}
	req.State.ResolvedModel = req.Model
	req.Model = resolution.UpstreamModel
	req.Metadata.ProviderFormat = providerAdapter.ProviderFormat()

	if resolution.EnsureToolCall {
		req.State.EnsureToolCall = uir.NewEnsureToolCallState()
		req.State.MaxAttempts = clampAttempts(config.EnsureToolCallMaxAttempts())
	} else {
		req.State.MaxAttempts = 1
	}

	cfg := modelConfig(resolution.Overrides)

	var (
		rendered   map[string]any
		statusCode = 200
	)

	for attempt := 1; attempt <= req.State.MaxAttempts; attempt++ {
		pr, resp, err := c.runAttempt(ctx, req, providerAdapter, cfg)
		if err != nil {
			return nil, 0, err
		}

		rendered, err = clientAdapter.FromUIR(resp, req)
		if err != nil {
			return nil, 0, perrors.New("egress", "", perrors.ErrInvalidProviderResponse, err)
		}
		if resp.Error != nil {
			statusCode = 502
			if pr != nil && pr.Status >= 400 {
				statusCode = pr.Status
			}
		}
		if pr != nil && c.Router != nil {
			if pr.Status >= 500 {
				c.Router.ReportFailure(providerAdapter.Key())
			} else {
				c.Router.ReportSuccess(providerAdapter.Key())
			}
		}

		retry := req.State.RetryRequested
		req.State.RetryRequested = false

		c.logExchange(ctx, req, providerAdapter, body, rendered, pr, resp)

		if !retry || attempt >= req.State.MaxAttempts {
			break
		}
	}

	return rendered, statusCode, nil
}

// runAttempt executes one pass of the attempt loop:
// ingress -> (synthetic short-circuit | invoke) -> provider stage -> egress.
func (c *Controller) runAttempt(ctx context.Context, req *uir.Request, providerAdapter provider.Adapter, cfg *provider.ModelConfig) (*uir.ProviderResponse, *uir.Response, error) {
	ingressCtx := &transform.Context{Stage: transform.StageIngress, Request: req}
	if err := transform.Run(ctx, transform.StageIngress, c.Transforms, ingressCtx); err != nil {
		return nil, nil, perrors.New("ingress", "", perrors.ErrClientDialectParse, err)
	}

	var (
		pr   *uir.ProviderResponse
		resp *uir.Response
	)

	if req.State.SyntheticRequested {
		req.State.SyntheticRequested = false
		pr = synthetic.ProviderResponse()
		resp = synthetic.Response(req.ID, req.Operation)
	} else {
		providerBody, err := providerAdapter.BuildRequestBody(req)
		if err != nil {
			return nil, nil, perrors.New("provider", providerAdapter.Key(), perrors.ErrInvalidConfig, err)
		}
		req.Metadata.ProviderRequest = providerBody

		pr = providerAdapter.Send(ctx, req, providerBody, cfg)
		if pr.Failed() {
			resp, _ = providerAdapter.ToUIRResponse(pr, req)
			req.State.RetryRequested = false
			return pr, resp, nil
		}
	}

	rawBody, _ := pr.Body.(string)
	providerCtx := &transform.Context{
		Stage:                   transform.StageProvider,
		Request:                 req,
		RawProviderBody:         rawBody,
		ProviderResponseHeaders: pr.Headers,
	}
	if err := transform.Run(ctx, transform.StageProvider, c.Transforms, providerCtx); err != nil {
		return nil, nil, perrors.New("provider", "", perrors.ErrInvalidProviderResponse, err)
	}
	pr.Body = providerCtx.RawProviderBody

	if pr.Headers["x-synthetic-response"] != "true" {
		converted, err := providerAdapter.ToUIRResponse(pr, req)
		if err != nil {
			return nil, nil, perrors.New("provider", providerAdapter.Key(), perrors.ErrInvalidProviderResponse, err)
		}
		resp = converted
	}

	egressCtx := &transform.Context{Stage: transform.StageEgress, Request: req, Response: resp}
	if err := transform.Run(ctx, transform.StageEgress, c.Transforms, egressCtx); err != nil {
		return nil, nil, perrors.New("egress", "", perrors.ErrClientDialectParse, err)
	}

	return pr, resp, nil
}

// stampRequest fills in the fields the controller owns rather than the
// client adapter.
func (c *Controller) stampRequest(req *uir.Request, clientFormat string) {
	if req.ID == "" {
		req.ID = "req_" + randomAlnum(12)
	}
	req.Metadata.ClientFormat = clientFormat
	req.State = uir.NewPipelineState()
}

func (c *Controller) logExchange(ctx context.Context, req *uir.Request, providerAdapter provider.Adapter, clientBody, renderedBody map[string]any, pr *uir.ProviderResponse, resp *uir.Response) {
	store := c.Store
	if store == nil {
		store = noopLogStore{}
	}
	status := 200
	if resp != nil && resp.Error != nil {
		status = 502
	}
	var providerResponseBody any
	if pr != nil {
		providerResponseBody = pr.Body
	}
	store.Append(ctx, Exchange{
		RequestID:            req.ID,
		Method:               "POST",
		URL:                  routePath(req.Operation),
		Model:                req.State.ResolvedModel,
		Provider:             providerAdapter.Key(),
		Operation:            req.Operation,
		StatusCode:           status,
		RequestBody:          clientBody,
		ResponseBody:         renderedBody,
		ProviderRequestBody:  req.Metadata.ProviderRequest,
		ProviderResponseBody: providerResponseBody,
	})
}

// routePath maps an operation back to the HTTP route it arrived on, for the
// log store's metadata row.
func routePath(op uir.Operation) string {
	switch op {
	case uir.OperationMessages:
		return "/v1/messages"
	case uir.OperationResponses:
		return "/v1/responses"
	default:
		return "/v1/chat/completions"
	}
}

// clampAttempts enforces the pipeline's absolute bound: min(5, max(1, n)).
func clampAttempts(n int) int {
	if n < 1 {
		n = 1
	}
	if n > 5 {
		n = 5
	}
	return n
}

// modelConfig converts the router's per-model override map into a typed
// provider.ModelConfig for the adapter to merge onto its base config.
func modelConfig(overrides map[string]any) *provider.ModelConfig {
	if len(overrides) == 0 {
		return nil
	}
	cfg := &provider.ModelConfig{}
	if v, ok := overrides["apiKey"].(string); ok {
		cfg.APIKey = v
	}
	if v, ok := overrides["baseUrl"].(string); ok {
		cfg.BaseURL = v
	}
	if v, ok := overrides["projectId"].(string); ok {
		cfg.ProjectID = v
	}
	if v, ok := overrides["location"].(string); ok {
		cfg.Location = v
	}
	if v, ok := overrides["credentials"].(string); ok {
		cfg.Credentials = v
	}
	if v, ok := overrides["credentialsPath"].(string); ok {
		cfg.CredentialsPath = v
	}
	if v, ok := overrides["endpointOverride"].(string); ok {
		cfg.EndpointOverride = v
	}
	return cfg
}

const alnumCharset = "abcdefghijklmnopqrstuvwxyz0123456789"

// randomAlnum returns n lowercase alphanumeric characters, for synthesizing
// req_<n> request ids.
func randomAlnum(n int) string {
	b := make([]byte, n)
	_, _ = rand.Read(b)
	out := make([]byte, n)
	for i, v := range b {
		out[i] = alnumCharset[int(v)%len(alnumCharset)]
	}
	return string(out)
}
