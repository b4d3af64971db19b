// Package proxy is the HTTP ingress: it classifies inbound requests, drives
// pipeline selection and execution, and translates failures into the client
// dialect's error envelope.
package proxy

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/tidwall/gjson"

	"github.com/omarluq/cc-router/internal/affinity"
	"github.com/omarluq/cc-router/internal/balancer"
	"github.com/omarluq/cc-router/internal/classifier"
	"github.com/omarluq/cc-router/internal/config"
	"github.com/omarluq/cc-router/internal/events"
	"github.com/omarluq/cc-router/internal/pipeline"
	"github.com/omarluq/cc-router/internal/runtime"
	"github.com/omarluq/cc-router/internal/transform"
	"github.com/omarluq/cc-router/internal/upstream"
)

// PriorityHeader carries the optional request priority override.
const PriorityHeader = "X-CC-Router-Priority"

// defaultRequestTimeout bounds the whole request when no server timeout is
// configured.
const defaultRequestTimeout = 120 * time.Second

// Handler serves the message ingress endpoint.
type Handler struct {
	store    *runtime.Store
	affinity *affinity.Cache
	bus      *events.Bus
	server   config.ServerConfig
}

// NewHandler wires the ingress against the runtime store.
func NewHandler(store *runtime.Store, aff *affinity.Cache, bus *events.Bus, server config.ServerConfig) *Handler {
	return &Handler{store: store, affinity: aff, bus: bus, server: server}
}

// ServeHTTP handles POST /v1/messages.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, errTypeInvalidRequest,
			"only POST is supported", codeMethodNotAllowed)
		return
	}

	body, ok := h.readBody(w, r)
	if !ok {
		return
	}

	rc := pipeline.NewRequestContext(uuid.NewString())
	rc.ClientModel = gjson.GetBytes(body, "model").Str
	rc.Priority = parsePriority(r.Header.Get(PriorityHeader))

	timeout := h.server.GetTimeoutOption().OrElse(defaultRequestTimeout)
	ctx, cancel := context.WithTimeout(r.Context(), timeout)
	defer cancel()

	rt := h.store.Current()
	rc.Category = h.classify(body, rt)

	fingerprint := affinity.Fingerprint(body)
	hint := h.affinity.Hint(fingerprint)

	h.bus.Publish(events.Event{
		Kind:     events.KindRequestRouted,
		Category: rc.Category,
		Detail:   rc.ClientModel,
	})

	// First attempt, then at most one re-pick excluding the failed pipeline.
	// Only rate limits and retryable failures move to a second backend; a
	// fatal outcome is deterministic and would just replay the failure.
	res, lease, err := h.attempt(ctx, rt, rc, body, hint, "")
	if err == nil && res.Err == nil && repickable(res.Outcome) {
		log.Info().
			Str("request_id", rc.ID).
			Str("pipeline", lease.Pipeline.ID).
			Str("outcome", string(res.Outcome)).
			Msg("first attempt failed, re-picking once")
		if res2, lease2, err2 := h.attempt(ctx, rt, rc, body, hint, lease.Pipeline.ID); err2 == nil {
			res, lease = res2, lease2
		}
	}
	if err != nil {
		h.writePickError(w, rc, err)
		return
	}

	h.writeResult(w, rc, res, lease, fingerprint)
}

// readBody enforces the configured body cap.
func (h *Handler) readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	limited := http.MaxBytesReader(w, r.Body, h.server.GetMaxBodyBytes())
	body, err := io.ReadAll(limited)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, errTypeInvalidRequest,
				"request body exceeds the configured limit", codeBodyTooLarge)
			return nil, false
		}
		writeError(w, http.StatusBadRequest, errTypeInvalidRequest,
			"failed to read request body", codeBadRequest)
		return nil, false
	}
	if !gjson.ValidBytes(body) {
		writeError(w, http.StatusBadRequest, errTypeInvalidRequest,
			"request body is not valid JSON", codeBadRequest)
		return nil, false
	}
	return body, true
}

// classify picks the routing category, falling back to default when the
// classified category has no pipelines. A missing default surfaces later as
// NoPipelineForCategory.
func (h *Handler) classify(body []byte, rt *runtime.Runtime) string {
	category := classifier.Classify(body)
	if !rt.Assembly.Table.HasCategory(category) {
		log.Debug().
			Str("category", category).
			Msg("no pipelines for category, falling back to default")
		return classifier.CategoryDefault
	}
	return category
}

// attempt picks one pipeline and runs its chain. Client-side translation
// failures cancel the lease so they never count against the pipeline.
func (h *Handler) attempt(ctx context.Context, rt *runtime.Runtime, rc *pipeline.RequestContext, body []byte, hint, exclude string) (pipeline.Result, *balancer.Lease, error) {
	lease, err := rt.Balancer.Pick(rc.Category, balancer.PickOptions{
		Priority:     rc.Priority,
		AffinityHint: hint,
		Exclude:      exclude,
	})
	if err != nil {
		return pipeline.Result{}, nil, err
	}
	rc.PipelineID = lease.Pipeline.ID

	inst, ok := rt.Registry.Instance(lease.Pipeline.ID)
	if !ok {
		lease.Cancel()
		return pipeline.Result{}, nil, balancer.ErrNoEligiblePipeline
	}

	start := time.Now()
	res := inst.Execute(ctx, rc, body, lease.Slot.APIKey())
	latency := time.Since(start)

	if res.Err != nil && (res.Layer == pipeline.LayerTransformer || res.Layer == pipeline.LayerCompat) {
		lease.Cancel()
		return res, lease, nil
	}
	lease.Release(res.Outcome, latency)
	return res, lease, nil
}

// writeResult renders the chain result, success or failure, to the client.
func (h *Handler) writeResult(w http.ResponseWriter, rc *pipeline.RequestContext, res pipeline.Result, lease *balancer.Lease, fingerprint string) {
	logEvent := log.Info()
	if res.Outcome != upstream.OutcomeOK {
		logEvent = log.Warn()
	}
	logEvent.
		Str("request_id", rc.ID).
		Str("category", rc.Category).
		Str("pipeline", rc.PipelineID).
		Str("outcome", string(res.Outcome)).
		Int("attempts", res.Attempts).
		Dur("elapsed", rc.Elapsed()).
		Msg("request completed")

	if res.Err != nil {
		h.writeLayerError(w, res.Err)
		return
	}

	switch res.Outcome {
	case upstream.OutcomeOK:
		h.affinity.Remember(fingerprint, lease.Pipeline.ID)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write(res.Response); err != nil {
			log.Debug().Err(err).Str("request_id", rc.ID).Msg("failed to write response")
		}

	case upstream.OutcomeRateLimited:
		writeError(w, http.StatusBadGateway, errTypeOverloaded,
			"upstream rate limited the request", codeUpstreamRateLimited)

	case upstream.OutcomeTimeout:
		writeError(w, http.StatusGatewayTimeout, errTypeTimeout,
			"upstream did not answer in time", codeUpstreamTimeout)

	default:
		writeError(w, http.StatusBadGateway, errTypeAPI,
			"upstream request failed", codeUpstreamError)
	}
}

// writeLayerError maps translation failures onto client statuses.
func (h *Handler) writeLayerError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, transform.ErrUnsupportedMessageRole):
		writeError(w, http.StatusBadRequest, errTypeInvalidRequest,
			err.Error(), codeUnsupportedRole)
	case errors.Is(err, transform.ErrMalformedToolDefinition):
		writeError(w, http.StatusBadRequest, errTypeInvalidRequest,
			err.Error(), codeMalformedTool)
	case errors.Is(err, transform.ErrResponseSchemaInvalid):
		writeError(w, http.StatusBadGateway, errTypeAPI,
			"upstream returned an invalid response shape", codeResponseSchema)
	default:
		writeError(w, http.StatusBadRequest, errTypeInvalidRequest,
			err.Error(), codeBadRequest)
	}
}

// writePickError maps selection failures onto 503s.
func (h *Handler) writePickError(w http.ResponseWriter, rc *pipeline.RequestContext, err error) {
	log.Warn().
		Str("request_id", rc.ID).
		Str("category", rc.Category).
		Err(err).
		Msg("no pipeline available")

	if errors.Is(err, balancer.ErrNoPipelineForCategory) {
		writeError(w, http.StatusServiceUnavailable, errTypeOverloaded,
			"no pipelines configured for this request's category", codeNoPipelineForCategory)
		return
	}
	writeError(w, http.StatusServiceUnavailable, errTypeOverloaded,
		"all candidate pipelines are unavailable", codeNoEligiblePipeline)
}

// repickable reports whether a failed outcome justifies trying one other
// pipeline.
func repickable(outcome upstream.Outcome) bool {
	return outcome == upstream.OutcomeRateLimited || outcome.Retryable()
}

// parsePriority validates the priority header, defaulting to normal.
func parsePriority(raw string) string {
	switch raw {
	case balancer.PriorityHigh, balancer.PriorityLow:
		return raw
	default:
		return balancer.PriorityNormal
	}
}
