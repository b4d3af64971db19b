package pipeline

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/omarluq/cc-router/internal/assembler"
	"github.com/omarluq/cc-router/internal/compat"
	"github.com/omarluq/cc-router/internal/transform"
	"github.com/omarluq/cc-router/internal/upstream"
)

// Instance lifecycle states.
const (
	StateInitializing int32 = iota
	StateRuntime
	StateError
	StateStopped
)

// Layer names used in timings and failure reports.
const (
	LayerTransformer = "transformer"
	LayerProtocol    = "protocol"
	LayerCompat      = "compat"
	LayerServer      = "server"
	LayerResponse    = "response"
)

// Instance is the runtime form of one pipeline config: its transformer and
// compat module resolved, sharing the process-wide upstream client.
type Instance struct {
	cfg         assembler.PipelineConfig
	transformer transform.Transformer
	compat      compat.Module
	client      *upstream.Client
	state       atomic.Int32
}

// newInstance resolves the layer modules for one pipeline config.
func newInstance(cfg assembler.PipelineConfig, client *upstream.Client) (*Instance, error) {
	inst := &Instance{cfg: cfg, client: client}
	inst.state.Store(StateInitializing)

	tr, err := transform.New(cfg.Layers.Transformer.Tag, cfg.Provider, cfg.TargetModel)
	if err != nil {
		inst.state.Store(StateError)
		return nil, fmt.Errorf("pipeline %s: %w", cfg.ID, err)
	}
	inst.transformer = tr
	inst.compat = compat.New(cfg.Layers.Compat.Tag, cfg.Layers.Compat.Options)

	inst.state.Store(StateRuntime)
	return inst, nil
}

// Config returns the instance's immutable config.
func (i *Instance) Config() assembler.PipelineConfig { return i.cfg }

// State returns the lifecycle state.
func (i *Instance) State() int32 { return i.state.Load() }

// stop marks the instance stopped. In-flight executions finish normally.
func (i *Instance) stop() { i.state.Store(StateStopped) }

// Result is the outcome of one chain execution.
type Result struct {
	// Response is the translated client-dialect body, set when Outcome is ok.
	Response []byte
	// UpstreamBody is the raw backend reply, kept for error reporting.
	UpstreamBody []byte
	Outcome      upstream.Outcome
	StatusCode   int
	Attempts     int

	// Err and Layer identify a layer failure. Err nil means the chain
	// completed, though possibly with a non-ok outcome from the server layer.
	Err   error
	Layer string
}

// Execute runs the four-layer chain for one request body and translates the
// reply. apiKey is the slot key leased by the balancer; the config's own key
// is ignored so rotation through slots works.
func (i *Instance) Execute(ctx context.Context, rc *RequestContext, body []byte, apiKey string) Result {
	// Transformer layer: client dialect to backend dialect.
	start := time.Now()
	transformed, err := i.transformer.TransformRequest(body)
	rc.Observe(LayerTransformer, time.Since(start))
	if err != nil {
		return Result{Err: err, Layer: LayerTransformer, Outcome: upstream.OutcomeFatal}
	}
	rc.Audit(fmt.Sprintf("transformer=%s target=%s", i.transformer.Name(), i.cfg.TargetModel))

	// Protocol layer: bind endpoint, auth, and transport attributes. The
	// record stays out of the transmitted body.
	start = time.Now()
	proto := i.cfg.Layers.Protocol
	call := upstream.Call{
		Endpoint:      proto.Endpoint,
		APIKey:        apiKey,
		Timeout:       proto.Timeout,
		MaxRetries:    proto.MaxRetries,
		AnthropicAuth: proto.Tag == "anthropic",
	}
	rc.Observe(LayerProtocol, time.Since(start))

	// Compat layer: endpoint path fix, clamps, quirks, headers.
	start = time.Now()
	call.Endpoint = i.compat.FixEndpoint(call.Endpoint)
	call.Headers = i.compat.Headers()
	adjusted, err := i.compat.AdjustRequest(transformed, i.cfg.MaxTokens)
	rc.Observe(LayerCompat, time.Since(start))
	if err != nil {
		return Result{Err: err, Layer: LayerCompat, Outcome: upstream.OutcomeFatal}
	}
	call.Body = adjusted
	rc.Audit(fmt.Sprintf("compat=%s endpoint=%s", i.compat.Tag(), call.Endpoint))

	// Server layer: the only blocking layer.
	start = time.Now()
	res := i.client.Do(ctx, call)
	rc.Observe(LayerServer, time.Since(start))
	if res.Outcome != upstream.OutcomeOK {
		return Result{
			UpstreamBody: res.Body,
			Outcome:      res.Outcome,
			StatusCode:   res.StatusCode,
			Attempts:     res.Attempts,
		}
	}

	// Response translation back to the client dialect.
	start = time.Now()
	translated, err := i.transformer.TransformResponse(res.Body, rc.ClientModel)
	rc.Observe(LayerResponse, time.Since(start))
	if err != nil {
		return Result{
			UpstreamBody: res.Body,
			Err:          err,
			Layer:        LayerResponse,
			Outcome:      upstream.OutcomeFatal,
			StatusCode:   res.StatusCode,
			Attempts:     res.Attempts,
		}
	}

	return Result{
		Response:   translated,
		Outcome:    upstream.OutcomeOK,
		StatusCode: res.StatusCode,
		Attempts:   res.Attempts,
	}
}
