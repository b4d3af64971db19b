// Package pipeline owns the runtime execution units built from an assembly:
// one instance per pipeline, each running the four-layer chain of
// transformation, protocol resolution, compatibility adjustment, and the
// outbound call, followed by response translation.
package pipeline

import (
	"sync"
	"time"
)

// RequestContext is the single-owner, request-scoped record threaded through
// the chain. Not safe for sharing across requests.
type RequestContext struct {
	ID       string
	Start    time.Time
	Category string
	Priority string

	// ClientModel is the model the client asked for, echoed back in the
	// translated response.
	ClientModel string

	// PipelineID is filled once the balancer picks.
	PipelineID string

	mu      sync.Mutex
	timings []LayerTiming
	audit   []string
}

// LayerTiming records one layer's wall time.
type LayerTiming struct {
	Layer string  `json:"layer"`
	Ms    float64 `json:"ms"`
}

// NewRequestContext starts a context for one inbound request.
func NewRequestContext(id string) *RequestContext {
	return &RequestContext{ID: id, Start: time.Now()}
}

// Observe records one layer's duration.
func (rc *RequestContext) Observe(layer string, d time.Duration) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.timings = append(rc.timings, LayerTiming{
		Layer: layer,
		Ms:    float64(d.Microseconds()) / 1000,
	})
}

// Audit appends one transformation audit note.
func (rc *RequestContext) Audit(note string) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.audit = append(rc.audit, note)
}

// Timings returns the layer timings recorded so far.
func (rc *RequestContext) Timings() []LayerTiming {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	out := make([]LayerTiming, len(rc.timings))
	copy(out, rc.timings)
	return out
}

// AuditTrail returns the transformation audit notes recorded so far.
func (rc *RequestContext) AuditTrail() []string {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	out := make([]string, len(rc.audit))
	copy(out, rc.audit)
	return out
}

// Elapsed returns the time since request receipt.
func (rc *RequestContext) Elapsed() time.Duration {
	return time.Since(rc.Start)
}
