package upstream

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tidwall/gjson"
)

// Retry tuning for the outbound call.
const (
	retryBase    = 1 * time.Second
	retryCeiling = 5 * time.Second
)

// maxResponseBytes caps how much of an upstream reply is read.
const maxResponseBytes = 32 << 20

// ErrResponseNotJSON marks a 2xx reply whose body is not the expected
// chat-completion shape.
var ErrResponseNotJSON = errors.New("upstream: response is not a valid completion body")

// Call describes one outbound request.
type Call struct {
	Endpoint   string
	APIKey     string
	Body       []byte
	Headers    map[string]string
	Timeout    time.Duration
	MaxRetries int
	// AnthropicAuth sends the key as x-api-key instead of a bearer token.
	AnthropicAuth bool
}

// Result is the classified outcome of a call.
type Result struct {
	StatusCode int
	Body       []byte
	Outcome    Outcome
	Attempts   int
	Latency    time.Duration
}

// Client executes pipeline server-layer calls. The zero http.Client default
// is replaced with one that pools connections across pipelines.
type Client struct {
	http *http.Client
}

// NewClient builds a client with sane pooling defaults. Per-attempt deadlines
// come from each call, not the client.
func NewClient() *Client {
	return &Client{
		http: &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        64,
				MaxIdleConnsPerHost: 8,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
}

// Do posts the call body and retries transient failures. Only timeouts and
// 5xx-class errors are retried; 429 and other 4xx return immediately so the
// balancer can act on them. Backoff is 1s doubling, capped at 5s.
func (c *Client) Do(ctx context.Context, call Call) Result {
	start := time.Now()
	var last Result

	for attempt := 0; ; attempt++ {
		last = c.attempt(ctx, call)
		last.Attempts = attempt + 1
		last.Latency = time.Since(start)

		if !last.Outcome.Retryable() || attempt >= call.MaxRetries {
			return last
		}

		wait := retryBase << uint(attempt)
		if wait > retryCeiling {
			wait = retryCeiling
		}
		log.Debug().
			Str("endpoint", call.Endpoint).
			Int("attempt", attempt+1).
			Dur("backoff", wait).
			Str("outcome", string(last.Outcome)).
			Msg("retrying upstream call")

		select {
		case <-ctx.Done():
			last.Outcome = OutcomeTransient
			last.Latency = time.Since(start)
			return last
		case <-time.After(wait):
		}
	}
}

// attempt performs one POST.
func (c *Client) attempt(ctx context.Context, call Call) Result {
	attemptCtx := ctx
	if call.Timeout > 0 {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeout(ctx, call.Timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodPost, call.Endpoint, bytes.NewReader(call.Body))
	if err != nil {
		return Result{Outcome: OutcomeFatal, Body: errorBody(err)}
	}

	req.Header.Set("Content-Type", "application/json")
	if call.AnthropicAuth {
		req.Header.Set("x-api-key", call.APIKey)
	} else {
		req.Header.Set("Authorization", "Bearer "+call.APIKey)
	}
	for k, v := range call.Headers {
		req.Header.Set(k, v)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return Result{Outcome: classifyTransportError(err), Body: errorBody(err)}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return Result{StatusCode: resp.StatusCode, Outcome: classifyTransportError(err), Body: errorBody(err)}
	}

	outcome := classifyStatus(resp.StatusCode)
	if outcome == OutcomeOK && !validCompletion(body, call.AnthropicAuth) {
		return Result{
			StatusCode: resp.StatusCode,
			Body:       body,
			Outcome:    OutcomeFatal,
		}
	}
	return Result{StatusCode: resp.StatusCode, Body: body, Outcome: outcome}
}

// validCompletion checks that a 2xx body parses as JSON and carries the shape
// the response translator needs: a choices array for OpenAI-protocol
// backends, a content array for native-dialect ones.
func validCompletion(body []byte, anthropic bool) bool {
	if !gjson.ValidBytes(body) {
		return false
	}
	if anthropic {
		return gjson.GetBytes(body, "content").Exists()
	}
	return gjson.GetBytes(body, "choices").IsArray()
}

// classifyTransportError maps client-side failures onto outcomes. Deadline
// and timeout conditions are timeouts; everything else transient.
func classifyTransportError(err error) Outcome {
	if errors.Is(err, context.DeadlineExceeded) {
		return OutcomeTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return OutcomeTimeout
	}
	if errors.Is(err, context.Canceled) {
		return OutcomeTransient
	}
	return OutcomeTransient
}

// errorBody renders a transport error as a minimal JSON body for logging.
// Never includes the API key.
func errorBody(err error) []byte {
	return fmt.Appendf(nil, `{"error":%q}`, err.Error())
}
