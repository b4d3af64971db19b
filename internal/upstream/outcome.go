// Package upstream executes the single outbound HTTP call of a pipeline and
// classifies its result for the load balancer.
package upstream

// Outcome classifies one upstream attempt. It drives both key-slot statistics
// and pipeline health transitions.
type Outcome string

// Outcome values.
const (
	OutcomeOK          Outcome = "ok"
	OutcomeRateLimited Outcome = "rateLimited429"
	OutcomeTimeout     Outcome = "timeout"
	OutcomeTransient   Outcome = "transientError"
	OutcomeFatal       Outcome = "fatalError"
)

// Retryable reports whether the server layer may retry this outcome.
// 429 and fatal errors are never retried.
func (o Outcome) Retryable() bool {
	return o == OutcomeTimeout || o == OutcomeTransient
}

// Failure reports whether the outcome counts against health tracking.
func (o Outcome) Failure() bool {
	return o != OutcomeOK
}

// classifyStatus maps an HTTP status code to an outcome.
// 2xx is ok, 429 is rate limited, 408 and 5xx are transient, anything else
// in 4xx is fatal.
func classifyStatus(status int) Outcome {
	switch {
	case status >= 200 && status < 300:
		return OutcomeOK
	case status == 429:
		return OutcomeRateLimited
	case status == 408:
		return OutcomeTimeout
	case status >= 500:
		return OutcomeTransient
	default:
		return OutcomeFatal
	}
}
