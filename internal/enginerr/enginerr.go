// Package enginerr defines the error-kind taxonomy shared across the
// engine: every error that crosses a package boundary is classified into
// one of these kinds so callers can decide retry/drop/halt behavior
// without string-matching error text.
package enginerr

import (
	"errors"
	"fmt"
)

// Kind classifies an error by how its caller should react to it.
type Kind int

const (
	// KindTransientNetwork covers RPC timeouts, connection resets, and
	// other errors worth retrying with backoff.
	KindTransientNetwork Kind = iota
	// KindRateLimited signals the caller should honor Retry-After or
	// back off exponentially before trying again.
	KindRateLimited
	// KindDataSchema means the response parsed but didn't match the
	// expected shape; the record is logged and dropped.
	KindDataSchema
	// KindPriceMissing means no price source produced a quote in time;
	// the candidate referencing it is rejected for this poll.
	KindPriceMissing
	// KindSimulationReject carries a structured reject reason from the
	// simulator; the candidate may be retried on a later poll.
	KindSimulationReject
	// KindRevertOnChain means a submitted transaction reverted; the
	// attempt is recorded and a cooldown is imposed.
	KindRevertOnChain
	// KindNonceGap means the signer's on-chain nonce no longer matches
	// local bookkeeping; the caller resyncs from the RPC and retries.
	KindNonceGap
	// KindSequencerDown means an L2 sequencer uptime feed reports the
	// sequencer down; candidates on that chain are rejected until it
	// recovers.
	KindSequencerDown
	// KindFatal is unrecoverable for the affected chain (invalid config,
	// missing signer) — it halts that chain, never the whole process.
	KindFatal
)

func (k Kind) String() string {
	switch k {
	case KindTransientNetwork:
		return "transient_network"
	case KindRateLimited:
		return "rate_limited"
	case KindDataSchema:
		return "data_schema"
	case KindPriceMissing:
		return "price_missing"
	case KindSimulationReject:
		return "simulation_reject"
	case KindRevertOnChain:
		return "revert_on_chain"
	case KindNonceGap:
		return "nonce_gap"
	case KindSequencerDown:
		return "sequencer_down"
	case KindFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Error wraps an underlying cause with a Kind and an optional structured
// reason (e.g. a simulator reject code like "plan-null:no-route").
type Error struct {
	Kind   Kind
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("%s (%s): %v", e.Kind, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New wraps err with the given kind, no structured reason.
func New(kind Kind, err error) *Error {
	return &Error{Kind: kind, Err: err}
}

// Newf builds a Kind-classified error from a format string, in the style
// of fmt.Errorf.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Err: fmt.Errorf(format, args...)}
}

// WithReason wraps err with a kind and a structured reason code.
func WithReason(kind Kind, reason string, err error) *Error {
	return &Error{Kind: kind, Reason: reason, Err: err}
}

// Is reports whether err was classified with the given kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// KindOf extracts the Kind of err, defaulting to KindTransientNetwork for
// unclassified errors since that is the safest default reaction (retry
// with backoff rather than silently drop or halt).
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindTransientNetwork
}

// ReasonOf extracts the structured reason code of err, if any.
func ReasonOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Reason
	}
	return ""
}
