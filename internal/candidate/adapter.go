// Package candidate normalizes per-protocol liquidatable positions into a
// single Candidate schema and multiplexes every enabled adapter into one
// deduplicated, backpressured stream.
package candidate

import (
	"context"

	"github.com/blackholelabs/liqd/internal/types"
)

// Adapter is the capability set each protocol integration implements:
// produce a bounded batch of liquidatable positions per poll, and
// classify the protocol's own liquidation predicate. Streaming is built
// on top of PollOnce by the intake multiplexer (repeated polling), rather
// than duplicated per adapter.
type Adapter interface {
	// Name identifies the adapter for logging and the dedup key's
	// protocol field.
	Name() types.Protocol
	// PollOnce returns at most limit Candidates satisfying the
	// protocol's liquidation predicate on chainID.
	PollOnce(ctx context.Context, chainID int64, limit int) ([]types.Candidate, error)
	// Enabled reports whether this adapter should run at all; disabled
	// adapters (e.g. Ionic, pending schema) are still registered but
	// always report false.
	Enabled() bool
}
