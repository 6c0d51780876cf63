package candidate

import (
	"context"

	"github.com/blackholelabs/liqd/internal/types"
)

// IonicAdapter is an explicitly disabled stub. The source system's Ionic
// integration was itself an unimplemented TODO with no defined position
// schema; rather than guess one, this adapter satisfies the Adapter
// interface and always reports zero candidates. Registering it (instead
// of omitting it) keeps Ionic visible in startup logs as "disabled" so a
// future implementer has a named slot to fill in, not a silent gap.
type IonicAdapter struct{}

// NewIonicAdapter returns the disabled Ionic adapter.
func NewIonicAdapter() *IonicAdapter {
	return &IonicAdapter{}
}

func (a *IonicAdapter) Name() types.Protocol { return types.ProtocolIonic }
func (a *IonicAdapter) Enabled() bool        { return false }

func (a *IonicAdapter) PollOnce(ctx context.Context, chainID int64, limit int) ([]types.Candidate, error) {
	return nil, nil
}
