package candidate

import (
	"context"
	"sync"
	"time"

	"github.com/blackholelabs/liqd/internal/enginerr"
	"github.com/blackholelabs/liqd/internal/types"
	"github.com/google/uuid"
	"github.com/jpillora/backoff"
	"github.com/rs/zerolog"
)

// DefaultDedupTTL is the default dedup window.
const DefaultDedupTTL = 120 * time.Second

// Intake runs every enabled Adapter concurrently, deduplicates their
// output, and writes to a single bounded channel per chain.
type Intake struct {
	chainID   int64
	adapters  []Adapter
	out       chan types.Candidate
	pollEvery time.Duration
	limit     int
	dedupTTL  time.Duration
	log       zerolog.Logger

	mu      sync.Mutex
	seen    map[types.DedupKey]seenEntry
}

type seenEntry struct {
	expiresAt time.Time
	lastHF    float64
}

// NewIntake builds an intake multiplexer for one chain. outCapacity sets
// the bounded channel size (default 256 per chain).
func NewIntake(chainID int64, adapters []Adapter, outCapacity, limitPerPoll int, pollEvery time.Duration, log zerolog.Logger) *Intake {
	return &Intake{
		chainID:   chainID,
		adapters:  adapters,
		out:       make(chan types.Candidate, outCapacity),
		pollEvery: pollEvery,
		limit:     limitPerPoll,
		dedupTTL:  DefaultDedupTTL,
		seen:      make(map[types.DedupKey]seenEntry),
		log:       log.With().Str("component", "intake").Int64("chain_id", chainID).Logger(),
	}
}

// Candidates returns the multiplexed, deduplicated output channel. The
// channel is closed when ctx is cancelled and every adapter task has
// exited.
func (in *Intake) Candidates() <-chan types.Candidate {
	return in.out
}

// Run starts one goroutine per enabled adapter and blocks until ctx is
// cancelled, then closes the output channel. Each adapter goroutine
// backs off exponentially on error (base 1s, cap 60s)
// without halting sibling adapters.
func (in *Intake) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, adapter := range in.adapters {
		if !adapter.Enabled() {
			in.log.Info().Str("adapter", string(adapter.Name())).Msg("adapter disabled, skipping")
			continue
		}
		wg.Add(1)
		go func(a Adapter) {
			defer wg.Done()
			in.runAdapter(ctx, a)
		}(adapter)
	}
	wg.Wait()
	close(in.out)
}

func (in *Intake) runAdapter(ctx context.Context, a Adapter) {
	boff := &backoff.Backoff{
		Min:    1 * time.Second,
		Max:    60 * time.Second,
		Factor: 2,
		Jitter: true,
	}

	log := in.log.With().Str("adapter", string(a.Name())).Logger()

	for {
		candidates, err := a.PollOnce(ctx, in.chainID, in.limit)
		if err != nil {
			wait := boff.Duration()
			log.Error().Err(err).Dur("backoff", wait).Str("kind", enginerr.KindOf(err).String()).Msg("adapter poll failed")
			select {
			case <-ctx.Done():
				return
			case <-time.After(wait):
			}
			continue
		}
		boff.Reset()

		for _, c := range candidates {
			if c.ID == "" {
				c.ID = uuid.NewString()
			}
			if in.admitDedup(c) {
				select {
				case in.out <- c:
				case <-ctx.Done():
					return
				}
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(in.pollEvery):
		}
	}
}

// admitDedup reports whether c should be forwarded: it's new, its dedup
// window has expired, or it carries a strictly lower (more urgent) HF
// than the last-seen observation for its key, which resets the TTL.
func (in *Intake) admitDedup(c types.Candidate) bool {
	in.mu.Lock()
	defer in.mu.Unlock()

	key := c.DedupKey()
	now := time.Now()

	entry, exists := in.seen[key]
	if !exists || now.After(entry.expiresAt) || c.HealthFactor < entry.lastHF {
		in.seen[key] = seenEntry{expiresAt: now.Add(in.dedupTTL), lastHF: c.HealthFactor}
		return true
	}
	return false
}
