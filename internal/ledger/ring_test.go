package ledger

import (
	"testing"
	"time"

	"github.com/blackholelabs/liqd/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func attemptAt(id string, status types.AttemptStatus, t time.Time) types.ExecutionAttempt {
	return types.ExecutionAttempt{ID: id, Status: status, CreatedAt: t}
}

func TestRing_EvictsOldestNonTerminalOnOverflow(t *testing.T) {
	base := time.Unix(1_700_000_000, 0)
	r := newRing(3)

	r.Push(attemptAt("a", types.StatusMinedOK, base))
	r.Push(attemptAt("b", types.StatusSubmitted, base.Add(time.Second))) // still in motion
	r.Push(attemptAt("c", types.StatusMinedOK, base.Add(2*time.Second)))

	// At capacity; next push should evict "b" (the only non-terminal entry)
	// rather than "a" (oldest overall but already terminal).
	r.Push(attemptAt("d", types.StatusMinedOK, base.Add(3*time.Second)))

	remaining := r.Since(time.Time{})
	ids := make([]string, len(remaining))
	for i, e := range remaining {
		ids[i] = e.ID
	}
	assert.ElementsMatch(t, []string{"a", "c", "d"}, ids)
	assert.Equal(t, uint64(1), r.Overflowed())
}

func TestRing_EvictsOldestWhenAllTerminal(t *testing.T) {
	base := time.Unix(1_700_000_000, 0)
	r := newRing(2)

	r.Push(attemptAt("a", types.StatusMinedOK, base))
	r.Push(attemptAt("b", types.StatusMinedRevert, base.Add(time.Second)))
	r.Push(attemptAt("c", types.StatusTimeout, base.Add(2*time.Second)))

	remaining := r.Since(time.Time{})
	require.Len(t, remaining, 2)
	ids := []string{remaining[0].ID, remaining[1].ID}
	assert.ElementsMatch(t, []string{"b", "c"}, ids)
}

func TestRing_SinceFiltersByCreatedAt(t *testing.T) {
	base := time.Unix(1_700_000_000, 0)
	r := newRing(5)
	r.Push(attemptAt("old", types.StatusMinedOK, base))
	r.Push(attemptAt("new", types.StatusMinedOK, base.Add(time.Hour)))

	recent := r.Since(base.Add(30 * time.Minute))
	require.Len(t, recent, 1)
	assert.Equal(t, "new", recent[0].ID)
}

func TestRing_LenTracksRetainedEntries(t *testing.T) {
	r := newRing(2)
	assert.Equal(t, 0, r.Len())
	r.Push(attemptAt("a", types.StatusMinedOK, time.Now()))
	assert.Equal(t, 1, r.Len())
	r.Push(attemptAt("b", types.StatusMinedOK, time.Now()))
	r.Push(attemptAt("c", types.StatusMinedOK, time.Now()))
	assert.Equal(t, 2, r.Len(), "pushing past capacity must not grow the ring")
}
