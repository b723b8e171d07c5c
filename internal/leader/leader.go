// Package leader resolves which validator was scheduled to produce
// each slot, by expanding the epoch's leader schedule into an absolute
// slot lookup table.
package leader

import (
	"math/bits"

	"github.com/pkg/errors"

	"github.com/solwatch/votewatch/internal/retry"
	"github.com/solwatch/votewatch/internal/rpc"
)

// Unknown is returned for slots outside the resolved epoch.
const Unknown = "unknown"

// minSlotsPerEpoch is the length of the first warm-up epoch; each
// subsequent warm-up epoch doubles until SlotsPerEpoch is reached.
const minSlotsPerEpoch uint64 = 32

// Map is a write-once absolute slot -> leader identity table covering
// one epoch.
type Map map[uint64]string

// Lookup returns the leader identity for slot, or Unknown when the
// slot is outside the epoch the map was built for.
func (m Map) Lookup(slot uint64) string {
	if l, ok := m[slot]; ok {
		return l
	}
	return Unknown
}

// EpochOf returns the epoch containing slot, honoring the warm-up ramp
// of power-of-two epoch lengths before FirstNormalSlot.
func EpochOf(es *rpc.EpochSchedule, slot uint64) uint64 {
	if slot < es.FirstNormalSlot {
		return uint64(bits.Len64(nextPowerOfTwo(slot+minSlotsPerEpoch+1))) -
			uint64(bits.Len64(minSlotsPerEpoch)) - 1
	}
	return (slot-es.FirstNormalSlot)/es.SlotsPerEpoch + es.FirstNormalEpoch
}

// FirstSlotInEpoch returns the absolute slot the epoch starts at.
func FirstSlotInEpoch(es *rpc.EpochSchedule, epoch uint64) uint64 {
	if epoch <= es.FirstNormalEpoch {
		return ((uint64(1) << epoch) - 1) * minSlotsPerEpoch
	}
	return (epoch-es.FirstNormalEpoch)*es.SlotsPerEpoch + es.FirstNormalSlot
}

func nextPowerOfTwo(v uint64) uint64 {
	if v <= 1 {
		return 1
	}
	return uint64(1) << bits.Len64(v-1)
}

// BuildMap expands a leader schedule (identity -> epoch-relative slot
// offsets) anchored at epochStart into an absolute slot table.
func BuildMap(epochStart uint64, schedule map[string][]uint64) Map {
	m := make(Map, len(schedule)*4)
	for identity, offsets := range schedule {
		for _, off := range offsets {
			m[epochStart+off] = identity
		}
	}
	return m
}

// Resolve builds the leader Map for the epoch containing refSlot. The
// whole fetch (epoch schedule plus leader schedule) runs under the
// retry policy, with rate limiting and timeouts retryable. A failure
// that survives the retry budget is fatal to the run: the caller has
// no leader context to report without it.
func Resolve(c *rpc.Client, p retry.Policy, refSlot uint64) (Map, error) {
	m, err := retry.Do(p, "leader schedule",
		func() (Map, error) { return fetch(c, refSlot) },
		func(_ Map, err error) retry.Class { return retry.ClassifyErr(err) },
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed to fetch leader schedule after retries")
	}
	return m, nil
}

func fetch(c *rpc.Client, refSlot uint64) (Map, error) {
	es, err := c.GetEpochSchedule()
	if err != nil {
		return nil, errors.Wrap(err, "fetching epoch schedule")
	}
	if es == nil {
		return nil, errors.New("epoch schedule missing from response")
	}
	if es.SlotsPerEpoch == 0 {
		return nil, errors.New("epoch schedule missing slotsPerEpoch")
	}

	epochStart := FirstSlotInEpoch(es, EpochOf(es, refSlot))
	schedule, err := c.GetLeaderSchedule(epochStart)
	if err != nil {
		return nil, errors.Wrapf(err, "fetching leader schedule for slot %d", epochStart)
	}
	if schedule == nil {
		return nil, errors.Errorf("no leader schedule found for slot %d", epochStart)
	}

	return BuildMap(epochStart, schedule), nil
}
