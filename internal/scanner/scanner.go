// Package scanner drives the slot walk: fetch each block, isolate
// vote transactions from the target account, and decode their voted
// slots. One request is in flight at any time; the sequential cadence
// plus jitter keeps the endpoint's rate limiter calm.
package scanner

import (
	"math/rand/v2"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/solwatch/votewatch/internal/leader"
	"github.com/solwatch/votewatch/internal/retry"
	"github.com/solwatch/votewatch/internal/rpc"
	"github.com/solwatch/votewatch/internal/votes"
)

// Scanner holds the collaborators and knobs for one run.
type Scanner struct {
	Client  *rpc.Client
	Leaders leader.Map
	Policy  retry.Policy
	Account string
	Sink    Sink

	// Jitter bounds the randomized delay between successive live
	// requests in the decode path.
	JitterMin time.Duration
	JitterMax time.Duration

	// Sleep is injectable for tests; nil means time.Sleep.
	Sleep func(time.Duration)
}

// Run scans slots start, start-1, ... down to start-distance, clamped
// at slot zero. Per-slot and per-signature failures are recorded and
// never abort the walk.
func (s *Scanner) Run(start, distance uint64) Summary {
	ex := &votes.Extractor{Client: s.Client, Policy: s.Policy}

	var (
		slots, missing, matched int
		lags                    []float64
	)
	for offset := uint64(0); offset <= distance; offset++ {
		if offset > start {
			break
		}
		cur := start - offset
		slots++

		block, err := retry.Do(s.Policy, "getBlock",
			func() (*rpc.Block, error) { return s.Client.GetBlock(cur) },
			classifyBlock,
		)
		if err != nil {
			log.Error().Err(err).Uint64("slot", cur).Msg("failed to fetch block")
			s.Sink.Emit(Record{Kind: KindBlockError, Slot: cur, Leader: s.Leaders.Lookup(cur), Err: err.Error()})
			continue
		}
		if block == nil {
			log.Warn().Uint64("slot", cur).Msg("no block found")
			missing++
			s.Sink.Emit(Record{Kind: KindBlockMissing, Slot: cur, Leader: s.Leaders.Lookup(cur)})
			continue
		}

		voteTxs := votes.FilterVoteTransactions(block)
		leaderID := s.Leaders.Lookup(cur)
		found := 0
		for _, m := range voteTxs {
			msg := m.Tx.Transaction.Message
			if msg == nil || len(msg.AccountKeys) == 0 || msg.AccountKeys[0] != s.Account {
				continue
			}
			if len(m.Tx.Transaction.Signatures) == 0 {
				log.Warn().Uint64("slot", cur).Int("position", m.Position).
					Msg("vote transaction has no signature")
				continue
			}
			found++
			matched++

			sig := m.Tx.Transaction.Signatures[0]
			rec := Record{
				Kind:      KindVote,
				Slot:      cur,
				Leader:    leaderID,
				VoteCount: len(voteTxs),
				Signature: sig,
				Position:  m.Position,
			}
			slot, ok, err := ex.VotedSlot(sig)
			switch {
			case err != nil:
				rec.Err = err.Error()
			case ok:
				voted := slot
				rec.VotedSlot = &voted
				lags = append(lags, float64(cur)-float64(slot))
			}
			s.Sink.Emit(rec)

			// Desynchronize successive getTransaction calls so bursts
			// of matches do not trip the rate limiter.
			s.sleep(s.jitter())
		}

		if found == 0 {
			s.Sink.Emit(Record{Kind: KindNoVote, Slot: cur, Leader: leaderID, VoteCount: len(voteTxs)})
		}
	}

	return summarize(slots, missing, matched, lags)
}

// classifyBlock treats an absent block as retryable: the endpoint may
// simply not have finalized it yet.
func classifyBlock(b *rpc.Block, err error) retry.Class {
	if err == nil && b == nil {
		return retry.RetryNotFound
	}
	return retry.ClassifyErr(err)
}

func (s *Scanner) jitter() time.Duration {
	if s.JitterMax <= s.JitterMin {
		return s.JitterMin
	}
	return s.JitterMin + rand.N(s.JitterMax-s.JitterMin)
}

func (s *Scanner) sleep(d time.Duration) {
	if d <= 0 {
		return
	}
	if s.Sleep != nil {
		s.Sleep(d)
		return
	}
	time.Sleep(d)
}
