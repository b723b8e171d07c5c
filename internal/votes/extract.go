package votes

import (
	"github.com/bytedance/sonic"
	"github.com/mr-tron/base58"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/solwatch/votewatch/internal/retry"
	"github.com/solwatch/votewatch/internal/rpc"
)

// Extractor recovers the voted slot behind a transaction signature by
// fetching the transaction detail and decoding its vote instruction.
type Extractor struct {
	Client *rpc.Client
	Policy retry.Policy
}

// VotedSlot fetches the transaction for signature and scans its
// instructions for a vote payload carrying a confirmation-count-1
// slot. The first instruction that yields one wins. The bool is false
// when no instruction yields a slot; err is non-nil only when the
// fetch itself failed past the retry budget.
func (e *Extractor) VotedSlot(signature string) (uint64, bool, error) {
	detail, err := retry.Do(e.Policy, "getTransaction",
		func() (*rpc.TransactionDetail, error) { return e.Client.GetTransaction(signature) },
		func(_ *rpc.TransactionDetail, err error) retry.Class { return retry.ClassifyErr(err) },
	)
	if err != nil {
		return 0, false, err
	}
	slot, ok := e.slotFromDetail(signature, detail)
	return slot, ok, nil
}

// slotFromDetail walks the instruction list. Every dead end logs the
// specific reason; a decode failure skips that instruction only and
// the scan continues.
func (e *Extractor) slotFromDetail(signature string, detail *rpc.TransactionDetail) (uint64, bool) {
	if detail == nil || detail.Transaction == nil || detail.Transaction.Message == nil {
		diag(signature, "missing transaction message")
		return 0, false
	}
	msg := detail.Transaction.Message
	if msg.Instructions == nil {
		diag(signature, "missing instructions")
		return 0, false
	}
	if msg.AccountKeys == nil {
		diag(signature, "missing accountKeys")
		return 0, false
	}

	for i, ins := range msg.Instructions {
		if ins.ProgramIDIndex == nil {
			diagInstr(signature, i, "missing programIdIndex")
			continue
		}
		idx := *ins.ProgramIDIndex
		if idx < 0 || idx >= len(msg.AccountKeys) {
			diagInstr(signature, i, "programIdIndex out of bounds")
			continue
		}
		if msg.AccountKeys[idx] != VoteProgramID {
			continue
		}
		if ins.Data == nil {
			diagInstr(signature, i, "missing instruction data")
			continue
		}
		raw, err := base58.Decode(*ins.Data)
		if err != nil {
			log.Warn().Err(err).Str("signature", signature).Int("instruction", i).
				Msg("base58 decode failed")
			continue
		}
		payload, err := ParsePayload(raw)
		if err != nil {
			log.Warn().Err(err).Str("signature", signature).Int("instruction", i).
				Msg("vote instruction deserialize failed")
			continue
		}
		if slot, ok := RecoveredSlot(payload); ok {
			return slot, true
		}
		switch p := payload.(type) {
		case Other:
			log.Warn().Str("signature", signature).Int("instruction", i).
				Uint32("tag", p.Tag).Msg("decoded variant is neither Vote nor TowerSync")
		default:
			diagInstr(signature, i, "no entry with confirmation count 1")
		}
	}

	diag(signature, "no matching instruction found")
	if zerolog.GlobalLevel() <= zerolog.TraceLevel {
		if raw, err := sonic.Marshal(detail); err == nil {
			log.Trace().Str("signature", signature).RawJSON("transaction", raw).
				Msg("full transaction detail")
		}
	}
	return 0, false
}

func diag(signature, reason string) {
	log.Warn().Str("signature", signature).Str("reason", reason).
		Msg("could not extract voted slot")
}

func diagInstr(signature string, instruction int, reason string) {
	log.Warn().Str("signature", signature).Int("instruction", instruction).
		Str("reason", reason).Msg("could not extract voted slot")
}
