package votes

import (
	"strings"

	"github.com/solwatch/votewatch/internal/rpc"
)

// voteInvokePrefix is how the vote program announces itself in a
// transaction's log lines.
const voteInvokePrefix = "Program " + VoteProgramID + " invoke"

// Match is a vote transaction together with its position in the
// block's transaction list. Position is reported to the operator, so
// block order must be preserved.
type Match struct {
	Position int
	Tx       rpc.Transaction
}

// FilterVoteTransactions selects the transactions of a block that
// invoked the vote program, judged by their log lines. The result
// preserves on-chain order and original indices.
func FilterVoteTransactions(block *rpc.Block) []Match {
	var matches []Match
	for i, tx := range block.Transactions {
		if tx.Meta == nil {
			continue
		}
		for _, line := range tx.Meta.LogMessages {
			if strings.HasPrefix(line, voteInvokePrefix) {
				matches = append(matches, Match{Position: i, Tx: tx})
				break
			}
		}
	}
	return matches
}
