package scanner

import (
	"encoding/binary"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/mr-tron/base58"
	"github.com/stretchr/testify/require"

	"github.com/solwatch/votewatch/internal/leader"
	"github.com/solwatch/votewatch/internal/retry"
	"github.com/solwatch/votewatch/internal/rpc"
	"github.com/solwatch/votewatch/internal/votes"
)

const (
	targetAccount = "TargetVoterAccount11111111111111111111111111"
	otherAccount  = "OtherVoterAccount111111111111111111111111111"
)

// voteInstructionData builds the base58-encoded bincode Vote payload a
// real vote transaction would carry.
func voteInstructionData(slots []uint64) string {
	b := binary.LittleEndian.AppendUint32(nil, 2) // Vote enum tag
	b = binary.LittleEndian.AppendUint64(b, uint64(len(slots)))
	for _, s := range slots {
		b = binary.LittleEndian.AppendUint64(b, s)
	}
	b = append(b, make([]byte, 32)...) // hash
	b = append(b, 0)                   // no timestamp
	return base58.Encode(b)
}

func voteTx(account, signature string, data string) rpc.Transaction {
	idx := 1
	return rpc.Transaction{
		Transaction: rpc.TransactionData{
			Signatures: []string{signature},
			Message: &rpc.Message{
				AccountKeys: []string{account, votes.VoteProgramID},
				Instructions: []rpc.Instruction{
					{ProgramIDIndex: &idx, Accounts: []int{0}, Data: &data},
				},
			},
		},
		Meta: &rpc.Meta{LogMessages: []string{
			"Program " + votes.VoteProgramID + " invoke [1]",
		}},
	}
}

func plainTx(signature string) rpc.Transaction {
	return rpc.Transaction{
		Transaction: rpc.TransactionData{
			Signatures: []string{signature},
			Message:    &rpc.Message{AccountKeys: []string{"Payer111"}},
		},
		Meta: &rpc.Meta{LogMessages: []string{"Program 11111111111111111111111111111111 invoke [1]"}},
	}
}

type collectSink struct {
	records []Record
}

func (c *collectSink) Emit(r Record) { c.records = append(c.records, r) }

// fakeRPC scripts getBlock by slot and getTransaction by signature.
// A nil block entry answers with a null result.
type fakeRPC struct {
	t          *testing.T
	blocks     map[uint64]*rpc.Block
	txResults  map[string]string // signature -> raw JSON-RPC response body
	blockCalls map[uint64]int
	txCalls    map[string]int

	// blockAbsentUntil makes getBlock return null for the slot until
	// the given call count is reached.
	blockAbsentUntil map[uint64]int
}

func newFakeRPC(t *testing.T) *fakeRPC {
	return &fakeRPC{
		t:                t,
		blocks:           map[uint64]*rpc.Block{},
		txResults:        map[string]string{},
		blockCalls:       map[uint64]int{},
		txCalls:          map[string]int{},
		blockAbsentUntil: map[uint64]int{},
	}
}

func (f *fakeRPC) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		require.NoError(f.t, err)
		var req struct {
			Method string `json:"method"`
			Params []any  `json:"params"`
		}
		require.NoError(f.t, sonic.Unmarshal(body, &req))

		w.Header().Set("Content-Type", "application/json")
		switch req.Method {
		case "getBlock":
			slot := uint64(req.Params[0].(float64))
			f.blockCalls[slot]++
			if f.blockCalls[slot] < f.blockAbsentUntil[slot] {
				fmt.Fprint(w, `{"jsonrpc":"2.0","id":1,"result":null}`)
				return
			}
			b, ok := f.blocks[slot]
			if !ok || b == nil {
				fmt.Fprint(w, `{"jsonrpc":"2.0","id":1,"result":null}`)
				return
			}
			out, err := sonic.Marshal(map[string]any{"jsonrpc": "2.0", "id": 1, "result": b})
			require.NoError(f.t, err)
			_, _ = w.Write(out)
		case "getTransaction":
			sig := req.Params[0].(string)
			f.txCalls[sig]++
			res, ok := f.txResults[sig]
			if !ok {
				fmt.Fprint(w, `{"jsonrpc":"2.0","id":1,"result":null}`)
				return
			}
			fmt.Fprint(w, res)
		default:
			f.t.Fatalf("unexpected method %q", req.Method)
		}
	}
}

func (f *fakeRPC) setTransaction(signature string, tx rpc.Transaction) {
	out, err := sonic.Marshal(map[string]any{
		"jsonrpc": "2.0", "id": 1,
		"result": map[string]any{"slot": 0, "transaction": tx.Transaction},
	})
	require.NoError(f.t, err)
	f.txResults[signature] = string(out)
}

func newScanner(t *testing.T, f *fakeRPC, leaders leader.Map) (*Scanner, *collectSink) {
	t.Helper()
	ts := httptest.NewServer(f.handler())
	t.Cleanup(ts.Close)

	sink := &collectSink{}
	return &Scanner{
		Client:  rpc.New(ts.URL, 5*time.Second),
		Leaders: leaders,
		Policy:  retry.Policy{BaseDelay: time.Second, MaxAttempts: 5, Sleep: func(time.Duration) {}},
		Account: targetAccount,
		Sink:    sink,
		Sleep:   func(time.Duration) {},
	}, sink
}

func TestRunReportsMatchedVote(t *testing.T) {
	f := newFakeRPC(t)
	f.blocks[100] = &rpc.Block{Transactions: []rpc.Transaction{
		voteTx(otherAccount, "SIG0", voteInstructionData([]uint64{7})),
		voteTx(targetAccount, "SIG1", voteInstructionData([]uint64{10, 11, 12})),
		plainTx("SIG2"),
	}}
	f.blocks[99] = &rpc.Block{Transactions: []rpc.Transaction{
		voteTx(otherAccount, "SIG3", voteInstructionData([]uint64{8})),
	}}
	f.setTransaction("SIG1", f.blocks[100].Transactions[1])

	s, sink := newScanner(t, f, leader.Map{100: "LEADER_A", 99: "LEADER_B"})
	summary := s.Run(100, 1)

	require.Len(t, sink.records, 2)

	vote := sink.records[0]
	require.Equal(t, KindVote, vote.Kind)
	require.Equal(t, uint64(100), vote.Slot)
	require.Equal(t, "LEADER_A", vote.Leader)
	require.Equal(t, 2, vote.VoteCount)
	require.Equal(t, "SIG1", vote.Signature)
	require.Equal(t, 1, vote.Position)
	require.NotNil(t, vote.VotedSlot)
	require.Equal(t, uint64(12), *vote.VotedSlot)
	require.Empty(t, vote.Err)

	noVote := sink.records[1]
	require.Equal(t, KindNoVote, noVote.Kind)
	require.Equal(t, uint64(99), noVote.Slot)
	require.Equal(t, "LEADER_B", noVote.Leader)
	require.Equal(t, 1, noVote.VoteCount)

	require.Equal(t, 2, summary.SlotsScanned)
	require.Equal(t, 1, summary.VotesMatched)
	require.Equal(t, 1, summary.SlotsRecovered)
	require.InDelta(t, 88.0, summary.MeanLag, 1e-9)

	// The target's transaction was the only one fetched in detail.
	require.Equal(t, 1, f.txCalls["SIG1"])
	require.Zero(t, f.txCalls["SIG0"])
}

func TestRunRetriesAbsentBlock(t *testing.T) {
	f := newFakeRPC(t)
	f.blocks[50] = &rpc.Block{}
	f.blockAbsentUntil[50] = 5 // null on attempts 1-4, present on 5

	var delays []time.Duration
	s, sink := newScanner(t, f, leader.Map{})
	s.Policy.Sleep = func(d time.Duration) { delays = append(delays, d) }

	summary := s.Run(50, 0)

	require.Equal(t, 5, f.blockCalls[50])
	require.Equal(t, []time.Duration{
		1 * time.Second,
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
	}, delays)

	require.Len(t, sink.records, 1)
	require.Equal(t, KindNoVote, sink.records[0].Kind)
	require.Equal(t, leader.Unknown, sink.records[0].Leader)
	require.Zero(t, summary.BlocksMissing)
}

func TestRunReportsMissingBlockAndContinues(t *testing.T) {
	f := newFakeRPC(t)
	// Slot 20 never produces a block; slot 19 does.
	f.blocks[19] = &rpc.Block{}

	s, sink := newScanner(t, f, leader.Map{})
	summary := s.Run(20, 1)

	require.Equal(t, 5, f.blockCalls[20], "absence retried up to the budget")
	require.Len(t, sink.records, 2)
	require.Equal(t, KindBlockMissing, sink.records[0].Kind)
	require.Equal(t, uint64(20), sink.records[0].Slot)
	require.Equal(t, KindNoVote, sink.records[1].Kind)
	require.Equal(t, 1, summary.BlocksMissing)
	require.Equal(t, 2, summary.SlotsScanned)
}

func TestRunRateLimitExhaustionDoesNotAbort(t *testing.T) {
	f := newFakeRPC(t)
	f.blocks[10] = &rpc.Block{Transactions: []rpc.Transaction{
		voteTx(targetAccount, "SIG_RL", voteInstructionData([]uint64{5})),
	}}
	f.blocks[9] = &rpc.Block{}
	f.txResults["SIG_RL"] = `{"jsonrpc":"2.0","id":1,"error":{"code":429,"message":"too many requests"}}`

	s, sink := newScanner(t, f, leader.Map{})
	summary := s.Run(10, 1)

	require.Equal(t, 5, f.txCalls["SIG_RL"], "rate limited calls retried up to the budget")

	require.Len(t, sink.records, 2)
	failed := sink.records[0]
	require.Equal(t, KindVote, failed.Kind)
	require.Equal(t, "SIG_RL", failed.Signature)
	require.Nil(t, failed.VotedSlot)
	require.Contains(t, failed.Err, "429")

	require.Equal(t, KindNoVote, sink.records[1].Kind)
	require.Equal(t, uint64(9), sink.records[1].Slot)

	require.Equal(t, 1, summary.VotesMatched)
	require.Zero(t, summary.SlotsRecovered)
}

func TestRunClampsAtSlotZero(t *testing.T) {
	f := newFakeRPC(t)
	f.blocks[1] = &rpc.Block{}
	f.blocks[0] = &rpc.Block{}

	s, sink := newScanner(t, f, leader.Map{})
	summary := s.Run(1, 5)

	require.Equal(t, 2, summary.SlotsScanned)
	require.Len(t, sink.records, 2)
	require.Equal(t, uint64(1), sink.records[0].Slot)
	require.Equal(t, uint64(0), sink.records[1].Slot)
}
