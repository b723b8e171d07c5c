package scanner

import "gonum.org/v1/gonum/stat"

// RecordKind says what a Record describes.
type RecordKind int

const (
	// KindVote is a vote transaction from the target account, with its
	// recovered slot when decoding succeeded.
	KindVote RecordKind = iota
	// KindNoVote is a slot whose block held no vote from the account.
	KindNoVote
	// KindBlockMissing is a slot with no block after the retry budget.
	KindBlockMissing
	// KindBlockError is a slot whose block fetch failed outright.
	KindBlockError
)

// Record is one report entry. Per-slot kinds fill the slot fields
// only; KindVote also fills the signature fields.
type Record struct {
	Kind      RecordKind
	Slot      uint64
	Leader    string
	VoteCount int

	Signature string
	VotedSlot *uint64
	Position  int
	Err       string
}

// Sink consumes records as the scan produces them. The presentation
// layer supplies one; the scanner never touches the terminal itself.
type Sink interface {
	Emit(Record)
}

// Summary aggregates a finished run. Lag is currentSlot minus
// votedSlot for each recovered vote. MeanLag is meaningful once a vote
// was recovered; StdDevLag stays zero until there are at least two
// samples to deviate.
type Summary struct {
	SlotsScanned   int
	BlocksMissing  int
	VotesMatched   int
	SlotsRecovered int

	MeanLag   float64
	StdDevLag float64
}

func summarize(slots, missing, matched int, lags []float64) Summary {
	s := Summary{
		SlotsScanned:   slots,
		BlocksMissing:  missing,
		VotesMatched:   matched,
		SlotsRecovered: len(lags),
	}
	if len(lags) > 0 {
		s.MeanLag = stat.Mean(lags, nil)
	}
	if len(lags) > 1 {
		s.StdDevLag = stat.StdDev(lags, nil)
	}
	return s
}
