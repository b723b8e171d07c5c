package rpc

import "fmt"

// request is a JSON-RPC 2.0 request envelope.
type request struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int    `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

// Error is a JSON-RPC error object. Some endpoints signal throttling
// through it (code 429) even when the HTTP status is 200.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// HTTPError is a non-2xx HTTP response from the endpoint.
type HTTPError struct {
	Status int
	Body   string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("request returned status %d: %s", e.Status, e.Body)
}

// response is a JSON-RPC 2.0 response envelope. Result stays nil when
// the endpoint returns a null result, e.g. a block that does not exist
// yet.
type response[T any] struct {
	Result *T     `json:"result"`
	Error  *Error `json:"error"`
}

// Block is the getBlock result, reduced to the fields the scan needs.
type Block struct {
	Transactions []Transaction `json:"transactions"`
}

// Transaction is one entry of a block's transaction list.
type Transaction struct {
	Transaction TransactionData `json:"transaction"`
	Meta        *Meta           `json:"meta"`
}

// TransactionData holds the signatures and the decoded message.
type TransactionData struct {
	Signatures []string `json:"signatures"`
	Message    *Message `json:"message"`
}

// Message is the transaction message: the account table plus the
// instruction list referencing it by index.
type Message struct {
	AccountKeys  []string      `json:"accountKeys"`
	Instructions []Instruction `json:"instructions"`
}

// Instruction keeps optional fields as pointers so a missing field can
// be told apart from a zero value when diagnosing malformed responses.
type Instruction struct {
	ProgramIDIndex *int    `json:"programIdIndex"`
	Accounts       []int   `json:"accounts"`
	Data           *string `json:"data"`
}

// Meta carries the transaction metadata; only the program log lines
// matter here.
type Meta struct {
	LogMessages []string `json:"logMessages"`
}

// TransactionDetail is the getTransaction result.
type TransactionDetail struct {
	Slot        uint64           `json:"slot"`
	Transaction *TransactionData `json:"transaction"`
}

// EpochSchedule mirrors the getEpochSchedule result, including the
// warm-up ramp parameters.
type EpochSchedule struct {
	SlotsPerEpoch            uint64 `json:"slotsPerEpoch"`
	LeaderScheduleSlotOffset uint64 `json:"leaderScheduleSlotOffset"`
	Warmup                   bool   `json:"warmup"`
	FirstNormalEpoch         uint64 `json:"firstNormalEpoch"`
	FirstNormalSlot          uint64 `json:"firstNormalSlot"`
}
