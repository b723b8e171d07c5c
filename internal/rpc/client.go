// Package rpc is a thin JSON-RPC 2.0 client for a Solana RPC endpoint.
// It owns request/response plumbing only; retry policy lives with the
// callers.
package rpc

import (
	"fmt"
	"time"

	"github.com/bytedance/sonic"
	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog/log"
)

// Client posts JSON-RPC requests to a single endpoint URL.
type Client struct {
	http *resty.Client
}

// New creates a Client for the given endpoint.
func New(url string, timeout time.Duration) *Client {
	c := resty.New().
		SetBaseURL(url).
		SetJSONMarshaler(sonic.Marshal).
		SetJSONUnmarshaler(sonic.Unmarshal).
		SetTimeout(timeout)

	return &Client{http: c}
}

func call[T any](c *Client, method string, params ...any) (*T, error) {
	var out response[T]
	resp, err := c.http.R().
		SetBody(request{JSONRPC: "2.0", ID: 1, Method: method, Params: params}).
		SetResult(&out).
		Post("")
	if err != nil {
		log.Error().Err(err).Str("method", method).Msg("post request failed")
		return nil, fmt.Errorf("post %s: %w", method, err)
	}
	if resp.IsError() {
		log.Error().Int("status", resp.StatusCode()).Str("method", method).Msg("post non-2xx")
		return nil, &HTTPError{Status: resp.StatusCode(), Body: resp.String()}
	}
	if out.Error != nil {
		log.Error().Int("code", out.Error.Code).Str("method", method).Msg("response contains error")
		return nil, out.Error
	}
	return out.Result, nil
}

// GetBlock fetches a block by slot. A nil Block with a nil error means
// the endpoint has no block for that slot (yet).
func (c *Client) GetBlock(slot uint64) (*Block, error) {
	return call[Block](c, "getBlock", slot, map[string]any{
		"encoding":                       "json",
		"transactionDetails":             "full",
		"rewards":                        false,
		"maxSupportedTransactionVersion": 0,
	})
}

// GetTransaction fetches full transaction detail for a signature. A
// nil result means the endpoint does not know the signature.
func (c *Client) GetTransaction(signature string) (*TransactionDetail, error) {
	return call[TransactionDetail](c, "getTransaction", signature, map[string]any{
		"encoding":   "json",
		"commitment": "confirmed",
	})
}

// GetEpochSchedule fetches the chain's epoch schedule parameters.
func (c *Client) GetEpochSchedule() (*EpochSchedule, error) {
	return call[EpochSchedule](c, "getEpochSchedule")
}

// GetLeaderSchedule fetches the leader schedule for the epoch that
// contains slot: a map from leader identity to its epoch-relative slot
// offsets. A nil map means the endpoint has no schedule for the epoch.
func (c *Client) GetLeaderSchedule(slot uint64) (map[string][]uint64, error) {
	m, err := call[map[string][]uint64](c, "getLeaderSchedule", slot)
	if err != nil {
		return nil, err
	}
	if m == nil {
		return nil, nil
	}
	return *m, nil
}
