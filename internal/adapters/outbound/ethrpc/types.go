// types.go defines JSON-RPC message types for Ethereum node communication.
//
// This file contains:
//   - jsonRPCRequest/jsonRPCResponse: Standard JSON-RPC 2.0 message structures
//   - subscriptionParams: eth_subscription notification parsing
//   - logFilter: the filter object shared by eth_getLogs and eth_subscribe("logs")
package ethrpc

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/archon-research/stl-logfeed/internal/pkg/networks"
)

// ErrUnknownNetwork is returned when a network cannot be resolved or lacks
// the endpoint an operation needs.
var ErrUnknownNetwork = errors.New("unknown network")

// jsonRPCRequest represents a JSON-RPC 2.0 request.
type jsonRPCRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int64  `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

// jsonRPCResponse represents a JSON-RPC 2.0 response or notification.
type jsonRPCResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int64           `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *jsonRPCError   `json:"error,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// jsonRPCError represents a JSON-RPC 2.0 error.
type jsonRPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Error implements the error interface.
func (e *jsonRPCError) Error() string {
	return fmt.Sprintf("RPC error %d: %s", e.Code, e.Message)
}

// subscriptionParams represents the params field of an eth_subscription notification.
type subscriptionParams struct {
	Subscription string          `json:"subscription"`
	Result       json.RawMessage `json:"result"`
}

// logFilter is the JSON filter object of eth_getLogs and eth_subscribe("logs").
type logFilter struct {
	FromBlock string           `json:"fromBlock,omitempty"`
	ToBlock   string           `json:"toBlock,omitempty"`
	Address   []common.Address `json:"address,omitempty"`
	Topics    []any            `json:"topics,omitempty"`
}

// newLogFilter converts a network filter. Empty topic positions become null,
// the JSON-RPC wildcard.
func newLogFilter(f networks.Filter) logFilter {
	lf := logFilter{Address: f.Addresses}
	if len(f.Topics) > 0 {
		lf.Topics = make([]any, len(f.Topics))
		for i, position := range f.Topics {
			if len(position) > 0 {
				lf.Topics[i] = position
			}
		}
	}
	return lf
}

// withRange returns a copy of f bounded to [from, to].
func (f logFilter) withRange(from, to uint64) logFilter {
	f.FromBlock = hexutil.EncodeUint64(from)
	f.ToBlock = hexutil.EncodeUint64(to)
	return f
}
