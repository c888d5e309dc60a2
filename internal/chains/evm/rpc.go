package evm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rpc"

	"github.com/pendergraft/deployproof/internal/chains"
)

// codeMethodNotFound is the JSON-RPC error code for an unknown method.
const codeMethodNotFound = -32601

// RPCTraceSource fetches traces through a node's trace_transaction method.
type RPCTraceSource struct {
	client *rpc.Client
	logger *slog.Logger
}

// DialTraceSource connects to the node at url.
func DialTraceSource(ctx context.Context, url string, logger *slog.Logger) (*RPCTraceSource, error) {
	client, err := rpc.DialContext(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("%w: dialing node: %v", chains.ErrRPC, err)
	}
	return NewRPCTraceSource(client, logger), nil
}

// NewRPCTraceSource wraps an existing RPC client.
func NewRPCTraceSource(client *rpc.Client, logger *slog.Logger) *RPCTraceSource {
	if logger == nil {
		logger = slog.Default()
	}
	return &RPCTraceSource{
		client: client,
		logger: logger.With("component", "trace-source"),
	}
}

// FetchTrace returns every trace entry of the transaction. Failures wrap
// chains.ErrRPC, except context cancellation which is returned as is.
func (s *RPCTraceSource) FetchTrace(ctx context.Context, txHash common.Hash) ([]TraceEntry, error) {
	var raw json.RawMessage
	if err := s.client.CallContext(ctx, &raw, "trace_transaction", txHash); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		var rpcErr rpc.Error
		if errors.As(err, &rpcErr) && rpcErr.ErrorCode() == codeMethodNotFound {
			return nil, fmt.Errorf("%w: node does not support trace_transaction: %v", chains.ErrRPC, err)
		}
		return nil, fmt.Errorf("%w: trace_transaction %s: %v", chains.ErrRPC, txHash.Hex(), err)
	}

	entries, err := DecodeTraces(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", chains.ErrRPC, err)
	}
	s.logger.Debug("fetched trace", "tx", txHash.Hex(), "entries", len(entries))
	return entries, nil
}

// Close releases the underlying connection.
func (s *RPCTraceSource) Close() error {
	s.client.Close()
	return nil
}
