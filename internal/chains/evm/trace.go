package evm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// ActionType classifies a trace entry.
type ActionType string

const (
	ActionCall    ActionType = "call"
	ActionCreate  ActionType = "create"
	ActionSuicide ActionType = "suicide"
	ActionReward  ActionType = "reward"
	ActionUnknown ActionType = "unknown"
)

// TraceSource retrieves the full execution trace of a transaction.
type TraceSource interface {
	FetchTrace(ctx context.Context, txHash common.Hash) ([]TraceEntry, error)
}

// TraceEntry is one frame of a transaction execution trace. CreatedAddress is
// only set for successful creations; InitCode only for creations.
type TraceEntry struct {
	ActionType     ActionType
	TraceAddress   []int
	HasResult      bool
	CreatedAddress *common.Address
	InitCode       []byte
	CreationMethod string
	Error          string
}

// Position formats the trace address as a dotted path, "root" for the top frame.
func (e TraceEntry) Position() string {
	if len(e.TraceAddress) == 0 {
		return "root"
	}
	parts := make([]string, len(e.TraceAddress))
	for i, p := range e.TraceAddress {
		parts[i] = fmt.Sprint(p)
	}
	return strings.Join(parts, ".")
}

// rpcTrace is the wire form of a trace_transaction entry.
type rpcTrace struct {
	Type         string          `json:"type"`
	Action       rpcTraceAction  `json:"action"`
	Result       json.RawMessage `json:"result"`
	TraceAddress []int           `json:"traceAddress"`
	Subtraces    int             `json:"subtraces"`
	Error        string          `json:"error,omitempty"`
}

type rpcTraceAction struct {
	From           *common.Address `json:"from,omitempty"`
	Init           hexutil.Bytes   `json:"init,omitempty"`
	CreationMethod string          `json:"creationMethod,omitempty"`
}

type rpcCreateResult struct {
	Address *common.Address `json:"address"`
	Code    hexutil.Bytes   `json:"code"`
}

// DecodeTraces converts the raw trace_transaction response into trace
// entries. A null response is reported as an error.
func DecodeTraces(raw json.RawMessage) ([]TraceEntry, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, fmt.Errorf("node returned no trace result")
	}
	var wire []rpcTrace
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, fmt.Errorf("decoding trace: %w", err)
	}

	entries := make([]TraceEntry, 0, len(wire))
	for i, w := range wire {
		e := TraceEntry{
			ActionType:   parseActionType(w.Type),
			TraceAddress: w.TraceAddress,
			Error:        w.Error,
		}
		hasResult := len(w.Result) > 0 && string(w.Result) != "null"
		e.HasResult = hasResult
		if e.ActionType == ActionCreate {
			e.InitCode = w.Action.Init
			e.CreationMethod = w.Action.CreationMethod
			if hasResult {
				var res rpcCreateResult
				if err := json.Unmarshal(w.Result, &res); err != nil {
					return nil, fmt.Errorf("decoding create result of entry %d: %w", i, err)
				}
				e.CreatedAddress = res.Address
			}
		}
		entries = append(entries, e)
	}
	return entries, nil
}

func parseActionType(s string) ActionType {
	switch t := ActionType(strings.ToLower(s)); t {
	case ActionCall, ActionCreate, ActionSuicide, ActionReward:
		return t
	default:
		return ActionUnknown
	}
}
