package evm

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/samber/lo"

	"github.com/pendergraft/deployproof/internal/chains"
)

// CreationRecord is the trace entry that created the target contract.
type CreationRecord struct {
	Entry TraceEntry
}

// InitCode returns the initialization bytecode as 0x-prefixed hex.
func (r *CreationRecord) InitCode() string {
	return hexutil.Encode(r.Entry.InitCode)
}

// Address returns the created address.
func (r *CreationRecord) Address() common.Address {
	return *r.Entry.CreatedAddress
}

// LocateCreation selects the single successful creation of target.
// No candidate wraps chains.ErrCreationNotFound; more than one wraps
// chains.ErrAmbiguousCreation.
func LocateCreation(traces []TraceEntry, target common.Address) (*CreationRecord, error) {
	matches := lo.Filter(traces, func(e TraceEntry, _ int) bool {
		return e.ActionType == ActionCreate && e.HasResult && e.CreatedAddress != nil && *e.CreatedAddress == target
	})

	switch len(matches) {
	case 1:
		return &CreationRecord{Entry: matches[0]}, nil
	case 0:
		failed := lo.CountBy(traces, func(e TraceEntry) bool {
			return e.ActionType == ActionCreate && !e.HasResult
		})
		if failed > 0 {
			return nil, fmt.Errorf("%w: no successful creation of %s (%d creation(s) without result)",
				chains.ErrCreationNotFound, target.Hex(), failed)
		}
		return nil, fmt.Errorf("%w: no creation of %s in trace", chains.ErrCreationNotFound, target.Hex())
	default:
		positions := lo.Map(matches, func(e TraceEntry, _ int) string { return e.Position() })
		return nil, fmt.Errorf("%w: %s created %d times (at %s)",
			chains.ErrAmbiguousCreation, target.Hex(), len(matches), strings.Join(positions, ", "))
	}
}
