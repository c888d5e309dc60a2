package evm

import (
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pendergraft/deployproof/internal/chains"
)

var (
	targetAddr = common.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3")
	otherAddr  = common.HexToAddress("0xe7f1725E7734CE288F8367e1Bb143E90bb3F0512")
)

func created(addr common.Address, pos []int, init ...byte) TraceEntry {
	a := addr
	return TraceEntry{
		ActionType:     ActionCreate,
		TraceAddress:   pos,
		HasResult:      true,
		CreatedAddress: &a,
		InitCode:       init,
	}
}

func TestLocateCreation(t *testing.T) {
	call := TraceEntry{ActionType: ActionCall, HasResult: true}
	failed := TraceEntry{ActionType: ActionCreate, TraceAddress: []int{1}, InitCode: []byte{0x60}, Error: "Reverted"}

	tests := []struct {
		name     string
		traces   []TraceEntry
		wantErr  error
		wantInit string
	}{
		{
			name:     "single top-level creation",
			traces:   []TraceEntry{created(targetAddr, nil, 0x60, 0x80)},
			wantInit: "0x6080",
		},
		{
			name:     "nested creation among calls",
			traces:   []TraceEntry{call, created(otherAddr, []int{0}, 0x01), created(targetAddr, []int{1}, 0x02)},
			wantInit: "0x02",
		},
		{
			name:    "empty trace",
			traces:  nil,
			wantErr: chains.ErrCreationNotFound,
		},
		{
			name:    "only other creations",
			traces:  []TraceEntry{call, created(otherAddr, nil, 0x01)},
			wantErr: chains.ErrCreationNotFound,
		},
		{
			name:    "creation without result",
			traces:  []TraceEntry{call, failed},
			wantErr: chains.ErrCreationNotFound,
		},
		{
			name:    "target created twice",
			traces:  []TraceEntry{created(targetAddr, []int{0}, 0x01), call, created(targetAddr, []int{2}, 0x02)},
			wantErr: chains.ErrAmbiguousCreation,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, err := LocateCreation(tt.traces, targetAddr)
			if tt.wantErr != nil {
				require.Error(t, err)
				assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
				assert.Nil(t, rec)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, targetAddr, rec.Address())
			assert.Equal(t, tt.wantInit, rec.InitCode())
		})
	}
}

func TestLocateCreation_Messages(t *testing.T) {
	failed := TraceEntry{ActionType: ActionCreate, InitCode: []byte{0x60}}
	_, err := LocateCreation([]TraceEntry{failed}, targetAddr)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "without result")

	_, err = LocateCreation([]TraceEntry{
		created(targetAddr, []int{0}),
		created(targetAddr, []int{1, 0}),
	}, targetAddr)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "2 times")
	assert.Contains(t, err.Error(), "0, 1.0")
}

func TestTraceEntry_Position(t *testing.T) {
	assert.Equal(t, "root", TraceEntry{}.Position())
	assert.Equal(t, "0.2.1", TraceEntry{TraceAddress: []int{0, 2, 1}}.Position())
}
