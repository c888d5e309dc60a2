package evm

import (
	"testing"

	"github.com/ethereum/go-ethereum/core/vm"
	"github.com/stretchr/testify/assert"
)

func TestScanOpcodes(t *testing.T) {
	tests := []struct {
		name string
		code []byte
		want []OpcodeHit
	}{
		{
			name: "push operands are skipped",
			// PUSH1 0xff, DELEGATECALL, SELFDESTRUCT
			code: []byte{0x60, 0xff, 0xf4, 0xff},
			want: []OpcodeHit{{Op: vm.DELEGATECALL, Offset: 2}, {Op: vm.SELFDESTRUCT, Offset: 3}},
		},
		{
			name: "operand only",
			// PUSH2 0xf4ff, STOP
			code: []byte{0x61, 0xf4, 0xff, 0x00},
			want: nil,
		},
		{
			name: "truncated push at end",
			code: []byte{0x7f, 0xff},
			want: nil,
		},
		{
			name: "first occurrence only",
			code: []byte{0xff, 0x00, 0xff},
			want: []OpcodeHit{{Op: vm.SELFDESTRUCT, Offset: 0}},
		},
		{
			name: "empty",
			code: nil,
			want: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ScanOpcodes(tt.code))
		})
	}
}

func TestOpcodeWarnings(t *testing.T) {
	warnings := OpcodeWarnings([]byte{0x60, 0x80, 0xf4})
	assert.Equal(t, []string{"init code contains DELEGATECALL at offset 2"}, warnings)
	assert.Empty(t, OpcodeWarnings([]byte{0x60, 0x80}))
}
