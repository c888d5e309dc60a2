package evm

import (
	"fmt"

	"github.com/ethereum/go-ethereum/core/vm"
)

// WatchedOpcodes are reported as advisory warnings when present in init code.
var WatchedOpcodes = []vm.OpCode{vm.SELFDESTRUCT, vm.DELEGATECALL}

// OpcodeHit records the first offset at which a watched opcode was found.
type OpcodeHit struct {
	Op     vm.OpCode
	Offset int
}

// ScanOpcodes walks code instruction by instruction, skipping PUSH
// immediates, and returns the first occurrence of each watched opcode in the
// order they appear. A truncated trailing PUSH ends the walk.
func ScanOpcodes(code []byte, watch ...vm.OpCode) []OpcodeHit {
	if len(watch) == 0 {
		watch = WatchedOpcodes
	}
	wanted := make(map[vm.OpCode]bool, len(watch))
	for _, op := range watch {
		wanted[op] = true
	}

	var hits []OpcodeHit
	for pc := 0; pc < len(code); pc++ {
		op := vm.OpCode(code[pc])
		if wanted[op] {
			hits = append(hits, OpcodeHit{Op: op, Offset: pc})
			delete(wanted, op)
			if len(wanted) == 0 {
				break
			}
		}
		if op.IsPush() {
			pc += int(op - vm.PUSH0)
		}
	}
	return hits
}

// OpcodeWarnings formats ScanOpcodes hits as human-readable warnings.
func OpcodeWarnings(code []byte) []string {
	hits := ScanOpcodes(code)
	warnings := make([]string, 0, len(hits))
	for _, h := range hits {
		warnings = append(warnings, fmt.Sprintf("init code contains %s at offset %d", h.Op, h.Offset))
	}
	return warnings
}
