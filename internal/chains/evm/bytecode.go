package evm

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/pendergraft/deployproof/internal/chains"
)

// Library placeholder pattern: __$<34 hex chars>$__
var libraryPlaceholder = regexp.MustCompile(`__\$[a-fA-F0-9]{34}\$__`)

// HasLibraryPlaceholders checks if bytecode contains unlinked library placeholders
func HasLibraryPlaceholders(bytecode string) bool {
	return libraryPlaceholder.MatchString(bytecode)
}

// IsHex reports whether s consists only of hex digits after an optional 0x prefix.
func IsHex(s string) bool {
	_, body := splitHexPrefix(s)
	return strings.IndexFunc(body, func(r rune) bool {
		return !('0' <= r && r <= '9' || 'a' <= r && r <= 'f' || 'A' <= r && r <= 'F')
	}) < 0
}

// CheckBuildOutput validates bytecode emitted by a build tool and returns it
// trimmed. Unlinked libraries and empty bytecode wrap chains.ErrBuildFailure;
// anything that is not hex wraps chains.ErrToolchain.
func CheckBuildOutput(tool, contract, code string) (string, error) {
	code = strings.TrimSpace(code)
	if HasLibraryPlaceholders(code) {
		return "", fmt.Errorf("%w: %s bytecode of %s has unlinked library placeholders", chains.ErrBuildFailure, tool, contract)
	}
	if !IsHex(code) {
		return "", fmt.Errorf("%w: %s returned non-hex bytecode for %s", chains.ErrToolchain, tool, contract)
	}
	if _, body := splitHexPrefix(code); body == "" {
		return "", fmt.Errorf("%w: %s produced no bytecode for %s (abstract contract or interface?)", chains.ErrBuildFailure, tool, contract)
	}
	if err := ValidateHex(code); err != nil {
		return "", fmt.Errorf("%w: %s returned odd-length bytecode for %s", chains.ErrToolchain, tool, contract)
	}
	return code, nil
}
