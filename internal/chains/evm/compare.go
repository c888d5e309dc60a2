package evm

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/pendergraft/deployproof/internal/chains"
)

// Comparison is the result of comparing on-chain and built init code.
type Comparison struct {
	Match bool `json:"match"`
	// OnChain and Built are the normalized values, lowercase without prefix.
	OnChain string `json:"onChain"`
	Built   string `json:"built"`
	// MetadataStripped reports which sides carried a metadata section.
	OnChainStripped bool `json:"onChainStripped"`
	BuiltStripped   bool `json:"builtStripped"`
	// Sections counts the marker occurrences cut from each side.
	OnChainSections int `json:"onChainSections"`
	BuiltSections   int `json:"builtSections"`
}

// Comparator decides whether two raw bytecodes are the same program once
// metadata is removed.
type Comparator struct {
	normalizer *Normalizer
}

// NewComparator creates a comparator using the given normalizer.
func NewComparator(n *Normalizer) *Comparator {
	if n == nil {
		n = DefaultNormalizer()
	}
	return &Comparator{normalizer: n}
}

// Normalizer returns the normalizer used by the comparator.
func (c *Comparator) Normalizer() *Normalizer {
	return c.normalizer
}

// Compare normalizes both inputs and checks them for exact equality,
// ignoring hex case. Both inputs must be non-empty even-length hex.
func (c *Comparator) Compare(onChain, built string) (*Comparison, error) {
	if err := ValidateHex(onChain); err != nil {
		return nil, fmt.Errorf("on-chain bytecode: %w", err)
	}
	if err := ValidateHex(built); err != nil {
		return nil, fmt.Errorf("built bytecode: %w", err)
	}

	a := canonical(c.normalizer.Normalize(onChain))
	b := canonical(c.normalizer.Normalize(built))
	onChainSections := c.normalizer.Sections(onChain)
	builtSections := c.normalizer.Sections(built)
	return &Comparison{
		Match:           a == b,
		OnChain:         a,
		Built:           b,
		OnChainStripped: onChainSections > 0,
		BuiltStripped:   builtSections > 0,
		OnChainSections: onChainSections,
		BuiltSections:   builtSections,
	}, nil
}

// ValidateHex checks that s is non-empty, even-length hex with an optional
// 0x prefix. Failures wrap chains.ErrMalformedBytecode.
func ValidateHex(s string) error {
	_, body := splitHexPrefix(s)
	if body == "" {
		return fmt.Errorf("%w: empty", chains.ErrMalformedBytecode)
	}
	if _, err := hexutil.Decode("0x" + body); err != nil {
		return fmt.Errorf("%w: %v", chains.ErrMalformedBytecode, err)
	}
	return nil
}

func canonical(s string) string {
	_, body := splitHexPrefix(s)
	return strings.ToLower(body)
}
