package evm

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// Metadata marker presets. Solidity appends a CBOR map to the bytecode whose
// header depends on the compiler version and metadata hash kind.
var (
	// MarkerSolc matches any two-entry CBOR map with a four-byte first key,
	// which covers the "ipfs" trailer emitted by solc >= 0.6.
	MarkerSolc = []byte{0xa2, 0x64}
	// MarkerSolcIPFS is the full "ipfs" key header.
	MarkerSolcIPFS = []byte{0xa2, 0x64, 0x69, 0x70, 0x66, 0x73}
	// MarkerSolcBzzr0 is the swarm hash trailer of solc 0.4.x.
	MarkerSolcBzzr0 = []byte{0xa1, 0x65, 0x62, 0x7a, 0x7a, 0x72, 0x30}
	// MarkerSolcBzzr1 is the swarm hash trailer of solc 0.5.x.
	MarkerSolcBzzr1 = []byte{0xa2, 0x65, 0x62, 0x7a, 0x7a, 0x72, 0x31}
)

// DefaultMarkerName is the preset used when no marker is configured.
const DefaultMarkerName = "solc"

var markerPresets = map[string][]byte{
	"solc":       MarkerSolc,
	"solc-ipfs":  MarkerSolcIPFS,
	"solc-bzzr0": MarkerSolcBzzr0,
	"solc-bzzr1": MarkerSolcBzzr1,
}

// MarkerPresets returns the names of the built-in markers.
func MarkerPresets() []string {
	return []string{"solc", "solc-ipfs", "solc-bzzr0", "solc-bzzr1"}
}

// ParseMarker resolves a preset name or a hex byte sequence (optional 0x
// prefix) to marker bytes. An empty value selects the default preset.
func ParseMarker(value string) ([]byte, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		value = DefaultMarkerName
	}
	if m, ok := markerPresets[strings.ToLower(value)]; ok {
		return m, nil
	}
	raw := strings.TrimPrefix(strings.TrimPrefix(value, "0x"), "0X")
	m, err := hex.DecodeString(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid metadata marker %q: not a preset (%s) or hex bytes", value, strings.Join(MarkerPresets(), ", "))
	}
	if len(m) == 0 {
		return nil, fmt.Errorf("invalid metadata marker %q: empty", value)
	}
	return m, nil
}

// Normalizer strips the trailing metadata section from hex bytecode.
type Normalizer struct {
	marker string // lowercase hex
}

// NewNormalizer creates a normalizer that cuts bytecode at marker.
func NewNormalizer(marker []byte) (*Normalizer, error) {
	if len(marker) == 0 {
		return nil, fmt.Errorf("metadata marker must not be empty")
	}
	return &Normalizer{marker: hex.EncodeToString(marker)}, nil
}

// DefaultNormalizer returns a normalizer for MarkerSolc.
func DefaultNormalizer() *Normalizer {
	n, _ := NewNormalizer(MarkerSolc)
	return n
}

// Marker returns the marker as lowercase hex.
func (n *Normalizer) Marker() string {
	return n.marker
}

// Normalize removes everything from the earliest byte-aligned marker
// occurrence onwards. Markers are searched from the end and the cut repeats
// until none remains, so Normalize is idempotent. Input without a marker is
// returned unchanged, prefix and case included. Normalize never fails; a
// marker that happens to occur inside genuine code truncates it too.
func (n *Normalizer) Normalize(raw string) string {
	prefix, body := splitHexPrefix(raw)
	body, _ = n.cut(body)
	return prefix + body
}

// Sections returns how many marker occurrences Normalize cuts from raw. More
// than one usually means embedded creation code, such as a factory carrying
// its child's bytecode; everything after the first marker is then ignored.
func (n *Normalizer) Sections(raw string) int {
	_, body := splitHexPrefix(raw)
	_, cuts := n.cut(body)
	return cuts
}

func (n *Normalizer) cut(body string) (string, int) {
	cuts := 0
	for {
		idx := n.lastMarker(body)
		if idx < 0 {
			return body, cuts
		}
		body = body[:idx]
		cuts++
	}
}

// Stripped reports whether Normalize would remove anything from raw.
func (n *Normalizer) Stripped(raw string) bool {
	_, body := splitHexPrefix(raw)
	return n.lastMarker(body) >= 0
}

// lastMarker returns the even hex offset of the last marker occurrence in
// body, or -1.
func (n *Normalizer) lastMarker(body string) int {
	for i := len(body) - len(n.marker); i >= 0; i-- {
		if i%2 != 0 {
			continue
		}
		if strings.EqualFold(body[i:i+len(n.marker)], n.marker) {
			return i
		}
	}
	return -1
}

func splitHexPrefix(s string) (prefix, body string) {
	if len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		return s[:2], s[2:]
	}
	return "", s
}
