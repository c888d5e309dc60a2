// Package validation provides input validation for deployproof.
package validation

import (
	"errors"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/mod/semver"
)

// Solidity identifiers: letters, digits, _ and $, not starting with a digit
var contractNameRegex = regexp.MustCompile(`^[A-Za-z_$][A-Za-z0-9_$]{0,127}$`)

// Git revisions: branch, tag or commit; no whitespace or option-like prefix
var revisionRegex = regexp.MustCompile(`^[A-Za-z0-9._/@^~{}+-]{1,255}$`)

// ValidateTxHash validates a 32-byte transaction hash
func ValidateTxHash(hash string) error {
	if len(hash) != 66 {
		return errors.New("invalid transaction hash length: must be 66 characters (0x + 64 hex)")
	}
	if !strings.HasPrefix(hash, "0x") {
		return errors.New("invalid transaction hash: must start with 0x")
	}
	if !isHex(hash[2:]) {
		return errors.New("invalid transaction hash: contains non-hex characters")
	}
	return nil
}

// ValidateAddress validates an Ethereum address
func ValidateAddress(addr string) error {
	if len(addr) != 42 {
		return errors.New("invalid address length: must be 42 characters (0x + 40 hex)")
	}
	if !strings.HasPrefix(addr, "0x") {
		return errors.New("invalid address: must start with 0x")
	}
	if !isHex(addr[2:]) {
		return errors.New("invalid address: contains non-hex characters")
	}
	return nil
}

// ValidateContractName validates a Solidity contract identifier
func ValidateContractName(name string) error {
	if name == "" {
		return errors.New("contract name cannot be empty")
	}
	if !contractNameRegex.MatchString(name) {
		return errors.New("invalid contract name: must be a Solidity identifier")
	}
	return nil
}

// ValidateRepository validates a git clone source: a URL (https, http, ssh,
// git, file) or an scp-like "user@host:path" reference.
func ValidateRepository(repo string) error {
	if repo == "" {
		return errors.New("repository cannot be empty")
	}
	if strings.HasPrefix(repo, "-") {
		return errors.New("invalid repository: must not start with '-'")
	}
	if strings.ContainsAny(repo, " \t\n") {
		return errors.New("invalid repository: contains whitespace")
	}
	if u, err := url.Parse(repo); err == nil && u.Scheme != "" {
		switch u.Scheme {
		case "https", "http", "ssh", "git", "file":
			return nil
		default:
			return errors.New("invalid repository: unsupported scheme " + u.Scheme)
		}
	}
	if strings.Contains(repo, "@") && strings.Contains(repo, ":") {
		return nil
	}
	return errors.New("invalid repository: must be a URL or user@host:path")
}

// ValidateRemoteRepository is ValidateRepository without the file scheme, for
// sources named by remote callers.
func ValidateRemoteRepository(repo string) error {
	if err := ValidateRepository(repo); err != nil {
		return err
	}
	if u, err := url.Parse(repo); err == nil && u.Scheme == "file" {
		return errors.New("invalid repository: local repositories are not accepted")
	}
	return nil
}

// ValidateNetworkEndpoint accepts http, https, ws and wss URLs with a host.
func ValidateNetworkEndpoint(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return errors.New("invalid url: " + err.Error())
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https", "ws", "wss":
	default:
		return errors.New("invalid url: unsupported scheme " + strconv.Quote(u.Scheme))
	}
	if u.Host == "" {
		return errors.New("invalid url: missing host")
	}
	return nil
}

// ValidateRevision validates an optional git revision
func ValidateRevision(rev string) error {
	if rev == "" {
		return nil
	}
	if strings.HasPrefix(rev, "-") {
		return errors.New("invalid revision: must not start with '-'")
	}
	if !revisionRegex.MatchString(rev) || strings.Contains(rev, "..") {
		return errors.New("invalid revision: must be a branch, tag or commit")
	}
	return nil
}

// ValidateVersion validates a semantic version string
func ValidateVersion(v string) error {
	normalized := NormalizeVersion(v)
	if normalized == "" {
		return errors.New("version cannot be empty")
	}

	// semver library expects version to start with 'v'
	if !semver.IsValid("v" + normalized) {
		return errors.New("invalid semver version: must be in format X.Y.Z or X.Y.Z-prerelease")
	}

	// semver.IsValid accepts "v1" and "v1.2"; require major.minor.patch
	mainPart := strings.SplitN(normalized, "-", 2)[0]
	if strings.Count(mainPart, ".") < 2 {
		return errors.New("invalid semver version: must be in format X.Y.Z (major.minor.patch)")
	}
	return nil
}

// NormalizeVersion normalizes a version string (strips leading 'v')
func NormalizeVersion(v string) string {
	return strings.TrimPrefix(strings.TrimSpace(v), "v")
}

// CompareVersions compares two versions
// Returns -1 if v1 < v2, 0 if v1 == v2, 1 if v1 > v2
func CompareVersions(v1, v2 string) int {
	return semver.Compare("v"+NormalizeVersion(v1), "v"+NormalizeVersion(v2))
}

// AtLeast reports whether version is min or newer. An empty min always passes.
func AtLeast(version, min string) bool {
	if min == "" {
		return true
	}
	return CompareVersions(version, min) >= 0
}

func isHex(s string) bool {
	for _, c := range s {
		isDigit := c >= '0' && c <= '9'
		isLowerHex := c >= 'a' && c <= 'f'
		isUpperHex := c >= 'A' && c <= 'F'
		if !isDigit && !isLowerHex && !isUpperHex {
			return false
		}
	}
	return true
}
