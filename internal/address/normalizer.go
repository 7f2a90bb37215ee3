// Package address provides wallet address normalization and validation.
// Every component in the pipeline operates on normalized (lowercased)
// addresses; the checksummed form is for display only.
package address

import (
	"strings"

	"github.com/ethereum/go-ethereum/common"

	pkgerrors "github.com/claim-pipeline/internal/errors"
)

// Normalize validates a wallet address and returns its canonical form:
// trimmed, 0x-prefixed, lowercase hex. Returns an InvalidAddress error
// for anything that is not a well-formed 20-byte hex address.
func Normalize(raw string) (string, error) {
	addr := strings.TrimSpace(raw)
	if addr == "" {
		return "", pkgerrors.NewInvalidAddressError(raw)
	}

	if !strings.HasPrefix(addr, "0x") && !strings.HasPrefix(addr, "0X") {
		addr = "0x" + addr
	}

	if !common.IsHexAddress(addr) {
		return "", pkgerrors.NewInvalidAddressError(raw)
	}

	return strings.ToLower(common.HexToAddress(addr).Hex()), nil
}

// Checksum returns the EIP-55 checksummed display form of an address.
// The input must already be a valid hex address.
func Checksum(addr string) string {
	return common.HexToAddress(addr).Hex()
}

// Dedupe normalizes a list of addresses, drops malformed entries and
// duplicates, and preserves first-seen order. It returns the deduplicated
// list plus the number of duplicates dropped.
func Dedupe(raw []string) (unique []string, duplicates int) {
	seen := make(map[string]bool, len(raw))
	for _, r := range raw {
		addr, err := Normalize(r)
		if err != nil {
			continue
		}
		if seen[addr] {
			duplicates++
			continue
		}
		seen[addr] = true
		unique = append(unique, addr)
	}
	return unique, duplicates
}
