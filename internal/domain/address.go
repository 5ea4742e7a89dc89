package domain

import (
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// ParseAddress validates and canonicalizes a trader address. Addresses are
// 20-byte hex identifiers and compare case-insensitively; the canonical form
// used as a map and database key is the lowercase 0x-prefixed hex string.
func ParseAddress(s string) (string, error) {
	s = strings.TrimSpace(s)
	if !common.IsHexAddress(s) {
		return "", ErrBadAddress
	}
	return strings.ToLower(common.HexToAddress(s).Hex()), nil
}

// NormalizeAddress lowercases an address without validation. Use for values
// that already passed ParseAddress or arrived from the exchange.
func NormalizeAddress(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
