package core

import (
	"math/big"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

// USDCDecimals is the number of decimals of the USDC token.
const USDCDecimals = 6

var (
	addressPattern = regexp.MustCompile(`^0x[a-fA-F0-9]{40}$`)
	amountPattern  = regexp.MustCompile(`^[0-9]+$`)
)

// ValidAddress reports whether s is a 0x-prefixed 20-byte hex address.
func ValidAddress(s string) bool {
	return addressPattern.MatchString(s)
}

// NormalizeAddress lower-cases a wallet address.
func NormalizeAddress(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// ParseAmount parses a positive integer amount of smallest USDC units.
// Signs, decimal points, exponents and values wider than 256 bits are rejected.
func ParseAmount(s string) (*big.Int, error) {
	if !amountPattern.MatchString(s) {
		return nil, Validation("Amount must be a positive integer in the smallest USDC unit")
	}
	d, err := decimal.NewFromString(s)
	if err != nil || !d.IsPositive() {
		return nil, Validation("Amount must be a positive integer in the smallest USDC unit")
	}
	v := d.BigInt()
	if v.BitLen() > 256 {
		return nil, Validation("Amount is too large")
	}
	return v, nil
}

// FormatUSDC renders smallest units as a 6-decimal fixed point string.
func FormatUSDC(raw *big.Int) string {
	return decimal.NewFromBigInt(raw, -USDCDecimals).StringFixed(USDCDecimals)
}
