package domain

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/shopspring/decimal"
)

// weiPerEther is 10^18, the scale between wei and the native unit.
var weiPerEther = decimal.New(1, 18)

// ParseWei parses an amount string into a wei integer.  Accepts 0x-prefixed
// hex and plain decimal digits; rejects fractions and negatives.  Upstream
// sources are sloppy about amount typing, so every amount crosses this
// boundary before it reaches the store.
func ParseWei(s string) (*big.Int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("domain.ParseWei: empty amount")
	}

	base := 10
	digits := s
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		base = 16
		digits = s[2:]
	}

	n, ok := new(big.Int).SetString(digits, base)
	if !ok {
		return nil, fmt.Errorf("domain.ParseWei: invalid amount %q", s)
	}
	if n.Sign() < 0 {
		return nil, fmt.Errorf("domain.ParseWei: negative amount %q", s)
	}
	return n, nil
}

// WeiToDecimal converts a wei integer into the exact decimal the store keeps
// in its NUMERIC(78,0) columns.
func WeiToDecimal(n *big.Int) decimal.Decimal {
	return decimal.NewFromBigInt(n, 0)
}

// FormatEther renders a wei amount in the native unit with trailing zeros
// trimmed, e.g. 1500000000000000000 → "1.5".  Display only; arithmetic stays
// in wei.
func FormatEther(wei decimal.Decimal) string {
	return wei.Div(weiPerEther).String()
}
