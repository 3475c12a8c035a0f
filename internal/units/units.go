package units

import (
	"fmt"
	"math/big"
	"regexp"
	"strings"

	clierr "github.com/ggonzalez94/cdp-cli/internal/errors"
)

var decimalPattern = regexp.MustCompile(`^[0-9]+(\.[0-9]+)?$`)

var tokenDecimals = map[string]int{
	"eth":  18,
	"weth": 18,
	"pol":  18,
	"usdc": 6,
	"usdt": 6,
}

// Decimals returns the display precision of a well-known token symbol.
func Decimals(token string) (int, bool) {
	d, ok := tokenDecimals[strings.ToLower(strings.TrimSpace(token))]
	return d, ok
}

// Amount is a token quantity kept in both representations.
type Amount struct {
	BaseUnits *big.Int
	Decimal   string
}

// Parse accepts exactly one of an integer base-unit string or a decimal
// string scaled by decimals.
func Parse(baseUnits, decimal string, decimals int) (Amount, error) {
	baseUnits = strings.TrimSpace(baseUnits)
	decimal = strings.TrimSpace(decimal)
	if baseUnits != "" && decimal != "" {
		return Amount{}, clierr.New(clierr.CodeUsage, "use either --amount or --amount-decimal, not both")
	}
	if baseUnits == "" && decimal == "" {
		return Amount{}, clierr.New(clierr.CodeUsage, "amount is required")
	}
	if decimals < 0 {
		return Amount{}, clierr.New(clierr.CodeUsage, "decimals must be >= 0")
	}

	if baseUnits != "" {
		n, ok := new(big.Int).SetString(baseUnits, 10)
		if !ok || n.Sign() < 0 {
			return Amount{}, clierr.New(clierr.CodeUsage, "--amount must be a non-negative integer string")
		}
		return Amount{BaseUnits: n, Decimal: Format(n, decimals)}, nil
	}

	if !decimalPattern.MatchString(decimal) {
		return Amount{}, clierr.New(clierr.CodeUsage, "--amount-decimal must be in decimal form like 1.23")
	}
	n, err := scale(decimal, decimals)
	if err != nil {
		return Amount{}, err
	}
	return Amount{BaseUnits: n, Decimal: Format(n, decimals)}, nil
}

// Format renders base units as a decimal string without trailing zeros.
func Format(n *big.Int, decimals int) string {
	if n == nil {
		return "0"
	}
	s := n.String()
	if decimals <= 0 {
		return s
	}
	if len(s) <= decimals {
		s = strings.Repeat("0", decimals-len(s)+1) + s
	}
	intPart := s[:len(s)-decimals]
	fracPart := strings.TrimRight(s[len(s)-decimals:], "0")
	if fracPart == "" {
		return intPart
	}
	return intPart + "." + fracPart
}

func scale(decimal string, decimals int) (*big.Int, error) {
	intPart, fracPart, _ := strings.Cut(decimal, ".")
	if len(fracPart) > decimals {
		return nil, clierr.New(clierr.CodeUsage, fmt.Sprintf("decimal precision exceeds token decimals (%d)", decimals))
	}
	combined := strings.TrimLeft(intPart+fracPart+strings.Repeat("0", decimals-len(fracPart)), "0")
	if combined == "" {
		return new(big.Int), nil
	}
	n, ok := new(big.Int).SetString(combined, 10)
	if !ok {
		return nil, clierr.New(clierr.CodeUsage, "invalid decimal amount")
	}
	return n, nil
}
