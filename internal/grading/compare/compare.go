// Package compare decides whether a program's output matches the expected output
// under the usual competitive programming rules.
package compare

import (
	"errors"
	"math"
	"math/big"
	"strconv"
	"strings"
)

// FloatEpsilon is the absolute tolerance used for non-integer numeric tokens.
const FloatEpsilon = 1e-5

// Equivalent reports whether actual matches expected token by token.
//
// Tokens are whitespace separated. A pair matches when the tokens are equal ignoring
// case, or when both are integers with the same exact value, or when both are floats
// within FloatEpsilon. Two valid integers that differ fail the whole comparison
// without trying the float path.
func Equivalent(expected, actual string) bool {
	exp := strings.Fields(expected)
	act := strings.Fields(actual)
	if len(exp) == 0 || len(act) == 0 {
		return len(exp) == len(act)
	}
	if len(exp) != len(act) {
		return false
	}
	for i := range exp {
		if !tokenEqual(exp[i], act[i]) {
			return false
		}
	}
	return true
}

func tokenEqual(a, b string) bool {
	if strings.EqualFold(a, b) {
		return true
	}

	x, okA := parseInteger(a)
	y, okB := parseInteger(b)
	if okA && okB {
		return x.Cmp(y) == 0
	}

	f, okA := parseDecimal(a)
	g, okB := parseDecimal(b)
	if !okA || !okB {
		return false
	}
	return math.Abs(f-g) < FloatEpsilon
}

// parseDecimal accepts [sign] digits [. digits] [e [sign] digits] with at least one
// mantissa digit. Go literal forms such as 0x1p-2, 1_000, Inf and NaN are rejected.
func parseDecimal(s string) (float64, bool) {
	i := 0
	if i < len(s) && (s[i] == '+' || s[i] == '-') {
		i++
	}
	mantissa := 0
	for i < len(s) && isDigit(s[i]) {
		i++
		mantissa++
	}
	if i < len(s) && s[i] == '.' {
		i++
		for i < len(s) && isDigit(s[i]) {
			i++
			mantissa++
		}
	}
	if mantissa == 0 {
		return 0, false
	}
	if i < len(s) && (s[i] == 'e' || s[i] == 'E') {
		i++
		if i < len(s) && (s[i] == '+' || s[i] == '-') {
			i++
		}
		exponent := 0
		for i < len(s) && isDigit(s[i]) {
			i++
			exponent++
		}
		if exponent == 0 {
			return 0, false
		}
	}
	if i != len(s) {
		return 0, false
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil && !errors.Is(err, strconv.ErrRange) {
		return 0, false
	}
	if math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}

// parseInteger accepts an optional sign followed by ASCII digits only.
func parseInteger(s string) (*big.Int, bool) {
	digits := s
	if len(digits) > 0 && (digits[0] == '+' || digits[0] == '-') {
		digits = digits[1:]
	}
	if digits == "" {
		return nil, false
	}
	for i := 0; i < len(digits); i++ {
		if !isDigit(digits[i]) {
			return nil, false
		}
	}
	n, ok := new(big.Int).SetString(s, 10)
	return n, ok
}
