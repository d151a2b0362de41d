package plan

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// currencyExponent lists currencies whose minor unit is not 1/100.
var currencyExponent = map[string]int32{
	"JPY": 0,
	"KRW": 0,
	"ISK": 0,
	"BHD": 3,
	"KWD": 3,
	"JOD": 3,
}

var maxMinorUnits = decimal.NewFromInt(1 << 53)

// MinorUnitExponent returns the number of decimal places of the currency's
// minor unit.
func MinorUnitExponent(currency string) int32 {
	if exp, ok := currencyExponent[strings.ToUpper(currency)]; ok {
		return exp
	}
	return 2
}

// ParsePrice converts a decimal amount in major units ("49.90") to Money
// in minor units. This is the only place catalog prices cross from decimal
// to integer; amounts with more precision than the currency allows are
// rejected rather than rounded.
func ParsePrice(major, currency string) (Money, error) {
	currency = strings.ToUpper(strings.TrimSpace(currency))
	if len(currency) != 3 {
		return Money{}, fmt.Errorf("%w: currency %q", ErrInvalidPrice, currency)
	}

	d, err := decimal.NewFromString(strings.TrimSpace(major))
	if err != nil {
		return Money{}, fmt.Errorf("%w: %q: %v", ErrInvalidPrice, major, err)
	}
	if d.IsNegative() {
		return Money{}, fmt.Errorf("%w: negative amount %s", ErrInvalidPrice, major)
	}

	minor := d.Shift(MinorUnitExponent(currency))
	if !minor.IsInteger() {
		return Money{}, fmt.Errorf("%w: %s has more precision than %s allows", ErrInvalidPrice, major, currency)
	}
	if minor.GreaterThan(maxMinorUnits) {
		return Money{}, fmt.Errorf("%w: %s out of range", ErrInvalidPrice, major)
	}
	return Money{Amount: minor.IntPart(), Currency: currency}, nil
}

// Major formats m in major units, e.g. 4990 EUR as "49.90".
func (m Money) Major() string {
	exp := MinorUnitExponent(m.Currency)
	return decimal.New(m.Amount, -exp).StringFixed(exp)
}
