package fees

import (
	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// Calculate returns round(gross*percent/100) + fixed, clamped to [0, gross].
// Misconfigured inputs (negative percent or fixed, percent over 100) are
// absorbed by the clamp.
func Calculate(gross int64, percent decimal.Decimal, fixed int64) int64 {
	if gross <= 0 {
		return 0
	}
	// decimal.Round rounds half away from zero.
	pct := decimal.NewFromInt(gross).Mul(percent).Div(hundred).Round(0)
	fee := pct.Add(decimal.NewFromInt(fixed))
	switch {
	case fee.IsNegative():
		return 0
	case fee.GreaterThan(decimal.NewFromInt(gross)):
		return gross
	}
	return fee.IntPart()
}

// Net is what the connected account receives. Never negative for a fee
// produced by Calculate.
func Net(gross, fee int64) int64 {
	return gross - fee
}

// FeeSource supplies a fee configuration. owner.Tenant implements it.
type FeeSource interface {
	ApplicationFee() (percent decimal.Decimal, fixed int64)
}

// Preview is the fee breakdown shown before a charge is committed.
type Preview struct {
	Gross      int64           `json:"gross"`
	Fee        int64           `json:"fee"`
	Net        int64           `json:"net"`
	FeePercent decimal.Decimal `json:"fee_percent"`
	FeeFixed   int64           `json:"fee_fixed"`
}

// PreviewFees computes the split for gross without side effects.
func PreviewFees(src FeeSource, gross int64) Preview {
	percent, fixed := src.ApplicationFee()
	fee := Calculate(gross, percent, fixed)
	return Preview{
		Gross:      gross,
		Fee:        fee,
		Net:        Net(gross, fee),
		FeePercent: percent,
		FeeFixed:   fixed,
	}
}
