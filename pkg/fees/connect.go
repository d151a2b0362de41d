package fees

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// ConnectedTenant is a fee source that may route charges to a connected
// account.
type ConnectedTenant interface {
	FeeSource
	ConnectedAccount() (accountID string, active bool)
}

// ChargeSplit carries what a destination charge needs: the connected account
// and the platform's application fee.
type ChargeSplit struct {
	DestinationAccount string
	ApplicationFee     int64
	Net                int64
}

// ApplicationFeeParams builds the split for a destination charge. It refuses
// when the tenant's connected account is missing or not fully active.
func ApplicationFeeParams(t ConnectedTenant, gross int64) (ChargeSplit, error) {
	if gross < 0 {
		return ChargeSplit{}, ErrNegativeAmount
	}
	account, active := t.ConnectedAccount()
	if !active {
		if account == "" {
			return ChargeSplit{}, fmt.Errorf("%w: no connected account", ErrConnectNotActive)
		}
		return ChargeSplit{}, fmt.Errorf("%w: %s", ErrConnectNotActive, account)
	}
	p := PreviewFees(t, gross)
	return ChargeSplit{
		DestinationAccount: account,
		ApplicationFee:     p.Fee,
		Net:                p.Net,
	}, nil
}

// FeePercent expresses the split's application fee as a percentage of gross,
// rounded to two decimals. Subscriptions only accept a percentage, so the
// fixed part of the fee is folded in here.
func (s ChargeSplit) FeePercent(gross int64) decimal.Decimal {
	if gross <= 0 {
		return decimal.Zero
	}
	return decimal.NewFromInt(s.ApplicationFee).
		Mul(decimal.NewFromInt(100)).
		Div(decimal.NewFromInt(gross)).
		Round(2)
}
