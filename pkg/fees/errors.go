package fees

import "errors"

var (
	// ErrConnectNotActive means the tenant's connected account cannot take
	// application-fee charges yet.
	ErrConnectNotActive = errors.New("connected account is not active")
	ErrNegativeAmount   = errors.New("gross amount must not be negative")
)
