// Package environment names the deployment environments the billing service
// runs in and normalizes the short aliases operators tend to type.
package environment

import "strings"

// Environment represents application environment.
type Environment string

const (
	Development Environment = "development"
	Staging     Environment = "staging"
	Production  Environment = "production"
)

// Parse maps a raw APP_ENV value to a known environment.
// Unknown or empty values fall back to Development.
func Parse(raw string) Environment {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case string(Production), "prod":
		return Production
	case string(Staging), "stage":
		return Staging
	default:
		return Development
	}
}

func (e Environment) IsProduction() bool { return e == Production }

// UsesLiveBilling reports whether provider calls should hit live-mode keys.
func (e Environment) UsesLiveBilling() bool { return e == Production }

func (e Environment) String() string { return string(e) }
