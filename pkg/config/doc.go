// Package config loads typed configuration from environment variables.
//
// Every component that needs settings declares its own struct with `env` and
// `envDefault` tags (see pg.Config, ledger.Config, provider.StripeConfig) and
// calls Load or MustLoad. A .env file in the working directory is read once
// before the first parse. Each struct type is parsed only once per process;
// later calls return the cached copy.
//
//	var cfg ledger.Config
//	if err := config.Load(&cfg); err != nil {
//		return err
//	}
package config
