package redis

import "time"

type Config struct {
	ConnectionURL  string        `env:"REDIS_URL" envDefault:"redis://localhost:6379/0"`
	RetryAttempts  int           `env:"REDIS_RETRY_ATTEMPTS" envDefault:"3"`
	RetryInterval  time.Duration `env:"REDIS_RETRY_INTERVAL" envDefault:"5s"`
	ConnectTimeout time.Duration `env:"REDIS_CONNECT_TIMEOUT" envDefault:"30s"`
	// UsageCacheTTL bounds how long a cached usage count may be served.
	// Mutations invalidate explicitly; the TTL only caps missed invalidations.
	UsageCacheTTL time.Duration `env:"REDIS_USAGE_CACHE_TTL" envDefault:"1m"`
}
