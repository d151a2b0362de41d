package ledger

import "time"

type Config struct {
	// GracePeriod is how long a past-due subscription keeps access before
	// Sweep cancels it.
	GracePeriod      time.Duration `env:"BILLING_GRACE_PERIOD" envDefault:"72h"`
	SweepSchedule    string        `env:"BILLING_SWEEP_SCHEDULE" envDefault:"@every 5m"`
	DefaultProration Proration     `env:"BILLING_DEFAULT_PRORATION" envDefault:"create_prorations"`
}
