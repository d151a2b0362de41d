package reconciler

import "time"

type Config struct {
	QueueDelay     time.Duration `env:"BILLING_QUEUE_DELAY" envDefault:"5s"`
	Queue          string        `env:"BILLING_EVENTS_QUEUE" envDefault:"webhooks"`
	FastPathEvents []string      `env:"BILLING_FAST_PATH_EVENTS" envSeparator:","`
	// Retention is how long processed events are kept before Cleanup removes
	// them.
	Retention time.Duration `env:"BILLING_EVENT_RETENTION" envDefault:"720h"`
}
