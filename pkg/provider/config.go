package provider

import "time"

// StripeConfig configures the Stripe provider.
type StripeConfig struct {
	SecretKey      string        `env:"STRIPE_SECRET_KEY"`
	WebhookSecret  string        `env:"STRIPE_WEBHOOK_SECRET"`
	ConnectTimeout time.Duration `env:"STRIPE_CONNECT_TIMEOUT" envDefault:"5s"`
	APITimeout     time.Duration `env:"STRIPE_API_TIMEOUT" envDefault:"30s"`
	MaxRetries     uint64        `env:"STRIPE_MAX_RETRIES" envDefault:"3"`
	// APIURL overrides the API endpoint, e.g. for stripe-mock.
	APIURL string `env:"STRIPE_API_URL"`

	CheckoutSuccessURL string `env:"STRIPE_CHECKOUT_SUCCESS_URL"`
	CheckoutCancelURL  string `env:"STRIPE_CHECKOUT_CANCEL_URL"`

	// Failures in a row before calls are refused, and how long to wait
	// before probing again.
	CircuitThreshold int           `env:"STRIPE_CIRCUIT_THRESHOLD" envDefault:"5"`
	CircuitRecovery  time.Duration `env:"STRIPE_CIRCUIT_RECOVERY" envDefault:"30s"`
}

// Platform returns the billing context for calls on the platform account.
func (c StripeConfig) Platform() BillingContext {
	return BillingContext{APIKey: c.SecretKey}
}
