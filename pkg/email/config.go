package email

// Config holds email service configuration. Postmark tokens are optional so
// development runs can fall back to DevSender.
type Config struct {
	PostmarkServerToken  string `env:"POSTMARK_SERVER_TOKEN"`
	PostmarkAccountToken string `env:"POSTMARK_ACCOUNT_TOKEN"`
	SenderEmail          string `env:"SENDER_EMAIL" envDefault:"billing@localhost"`
	// OperatorEmail receives triage notices for billing events that need a human.
	OperatorEmail string `env:"BILLING_OPERATOR_EMAIL" envDefault:"billing-ops@localhost"`
	DevOutputDir  string `env:"EMAIL_DEV_DIR" envDefault:"tmp/emails"`
}

// UsesPostmark reports whether both Postmark tokens are set.
func (c Config) UsesPostmark() bool {
	return c.PostmarkServerToken != "" && c.PostmarkAccountToken != ""
}
