package plan

type Config struct {
	PlansFile string `env:"BILLING_PLANS_FILE" envDefault:"config/plans.yaml"`
}
