package usage

type S3Config struct {
	Bucket          string `env:"USAGE_S3_BUCKET"`
	Prefix          string `env:"USAGE_S3_PREFIX" envDefault:"media"`
	Region          string `env:"AWS_REGION" envDefault:"eu-central-1"`
	Endpoint        string `env:"USAGE_S3_ENDPOINT"`
	AccessKeyID     string `env:"AWS_ACCESS_KEY_ID"`
	SecretAccessKey string `env:"AWS_SECRET_ACCESS_KEY"`
}

// Enabled reports whether storage usage is measured from S3.
func (c S3Config) Enabled() bool {
	return c.Bucket != ""
}
