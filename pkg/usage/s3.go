package usage

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/dmitrymomot/clubbilling/pkg/owner"
)

const bytesPerGB = 1 << 30

// S3StorageCounter measures stored bytes under an owner's key prefix
// ("<prefix>/<kind>/<id>/") and reports whole gigabytes, rounded up.
type S3StorageCounter struct {
	client s3.ListObjectsV2APIClient
	bucket string
	prefix string
}

func NewS3StorageCounter(client s3.ListObjectsV2APIClient, bucket, prefix string) *S3StorageCounter {
	return &S3StorageCounter{client: client, bucket: bucket, prefix: prefix}
}

// NewS3Client builds an S3 client from cfg. Static credentials are used when
// set, otherwise the default AWS credential chain.
func NewS3Client(ctx context.Context, cfg S3Config) (*s3.Client, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	var s3Opts []func(*s3.Options)
	if cfg.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		})
	}
	return s3.NewFromConfig(awsCfg, s3Opts...), nil
}

func (c *S3StorageCounter) ownerPrefix(o owner.Ref) string {
	if c.prefix == "" {
		return fmt.Sprintf("%s/%s/", o.Kind, o.ID)
	}
	return fmt.Sprintf("%s/%s/%s/", c.prefix, o.Kind, o.ID)
}

// Bytes sums the size of every object under the owner's prefix.
func (c *S3StorageCounter) Bytes(ctx context.Context, o owner.Ref) (int64, error) {
	p := s3.NewListObjectsV2Paginator(c.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(c.bucket),
		Prefix: aws.String(c.ownerPrefix(o)),
	})

	var total int64
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return 0, fmt.Errorf("list objects: %w", err)
		}
		for _, obj := range page.Contents {
			total += aws.ToInt64(obj.Size)
		}
	}
	return total, nil
}

// Count is a CounterFunc for plan.MaxStorageGB.
func (c *S3StorageCounter) Count(ctx context.Context, o owner.Ref) (int64, error) {
	b, err := c.Bytes(ctx, o)
	if err != nil {
		return 0, err
	}
	return (b + bytesPerGB - 1) / bytesPerGB, nil
}
