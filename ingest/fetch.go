package ingest

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"composition-spc/pkg/platform"
)

// maxWorkbookBytes bounds a downloaded workbook.
const maxWorkbookBytes = 64 << 20

// ObjectGetter is the subset of the S3 client used to fetch workbooks.
type ObjectGetter interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// NewS3Client builds an S3 client from the default AWS credential chain.
func NewS3Client(ctx context.Context, region string) (*s3.Client, error) {
	var opts []func(*config.LoadOptions) error
	if region != "" {
		opts = append(opts, config.WithRegion(region))
	}
	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return s3.NewFromConfig(cfg), nil
}

// FetchObject downloads bucket/key.
func FetchObject(ctx context.Context, client ObjectGetter, bucket, key string) ([]byte, error) {
	return fetchObject(ctx, client, bucket, key, maxWorkbookBytes)
}

func fetchObject(ctx context.Context, client ObjectGetter, bucket, key string, limit int64) ([]byte, error) {
	out, err := client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get s3://%s/%s: %w", bucket, key, err)
	}
	defer out.Body.Close()

	b, err := platform.ReadLimited(out.Body, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to read s3://%s/%s: %w", bucket, key, err)
	}
	return b, nil
}

// FetchS3 downloads a workbook with the default AWS configuration.
func FetchS3(ctx context.Context, bucket, key string) ([]byte, error) {
	client, err := NewS3Client(ctx, "")
	if err != nil {
		return nil, err
	}
	return FetchObject(ctx, client, bucket, key)
}

// FetchHTTP downloads a workbook over HTTP(S) with retries.
func FetchHTTP(ctx context.Context, url string) ([]byte, error) {
	c := platform.NewHTTPClient(3, 60*time.Second)
	c.MaxBytes = maxWorkbookBytes
	return c.GetBytes(ctx, url)
}
