package sources

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"golang.org/x/sync/errgroup"

	"github.com/dd0wney/malaphor/pkg/config"
	"github.com/dd0wney/malaphor/pkg/events"
)

// maxConcurrentFetches bounds parallel GetObject calls for a prefix load.
const maxConcurrentFetches = 8

// NewS3Client builds a client from cfg. Static credentials are used when
// both keys are set; otherwise the default AWS credential chain applies.
func NewS3Client(ctx context.Context, cfg config.S3Config) (*s3.Client, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.Endpoint != "" {
		opts = append(opts, awsconfig.WithBaseEndpoint(cfg.Endpoint))
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.UsePathStyle
	}), nil
}

// S3Source reads event tables from a bucket. A Key ending in "/" is a
// prefix: every .csv object below it is fetched and the tables are
// concatenated in key order.
type S3Source struct {
	client *s3.Client
	bucket string
	key    string
}

func NewS3Source(client *s3.Client, bucket, key string) (*S3Source, error) {
	if client == nil || bucket == "" || key == "" {
		return nil, fmt.Errorf("%w: s3 needs a client, bucket and key", ErrNotConfigured)
	}
	return &S3Source{client: client, bucket: bucket, key: key}, nil
}

func (s *S3Source) Name() string {
	return "s3"
}

func (s *S3Source) Load(ctx context.Context) ([]events.Event, error) {
	if !strings.HasSuffix(s.key, "/") {
		return s.loadObject(ctx, s.key)
	}

	keys, err := s.listKeys(ctx)
	if err != nil {
		return nil, err
	}
	if len(keys) == 0 {
		return nil, fmt.Errorf("no .csv objects under s3://%s/%s: %w", s.bucket, s.key, events.ErrEmptyEvents)
	}

	tables := make([][]events.Event, len(keys))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentFetches)
	for i, key := range keys {
		g.Go(func() error {
			evs, err := s.loadObject(ctx, key)
			if err != nil {
				return err
			}
			tables[i] = evs
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return slices.Concat(tables...), nil
}

func (s *S3Source) listKeys(ctx context.Context) ([]string, error) {
	var keys []string
	p := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(s.key),
	})
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list s3://%s/%s: %w", s.bucket, s.key, err)
		}
		for _, obj := range page.Contents {
			if key := aws.ToString(obj.Key); strings.HasSuffix(key, ".csv") {
				keys = append(keys, key)
			}
		}
	}
	slices.Sort(keys)
	return keys, nil
}

func (s *S3Source) loadObject(ctx context.Context, key string) ([]events.Event, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get s3://%s/%s: %w", s.bucket, key, err)
	}
	defer out.Body.Close()

	buf := new(bytes.Buffer)
	if _, err := io.Copy(buf, out.Body); err != nil {
		return nil, fmt.Errorf("failed to read s3://%s/%s: %w", s.bucket, key, err)
	}

	evs, err := events.ReadCSV(buf)
	if err != nil {
		return nil, fmt.Errorf("s3://%s/%s: %w", s.bucket, key, err)
	}
	return evs, nil
}
