package report

import (
	"bytes"
	"context"
	"fmt"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/dd0wney/malaphor/pkg/pipeline"
)

// S3Sink uploads JSON reports under a key prefix.
type S3Sink struct {
	client *s3.Client
	bucket string
	prefix string
}

func NewS3Sink(client *s3.Client, bucket, prefix string) *S3Sink {
	return &S3Sink{client: client, bucket: bucket, prefix: prefix}
}

func (s *S3Sink) key(runID string) string {
	return path.Join(s.prefix, runID+".json")
}

// Save uploads res and returns its s3:// URL.
func (s *S3Sink) Save(ctx context.Context, res *pipeline.Result) (string, error) {
	var buf bytes.Buffer
	if err := WriteJSON(&buf, res); err != nil {
		return "", err
	}

	key := s.key(res.RunID)
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(buf.Bytes()),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload report to S3: %w", err)
	}
	return fmt.Sprintf("s3://%s/%s", s.bucket, key), nil
}
