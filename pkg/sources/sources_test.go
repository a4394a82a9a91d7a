package sources

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dd0wney/malaphor/pkg/config"
	"github.com/dd0wney/malaphor/pkg/events"
)

const header = "source_id,source_type,target_id,target_type,relationship_type,timestamp,feature1,feature2\n"

type opRecord struct {
	backend string
	op      string
	err     error
}

type fakeStorageRecorder struct {
	ops []opRecord
}

func (f *fakeStorageRecorder) RecordStorageOperation(backend, operation string, err error, _ time.Duration) {
	f.ops = append(f.ops, opRecord{backend, operation, err})
}

func TestFileSource(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "events.csv")
	require.NoError(t, os.WriteFile(path, []byte(header+"u1,user,db1,database,reads,10,1,0.5\n"), 0o600))

	evs, err := FileSource{Path: path}.Load(context.Background())
	require.NoError(t, err)
	require.Len(t, evs, 1)
	assert.Equal(t, "db1", evs[0].TargetID)

	_, err = FileSource{Path: filepath.Join(dir, "missing.csv")}.Load(context.Background())
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestWithMetrics(t *testing.T) {
	rec := &fakeStorageRecorder{}
	src := WithMetrics(FileSource{Path: "/nonexistent/events.csv"}, rec)

	_, err := src.Load(context.Background())
	require.Error(t, err)
	require.Len(t, rec.ops, 1)
	assert.Equal(t, "file", rec.ops[0].backend)
	assert.Equal(t, "load", rec.ops[0].op)
	assert.Error(t, rec.ops[0].err)

	plain := FileSource{Path: "x"}
	assert.Equal(t, Source(plain), WithMetrics(plain, nil))
}

// fakeS3 serves path-style GetObject and ListObjectsV2 for one bucket.
func fakeS3(t *testing.T, bucket string, objects map[string]string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := strings.TrimPrefix(r.URL.Path, "/"+bucket)
		if r.URL.Query().Get("list-type") == "2" {
			prefix := r.URL.Query().Get("prefix")
			var contents strings.Builder
			for key := range objects {
				if strings.HasPrefix(key, prefix) {
					fmt.Fprintf(&contents, "<Contents><Key>%s</Key><Size>%d</Size></Contents>", key, len(objects[key]))
				}
			}
			w.Header().Set("Content-Type", "application/xml")
			fmt.Fprintf(w, `<?xml version="1.0" encoding="UTF-8"?>
<ListBucketResult xmlns="http://s3.amazonaws.com/doc/2006-03-01/"><Name>%s</Name><Prefix>%s</Prefix><MaxKeys>1000</MaxKeys><IsTruncated>false</IsTruncated>%s</ListBucketResult>`,
				bucket, prefix, contents.String())
			return
		}
		body, ok := objects[strings.TrimPrefix(path, "/")]
		if !ok {
			w.Header().Set("Content-Type", "application/xml")
			w.WriteHeader(http.StatusNotFound)
			fmt.Fprint(w, `<?xml version="1.0" encoding="UTF-8"?><Error><Code>NoSuchKey</Code><Message>not found</Message></Error>`)
			return
		}
		w.Header().Set("Content-Type", "text/csv")
		fmt.Fprint(w, body)
	}))
}

func newTestS3Source(t *testing.T, srv *httptest.Server, key string) *S3Source {
	t.Helper()
	client, err := NewS3Client(context.Background(), config.S3Config{
		Region:          "us-east-1",
		Endpoint:        srv.URL,
		AccessKeyID:     "test",
		SecretAccessKey: "test",
		UsePathStyle:    true,
	})
	require.NoError(t, err)
	src, err := NewS3Source(client, "logs", key)
	require.NoError(t, err)
	return src
}

func TestS3SourceObject(t *testing.T) {
	srv := fakeS3(t, "logs", map[string]string{
		"day1.csv": header + "u1,user,db1,database,reads,10,1,0.5\n",
	})
	defer srv.Close()

	evs, err := newTestS3Source(t, srv, "day1.csv").Load(context.Background())
	require.NoError(t, err)
	require.Len(t, evs, 1)
	assert.Equal(t, "u1", evs[0].SourceID)

	_, err = newTestS3Source(t, srv, "missing.csv").Load(context.Background())
	assert.Error(t, err)
}

func TestS3SourcePrefixConcatenatesInKeyOrder(t *testing.T) {
	srv := fakeS3(t, "logs", map[string]string{
		"2024/02.csv":   header + "u2,user,vm,resource,accesses,20,1,0\n",
		"2024/01.csv":   header + "u1,user,vm,resource,accesses,10,1,0\n",
		"2024/notes.md": "ignored",
		"2023/12.csv":   header + "u0,user,vm,resource,accesses,5,1,0\n",
	})
	defer srv.Close()

	evs, err := newTestS3Source(t, srv, "2024/").Load(context.Background())
	require.NoError(t, err)
	require.Len(t, evs, 2)
	assert.Equal(t, "u1", evs[0].SourceID)
	assert.Equal(t, "u2", evs[1].SourceID)

	_, err = newTestS3Source(t, srv, "2025/").Load(context.Background())
	assert.ErrorIs(t, err, events.ErrEmptyEvents)
}

func TestS3SourcePropagatesValidationErrors(t *testing.T) {
	srv := fakeS3(t, "logs", map[string]string{
		"bad.csv": header + "u1,user,,database,reads,10,1,0.5\n",
	})
	defer srv.Close()

	_, err := newTestS3Source(t, srv, "bad.csv").Load(context.Background())
	var ve *events.ValidationError
	require.True(t, errors.As(err, &ve), "got %v", err)
	assert.Equal(t, "target_id", ve.Field)
}

func TestNewS3SourceRequiresSettings(t *testing.T) {
	_, err := NewS3Source(nil, "bucket", "key")
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestPostgresSelectQuery(t *testing.T) {
	tests := []struct {
		name  string
		src   PostgresSource
		where string
		nArgs int
	}{
		{"all rows", PostgresSource{table: "events"}, "", 0},
		{"since", PostgresSource{table: "events", Since: 10}, " WHERE timestamp >= $1", 1},
		{"until", PostgresSource{table: "events", Until: 20}, " WHERE timestamp < $1", 1},
		{"window", PostgresSource{table: "events", Since: 10, Until: 20}, " WHERE timestamp >= $1 AND timestamp < $2", 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			query, args := tt.src.selectQuery()
			assert.Contains(t, query, `FROM "events"`+tt.where+" ORDER BY id")
			assert.Len(t, args, tt.nArgs)
		})
	}
}

func TestNewPostgresSourceRejectsBadSettings(t *testing.T) {
	_, err := NewPostgresSource(context.Background(), config.PostgresConfig{})
	assert.ErrorIs(t, err, ErrNotConfigured)

	_, err = NewPostgresSource(context.Background(), config.PostgresConfig{
		URL:   "postgres://localhost/db",
		Table: "events; DROP TABLE users",
	})
	assert.ErrorContains(t, err, "invalid events table name")
}

func TestPostgresSourceRoundTrip(t *testing.T) {
	url := os.Getenv("MALAPHOR_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("MALAPHOR_TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	table := fmt.Sprintf("events_test_%d", time.Now().UnixNano())

	src, err := NewPostgresSource(ctx, config.PostgresConfig{URL: url, Table: table})
	require.NoError(t, err)
	defer src.Close()
	defer src.pool.Exec(ctx, "DROP TABLE "+src.ident())

	sample := events.GenerateSample(time.Unix(1_700_000_000, 0))
	n, err := src.Insert(ctx, sample)
	require.NoError(t, err)
	assert.Equal(t, int64(len(sample)), n)

	got, err := src.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, sample, got)

	src.Since = sample[8].Timestamp
	got, err = src.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, sample[8:], got)
}

func TestInlineSource(t *testing.T) {
	src := InlineSource{CSV: header + "u1,user,db1,database,reads,10,1,0.5\n"}
	assert.Equal(t, "inline", src.Name())

	evs, err := src.Load(context.Background())
	require.NoError(t, err)
	require.Len(t, evs, 1)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = src.Load(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
