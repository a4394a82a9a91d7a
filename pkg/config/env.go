package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// LoadDotEnv loads variables from the given .env files (default ".env")
// without overriding variables already set. A missing file is not an error.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if _, err := os.Stat(f); err != nil {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			return fmt.Errorf("load %s: %w", f, err)
		}
	}
	return nil
}

// ApplyEnv overrides fields from MALAPHOR_* variables and LOG_LEVEL.
func (c *Config) ApplyEnv() error {
	var errs []string
	str := func(key string, dst *string) {
		if v, ok := os.LookupEnv(key); ok {
			*dst = v
		}
	}
	num := func(key string, dst *int) {
		if v, ok := os.LookupEnv(key); ok {
			n, err := strconv.Atoi(strings.TrimSpace(v))
			if err != nil {
				errs = append(errs, fmt.Sprintf("%s: %v", key, err))
				return
			}
			*dst = n
		}
	}
	dur := func(key string, dst *time.Duration) {
		if v, ok := os.LookupEnv(key); ok {
			d, err := time.ParseDuration(strings.TrimSpace(v))
			if err != nil {
				errs = append(errs, fmt.Sprintf("%s: %v", key, err))
				return
			}
			*dst = d
		}
	}

	num("MALAPHOR_MAX_PATH_LENGTH", &c.Pipeline.MaxPathLength)
	num("MALAPHOR_TOP_N", &c.Pipeline.TopN)
	num("MALAPHOR_MAX_PATHS_PER_PAIR", &c.Pipeline.MaxPathsPerPair)
	dur("MALAPHOR_TIME_BUDGET", &c.Pipeline.TimeBudget)
	num("MALAPHOR_WORKERS", &c.Pipeline.Workers)

	if v, ok := os.LookupEnv("MALAPHOR_CONTAMINATION"); ok {
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			errs = append(errs, fmt.Sprintf("MALAPHOR_CONTAMINATION: %v", err))
		} else {
			c.Anomaly.Contamination = f
		}
	}

	str("MALAPHOR_SERVER_ADDR", &c.Server.Addr)
	str("MALAPHOR_JWT_SECRET", &c.Server.JWTSecret)
	if v, ok := os.LookupEnv("MALAPHOR_API_KEY_HASHES"); ok {
		c.Server.APIKeyHashes = splitList(v)
	}
	if v, ok := os.LookupEnv("MALAPHOR_ALLOWED_ORIGINS"); ok {
		c.Server.AllowedOrigins = splitList(v)
	}
	if v, ok := os.LookupEnv("MALAPHOR_RATE_LIMIT"); ok {
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			errs = append(errs, fmt.Sprintf("MALAPHOR_RATE_LIMIT: %v", err))
		} else {
			c.Server.RateLimit = f
		}
	}
	str("MALAPHOR_TLS_CERT_FILE", &c.Server.TLS.CertFile)
	str("MALAPHOR_TLS_KEY_FILE", &c.Server.TLS.KeyFile)
	if v, ok := os.LookupEnv("TRUSTED_PROXIES"); ok {
		c.Server.TrustedProxies = splitList(v)
	}

	str("MALAPHOR_S3_BUCKET", &c.Storage.S3.Bucket)
	str("MALAPHOR_S3_REGION", &c.Storage.S3.Region)
	str("MALAPHOR_S3_ENDPOINT", &c.Storage.S3.Endpoint)
	str("MALAPHOR_S3_ACCESS_KEY_ID", &c.Storage.S3.AccessKeyID)
	str("MALAPHOR_S3_SECRET_ACCESS_KEY", &c.Storage.S3.SecretAccessKey)
	if v, ok := os.LookupEnv("MALAPHOR_S3_PATH_STYLE"); ok {
		c.Storage.S3.UsePathStyle = v == "true" || v == "1"
	}
	str("MALAPHOR_DATABASE_URL", &c.Storage.Postgres.URL)
	str("MALAPHOR_EVENTS_TABLE", &c.Storage.Postgres.Table)
	str("MALAPHOR_ARCHIVE_DIR", &c.Storage.ArchiveDir)
	str("MALAPHOR_AUDIT_LOG", &c.Storage.AuditLog)

	str("MALAPHOR_NOTIFY_ADDR", &c.Notify.PublishAddr)
	str("MALAPHOR_AMQP_URL", &c.Queue.URL)
	str("MALAPHOR_QUEUE", &c.Queue.Name)
	str("LOG_LEVEL", &c.Log.Level)

	if len(errs) > 0 {
		return fmt.Errorf("%w: environment: %s", ErrInvalidConfig, strings.Join(errs, "; "))
	}
	return nil
}

func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
