// Package config loads malaphor configuration from YAML, a .env file, and
// MALAPHOR_* environment variables, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/dd0wney/malaphor/pkg/anomaly"
	"github.com/dd0wney/malaphor/pkg/embedding"
	"github.com/dd0wney/malaphor/pkg/paths"
	"github.com/dd0wney/malaphor/pkg/roles"
	"github.com/dd0wney/malaphor/pkg/scoring"
	"github.com/dd0wney/malaphor/pkg/validation"
)

// Config is the complete configuration of every malaphor binary.
type Config struct {
	Pipeline  PipelineConfig       `yaml:"pipeline"`
	Embedding EmbeddingConfig      `yaml:"embedding"`
	Anomaly   anomaly.ForestConfig `yaml:"anomaly"`
	Roles     roles.Policy         `yaml:"roles"`
	Scoring   ScoringConfig        `yaml:"scoring"`
	Server    ServerConfig         `yaml:"server"`
	Storage   StorageConfig        `yaml:"storage"`
	Notify    NotifyConfig         `yaml:"notify"`
	Queue     QueueConfig          `yaml:"queue"`
	Log       LogConfig            `yaml:"log"`
}

type PipelineConfig struct {
	MaxPathLength   int           `yaml:"max_path_length" validate:"gte=2,lte=10"`
	TopN            int           `yaml:"top_n" validate:"gte=1,lte=1000"`
	MaxPathsPerPair int           `yaml:"max_paths_per_pair" validate:"gte=0"`
	TimeBudget      time.Duration `yaml:"time_budget" validate:"gte=0"`
	Workers         int           `yaml:"workers" validate:"gte=0,lte=1024"`
}

type EmbeddingConfig struct {
	Layers int `yaml:"layers" validate:"gte=0,lte=8"`
}

type ScoringConfig struct {
	// EdgeWeighting adds RelationshipWeights to node-sum path scores.
	EdgeWeighting       bool               `yaml:"edge_weighting"`
	RelationshipWeights map[string]float64 `yaml:"relationship_weights"`
}

type ServerConfig struct {
	Addr           string        `yaml:"addr" validate:"required"`
	MaxUploadBytes int64         `yaml:"max_upload_bytes" validate:"gte=1024"`
	ReadTimeout    time.Duration `yaml:"read_timeout" validate:"gte=0"`
	WriteTimeout   time.Duration `yaml:"write_timeout" validate:"gte=0"`
	IdleTimeout    time.Duration `yaml:"idle_timeout" validate:"gte=0"`

	// JWTSecret enables bearer token auth on analysis endpoints.
	JWTSecret string `yaml:"jwt_secret" validate:"omitempty,min=32"`

	// APIKeyHashes are bcrypt hashes of accepted X-API-Key values.
	APIKeyHashes []string `yaml:"api_key_hashes"`

	// AllowedOrigins enables CORS for the listed origins. Empty disables it.
	AllowedOrigins []string `yaml:"allowed_origins"`

	// RateLimit is requests per second per client IP. Zero disables it.
	RateLimit      float64  `yaml:"rate_limit" validate:"gte=0"`
	RateBurst      int      `yaml:"rate_burst" validate:"gte=0"`
	TrustedProxies []string `yaml:"trusted_proxies" validate:"dive,cidr|ip"`

	TLS TLSConfig `yaml:"tls"`

	// AuditBuffer is how many audit events GET /api/v1/audit can return.
	// Zero uses the audit package default.
	AuditBuffer int `yaml:"audit_buffer" validate:"gte=0"`
}

// TLSConfig serves the API over HTTPS when CertFile or SelfSigned is set.
type TLSConfig struct {
	CertFile string `yaml:"cert_file" validate:"required_with=KeyFile"`
	KeyFile  string `yaml:"key_file" validate:"required_with=CertFile"`

	// ClientCAFile enables verification of client certificates.
	ClientCAFile string `yaml:"client_ca_file"`

	// SelfSigned generates an in-memory certificate for Hosts at startup.
	SelfSigned bool     `yaml:"self_signed"`
	Hosts      []string `yaml:"hosts"`
}

// Enabled reports whether the API should serve HTTPS.
func (c TLSConfig) Enabled() bool {
	return c.CertFile != "" || c.SelfSigned
}

type StorageConfig struct {
	S3         S3Config       `yaml:"s3"`
	Postgres   PostgresConfig `yaml:"postgres"`
	ArchiveDir string         `yaml:"archive_dir"`

	// AuditLog is a hash-chained JSONL journal of audit events. Empty keeps
	// events in memory only.
	AuditLog string `yaml:"audit_log"`
}

type S3Config struct {
	Bucket          string `yaml:"bucket"`
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint" validate:"omitempty,url"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	UsePathStyle    bool   `yaml:"use_path_style"`
	ReportPrefix    string `yaml:"report_prefix"`
}

type PostgresConfig struct {
	URL      string `yaml:"url"`
	Table    string `yaml:"table" validate:"omitempty,max=63"`
	MaxConns int32  `yaml:"max_conns" validate:"gte=0"`
}

type NotifyConfig struct {
	// PublishAddr is a mangos URL such as tcp://127.0.0.1:40899. Empty
	// disables notifications.
	PublishAddr string `yaml:"publish_addr"`
}

type QueueConfig struct {
	URL      string `yaml:"url"`
	Name     string `yaml:"name" validate:"required"`
	Prefetch int    `yaml:"prefetch" validate:"gte=1,lte=1000"`
}

type LogConfig struct {
	Level string `yaml:"level" validate:"oneof=debug info warn error DEBUG INFO WARN ERROR"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Pipeline: PipelineConfig{
			MaxPathLength: paths.DefaultMaxPathLength,
			TopN:          scoring.DefaultTopN,
		},
		Embedding: EmbeddingConfig{Layers: embedding.DefaultLayers},
		Anomaly:   anomaly.DefaultForestConfig(),
		Roles:     roles.DefaultPolicy(),
		Server: ServerConfig{
			Addr:           ":8080",
			MaxUploadBytes: 32 << 20,
			ReadTimeout:    15 * time.Second,
			WriteTimeout:   60 * time.Second,
			IdleTimeout:    60 * time.Second,
			RateBurst:      20,
		},
		Storage: StorageConfig{
			S3: S3Config{
				Region:       "us-east-1",
				ReportPrefix: "reports/",
			},
			Postgres: PostgresConfig{Table: "events", MaxConns: 10},
		},
		Queue: QueueConfig{Name: "malaphor.jobs", Prefetch: 1},
		Log:   LogConfig{Level: "info"},
	}
}

// Load reads path over the defaults, then applies the environment. An empty
// path skips the file.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := cfg.ApplyEnv(); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ErrInvalidConfig wraps every validation failure.
var ErrInvalidConfig = errors.New("invalid configuration")

// Validate checks field ranges and cross-field rules.
func (c *Config) Validate() error {
	if err := validation.Struct(c); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if _, err := c.Roles.Compile(); err != nil {
		return fmt.Errorf("%w: roles: %v", ErrInvalidConfig, err)
	}
	if c.Scoring.EdgeWeighting && len(c.Scoring.RelationshipWeights) == 0 {
		return fmt.Errorf("%w: scoring.edge_weighting needs relationship_weights", ErrInvalidConfig)
	}
	return nil
}

// PathOptions returns the enumeration options of the pipeline section.
func (c *Config) PathOptions() paths.Options {
	return paths.Options{
		MaxPathLength:   c.Pipeline.MaxPathLength,
		MaxPathsPerPair: c.Pipeline.MaxPathsPerPair,
		TimeBudget:      c.Pipeline.TimeBudget,
		Workers:         c.Pipeline.Workers,
	}
}
