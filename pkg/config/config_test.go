package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	opts := cfg.PathOptions()
	if opts.MaxPathLength != 4 || opts.MaxPathsPerPair != 0 {
		t.Errorf("unexpected path options %+v", opts)
	}
	if cfg.Anomaly.Contamination != 0.2 || cfg.Anomaly.Seed != 42 {
		t.Errorf("unexpected anomaly defaults %+v", cfg.Anomaly)
	}
}

func TestLoadYAML(t *testing.T) {
	path := writeFile(t, "malaphor.yaml", `
pipeline:
  max_path_length: 5
  top_n: 3
  time_budget: 2s
anomaly:
  contamination: 0.1
roles:
  start:
    types: ["^principal$"]
  end:
    ids: ["^vault-"]
scoring:
  edge_weighting: true
  relationship_weights:
    modifies: -0.3
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Pipeline.MaxPathLength != 5 || cfg.Pipeline.TopN != 3 || cfg.Pipeline.TimeBudget != 2*time.Second {
		t.Errorf("pipeline = %+v", cfg.Pipeline)
	}
	if cfg.Anomaly.Contamination != 0.1 || cfg.Anomaly.Trees != 100 {
		t.Errorf("anomaly = %+v", cfg.Anomaly)
	}
	c, err := cfg.Roles.Compile()
	if err != nil {
		t.Fatal(err)
	}
	if !c.Start("p", "principal") || c.Start("u", "user") || !c.End("vault-1", "x") {
		t.Error("role patterns not loaded")
	}
	if cfg.Scoring.RelationshipWeights["modifies"] != -0.3 {
		t.Errorf("weights = %v", cfg.Scoring.RelationshipWeights)
	}
	if cfg.Server.Addr != ":8080" {
		t.Errorf("unset section lost its default: %q", cfg.Server.Addr)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"path too short", "pipeline:\n  max_path_length: 1\n"},
		{"path too long", "pipeline:\n  max_path_length: 11\n"},
		{"contamination", "anomaly:\n  contamination: 0.9\n"},
		{"log level", "log:\n  level: loud\n"},
		{"short secret", "server:\n  jwt_secret: tooshort\n"},
		{"bad regex", "roles:\n  start:\n    ids: [\"(\"]\n"},
		{"weights missing", "scoring:\n  edge_weighting: true\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeFile(t, "c.yaml", tt.content))
			if !errors.Is(err, ErrInvalidConfig) {
				t.Errorf("Load = %v, want ErrInvalidConfig", err)
			}
		})
	}

	if _, err := Load(writeFile(t, "c.yaml", "pipeline: [")); err == nil {
		t.Error("malformed YAML accepted")
	}
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("missing file accepted")
	}
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("MALAPHOR_TOP_N", "7")
	t.Setenv("MALAPHOR_TIME_BUDGET", "750ms")
	t.Setenv("MALAPHOR_CONTAMINATION", "0.05")
	t.Setenv("MALAPHOR_S3_BUCKET", "audit-logs")
	t.Setenv("MALAPHOR_S3_PATH_STYLE", "true")
	t.Setenv("MALAPHOR_API_KEY_HASHES", "h1, h2,,")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Pipeline.TopN != 7 || cfg.Pipeline.TimeBudget != 750*time.Millisecond {
		t.Errorf("pipeline = %+v", cfg.Pipeline)
	}
	if cfg.Anomaly.Contamination != 0.05 {
		t.Errorf("contamination = %v", cfg.Anomaly.Contamination)
	}
	if cfg.Storage.S3.Bucket != "audit-logs" || !cfg.Storage.S3.UsePathStyle {
		t.Errorf("s3 = %+v", cfg.Storage.S3)
	}
	if len(cfg.Server.APIKeyHashes) != 2 || cfg.Server.APIKeyHashes[1] != "h2" {
		t.Errorf("api keys = %v", cfg.Server.APIKeyHashes)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("log level = %q", cfg.Log.Level)
	}
}

func TestApplyEnvRejectsGarbage(t *testing.T) {
	t.Setenv("MALAPHOR_MAX_PATH_LENGTH", "four")
	if _, err := Load(""); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("Load = %v, want ErrInvalidConfig", err)
	}
}

func TestLoadDotEnv(t *testing.T) {
	path := writeFile(t, ".env", "MALAPHOR_TEST_DOTENV=from-file\n")
	t.Setenv("MALAPHOR_TEST_DOTENV", "")
	os.Unsetenv("MALAPHOR_TEST_DOTENV")

	if err := LoadDotEnv(path, filepath.Join(t.TempDir(), "absent.env")); err != nil {
		t.Fatalf("LoadDotEnv failed: %v", err)
	}
	if got := os.Getenv("MALAPHOR_TEST_DOTENV"); got != "from-file" {
		t.Errorf("got %q, want from-file", got)
	}
}

func TestTLSAndAuditSettings(t *testing.T) {
	path := writeFile(t, "tls.yaml", `
server:
  audit_buffer: 50
  tls:
    self_signed: true
    hosts: [api.internal]
storage:
  audit_log: /var/lib/malaphor/audit.jsonl
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if !cfg.Server.TLS.Enabled() || cfg.Server.TLS.Hosts[0] != "api.internal" {
		t.Errorf("tls = %+v", cfg.Server.TLS)
	}
	if cfg.Server.AuditBuffer != 50 || cfg.Storage.AuditLog != "/var/lib/malaphor/audit.jsonl" {
		t.Errorf("audit settings not loaded: %d %q", cfg.Server.AuditBuffer, cfg.Storage.AuditLog)
	}
	if Default().Server.TLS.Enabled() {
		t.Error("TLS must be off by default")
	}

	// A certificate without its key is rejected.
	t.Setenv("MALAPHOR_TLS_CERT_FILE", "/etc/malaphor/server.crt")
	if _, err := Load(""); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("cert without key: err = %v, want ErrInvalidConfig", err)
	}
	t.Setenv("MALAPHOR_TLS_KEY_FILE", "/etc/malaphor/server.key")
	cfg, err = Load("")
	if err != nil {
		t.Fatalf("Load with cert and key: %v", err)
	}
	if cfg.Server.TLS.CertFile != "/etc/malaphor/server.crt" {
		t.Errorf("cert file = %q", cfg.Server.TLS.CertFile)
	}
}
