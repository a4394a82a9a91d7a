package tls

import (
	"crypto/tls"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dd0wney/malaphor/pkg/config"
)

func TestLoadDisabled(t *testing.T) {
	cfg, err := Load(config.TLSConfig{})
	require.NoError(t, err)
	assert.Nil(t, cfg)
}

func TestLoadSelfSigned(t *testing.T) {
	cfg, err := Load(config.TLSConfig{SelfSigned: true, Hosts: []string{"api.internal", "10.0.0.5"}})
	require.NoError(t, err)
	require.Len(t, cfg.Certificates, 1)
	assert.Equal(t, uint16(tls.VersionTLS12), cfg.MinVersion)
	assert.Equal(t, tls.NoClientCert, cfg.ClientAuth)
	assert.NotEmpty(t, cfg.CipherSuites)
}

func TestWriteSelfSignedAndLoadFromFiles(t *testing.T) {
	dir := t.TempDir()
	certFile := filepath.Join(dir, "certs", "server.crt")
	keyFile := filepath.Join(dir, "certs", "server.key")
	require.NoError(t, WriteSelfSigned(certFile, keyFile, []string{"localhost", "127.0.0.1"}, 48*time.Hour))

	st, err := os.Stat(keyFile)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), st.Mode().Perm())

	info, err := Inspect(certFile)
	require.NoError(t, err)
	assert.Equal(t, []string{"localhost"}, info.DNSNames)
	assert.Equal(t, []string{"127.0.0.1"}, info.IPs)
	assert.False(t, info.IsExpired())
	assert.InDelta(t, (48 * time.Hour).Hours(), info.ExpiresIn().Hours(), 0.1)

	// The certificate doubles as its own client CA.
	cfg, err := Load(config.TLSConfig{CertFile: certFile, KeyFile: keyFile, ClientCAFile: certFile})
	require.NoError(t, err)
	assert.Equal(t, tls.VerifyClientCertIfGiven, cfg.ClientAuth)
	assert.NotNil(t, cfg.ClientCAs)
}

func TestLoadErrors(t *testing.T) {
	dir := t.TempDir()
	garbage := filepath.Join(dir, "garbage.pem")
	require.NoError(t, os.WriteFile(garbage, []byte("not pem"), 0o600))

	tests := []struct {
		name string
		cfg  config.TLSConfig
	}{
		{"missing files", config.TLSConfig{CertFile: filepath.Join(dir, "a.crt"), KeyFile: filepath.Join(dir, "a.key")}},
		{"bad pair", config.TLSConfig{CertFile: garbage, KeyFile: garbage}},
		{"bad client CA", config.TLSConfig{SelfSigned: true, ClientCAFile: garbage}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(tt.cfg)
			assert.Error(t, err)
		})
	}
}

func TestInspectRejectsNonCertificates(t *testing.T) {
	dir := t.TempDir()
	certFile := filepath.Join(dir, "c.pem")
	keyFile := filepath.Join(dir, "k.pem")
	require.NoError(t, WriteSelfSigned(certFile, keyFile, nil, 0))

	_, err := Inspect(keyFile)
	assert.Error(t, err)
	_, err = Inspect(filepath.Join(dir, "missing.pem"))
	assert.Error(t, err)

	info, err := Inspect(certFile)
	require.NoError(t, err)
	assert.Equal(t, defaultHosts[:1], info.DNSNames)
}
