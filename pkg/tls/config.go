// Package tls builds the server TLS configuration for the API: certificates
// from disk or generated at startup, optional client certificate
// verification, and a modern cipher suite list.
package tls

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"

	"github.com/dd0wney/malaphor/pkg/config"
)

// SecureCipherSuites returns the TLS 1.2 suites allowed alongside TLS 1.3.
// TLS 1.3 suites are not configurable in crypto/tls.
func SecureCipherSuites() []uint16 {
	return []uint16{
		tls.TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256,
		tls.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384,
		tls.TLS_ECDHE_ECDSA_WITH_CHACHA20_POLY1305_SHA256,
		tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256,
		tls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384,
		tls.TLS_ECDHE_RSA_WITH_CHACHA20_POLY1305_SHA256,
	}
}

// Load returns the server TLS configuration, or nil when cfg does not
// enable TLS.
func Load(cfg config.TLSConfig) (*tls.Config, error) {
	if !cfg.Enabled() {
		return nil, nil
	}

	// Files win over SelfSigned.
	certPEM, keyPEM, err := pemPair(cfg)
	if err != nil {
		return nil, err
	}
	cert, err := tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		return nil, fmt.Errorf("tls: load key pair: %w", err)
	}

	tlsConfig := &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
		CipherSuites: SecureCipherSuites(),
		ClientAuth:   tls.NoClientCert,
	}
	if cfg.ClientCAFile != "" {
		pool, err := LoadCAPool(cfg.ClientCAFile)
		if err != nil {
			return nil, err
		}
		tlsConfig.ClientCAs = pool
		tlsConfig.ClientAuth = tls.VerifyClientCertIfGiven
	}
	return tlsConfig, nil
}

func pemPair(cfg config.TLSConfig) (certPEM, keyPEM []byte, err error) {
	if cfg.CertFile == "" {
		return GenerateSelfSigned(cfg.Hosts, DefaultValidity)
	}
	if certPEM, err = os.ReadFile(cfg.CertFile); err != nil {
		return nil, nil, fmt.Errorf("tls: read certificate: %w", err)
	}
	if keyPEM, err = os.ReadFile(cfg.KeyFile); err != nil {
		return nil, nil, fmt.Errorf("tls: read key: %w", err)
	}
	return certPEM, keyPEM, nil
}

// LoadCAPool reads PEM certificates from caFile.
func LoadCAPool(caFile string) (*x509.CertPool, error) {
	data, err := os.ReadFile(caFile)
	if err != nil {
		return nil, fmt.Errorf("tls: read CA file: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(data) {
		return nil, fmt.Errorf("tls: no certificates in %s", caFile)
	}
	return pool, nil
}
