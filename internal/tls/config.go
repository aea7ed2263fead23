package tls

import (
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

var (
	ErrCertNotFound      = errors.New("certificate file not found")
	ErrKeyNotFound       = errors.New("key file not found")
	ErrCertInvalid       = errors.New("certificate invalid")
	ErrCertExpired       = errors.New("certificate expired")
	ErrCertNotYetValid   = errors.New("certificate not yet valid")
	ErrCANotFound        = errors.New("CA certificate not found")
	ErrCAInvalid         = errors.New("CA certificate invalid")
	ErrIncompleteKeyPair = errors.New("client certificate and key must be set together")
	ErrNoCertificates    = errors.New("no certificates in file")
)

// Config selects the trust roots and optional client certificate used for
// the backend HTTP API and the control channel.
type Config struct {
	CAFile     string
	CertFile   string
	KeyFile    string
	SkipVerify bool
}

// Enabled reports whether any setting departs from the system defaults.
func (c Config) Enabled() bool {
	return c.CAFile != "" || c.CertFile != "" || c.KeyFile != "" || c.SkipVerify
}

// LoadClientTLSConfig builds the client TLS config. It returns nil when cfg
// is not enabled so callers keep Go's defaults.
func LoadClientTLSConfig(cfg Config) (*tls.Config, error) {
	if !cfg.Enabled() {
		return nil, nil
	}

	tlsConfig := &tls.Config{
		MinVersion:         tls.VersionTLS12,
		InsecureSkipVerify: cfg.SkipVerify,
	}

	if (cfg.CertFile == "") != (cfg.KeyFile == "") {
		return nil, ErrIncompleteKeyPair
	}
	if cfg.CertFile != "" {
		if err := ValidateCertificate(cfg.CertFile); err != nil {
			return nil, err
		}
		cert, err := LoadCertificate(cfg.CertFile, cfg.KeyFile)
		if err != nil {
			return nil, err
		}
		tlsConfig.Certificates = []tls.Certificate{*cert}
	}

	if cfg.CAFile != "" {
		caPool, err := LoadCAPool(cfg.CAFile)
		if err != nil {
			return nil, err
		}
		tlsConfig.RootCAs = caPool
	}

	return tlsConfig, nil
}

// LoadCertificate loads a certificate and key from files.
func LoadCertificate(certFile, keyFile string) (*tls.Certificate, error) {
	if _, err := os.Stat(certFile); os.IsNotExist(err) {
		return nil, ErrCertNotFound
	}
	if _, err := os.Stat(keyFile); os.IsNotExist(err) {
		return nil, ErrKeyNotFound
	}

	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCertInvalid, err)
	}
	return &cert, nil
}

// LoadCAPool loads a CA certificate pool from a PEM file.
func LoadCAPool(caFile string) (*x509.CertPool, error) {
	caData, err := os.ReadFile(filepath.Clean(caFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrCANotFound
		}
		return nil, fmt.Errorf("read CA file: %w", err)
	}

	caPool := x509.NewCertPool()
	if !caPool.AppendCertsFromPEM(caData) {
		return nil, ErrCAInvalid
	}
	return caPool, nil
}

// ValidateCertificate checks the validity window of the leaf certificate.
func ValidateCertificate(certFile string) error {
	certData, err := os.ReadFile(filepath.Clean(certFile))
	if err != nil {
		if os.IsNotExist(err) {
			return ErrCertNotFound
		}
		return err
	}

	certs, err := ParseCertificates(certData)
	if err != nil {
		return err
	}
	if len(certs) == 0 {
		return ErrNoCertificates
	}

	now := time.Now()
	if now.Before(certs[0].NotBefore) {
		return ErrCertNotYetValid
	}
	if now.After(certs[0].NotAfter) {
		return ErrCertExpired
	}
	return nil
}

// ParseCertificates parses every CERTIFICATE block of pemData.
func ParseCertificates(pemData []byte) ([]*x509.Certificate, error) {
	var certs []*x509.Certificate
	for len(pemData) > 0 {
		var block *pem.Block
		block, pemData = pem.Decode(pemData)
		if block == nil {
			break
		}
		if block.Type != "CERTIFICATE" {
			continue
		}
		cert, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCertInvalid, err)
		}
		certs = append(certs, cert)
	}
	return certs, nil
}
