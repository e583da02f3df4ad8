package transport

import (
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
)

// ParsePEMCertificateChain parses every certificate of a PEM bundle.
func ParsePEMCertificateChain(certChainPEM []byte) ([]*x509.Certificate, error) {
	var chain []*x509.Certificate
	for block, rest := pem.Decode(certChainPEM); block != nil; block, rest = pem.Decode(rest) {
		if block.Type != "CERTIFICATE" {
			continue
		}
		cert, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("parsing certificate from PEM: %w", err)
		}
		chain = append(chain, cert)
	}
	return chain, nil
}

// NewCertPoolFromPEM builds a pool from a PEM bundle holding at least one certificate.
func NewCertPoolFromPEM(certsPEM []byte) (*x509.CertPool, error) {
	certs, err := ParsePEMCertificateChain(certsPEM)
	if err != nil {
		return nil, err
	}
	if len(certs) == 0 {
		return nil, errors.New("no certificates found in PEM data")
	}

	pool := x509.NewCertPool()
	for _, cert := range certs {
		pool.AddCert(cert)
	}
	return pool, nil
}

// LoadCertPool reads a PEM bundle from disk.
func LoadCertPool(path string) (*x509.CertPool, error) {
	certsPEM, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading CA bundle: %w", err)
	}
	pool, err := NewCertPoolFromPEM(certsPEM)
	if err != nil {
		return nil, fmt.Errorf("CA bundle %q: %w", path, err)
	}
	return pool, nil
}
