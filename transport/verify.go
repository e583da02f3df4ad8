package transport

import (
	"crypto/x509"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"k8s.io/utils/clock"
)

// chainVerifier validates the server's certificate chain.
//
// A chain that fails against roots only because a certificate is outside its validity
// period (devices with a wrong clock) is re-checked against each alternate root pool at a
// time inside the chain's validity window. Any other failure is final.
type chainVerifier struct {
	roots      *x509.CertPool
	alternates []*x509.CertPool
	dnsName    string
	clock      clock.PassiveClock
}

// verifyPeerCertificate matches the signature of [tls.Config.VerifyPeerCertificate].
func (v *chainVerifier) verifyPeerCertificate(rawCerts [][]byte, _ [][]*x509.Certificate) error {
	if len(rawCerts) == 0 {
		return errors.New("server presented no certificate")
	}

	certs := make([]*x509.Certificate, 0, len(rawCerts))
	for i, raw := range rawCerts {
		cert, err := x509.ParseCertificate(raw)
		if err != nil {
			return fmt.Errorf("parsing certificate %d of server chain: %w", i, err)
		}
		certs = append(certs, cert)
	}
	return v.verify(certs)
}

func (v *chainVerifier) verify(certs []*x509.Certificate) error {
	leaf := certs[0]
	intermediates := x509.NewCertPool()
	for _, cert := range certs[1:] {
		intermediates.AddCert(cert)
	}

	opts := x509.VerifyOptions{
		Roots:         v.roots,
		Intermediates: intermediates,
		DNSName:       v.dnsName,
		CurrentTime:   v.clock.Now(),
		KeyUsages:     []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	}
	_, err := leaf.Verify(opts)
	if err == nil {
		return nil
	}
	if !isExpiryError(err) {
		return fmt.Errorf("verifying server certificate: %w", err)
	}

	// Only the validity period failed. Every other check must still pass.
	opts.CurrentTime = validityReference(certs)
	for i, roots := range v.alternates {
		opts.Roots = roots
		if _, altErr := leaf.Verify(opts); altErr == nil {
			slog.Warn("accepting server certificate outside its validity period",
				"subject", leaf.Subject.String(), "notBefore", leaf.NotBefore, "notAfter", leaf.NotAfter, "alternateRoots", i)
			return nil
		}
	}
	return fmt.Errorf("verifying server certificate: %w", err)
}

func isExpiryError(err error) bool {
	var invalid x509.CertificateInvalidError
	return errors.As(err, &invalid) && invalid.Reason == x509.Expired
}

// validityReference returns the latest NotBefore of the presented chain:
// the earliest moment at which every presented certificate can be valid.
func validityReference(certs []*x509.Certificate) time.Time {
	reference := certs[0].NotBefore
	for _, cert := range certs[1:] {
		if cert.NotBefore.After(reference) {
			reference = cert.NotBefore
		}
	}
	return reference.Add(time.Second)
}
