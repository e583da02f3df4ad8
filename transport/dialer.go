/*
Package transport connects to attestation servers over TLS and moves exact byte counts.

A [Dialer] tries each candidate [Endpoint] in order and returns a [Session] for the first
one that accepts both the TCP connection and the TLS handshake:

	candidates ──► for each endpoint
	                 │
	                 ├─ TCP dial ─────────────── fail ──► next endpoint
	                 ├─ socket options
	                 ├─ fresh tls.Config + DRBG
	                 └─ TLS handshake ────────── fail ──► next endpoint
	                       │
	                       ▼
	                    Session ──► Write / Read / Close

Sessions are owned by the caller and are not safe for concurrent use.
*/
package transport

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/edgelesssys/go-attest-coap/attesterr"
	"k8s.io/utils/clock"
)

const (
	// DefaultReadTimeout bounds a single read attempt. Timeouts are retried.
	DefaultReadTimeout = 500 * time.Millisecond
	// DefaultHandshakeTimeout bounds the TCP dial plus TLS handshake of one candidate.
	DefaultHandshakeTimeout = 10 * time.Second
)

// Dialer establishes sessions to attestation servers.
type Dialer struct {
	roots            *x509.CertPool
	alternateRoots   []*x509.CertPool
	readTimeout      time.Duration
	handshakeTimeout time.Duration
	seed             []byte
	clock            clock.PassiveClock
	dialContext      func(ctx context.Context, network, address string) (net.Conn, error)
}

// Option configures a [Dialer].
type Option func(*Dialer)

// WithAlternateRoots sets the root pools that may excuse an expired or not yet valid
// server certificate. Pools are tried in order.
func WithAlternateRoots(pools ...*x509.CertPool) Option {
	return func(d *Dialer) {
		d.alternateRoots = pools
	}
}

// WithReadTimeout sets the bound of a single read attempt.
func WithReadTimeout(timeout time.Duration) Option {
	return func(d *Dialer) {
		d.readTimeout = timeout
	}
}

// WithHandshakeTimeout sets the bound of dial plus handshake per candidate.
func WithHandshakeTimeout(timeout time.Duration) Option {
	return func(d *Dialer) {
		d.handshakeTimeout = timeout
	}
}

// WithSeed sets the personalization string mixed into each session's DRBG.
func WithSeed(seed []byte) Option {
	return func(d *Dialer) {
		d.seed = seed
	}
}

// WithClock sets the time source used for certificate validation.
func WithClock(c clock.PassiveClock) Option {
	return func(d *Dialer) {
		d.clock = c
	}
}

// NewDialer returns a Dialer trusting roots.
func NewDialer(roots *x509.CertPool, opts ...Option) *Dialer {
	netDialer := &net.Dialer{}
	d := &Dialer{
		roots:            roots,
		readTimeout:      DefaultReadTimeout,
		handshakeTimeout: DefaultHandshakeTimeout,
		clock:            clock.RealClock{},
		dialContext:      netDialer.DialContext,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Connect tries candidates in order and returns a session for the first that connects.
// Candidates after the first success are not contacted.
func (d *Dialer) Connect(ctx context.Context, candidates []Endpoint) (*Session, error) {
	if len(candidates) == 0 {
		return nil, attesterr.New(attesterr.Argument, "connect", errors.New("no candidate servers"))
	}
	if d.roots == nil {
		return nil, attesterr.New(attesterr.Argument, "connect", errors.New("no trusted roots configured"))
	}
	if len(d.seed) > MaxSeedLength {
		return nil, attesterr.New(attesterr.Argument, "connect",
			fmt.Errorf("seed is %d bytes long, at most %d allowed", len(d.seed), MaxSeedLength))
	}

	var errs []error
	for i, endpoint := range candidates {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}

		session, err := d.connect(ctx, endpoint)
		if err == nil {
			slog.Debug("connected to attestation server", "server", endpoint.Address(), "candidate", i)
			return session, nil
		}
		slog.Warn("connecting to attestation server failed", "server", endpoint.Address(), "candidate", i, "error", err)
		errs = append(errs, fmt.Errorf("candidate %d (%s): %w", i, endpoint, err))
	}
	return nil, attesterr.New(attesterr.Transport, "connect", errors.Join(errs...))
}

func (d *Dialer) connect(ctx context.Context, endpoint Endpoint) (*Session, error) {
	if err := endpoint.Validate(); err != nil {
		return nil, fmt.Errorf("invalid endpoint: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, d.handshakeTimeout)
	defer cancel()

	rawConn, err := d.dialContext(ctx, "tcp", endpoint.Address())
	if err != nil {
		return nil, fmt.Errorf("dialing: %w", err)
	}
	if err := setSocketOptions(rawConn); err != nil {
		rawConn.Close()
		return nil, fmt.Errorf("setting socket options: %w", err)
	}

	rng, err := newSessionDRBG(d.seed)
	if err != nil {
		rawConn.Close()
		return nil, err
	}

	verifier := &chainVerifier{
		roots:      d.roots,
		alternates: d.alternateRoots,
		dnsName:    endpoint.Host,
		clock:      d.clock,
	}
	tlsConn := tls.Client(rawConn, &tls.Config{
		ServerName: endpoint.Host,
		MinVersion: tls.VersionTLS12,
		Rand:       rng,
		// The chain is verified by verifier, which may excuse expiry.
		InsecureSkipVerify:    true, //nolint:gosec
		VerifyPeerCertificate: verifier.verifyPeerCertificate,
	})
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		rawConn.Close()
		return nil, fmt.Errorf("TLS handshake: %w", err)
	}

	return newSession(tlsConn, rawConn, endpoint, d.readTimeout), nil
}
