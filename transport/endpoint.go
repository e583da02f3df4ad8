package transport

import (
	"errors"
	"fmt"
	"net"
	"regexp"
)

const (
	// MaxHostLength is the longest host name an endpoint may carry.
	MaxHostLength = 64
	// MaxPortLength is the largest number of port digits.
	MaxPortLength = 5
)

var (
	hostPattern = regexp.MustCompile(`^[a-zA-Z0-9\-_.]+$`)
	portPattern = regexp.MustCompile(`^[0-9]+$`)
)

// Endpoint is a candidate attestation server.
type Endpoint struct {
	Host string
	Port string
}

// Address returns host:port suitable for dialing.
func (e Endpoint) Address() string {
	return net.JoinHostPort(e.Host, e.Port)
}

func (e Endpoint) String() string {
	return e.Address()
}

// Validate checks the host and port against the accepted character sets and lengths.
func (e Endpoint) Validate() error {
	if e.Host == "" {
		return errors.New("host is empty")
	}
	if len(e.Host) > MaxHostLength {
		return fmt.Errorf("host is %d characters long, at most %d allowed", len(e.Host), MaxHostLength)
	}
	if !hostPattern.MatchString(e.Host) {
		return fmt.Errorf("host %q contains invalid characters", e.Host)
	}
	if e.Port == "" {
		return errors.New("port is empty")
	}
	if len(e.Port) > MaxPortLength {
		return fmt.Errorf("port %q has more than %d digits", e.Port, MaxPortLength)
	}
	if !portPattern.MatchString(e.Port) {
		return fmt.Errorf("port %q is not numeric", e.Port)
	}
	return nil
}
