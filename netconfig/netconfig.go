// Package netconfig turns the network configuration blob into the ordered list of
// candidate attestation servers.
//
// Two encodings are accepted. Full platforms store a JSON object:
//
//	{"serverInfo": ["attest.example.com:5684", "attest-backup.example.com:5684"]}
//
// Constrained targets store the same host:port tokens delimited by semicolons:
//
//	attest.example.com:5684;attest-backup.example.com:5684;
package netconfig

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"
	"sync"

	"github.com/edgelesssys/go-attest-coap/attesterr"
	"github.com/edgelesssys/go-attest-coap/transport"
)

const (
	// MaxConfigSize is the largest configuration blob that is read.
	MaxConfigSize = 256
	// DefaultMaxServers is the number of candidates kept when no limit is configured.
	DefaultMaxServers = 2
	// Delimiter separates host:port tokens in the compact encoding.
	Delimiter = ";"
)

var (
	// ErrNoServers is returned when the configuration names no server.
	ErrNoServers = errors.New("no servers configured")
	// ErrTooManyServers is returned when more servers are named than allowed.
	ErrTooManyServers = errors.New("too many servers configured")
	// ErrInvalidEntry is returned for a token that is not host:port.
	ErrInvalidEntry = errors.New("invalid server entry")
	// ErrConfigTooLarge is returned for a blob larger than MaxConfigSize.
	ErrConfigTooLarge = errors.New("network config too large")
)

var entryPattern = regexp.MustCompile(`^([a-zA-Z0-9\-_.]+):([0-9]+)$`)

type document struct {
	ServerInfo []string `json:"serverInfo"`
}

// Parse decodes a configuration blob. A blob starting with '{' is JSON, anything else
// the semicolon encoding. Any malformed entry fails the whole parse.
// maxServers <= 0 means DefaultMaxServers.
func Parse(raw []byte, maxServers int) ([]transport.Endpoint, error) {
	if maxServers <= 0 {
		maxServers = DefaultMaxServers
	}
	if len(raw) > MaxConfigSize {
		return nil, attesterr.OverLimit("parse network config", len(raw), MaxConfigSize, ErrConfigTooLarge)
	}

	var entries []string
	trimmed := bytes.TrimSpace(raw)
	if bytes.HasPrefix(trimmed, []byte("{")) {
		var doc document
		if err := json.Unmarshal(trimmed, &doc); err != nil {
			return nil, attesterr.New(attesterr.Argument, "parse network config", fmt.Errorf("decoding JSON: %w", err))
		}
		entries = doc.ServerInfo
	} else {
		// Empty tokens come from trailing or repeated delimiters and are skipped.
		for _, token := range strings.Split(string(trimmed), Delimiter) {
			if token = strings.TrimSpace(token); token != "" {
				entries = append(entries, token)
			}
		}
	}

	if len(entries) == 0 {
		return nil, attesterr.New(attesterr.Argument, "parse network config", ErrNoServers)
	}
	if len(entries) > maxServers {
		return nil, attesterr.OverLimit("parse network config", len(entries), maxServers,
			fmt.Errorf("%d entries: %w", len(entries), ErrTooManyServers))
	}

	endpoints := make([]transport.Endpoint, 0, len(entries))
	for i, entry := range entries {
		endpoint, err := ParseEntry(entry)
		if err != nil {
			return nil, attesterr.New(attesterr.Argument, "parse network config", fmt.Errorf("entry %d: %w", i, err))
		}
		endpoints = append(endpoints, endpoint)
	}
	return endpoints, nil
}

// ParseEntry splits a host:port token into an endpoint.
func ParseEntry(entry string) (transport.Endpoint, error) {
	match := entryPattern.FindStringSubmatch(entry)
	if match == nil {
		return transport.Endpoint{}, fmt.Errorf("%q: %w", entry, ErrInvalidEntry)
	}
	endpoint := transport.Endpoint{Host: match[1], Port: match[2]}
	if err := endpoint.Validate(); err != nil {
		return transport.Endpoint{}, fmt.Errorf("%q: %w: %w", entry, ErrInvalidEntry, err)
	}
	return endpoint, nil
}

// Loader reads and parses the network configuration once.
type Loader struct {
	// Open returns the configuration source.
	Open func() (io.ReadCloser, error)
	// MaxServers caps the candidate list. Zero means DefaultMaxServers.
	MaxServers int

	mu      sync.Mutex
	servers []transport.Endpoint
}

// NewFileLoader returns a Loader reading path.
func NewFileLoader(path string, maxServers int) *Loader {
	return &Loader{
		Open: func() (io.ReadCloser, error) {
			return os.Open(path)
		},
		MaxServers: maxServers,
	}
}

// Load returns the candidate list, reading the source on the first successful call only.
// A failed load is not cached.
func (l *Loader) Load() ([]transport.Endpoint, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.servers != nil {
		return append([]transport.Endpoint(nil), l.servers...), nil
	}

	src, err := l.Open()
	if err != nil {
		return nil, attesterr.New(attesterr.Argument, "load network config", fmt.Errorf("opening: %w", err))
	}
	defer src.Close()

	raw, err := io.ReadAll(io.LimitReader(src, MaxConfigSize+1))
	if err != nil {
		return nil, attesterr.New(attesterr.Argument, "load network config", fmt.Errorf("reading: %w", err))
	}

	servers, err := Parse(raw, l.MaxServers)
	if err != nil {
		return nil, err
	}
	l.servers = servers
	return append([]transport.Endpoint(nil), servers...), nil
}
