// Package config loads the attestation client configuration from YAML.
package config

import (
	"crypto/x509"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/edgelesssys/go-attest-coap/coap"
	"github.com/edgelesssys/go-attest-coap/exchange"
	"github.com/edgelesssys/go-attest-coap/netconfig"
	"github.com/edgelesssys/go-attest-coap/transport"
	"gopkg.in/yaml.v3"
)

// Config holds the attestation client configuration.
type Config struct {
	// NetworkConfig is the path of the server list (JSON or semicolon-delimited).
	NetworkConfig    string        `yaml:"network_config"`
	MaxServers       int           `yaml:"max_servers"`
	WriteRetries     int           `yaml:"write_retries"`
	ReadTimeout      time.Duration `yaml:"read_timeout"`
	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`
	// CAFile is a PEM bundle of the trusted roots.
	CAFile string `yaml:"ca_file"`
	// AlternateCAFiles are PEM bundles that may excuse an expired server certificate.
	AlternateCAFiles []string `yaml:"alternate_ca_files"`
	// Seed personalizes the per-session DRBG.
	Seed           string `yaml:"seed"`
	AppID          string `yaml:"app_id"`
	UDID           string `yaml:"udid"`
	MaxMessageSize int    `yaml:"max_message_size"`
}

// Default returns the configuration used for every unset field.
func Default() *Config {
	return &Config{
		NetworkConfig:    "/etc/attest/network.json",
		MaxServers:       netconfig.DefaultMaxServers,
		WriteRetries:     exchange.DefaultWriteRetries,
		ReadTimeout:      transport.DefaultReadTimeout,
		HandshakeTimeout: transport.DefaultHandshakeTimeout,
		CAFile:           "/etc/attest/ca.pem",
		MaxMessageSize:   coap.MaxMessageSize,
	}
}

// DefaultPath returns the default config file path: ~/.attest/config.yaml
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".attest", "config.yaml")
	}
	return filepath.Join(home, ".attest", "config.yaml")
}

// Load reads the configuration from a YAML file over the defaults.
// A missing file yields the defaults. The result is not validated.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("decoding config %q: %w", path, err)
	}
	return cfg, nil
}

// Validate reports every invalid field.
func (c *Config) Validate() error {
	var errs []error
	if c.NetworkConfig == "" {
		errs = append(errs, errors.New("network_config must be set"))
	}
	if c.MaxServers < 1 {
		errs = append(errs, fmt.Errorf("max_servers must be at least 1, got %d", c.MaxServers))
	}
	if c.WriteRetries < 0 {
		errs = append(errs, fmt.Errorf("write_retries must not be negative, got %d", c.WriteRetries))
	}
	if c.ReadTimeout <= 0 {
		errs = append(errs, fmt.Errorf("read_timeout must be positive, got %s", c.ReadTimeout))
	}
	if c.HandshakeTimeout <= 0 {
		errs = append(errs, fmt.Errorf("handshake_timeout must be positive, got %s", c.HandshakeTimeout))
	}
	if c.CAFile == "" {
		errs = append(errs, errors.New("ca_file must be set"))
	}
	if len(c.Seed) > transport.MaxSeedLength {
		errs = append(errs, fmt.Errorf("seed must be at most %d bytes, got %d", transport.MaxSeedLength, len(c.Seed)))
	}
	if c.AppID == "" {
		errs = append(errs, errors.New("app_id must be set"))
	}
	if c.UDID == "" {
		errs = append(errs, errors.New("udid must be set"))
	}
	if c.MaxMessageSize < 16 || c.MaxMessageSize > coap.MaxMessageSize {
		errs = append(errs, fmt.Errorf("max_message_size must be between 16 and %d, got %d", coap.MaxMessageSize, c.MaxMessageSize))
	}
	return errors.Join(errs...)
}

// Dialer builds a transport dialer from the CA files and timeouts.
func (c *Config) Dialer() (*transport.Dialer, error) {
	roots, err := transport.LoadCertPool(c.CAFile)
	if err != nil {
		return nil, err
	}

	alternates := make([]*x509.CertPool, 0, len(c.AlternateCAFiles))
	for _, path := range c.AlternateCAFiles {
		pool, err := transport.LoadCertPool(path)
		if err != nil {
			return nil, err
		}
		alternates = append(alternates, pool)
	}

	return transport.NewDialer(roots,
		transport.WithAlternateRoots(alternates...),
		transport.WithReadTimeout(c.ReadTimeout),
		transport.WithHandshakeTimeout(c.HandshakeTimeout),
		transport.WithSeed([]byte(c.Seed)),
	), nil
}

// Loader returns a network config loader for NetworkConfig.
func (c *Config) Loader() *netconfig.Loader {
	return netconfig.NewFileLoader(c.NetworkConfig, c.MaxServers)
}

// Identity returns the device identity sent with every request.
func (c *Config) Identity() exchange.Identity {
	return exchange.Identity{UDID: c.UDID, AppID: c.AppID}
}

// Client builds an attestation client reading its servers from src.
// A nil src reads NetworkConfig.
func (c *Config) Client(src exchange.ServerSource) (*exchange.Client, error) {
	dialer, err := c.Dialer()
	if err != nil {
		return nil, err
	}
	if src == nil {
		src = c.Loader()
	}
	return exchange.NewClient(dialer, src, c.Identity(),
		exchange.WithWriteRetries(c.WriteRetries),
		exchange.WithMaxMessageSize(c.MaxMessageSize),
	), nil
}
