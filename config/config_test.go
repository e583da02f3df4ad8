package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/edgelesssys/go-attest-coap/coaptest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, data, 0o600))
	return path
}

func TestLoad(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	path := writeFile(t, "config.yaml", []byte(`
network_config: /data/network.cfg
max_servers: 3
write_retries: 5
read_timeout: 250ms
alternate_ca_files:
  - /etc/attest/legacy.pem
seed: attest-seed
app_id: com.example.app
udid: DEVICE-1
`))

	cfg, err := Load(path)
	require.NoError(err)

	assert.Equal("/data/network.cfg", cfg.NetworkConfig)
	assert.Equal(3, cfg.MaxServers)
	assert.Equal(5, cfg.WriteRetries)
	assert.Equal(250*time.Millisecond, cfg.ReadTimeout)
	assert.Equal([]string{"/etc/attest/legacy.pem"}, cfg.AlternateCAFiles)
	assert.Equal("attest-seed", cfg.Seed)
	assert.Equal("com.example.app", cfg.AppID)
	assert.Equal("DEVICE-1", cfg.UDID)

	// Unset fields keep their defaults.
	def := Default()
	assert.Equal(def.HandshakeTimeout, cfg.HandshakeTimeout)
	assert.Equal(def.CAFile, cfg.CAFile)
	assert.Equal(def.MaxMessageSize, cfg.MaxMessageSize)
	assert.NoError(cfg.Validate())
}

func TestLoadMissingFile(t *testing.T) {
	assert := assert.New(t)

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.NoError(err)
	assert.Equal(Default(), cfg)
}

func TestLoadInvalidYAML(t *testing.T) {
	path := writeFile(t, "config.yaml", []byte("max_servers: [1, 2"))
	_, err := Load(path)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg := Default()
		cfg.AppID = "app"
		cfg.UDID = "udid"
		return cfg
	}

	testCases := map[string]struct {
		modify  func(*Config)
		wantErr bool
	}{
		"valid":                 {modify: func(*Config) {}},
		"zero write retries":    {modify: func(c *Config) { c.WriteRetries = 0 }},
		"longest seed":          {modify: func(c *Config) { c.Seed = "0123456789abcdef" }},
		"missing network":       {modify: func(c *Config) { c.NetworkConfig = "" }, wantErr: true},
		"zero max servers":      {modify: func(c *Config) { c.MaxServers = 0 }, wantErr: true},
		"negative retries":      {modify: func(c *Config) { c.WriteRetries = -1 }, wantErr: true},
		"zero read timeout":     {modify: func(c *Config) { c.ReadTimeout = 0 }, wantErr: true},
		"zero handshake":        {modify: func(c *Config) { c.HandshakeTimeout = 0 }, wantErr: true},
		"missing ca":            {modify: func(c *Config) { c.CAFile = "" }, wantErr: true},
		"seed too long":         {modify: func(c *Config) { c.Seed = "0123456789abcdef0" }, wantErr: true},
		"missing app id":        {modify: func(c *Config) { c.AppID = "" }, wantErr: true},
		"missing udid":          {modify: func(c *Config) { c.UDID = "" }, wantErr: true},
		"message size too big":  {modify: func(c *Config) { c.MaxMessageSize = 8192 }, wantErr: true},
		"message size too tiny": {modify: func(c *Config) { c.MaxMessageSize = 8 }, wantErr: true},
	}

	for name, tc := range testCases {
		t.Run(name, func(t *testing.T) {
			cfg := valid()
			tc.modify(cfg)
			err := cfg.Validate()
			if tc.wantErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestBuilders(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	ca, err := coaptest.NewDefaultCA()
	require.NoError(err)

	cfg := Default()
	cfg.CAFile = writeFile(t, "ca.pem", ca.PEM())
	cfg.AlternateCAFiles = []string{writeFile(t, "legacy.pem", ca.PEM())}
	cfg.NetworkConfig = writeFile(t, "network.cfg", []byte("attest.example.com:5684;"))
	cfg.UDID = "udid"
	cfg.AppID = "app"

	dialer, err := cfg.Dialer()
	require.NoError(err)
	assert.NotNil(dialer)

	servers, err := cfg.Loader().Load()
	require.NoError(err)
	require.Len(servers, 1)
	assert.Equal("attest.example.com", servers[0].Host)

	assert.Equal("udid", cfg.Identity().UDID)

	client, err := cfg.Client(nil)
	require.NoError(err)
	assert.NotNil(client)

	cfg.AlternateCAFiles = []string{filepath.Join(t.TempDir(), "missing.pem")}
	_, err = cfg.Dialer()
	assert.Error(err)
}
