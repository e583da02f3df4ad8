package transport

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/edgelesssys/go-attest-coap/coaptest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEndpointValidate(t *testing.T) {
	testCases := map[string]struct {
		endpoint Endpoint
		wantErr  bool
	}{
		"host name":           {endpoint: Endpoint{Host: "attest.example.com", Port: "5684"}},
		"ip":                  {endpoint: Endpoint{Host: "10.0.0.1", Port: "443"}},
		"underscore and dash": {endpoint: Endpoint{Host: "attest_eu-1.example.com", Port: "1"}},
		"longest host":        {endpoint: Endpoint{Host: strings.Repeat("a", MaxHostLength), Port: "1"}},
		"empty host":          {endpoint: Endpoint{Port: "443"}, wantErr: true},
		"host too long":       {endpoint: Endpoint{Host: strings.Repeat("a", MaxHostLength+1), Port: "1"}, wantErr: true},
		"host with space":     {endpoint: Endpoint{Host: "attest example", Port: "443"}, wantErr: true},
		"host with colon":     {endpoint: Endpoint{Host: "::1", Port: "443"}, wantErr: true},
		"empty port":          {endpoint: Endpoint{Host: "localhost"}, wantErr: true},
		"port too long":       {endpoint: Endpoint{Host: "localhost", Port: "123456"}, wantErr: true},
		"port not numeric":    {endpoint: Endpoint{Host: "localhost", Port: "https"}, wantErr: true},
	}

	for name, tc := range testCases {
		t.Run(name, func(t *testing.T) {
			err := tc.endpoint.Validate()
			if tc.wantErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestEndpointAddress(t *testing.T) {
	assert := assert.New(t)
	assert.Equal("attest.example.com:5684", Endpoint{Host: "attest.example.com", Port: "5684"}.Address())
	assert.Equal("127.0.0.1:443", Endpoint{Host: "127.0.0.1", Port: "443"}.String())
}

func TestDRBG(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	entropy := bytes.Repeat([]byte{0x42}, 32)

	first, err := newDRBG(bytes.NewReader(entropy), []byte("seed"))
	require.NoError(err)
	second, err := newDRBG(bytes.NewReader(entropy), []byte("seed"))
	require.NoError(err)
	other, err := newDRBG(bytes.NewReader(entropy), []byte("other seed"))
	require.NoError(err)

	a, b, c := make([]byte, 64), make([]byte, 64), make([]byte, 64)
	_, err = first.Read(a)
	require.NoError(err)
	_, err = second.Read(b)
	require.NoError(err)
	_, err = other.Read(c)
	require.NoError(err)

	assert.Equal(a, b)
	assert.NotEqual(a, c)
	assert.NotEqual(make([]byte, 64), a)

	// The stream continues, it does not restart.
	next := make([]byte, 64)
	_, err = first.Read(next)
	require.NoError(err)
	assert.NotEqual(a, next)
}

func TestDRBGErrors(t *testing.T) {
	assert := assert.New(t)

	_, err := newDRBG(bytes.NewReader(make([]byte, 32)), make([]byte, MaxSeedLength+1))
	assert.Error(err)

	_, err = newDRBG(bytes.NewReader(make([]byte, 8)), nil)
	assert.Error(err)

	_, err = newSessionDRBG(make([]byte, MaxSeedLength))
	assert.NoError(err)
}

func TestCertPools(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	ca, err := coaptest.NewDefaultCA()
	require.NoError(err)
	other, err := coaptest.NewDefaultCA()
	require.NoError(err)

	bundle := append(ca.PEM(), other.PEM()...)
	chain, err := ParsePEMCertificateChain(bundle)
	require.NoError(err)
	require.Len(chain, 2)
	assert.True(chain[0].Equal(ca.Cert))
	assert.True(chain[1].Equal(other.Cert))

	_, err = NewCertPoolFromPEM([]byte("no certificates here"))
	assert.Error(err)

	path := filepath.Join(t.TempDir(), "ca.pem")
	require.NoError(os.WriteFile(path, bundle, 0o600))
	pool, err := LoadCertPool(path)
	require.NoError(err)
	want, err := NewCertPoolFromPEM(bundle)
	require.NoError(err)
	assert.True(pool.Equal(want))

	_, err = LoadCertPool(filepath.Join(t.TempDir(), "missing.pem"))
	assert.Error(err)
}
