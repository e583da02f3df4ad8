package transport

import (
	"context"
	"crypto/tls"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/edgelesssys/go-attest-coap/attesterr"
	"github.com/edgelesssys/go-attest-coap/coap"
	"github.com/edgelesssys/go-attest-coap/coaptest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newTestServer(t *testing.T, ca *coaptest.CA) *coaptest.Server {
	t.Helper()
	cert, err := ca.IssueLocal()
	require.NoError(t, err)
	return newTestServerWithCert(t, cert)
}

func newTestServerWithCert(t *testing.T, cert tls.Certificate) *coaptest.Server {
	t.Helper()
	server, err := coaptest.NewServer(cert, coaptest.Echo)
	require.NoError(t, err)
	t.Cleanup(func() { server.Close() })
	return server
}

// closedEndpoint returns a local endpoint nobody listens on.
func closedEndpoint(t *testing.T) Endpoint {
	t.Helper()
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := listener.Addr().(*net.TCPAddr).Port
	require.NoError(t, listener.Close())
	return Endpoint{Host: "127.0.0.1", Port: strconv.Itoa(port)}
}

func serverEndpoint(s *coaptest.Server) Endpoint {
	return Endpoint{Host: s.Host(), Port: s.Port()}
}

// countDials wraps the dialer's dial function and returns a pointer to the call count.
func countDials(d *Dialer) *int {
	var dials int
	dial := d.dialContext
	d.dialContext = func(ctx context.Context, network, address string) (net.Conn, error) {
		dials++
		return dial(ctx, network, address)
	}
	return &dials
}

func TestConnectFallsBackToSecondCandidate(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	ca, err := coaptest.NewDefaultCA()
	require.NoError(err)
	server := newTestServer(t, ca)

	dialer := NewDialer(ca.Pool(), WithSeed([]byte("device-1")))
	dials := countDials(dialer)

	candidates := []Endpoint{closedEndpoint(t), serverEndpoint(server)}
	session, err := dialer.Connect(context.Background(), candidates)
	require.NoError(err)
	defer session.Close()

	assert.Equal(2, *dials)
	assert.Equal(candidates[1], session.Endpoint())
	assert.Equal(1, server.Accepted())

	req := coap.Message{Code: coap.CodePost, Token: []byte{0x0A}, Payload: []byte("ping")}
	raw, err := req.MarshalBinary()
	require.NoError(err)
	require.NoError(session.Write(context.Background(), raw))

	resp := make([]byte, len(raw))
	require.NoError(session.Read(context.Background(), resp))
	msg, err := coap.ParseMessage(resp)
	require.NoError(err)
	assert.Equal(coap.CodeContent, msg.Code)
	assert.Equal([]byte{0x0A}, msg.Token)
	assert.Equal([]byte("ping"), msg.Payload)
}

func TestConnectStopsAtFirstSuccess(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	ca, err := coaptest.NewDefaultCA()
	require.NoError(err)
	first := newTestServer(t, ca)
	second := newTestServer(t, ca)

	dialer := NewDialer(ca.Pool())
	dials := countDials(dialer)

	session, err := dialer.Connect(context.Background(), []Endpoint{serverEndpoint(first), serverEndpoint(second)})
	require.NoError(err)
	assert.NoError(session.Close())

	assert.Equal(1, *dials)
	assert.Equal(1, first.Accepted())
	assert.Equal(0, second.Accepted())
}

func TestConnectErrors(t *testing.T) {
	ca, err := coaptest.NewDefaultCA()
	require.NoError(t, err)
	otherCA, err := coaptest.NewDefaultCA()
	require.NoError(t, err)

	otherCert, err := otherCA.IssueLocal()
	require.NoError(t, err)
	wrongHostCert, err := ca.Issue(ca.Cert.NotBefore, ca.Cert.NotAfter, "attest.example.com")
	require.NoError(t, err)
	expiredCert, err := ca.Issue(time.Now().Add(-2*time.Hour), time.Now().Add(-time.Hour), "127.0.0.1")
	require.NoError(t, err)

	testCases := map[string]struct {
		candidates func(t *testing.T) []Endpoint
		opts       []Option
		wantKind   attesterr.Kind
		wantDials  int
	}{
		"no candidates": {
			candidates: func(*testing.T) []Endpoint { return nil },
			wantKind:   attesterr.Argument,
		},
		"seed too long": {
			candidates: func(t *testing.T) []Endpoint { return []Endpoint{closedEndpoint(t)} },
			opts:       []Option{WithSeed(make([]byte, MaxSeedLength+1))},
			wantKind:   attesterr.Argument,
		},
		"all candidates refuse": {
			candidates: func(t *testing.T) []Endpoint { return []Endpoint{closedEndpoint(t), closedEndpoint(t)} },
			wantKind:   attesterr.Transport,
			wantDials:  2,
		},
		"invalid endpoint is skipped without dialing": {
			candidates: func(t *testing.T) []Endpoint {
				return []Endpoint{{Host: "bad host", Port: "443"}, closedEndpoint(t)}
			},
			wantKind:  attesterr.Transport,
			wantDials: 1,
		},
		"unknown authority": {
			candidates: func(t *testing.T) []Endpoint {
				return []Endpoint{serverEndpoint(newTestServerWithCert(t, otherCert))}
			},
			wantKind:  attesterr.Transport,
			wantDials: 1,
		},
		"unknown authority is not excused by alternate roots": {
			candidates: func(t *testing.T) []Endpoint {
				return []Endpoint{serverEndpoint(newTestServerWithCert(t, otherCert))}
			},
			opts:      []Option{WithAlternateRoots(ca.Pool())},
			wantKind:  attesterr.Transport,
			wantDials: 1,
		},
		"hostname mismatch is not excused by alternate roots": {
			candidates: func(t *testing.T) []Endpoint {
				return []Endpoint{serverEndpoint(newTestServerWithCert(t, wrongHostCert))}
			},
			opts:      []Option{WithAlternateRoots(ca.Pool())},
			wantKind:  attesterr.Transport,
			wantDials: 1,
		},
		"expired certificate without alternate roots": {
			candidates: func(t *testing.T) []Endpoint {
				return []Endpoint{serverEndpoint(newTestServerWithCert(t, expiredCert))}
			},
			wantKind:  attesterr.Transport,
			wantDials: 1,
		},
	}

	for name, tc := range testCases {
		t.Run(name, func(t *testing.T) {
			assert := assert.New(t)

			dialer := NewDialer(ca.Pool(), append(tc.opts, WithHandshakeTimeout(5*time.Second))...)
			dials := countDials(dialer)

			session, err := dialer.Connect(context.Background(), tc.candidates(t))
			assert.Nil(session)
			assert.Error(err)
			assert.True(attesterr.Is(err, tc.wantKind), "got %v", err)
			assert.Equal(tc.wantDials, *dials)
		})
	}
}

func TestConnectExpiredCertificateWithAlternateRoots(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	now := time.Now()
	ca, err := coaptest.NewCA("Device CA", now.AddDate(0, 0, -1), now.AddDate(1, 0, 0))
	require.NoError(err)
	expiredCert, err := ca.Issue(now.Add(-2*time.Hour), now.Add(-time.Hour), "127.0.0.1")
	require.NoError(err)
	server := newTestServerWithCert(t, expiredCert)

	dialer := NewDialer(ca.Pool(), WithAlternateRoots(ca.Pool()))
	session, err := dialer.Connect(context.Background(), []Endpoint{serverEndpoint(server)})
	require.NoError(err)
	assert.NoError(session.Close())
}

func TestConnectCanceledContext(t *testing.T) {
	assert := assert.New(t)

	ca, err := coaptest.NewDefaultCA()
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	dialer := NewDialer(ca.Pool())
	dials := countDials(dialer)
	_, err = dialer.Connect(ctx, []Endpoint{closedEndpoint(t)})
	assert.True(attesterr.Is(err, attesterr.Transport))
	assert.ErrorIs(err, context.Canceled)
	assert.Equal(0, *dials)
}
