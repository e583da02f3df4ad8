package exchange

import (
	"context"
	"errors"
	"net"
	"strconv"
	"sync"
	"testing"

	"github.com/edgelesssys/go-attest-coap/attesterr"
	"github.com/edgelesssys/go-attest-coap/coap"
	"github.com/edgelesssys/go-attest-coap/coaptest"
	"github.com/edgelesssys/go-attest-coap/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestClientDo(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	ca, err := coaptest.NewDefaultCA()
	require.NoError(err)
	cert, err := ca.IssueLocal()
	require.NoError(err)

	var mu sync.Mutex
	var received []coap.Message
	server, err := coaptest.NewServer(cert, func(req coap.Message) (coap.Message, error) {
		mu.Lock()
		received = append(received, req)
		mu.Unlock()
		return coap.Message{Code: coap.CodeContent, Payload: []byte(`{"challenge":"bm9uY2U="}`)}, nil
	})
	require.NoError(err)
	defer server.Close()

	// The first candidate refuses connections.
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(err)
	closedPort := strconv.Itoa(listener.Addr().(*net.TCPAddr).Port)
	require.NoError(listener.Close())

	servers := StaticServers{
		{Host: "127.0.0.1", Port: closedPort},
		{Host: server.Host(), Port: server.Port()},
	}
	identity := Identity{UDID: "Device-42", AppID: "com.example.attest"}
	client := NewClient(transport.NewDialer(ca.Pool()), servers, identity, WithWriteRetries(1))

	resp, err := client.Do(context.Background(), Request{Action: ActionChallenge, Body: map[string]int{"version": 1}})
	require.NoError(err)
	assert.Equal(coap.CodeContent, resp.Code)

	var body struct {
		Challenge []byte `json:"challenge"`
	}
	require.NoError(resp.DecodeJSON(&body))
	assert.Equal([]byte("nonce"), body.Challenge)

	mu.Lock()
	defer mu.Unlock()
	require.Len(received, 1)
	req := received[0]
	assert.Equal(coap.CodePost, req.Code)
	assert.JSONEq(`{"version":1}`, string(req.Payload))

	host, _ := req.Option(coap.OptionURIHost)
	assert.Equal("127.0.0.1", string(host))
	var path []string
	for _, segment := range req.OptionValues(coap.OptionURIPath) {
		path = append(path, string(segment))
	}
	assert.Equal([]string{"attest", "v1", "challenge"}, path)

	clientID, err := ClientID("device-42")
	require.NoError(err)
	got, _ := req.Option(coap.OptionClientID)
	assert.Equal(clientID, string(got))
}

func TestClientDoServerClosesConnection(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	ca, err := coaptest.NewDefaultCA()
	require.NoError(err)
	cert, err := ca.IssueLocal()
	require.NoError(err)

	server, err := coaptest.NewServer(cert, func(coap.Message) (coap.Message, error) {
		return coap.Message{}, errors.New("drop")
	})
	require.NoError(err)
	defer server.Close()

	client := NewClient(transport.NewDialer(ca.Pool()), StaticServers{{Host: server.Host(), Port: server.Port()}},
		Identity{UDID: "device", AppID: "app"})

	_, err = client.Do(context.Background(), Request{Action: ActionReset})
	assert.True(attesterr.Is(err, attesterr.Transport), "got %v", err)
	assert.Equal(1, server.Requests())
}

func TestClientDoLoadError(t *testing.T) {
	assert := assert.New(t)

	ca, err := coaptest.NewDefaultCA()
	require.NoError(t, err)

	client := NewClient(transport.NewDialer(ca.Pool()), failingSource{}, Identity{UDID: "device", AppID: "app"})
	_, err = client.Do(context.Background(), Request{Action: ActionReset})
	assert.Error(err)
}

type failingSource struct{}

func (failingSource) Load() ([]transport.Endpoint, error) {
	return nil, errors.New("no network config")
}
