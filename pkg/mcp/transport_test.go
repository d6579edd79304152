package mcp

import (
	"net/http"
	"testing"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentfabric/fabric/pkg/config"
)

func TestNewTransportStdio(t *testing.T) {
	tr, err := newTransport(&config.MCPServerConfig{
		Name: "local",
		Transport: config.TransportConfig{
			Type:    config.TransportTypeStdio,
			Command: "mcp-server",
			Args:    []string{"--verbose"},
			Env:     map[string]string{"TOKEN": "x"},
		},
	})
	require.NoError(t, err)

	cmd, ok := tr.(*mcpsdk.CommandTransport)
	require.True(t, ok)
	assert.Contains(t, cmd.Command.Args, "--verbose")
	assert.Contains(t, cmd.Command.Env, "TOKEN=x")
}

func TestNewTransportHTTP(t *testing.T) {
	tr, err := newTransport(&config.MCPServerConfig{
		Name: "remote",
		Transport: config.TransportConfig{
			Type:        config.TransportTypeHTTP,
			URL:         "https://mcp.example.com",
			BearerToken: "secret",
			Timeout:     10,
		},
	})
	require.NoError(t, err)

	streamable, ok := tr.(*mcpsdk.StreamableClientTransport)
	require.True(t, ok)
	assert.Equal(t, "https://mcp.example.com", streamable.Endpoint)
	require.NotNil(t, streamable.HTTPClient)

	_, ok = streamable.HTTPClient.Transport.(*bearerTokenTransport)
	assert.True(t, ok)
}

func TestNewTransportWebSocket(t *testing.T) {
	tr, err := newTransport(&config.MCPServerConfig{
		Name: "events",
		Transport: config.TransportConfig{
			Type:        config.TransportTypeWebSocket,
			URL:         "wss://mcp.example.com/ws",
			BearerToken: "secret",
		},
	})
	require.NoError(t, err)

	ws, ok := tr.(*websocketTransport)
	require.True(t, ok)
	assert.Equal(t, "wss://mcp.example.com/ws", ws.endpoint)
	assert.Equal(t, "Bearer secret", ws.header.Get("Authorization"))
}

func TestNewTransportUnsupported(t *testing.T) {
	_, err := newTransport(&config.MCPServerConfig{
		Name:      "weird",
		Transport: config.TransportConfig{Type: "smoke-signal"},
	})
	assert.ErrorIs(t, err, ErrUnsupportedTransport)
}

func TestBearerTokenTransportDoesNotMutateOriginal(t *testing.T) {
	var seen string
	rt := &bearerTokenTransport{
		token: "secret",
		base: roundTripFunc(func(req *http.Request) (*http.Response, error) {
			seen = req.Header.Get("Authorization")
			return &http.Response{StatusCode: http.StatusOK, Body: http.NoBody}, nil
		}),
	}

	req, err := http.NewRequest(http.MethodGet, "https://mcp.example.com", nil)
	require.NoError(t, err)

	resp, err := rt.RoundTrip(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, "Bearer secret", seen)
	assert.Empty(t, req.Header.Get("Authorization"))
}

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) { return f(req) }
