package mcp

import (
	"crypto/tls"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/agentfabric/fabric/pkg/config"
)

// defaultHTTPTimeout bounds a single HTTP round trip when the server
// config does not set one.
const defaultHTTPTimeout = 30 * time.Second

// newTransport builds the SDK transport for one server definition.
func newTransport(cfg *config.MCPServerConfig) (mcpsdk.Transport, error) {
	tc := cfg.Transport

	switch tc.Type {
	case config.TransportTypeStdio:
		cmd := exec.Command(tc.Command, tc.Args...)
		cmd.Env = os.Environ()
		for k, v := range tc.Env {
			cmd.Env = append(cmd.Env, k+"="+v)
		}
		return &mcpsdk.CommandTransport{Command: cmd}, nil

	case config.TransportTypeHTTP:
		return &mcpsdk.StreamableClientTransport{
			Endpoint:   tc.URL,
			HTTPClient: buildHTTPClient(tc),
		}, nil

	case config.TransportTypeWebSocket:
		return &websocketTransport{
			endpoint:   tc.URL,
			httpClient: buildHTTPClient(tc),
			header:     authHeader(tc),
		}, nil

	default:
		return nil, fmt.Errorf("%w: %q for server %q", ErrUnsupportedTransport, tc.Type, cfg.Name)
	}
}

// buildHTTPClient assembles the HTTP client for network transports:
// bearer auth via a wrapping RoundTripper, optional TLS verification
// bypass for development endpoints.
func buildHTTPClient(tc config.TransportConfig) *http.Client {
	transport := http.DefaultTransport
	if tc.VerifySSL != nil && !*tc.VerifySSL {
		transport = &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		}
	}

	var rt http.RoundTripper = transport
	if tc.BearerToken != "" {
		rt = &bearerTokenTransport{token: tc.BearerToken, base: transport}
	}

	timeout := defaultHTTPTimeout
	if tc.Timeout > 0 {
		timeout = time.Duration(tc.Timeout) * time.Second
	}

	return &http.Client{Transport: rt, Timeout: timeout}
}

// authHeader returns the extra headers for the websocket handshake.
func authHeader(tc config.TransportConfig) http.Header {
	if tc.BearerToken == "" {
		return nil
	}
	h := make(http.Header)
	h.Set("Authorization", "Bearer "+tc.BearerToken)
	return h
}

// bearerTokenTransport injects an Authorization header on every request.
type bearerTokenTransport struct {
	token string
	base  http.RoundTripper
}

func (t *bearerTokenTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	// Clone so retries never see a mutated original.
	clone := req.Clone(req.Context())
	clone.Header.Set("Authorization", "Bearer "+t.token)
	return t.base.RoundTrip(clone)
}
