package mcp

import (
	"context"
	"fmt"
	"net/http"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/modelcontextprotocol/go-sdk/jsonrpc"
	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
)

// wsMaxMessageSize lifts the library's 32 KiB default; tool results can
// carry large payloads.
const wsMaxMessageSize = 16 * 1024 * 1024

// websocketTransport dials an MCP server over a websocket and frames
// JSON-RPC messages one per text message. The SDK has stdio and
// streamable HTTP built in; this supplies the third transport behind the
// same interface.
type websocketTransport struct {
	endpoint   string
	httpClient *http.Client
	header     http.Header
}

var _ mcpsdk.Transport = (*websocketTransport)(nil)

func (t *websocketTransport) Connect(ctx context.Context) (mcpsdk.Connection, error) {
	conn, _, err := websocket.Dial(ctx, t.endpoint, &websocket.DialOptions{
		HTTPClient: t.httpClient,
		HTTPHeader: t.header,
	})
	if err != nil {
		return nil, fmt.Errorf("websocket dial %s: %w", t.endpoint, err)
	}
	conn.SetReadLimit(wsMaxMessageSize)

	return &websocketConn{conn: conn, sessionID: uuid.NewString()}, nil
}

// websocketConn adapts a websocket to the SDK's Connection interface.
// The SDK serializes writes and reads on its side, so no extra locking
// is needed here.
type websocketConn struct {
	conn      *websocket.Conn
	sessionID string
}

var _ mcpsdk.Connection = (*websocketConn)(nil)

func (c *websocketConn) Read(ctx context.Context) (jsonrpc.Message, error) {
	_, data, err := c.conn.Read(ctx)
	if err != nil {
		return nil, err
	}
	msg, err := jsonrpc.DecodeMessage(data)
	if err != nil {
		return nil, fmt.Errorf("decode jsonrpc message: %w", err)
	}
	return msg, nil
}

func (c *websocketConn) Write(ctx context.Context, msg jsonrpc.Message) error {
	data, err := jsonrpc.EncodeMessage(msg)
	if err != nil {
		return fmt.Errorf("encode jsonrpc message: %w", err)
	}
	return c.conn.Write(ctx, websocket.MessageText, data)
}

func (c *websocketConn) SessionID() string { return c.sessionID }

func (c *websocketConn) Close() error {
	return c.conn.Close(websocket.StatusNormalClosure, "")
}
