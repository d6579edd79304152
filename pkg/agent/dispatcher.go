package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/agentfabric/fabric/pkg/events"
	"github.com/agentfabric/fabric/pkg/mcp"
)

// ToolCall names one tool invocation.
type ToolCall struct {
	Server    string
	Tool      string
	Agent     string
	Arguments map[string]any
}

// ToolResult is the dispatcher's answer.
type ToolResult struct {
	Output     string
	IsError    bool
	DurationMS int64
}

// ToolDispatcher executes tool calls on behalf of one user. Instances
// are never shared across users.
type ToolDispatcher interface {
	Dispatch(ctx context.Context, call ToolCall) (*ToolResult, error)
}

// DispatcherFactory builds a per-user dispatcher. A non-nil bridge
// layers websocket notifications onto every call.
type DispatcherFactory func(uc UserContext, bridge *events.Bridge, enableAdminTools bool) (ToolDispatcher, error)

// adminToolPrefix marks tools only admin-enabled dispatchers may run.
const adminToolPrefix = "admin_"

// NewMCPDispatcherFactory returns a factory whose dispatchers execute
// tools over the MCP connection manager.
func NewMCPDispatcherFactory(manager *mcp.Manager) DispatcherFactory {
	return func(uc UserContext, bridge *events.Bridge, enableAdminTools bool) (ToolDispatcher, error) {
		var d ToolDispatcher = &mcpDispatcher{
			manager:      manager,
			adminEnabled: enableAdminTools,
			logger:       slog.Default().With("user_id", uc.UserID),
		}
		if bridge != nil {
			d = &notifyingDispatcher{inner: d, bridge: bridge, runID: uc.RunID}
		}
		return d, nil
	}
}

// mcpDispatcher routes tool calls through pooled MCP connections. A
// pooled connection is preferred; an empty pool falls back to creating
// a fresh one, which surfaces ErrResourceUnavailable when the server's
// breaker is open.
type mcpDispatcher struct {
	manager      *mcp.Manager
	adminEnabled bool
	logger       *slog.Logger
}

func (d *mcpDispatcher) Dispatch(ctx context.Context, call ToolCall) (*ToolResult, error) {
	if strings.HasPrefix(call.Tool, adminToolPrefix) && !d.adminEnabled {
		return nil, fmt.Errorf("tool %q requires admin privileges", call.Tool)
	}

	conn, err := d.manager.GetConnection(call.Server)
	if err != nil {
		return nil, err
	}
	if conn == nil {
		conn, err = d.manager.CreateConnection(ctx, call.Server)
		if err != nil {
			return nil, err
		}
	}

	start := time.Now()
	result, err := conn.Session().CallTool(ctx, &mcpsdk.CallToolParams{
		Name:      call.Tool,
		Arguments: call.Arguments,
	})
	elapsed := time.Since(start).Milliseconds()

	if err != nil {
		d.manager.ReportFailure(conn, err)
		return nil, fmt.Errorf("call tool %s on %s: %w", call.Tool, call.Server, err)
	}
	d.manager.Release(ctx, conn)

	return &ToolResult{
		Output:     flattenContent(result.Content),
		IsError:    result.IsError,
		DurationMS: elapsed,
	}, nil
}

// flattenContent joins the text blocks of a tool result.
func flattenContent(content []mcpsdk.Content) string {
	var parts []string
	for _, c := range content {
		if text, ok := c.(*mcpsdk.TextContent); ok {
			parts = append(parts, text.Text)
		}
	}
	return strings.Join(parts, "\n")
}

// notifyingDispatcher layers lifecycle events onto an inner dispatcher:
// tool_executing before the call, tool_completed after, success or not.
type notifyingDispatcher struct {
	inner  ToolDispatcher
	bridge *events.Bridge
	runID  string
}

func (d *notifyingDispatcher) Dispatch(ctx context.Context, call ToolCall) (*ToolResult, error) {
	run := events.RunRef{RunID: d.runID, AgentName: call.Agent}
	d.bridge.ToolExecuting(ctx, run, call.Tool, call.Arguments)

	result, err := d.inner.Dispatch(ctx, call)
	if err != nil {
		d.bridge.ToolCompleted(ctx, run, call.Tool, "", err.Error(), 0)
		return nil, err
	}

	errText := ""
	if result.IsError {
		errText = result.Output
	}
	d.bridge.ToolCompleted(ctx, run, call.Tool, result.Output, errText, result.DurationMS)
	return result, nil
}
