package tool

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	mcptypes "github.com/mark3labs/mcp-go/mcp"

	"github.com/meshkit-ai/meshkit/core"
	"github.com/meshkit-ai/meshkit/internal/util"
)

// MCPTool exposes a single tool hosted on a remote MCP server over the
// streamable HTTP transport. The connection is established lazily on first
// use and reused afterwards; the instance is safe for concurrent use.
type MCPTool struct {
	name        string
	description string
	parameters  map[string]any
	serverURL   string
	remoteName  string
	headers     map[string]string

	initOnce sync.Once
	initErr  error
	client   *client.Client
}

// MCPOptions configure an MCPTool.
type MCPOptions struct {
	// RemoteName is the tool name on the server when it differs from the
	// name exposed to the model.
	RemoteName string
	// Headers are sent with every HTTP request to the server.
	Headers map[string]string
}

// NewMCPTool constructs a tool backed by the named tool on an MCP server.
func NewMCPTool(name, description string, parameters map[string]any, serverURL string, optFns ...func(o *MCPOptions)) *MCPTool {
	opts := MCPOptions{RemoteName: name}
	for _, fn := range optFns {
		fn(&opts)
	}

	return &MCPTool{
		name:        name,
		description: description,
		parameters:  parameters,
		serverURL:   serverURL,
		remoteName:  opts.RemoteName,
		headers:     opts.Headers,
	}
}

// Name returns the tool name exposed to the model.
func (t *MCPTool) Name() string { return t.name }

// Description returns the description exposed to models.
func (t *MCPTool) Description() string { return t.description }

// Parameters returns the JSON schema describing expected arguments.
func (t *MCPTool) Parameters() map[string]any { return t.parameters }

// connect dials the server and runs the protocol handshake. It is executed
// at most once per tool instance.
func (t *MCPTool) connect(ctx context.Context) error {
	t.initOnce.Do(func() {
		var opts []transport.StreamableHTTPCOption
		if len(t.headers) > 0 {
			opts = append(opts, transport.WithHTTPHeaders(t.headers))
		}

		mcpClient, err := client.NewStreamableHttpClient(t.serverURL, opts...)
		if err != nil {
			t.initErr = fmt.Errorf("failed to create mcp client for %s: %w", t.serverURL, err)
			return
		}

		if err := mcpClient.GetTransport().Start(ctx); err != nil {
			t.initErr = fmt.Errorf("failed to start mcp transport for %s: %w", t.serverURL, err)
			return
		}

		initReq := mcptypes.InitializeRequest{
			Params: mcptypes.InitializeParams{
				ProtocolVersion: "2025-06-18",
				Capabilities:    mcptypes.ClientCapabilities{},
				ClientInfo: mcptypes.Implementation{
					Name:    "meshkit",
					Version: "1.0.0",
				},
			},
		}
		if _, err := mcpClient.Initialize(ctx, initReq); err != nil {
			t.initErr = fmt.Errorf("failed to initialize mcp session with %s: %w", t.serverURL, err)
			return
		}

		t.client = mcpClient
	})

	return t.initErr
}

// Call validates args, forwards the invocation to the MCP server and
// flattens the returned content blocks into text.
func (t *MCPTool) Call(toolCtx *core.ToolContext, args map[string]any) (any, error) {
	logger := toolCtx.Logger()
	ctx := toolCtx.Context()

	if err := util.ValidateArguments(args, t.parameters); err != nil {
		return nil, &ToolError{
			Tool:    t.name,
			Message: fmt.Sprintf("argument validation failed: %v", err),
			Code:    CodeInvalidArguments,
			Details: err,
		}
	}

	if err := t.connect(ctx); err != nil {
		logger.Error("tool.mcp.connect_failed", "tool", t.name, "server", t.serverURL, "error", err.Error())
		return nil, &ToolError{Tool: t.name, Message: err.Error(), Code: CodeTransportFailure}
	}

	result, err := t.client.CallTool(ctx, mcptypes.CallToolRequest{
		Params: mcptypes.CallToolParams{
			Name:      t.remoteName,
			Arguments: args,
		},
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			logger.Warn("tool.mcp.timeout", "tool", t.name, "server", t.serverURL)
			return nil, &ToolError{Tool: t.name, Message: "mcp call timed out", Code: CodeTimeout}
		}
		logger.Error("tool.mcp.call_failed", "tool", t.name, "server", t.serverURL, "error", err.Error())
		return nil, &ToolError{Tool: t.name, Message: err.Error(), Code: CodeTransportFailure}
	}

	text := flattenContent(result.Content)
	if result.IsError {
		return nil, &ToolError{Tool: t.name, Message: text, Code: CodeExecutionError}
	}

	logger.Info("tool.mcp.success", "tool", t.name, "server", t.serverURL)

	return text, nil
}

func flattenContent(blocks []mcptypes.Content) string {
	var sb strings.Builder
	for _, block := range blocks {
		if tc, ok := mcptypes.AsTextContent(block); ok {
			if sb.Len() > 0 {
				sb.WriteString("\n")
			}
			sb.WriteString(tc.Text)
		}
	}
	return sb.String()
}
