package pool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	mcpclient "github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"
)

// MCPTransport reaches a capability server over MCP streamable HTTP. The
// endpoint of a call names the tool; slashes become underscores so
// "memory/store" calls "memory_store". The HTTP method is ignored.
type MCPTransport struct {
	url     string
	version string

	mu     sync.Mutex
	client *mcpclient.Client
}

func NewMCPTransport(url, version string) *MCPTransport {
	return &MCPTransport{url: url, version: version}
}

// conn returns an initialized client, connecting on first use.
func (t *MCPTransport) conn(ctx context.Context) (*mcpclient.Client, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.client != nil {
		return t.client, nil
	}

	c, err := mcpclient.NewStreamableHttpClient(t.url)
	if err != nil {
		return nil, fmt.Errorf("mcp client: %w", err)
	}
	_, err = c.Initialize(ctx, mcp.InitializeRequest{
		Params: mcp.InitializeParams{
			ProtocolVersion: mcp.LATEST_PROTOCOL_VERSION,
			ClientInfo:      mcp.Implementation{Name: "orca", Version: t.version},
		},
	})
	if err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("mcp initialize: %w", err)
	}
	t.client = c
	return c, nil
}

// reset drops a client that failed so the next call reconnects.
func (t *MCPTransport) reset(c *mcpclient.Client) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.client == c {
		_ = c.Close()
		t.client = nil
	}
}

func (t *MCPTransport) Call(ctx context.Context, _ string, endpoint string, payload any) (json.RawMessage, error) {
	args, err := toolArguments(payload)
	if err != nil {
		return nil, Permanent(err)
	}
	c, err := t.conn(ctx)
	if err != nil {
		return nil, err
	}

	name := strings.ReplaceAll(strings.Trim(endpoint, "/"), "/", "_")
	res, err := c.CallTool(ctx, mcp.CallToolRequest{
		Params: mcp.CallToolParams{Name: name, Arguments: args},
	})
	if err != nil {
		t.reset(c)
		return nil, fmt.Errorf("mcp call %s: %w", name, err)
	}
	if res.IsError {
		return nil, Permanent(fmt.Errorf("mcp tool %s: %s", name, contentText(res.Content)))
	}
	if res.StructuredContent != nil {
		return json.Marshal(res.StructuredContent)
	}
	return asJSON([]byte(contentText(res.Content)))
}

func (t *MCPTransport) Probe(ctx context.Context) error {
	c, err := t.conn(ctx)
	if err != nil {
		return err
	}
	if err := c.Ping(ctx); err != nil {
		t.reset(c)
		return fmt.Errorf("mcp ping: %w", err)
	}
	return nil
}

func (t *MCPTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.client == nil {
		return nil
	}
	err := t.client.Close()
	t.client = nil
	return err
}

func toolArguments(payload any) (map[string]any, error) {
	switch p := payload.(type) {
	case nil:
		return nil, nil
	case map[string]any:
		return p, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode arguments: %w", err)
	}
	var args map[string]any
	if err := json.Unmarshal(data, &args); err != nil {
		return nil, errors.New("mcp arguments must be an object")
	}
	return args, nil
}

func contentText(content []mcp.Content) string {
	var parts []string
	for _, c := range content {
		switch tc := c.(type) {
		case mcp.TextContent:
			parts = append(parts, tc.Text)
		case *mcp.TextContent:
			parts = append(parts, tc.Text)
		}
	}
	return strings.Join(parts, "\n")
}
