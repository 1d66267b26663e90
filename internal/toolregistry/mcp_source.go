package toolregistry

import (
	"context"
	"fmt"
	"sync"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/kandev/orcad/pkg/session"
)

// MCPSource lists and invokes tools from a remote MCP server over stdio,
// so the registry is not limited to statically declared tools.
type MCPSource struct {
	command string
	args    []string
	env     map[string]string

	mu     sync.Mutex
	client *client.Client
}

// NewMCPSource configures an MCP source for a stdio-launched server. The
// connection is established lazily on first ListTools/Invoke call.
func NewMCPSource(command string, args []string, env map[string]string) *MCPSource {
	return &MCPSource{command: command, args: args, env: env}
}

func (s *MCPSource) ensureConnected(ctx context.Context) (*client.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client != nil {
		return s.client, nil
	}

	envPairs := make([]string, 0, len(s.env))
	for k, v := range s.env {
		envPairs = append(envPairs, k+"="+v)
	}

	c, err := client.NewStdioMCPClient(s.command, envPairs, s.args...)
	if err != nil {
		return nil, fmt.Errorf("mcp source: create client: %w", err)
	}
	if err := c.Start(ctx); err != nil {
		return nil, fmt.Errorf("mcp source: start client: %w", err)
	}

	initReq := mcp.InitializeRequest{}
	initReq.Params.ClientInfo = mcp.Implementation{Name: "orcad", Version: "1.0.0"}
	initReq.Params.ProtocolVersion = "2024-11-05"
	if _, err := c.Initialize(ctx, initReq); err != nil {
		c.Close()
		return nil, fmt.Errorf("mcp source: initialize: %w", err)
	}

	s.client = c
	return c, nil
}

// ListTools returns the remote server's advertised tools as descriptors.
func (s *MCPSource) ListTools(ctx context.Context) ([]session.ToolDescriptor, error) {
	c, err := s.ensureConnected(ctx)
	if err != nil {
		return nil, err
	}
	resp, err := c.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		return nil, fmt.Errorf("mcp source: list tools: %w", err)
	}
	out := make([]session.ToolDescriptor, 0, len(resp.Tools))
	for _, t := range resp.Tools {
		out = append(out, session.ToolDescriptor{
			Name:        t.Name,
			Description: t.Description,
			Idempotent:  false,
		})
	}
	return out, nil
}

// Invoke proxies a call to the remote MCP server.
func (s *MCPSource) Invoke(ctx context.Context, name string, inputs map[string]interface{}) (map[string]interface{}, error) {
	c, err := s.ensureConnected(ctx)
	if err != nil {
		return nil, err
	}

	req := mcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = inputs

	resp, err := c.CallTool(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("mcp source: call tool %s: %w", name, err)
	}
	if resp.IsError {
		return nil, newError(KindPermanent, fmt.Errorf("mcp tool %s returned an error result", name))
	}

	result := make(map[string]interface{}, len(resp.Content))
	for i, c := range resp.Content {
		if tc, ok := c.(mcp.TextContent); ok {
			result[fmt.Sprintf("content_%d", i)] = tc.Text
		}
	}
	return result, nil
}

// Close releases the underlying MCP client connection, if one was opened.
func (s *MCPSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client != nil {
		s.client.Close()
		s.client = nil
	}
	return nil
}
