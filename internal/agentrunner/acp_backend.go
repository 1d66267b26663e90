package agentrunner

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/exec"
	"sync"

	"github.com/coder/acp-go-sdk"

	"github.com/kandev/orcad/internal/common/logger"
)

// acpUpdateClient implements acp.Client for a spawned agent process,
// buffering session updates so ACPBackend can drain them into one action.
type acpUpdateClient struct {
	logger  *logger.Logger
	updates chan acp.SessionNotification
}

func newACPUpdateClient(log *logger.Logger) *acpUpdateClient {
	return &acpUpdateClient{logger: log, updates: make(chan acp.SessionNotification, 64)}
}

func (c *acpUpdateClient) SessionUpdate(ctx context.Context, n acp.SessionNotification) error {
	select {
	case c.updates <- n:
	default:
		c.logger.Warn("acp backend: update channel full, dropping notification")
	}
	return nil
}

func (c *acpUpdateClient) RequestPermission(ctx context.Context, p acp.RequestPermissionRequest) (acp.RequestPermissionResponse, error) {
	if len(p.Options) == 0 {
		return acp.RequestPermissionResponse{Outcome: acp.RequestPermissionOutcome{Cancelled: &acp.RequestPermissionOutcomeCancelled{}}}, nil
	}
	for _, opt := range p.Options {
		if opt.Kind == acp.PermissionOptionKindAllowOnce || opt.Kind == acp.PermissionOptionKindAllowAlways {
			return acp.RequestPermissionResponse{Outcome: acp.RequestPermissionOutcome{Selected: &acp.RequestPermissionOutcomeSelected{OptionId: opt.OptionId}}}, nil
		}
	}
	return acp.RequestPermissionResponse{Outcome: acp.RequestPermissionOutcome{Selected: &acp.RequestPermissionOutcomeSelected{OptionId: p.Options[0].OptionId}}}, nil
}

func (c *acpUpdateClient) ReadTextFile(ctx context.Context, p acp.ReadTextFileRequest) (acp.ReadTextFileResponse, error) {
	return acp.ReadTextFileResponse{}, fmt.Errorf("acp backend: file access not supported")
}

func (c *acpUpdateClient) WriteTextFile(ctx context.Context, p acp.WriteTextFileRequest) (acp.WriteTextFileResponse, error) {
	return acp.WriteTextFileResponse{}, fmt.Errorf("acp backend: file access not supported")
}

func (c *acpUpdateClient) CreateTerminal(ctx context.Context, p acp.CreateTerminalRequest) (acp.CreateTerminalResponse, error) {
	return acp.CreateTerminalResponse{}, fmt.Errorf("acp backend: terminal access not supported")
}

func (c *acpUpdateClient) KillTerminalCommand(ctx context.Context, p acp.KillTerminalCommandRequest) (acp.KillTerminalCommandResponse, error) {
	return acp.KillTerminalCommandResponse{}, nil
}

func (c *acpUpdateClient) TerminalOutput(ctx context.Context, p acp.TerminalOutputRequest) (acp.TerminalOutputResponse, error) {
	return acp.TerminalOutputResponse{}, nil
}

func (c *acpUpdateClient) ReleaseTerminal(ctx context.Context, p acp.ReleaseTerminalRequest) (acp.ReleaseTerminalResponse, error) {
	return acp.ReleaseTerminalResponse{}, nil
}

func (c *acpUpdateClient) WaitForTerminalExit(ctx context.Context, p acp.WaitForTerminalExitRequest) (acp.WaitForTerminalExitResponse, error) {
	return acp.WaitForTerminalExitResponse{}, nil
}

var _ acp.Client = (*acpUpdateClient)(nil)

// ACPBackend drives a turn by spawning (or reusing) an ACP-compliant agent
// process over stdio and translating its session updates into one Action.
// It is a reference backend: real deployments point AgentSpec.ModelBackend
// at whichever backend name is registered for that agent.
type ACPBackend struct {
	command string
	args    []string
	logger  *logger.Logger

	mu      sync.Mutex
	conn    *acp.ClientSideConnection
	client  *acpUpdateClient
	proc    *exec.Cmd
	session acp.SessionId
}

// NewACPBackend configures a backend that spawns command/args as the agent
// process on first use.
func NewACPBackend(command string, args []string, log *logger.Logger) *ACPBackend {
	return &ACPBackend{command: command, args: args, logger: log}
}

func (b *ACPBackend) ensureSession(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.conn != nil {
		return nil
	}

	cmd := exec.CommandContext(ctx, b.command, b.args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("acp backend: stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("acp backend: stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("acp backend: start agent process: %w", err)
	}

	client := newACPUpdateClient(b.logger)
	conn := acp.NewClientSideConnection(client, stdin, stdout)

	if _, err := conn.Initialize(ctx, acp.InitializeRequest{
		ProtocolVersion: acp.ProtocolVersionNumber,
		ClientInfo:      &acp.Implementation{Name: "orcad", Version: "1.0.0"},
	}); err != nil {
		return fmt.Errorf("acp backend: initialize: %w", err)
	}

	resp, err := conn.NewSession(ctx, acp.NewSessionRequest{Cwd: "/workspace", McpServers: []acp.McpServer{}})
	if err != nil {
		return fmt.Errorf("acp backend: new session: %w", err)
	}

	b.proc = cmd
	b.conn = conn
	b.client = client
	b.session = resp.SessionId
	return nil
}

// RunTurn sends the bundle as a prompt and drains the agent's session
// updates into a single Action, preferring the first tool call it observes
// and otherwise concatenating message chunks into emit_markdown. It never
// produces a request_form action.
func (b *ACPBackend) RunTurn(ctx context.Context, req TurnRequest) ([]byte, error) {
	if err := b.ensureSession(ctx); err != nil {
		return nil, err
	}

	prompt := renderPrompt(req)
	if _, err := b.conn.Prompt(ctx, acp.PromptRequest{
		SessionId: b.session,
		Prompt:    []acp.ContentBlock{acp.TextBlock(prompt)},
	}); err != nil {
		return nil, fmt.Errorf("acp backend: prompt: %w", err)
	}

	var text bytes.Buffer
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case n := <-b.client.updates:
			u := n.Update
			if u.ToolCall != nil {
				action := Action{Kind: ActionCallTool, ToolName: u.ToolCall.Title}
				return json.Marshal(action)
			}
			if u.AgentMessageChunk != nil && u.AgentMessageChunk.Content.Text != nil {
				text.WriteString(u.AgentMessageChunk.Content.Text.Text)
			}
			// Any update that isn't a message chunk or tool call (e.g. a
			// plan update or turn-end marker) closes out the turn as
			// accumulated markdown.
			if u.AgentMessageChunk == nil && u.ToolCall == nil && u.ToolCallUpdate == nil {
				action := Action{Kind: ActionEmitMarkdown, Text: text.String()}
				return json.Marshal(action)
			}
		}
	}
}

func renderPrompt(req TurnRequest) string {
	var buf bytes.Buffer
	buf.WriteString(req.SystemPrompt)
	buf.WriteString("\n\n")
	for _, m := range req.Bundle.Turns {
		buf.WriteString(string(m.Role))
		buf.WriteString(": ")
		buf.WriteString(m.Content)
		buf.WriteString("\n")
	}
	return buf.String()
}

// Close terminates the spawned agent process, if one is running.
func (b *ACPBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.proc == nil {
		return nil
	}
	if err := b.proc.Process.Kill(); err != nil && err != io.EOF {
		return err
	}
	return nil
}
