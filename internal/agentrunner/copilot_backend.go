package agentrunner

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	copilot "github.com/github/copilot-sdk/go"

	"github.com/kandev/orcad/internal/common/logger"
)

// CopilotBackend drives a turn through the GitHub Copilot SDK, sending the
// bundle as one prompt and waiting for the session to go idle.
type CopilotBackend struct {
	cliURL string
	logger *logger.Logger

	mu        sync.Mutex
	sdkClient *copilot.Client
	session   *copilot.Session
}

// NewCopilotBackend configures a backend. cliURL is optional: when empty
// the SDK spawns and manages its own CLI process over stdio.
func NewCopilotBackend(cliURL string, log *logger.Logger) *CopilotBackend {
	return &CopilotBackend{cliURL: cliURL, logger: log}
}

func (b *CopilotBackend) ensureSession(model string) (*copilot.Session, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.sdkClient == nil {
		opts := &copilot.ClientOptions{LogLevel: "error"}
		if b.cliURL != "" {
			opts.CLIUrl = b.cliURL
		}
		b.sdkClient = copilot.NewClient(opts)
	}
	if b.session != nil {
		return b.session, nil
	}

	session, err := b.sdkClient.CreateSession(&copilot.SessionConfig{
		Model:     model,
		Streaming: true,
	})
	if err != nil {
		return nil, fmt.Errorf("copilot backend: create session: %w", err)
	}
	b.session = session
	return session, nil
}

// RunTurn sends the bundle as one prompt and blocks for the assistant's
// reply, mapping its final text into an emit_markdown action. Tool calls
// surface through the SDK's own permission/tool-execution events rather
// than through this turn's return value, so only markdown and plain
// completion are represented here; a deployment that needs call_tool
// actions from Copilot should subscribe to ToolExecutionStart via
// SetEventHandler before invoking RunTurn.
func (b *CopilotBackend) RunTurn(ctx context.Context, req TurnRequest) ([]byte, error) {
	session, err := b.ensureSession(req.Model)
	if err != nil {
		return nil, err
	}

	prompt := renderPrompt(req)
	result, err := session.SendAndWait(copilot.MessageOptions{Prompt: prompt}, 5*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("copilot backend: send: %w", err)
	}

	var text string
	if result != nil {
		if result.Data.Content != nil {
			text = *result.Data.Content
		} else if result.Data.DeltaContent != nil {
			text = *result.Data.DeltaContent
		}
	}

	action := Action{Kind: ActionEmitMarkdown, Text: text}
	return json.Marshal(action)
}

// Close releases the Copilot session and client.
func (b *CopilotBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.session != nil {
		_ = b.session.Destroy()
		b.session = nil
	}
	if b.sdkClient != nil {
		b.sdkClient.Stop()
		b.sdkClient = nil
	}
	return nil
}
