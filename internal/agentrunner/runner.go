package agentrunner

import (
	"context"
	"fmt"

	"github.com/kandev/orcad/pkg/session"
)

// ModelBackend drives one model turn: given a system prompt, the assembled
// context, and a strict-mode flag (set on retry), it returns the turn's raw
// structured-output bytes. Backends do not parse or validate; AgentRunner
// owns that so every backend gets identical malformed-output handling.
type ModelBackend interface {
	RunTurn(ctx context.Context, req TurnRequest) ([]byte, error)
}

// TurnRequest is what a ModelBackend needs to produce one turn.
type TurnRequest struct {
	Model        string
	SystemPrompt string
	Bundle       session.ContextBundle
	Strict       bool // true on the single retry after a malformed first attempt
}

// BackendRegistry resolves a ModelBackend by name, so a session can upgrade
// its model mid-flight by changing which name its AgentSpec resolves to.
type BackendRegistry struct {
	backends map[string]ModelBackend
}

// NewBackendRegistry builds an empty registry; register backends with Register.
func NewBackendRegistry() *BackendRegistry {
	return &BackendRegistry{backends: make(map[string]ModelBackend)}
}

// Register attaches a backend under name (the AgentSpec.ModelBackend value).
func (r *BackendRegistry) Register(name string, backend ModelBackend) {
	r.backends[name] = backend
}

// Resolve looks up a backend by name.
func (r *BackendRegistry) Resolve(name string) (ModelBackend, error) {
	b, ok := r.backends[name]
	if !ok {
		return nil, fmt.Errorf("agentrunner: unknown model backend %q", name)
	}
	return b, nil
}

// Runner runs one agent for one turn: prompt assembly, dispatch to the
// resolved backend, and structured-output validation with a single
// stricter-prompt retry on malformed output.
type Runner struct {
	backends *BackendRegistry
}

// NewRunner wires a runner to the backend registry it dispatches through.
func NewRunner(backends *BackendRegistry) *Runner {
	return &Runner{backends: backends}
}

// ErrMalformedOutput is returned when both the initial attempt and the
// stricter retry fail to produce a schema-valid action.
type ErrMalformedOutput struct {
	FirstErr, RetryErr error
}

func (e *ErrMalformedOutput) Error() string {
	return fmt.Sprintf("agentrunner: model output malformed after retry: first=%v retry=%v", e.FirstErr, e.RetryErr)
}

// Run resolves spec's backend, drives one turn, and returns the parsed,
// validated Action. A malformed first attempt is retried once under a
// stricter prompt; a malformed retry surfaces as a permanent ErrMalformedOutput.
func (r *Runner) Run(ctx context.Context, spec session.AgentSpec, bundle session.ContextBundle) (Action, error) {
	backend, err := r.backends.Resolve(spec.ModelBackend)
	if err != nil {
		return Action{}, err
	}

	raw, err := backend.RunTurn(ctx, TurnRequest{
		Model:        spec.Model,
		SystemPrompt: spec.SystemPrompt,
		Bundle:       bundle,
	})
	if err != nil {
		return Action{}, fmt.Errorf("agentrunner: backend turn: %w", err)
	}

	action, firstErr := parseAction(raw)
	if firstErr == nil {
		return action, nil
	}

	retryRaw, err := backend.RunTurn(ctx, TurnRequest{
		Model:        spec.Model,
		SystemPrompt: stricterPrompt(spec.SystemPrompt),
		Bundle:       bundle,
		Strict:       true,
	})
	if err != nil {
		return Action{}, fmt.Errorf("agentrunner: backend retry turn: %w", err)
	}

	action, retryErr := parseAction(retryRaw)
	if retryErr != nil {
		return Action{}, &ErrMalformedOutput{FirstErr: firstErr, RetryErr: retryErr}
	}
	return action, nil
}

func stricterPrompt(systemPrompt string) string {
	return systemPrompt + "\n\nYour previous response did not match the required structured output schema. Respond with exactly one JSON object matching the action schema, and nothing else."
}
