// Package session holds the core data types shared across the orchestration
// components: sessions, messages, plan steps, assembled context bundles,
// tool descriptors, and checkpoints.
package session

import (
	"time"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/google/uuid"
)

// State names a position in the Orchestrator's session state machine.
type State string

const (
	StateIdle          State = "idle"
	StateValidating    State = "validating"
	StatePlanning      State = "planning"
	StateExecuting     State = "executing"
	StateAwaitingHuman State = "awaiting_human"
	StateRecovering    State = "recovering"
	StateSynthesizing  State = "synthesizing"
	StateTerminal      State = "terminal"
)

// Session is the durable unit of orchestration: one objective, one
// conversation history, one plan, driven through the state machine until
// it reaches StateTerminal.
type Session struct {
	Tenant    string
	ID        string
	Objective string
	State     State
	PlanSteps []PlanStep
	History   []Message
	CreatedAt time.Time
	UpdatedAt time.Time

	// Version counts committed transitions for this session. It is the
	// Orchestrator's own monotonic counter, incremented once per commit and
	// passed to Checkpointer.Save as the version key; checkpoint versions
	// therefore match the index of the last committed transition regardless
	// of how many history entries that transition appended (including zero).
	Version int

	// CurrentStepIndex is the plan position being executed, awaited on, or
	// recovered from. -1 when no step is active (Idle, Planning,
	// Synthesizing, Terminal). Part of the reconstructable local stack: a
	// resumed session re-derives its position from State + CurrentStepIndex
	// + PlanSteps[i].Inputs rather than any serialized call stack.
	CurrentStepIndex int

	// PendingFormID is the outstanding form_request id while State is
	// AwaitingHuman; empty otherwise.
	PendingFormID string

	// StepRetries counts Recovering attempts already spent per PlanStep ID,
	// so a restart resumes the bounded-retry count instead of resetting it.
	StepRetries map[string]int
}

// NewID mints a new session identifier when the caller doesn't supply one.
func NewID() string {
	return uuid.NewString()
}

// Role identifies the originator of a Message.
type Role string

const (
	RoleUser   Role = "user"
	RoleAgent  Role = "agent"
	RoleTool   Role = "tool"
	RoleSystem Role = "system"
)

// Kind tags which variant of the history's tagged union a Message is. The
// history is the single source of truth; everything derived from it (UI
// events, context bundles) switches on Kind rather than inventing its own
// classification.
type Kind string

const (
	KindUserText          Kind = "user_text"
	KindUserFormReply     Kind = "user_form_reply"
	KindUserAttachmentRef Kind = "user_attachment_ref"
	KindAgentMarkdown     Kind = "agent_markdown"
	KindAgentProgress     Kind = "agent_progress"
	KindAgentStep         Kind = "agent_step"
	KindAgentFormRequest  Kind = "agent_form_request"
	KindAgentWorkflowFin  Kind = "agent_workflow_finish"
	KindToolCall          Kind = "tool_call"
	KindToolResult        Kind = "tool_result"
	KindSystemNote        Kind = "system_note"
)

// Message is one turn in a session's history.
type Message struct {
	ID            string
	SessionID     string
	StepID        string
	Role          Role
	Kind          Kind
	Content       string
	CorrelationID string
	Pinned        bool
	CreatedAt     time.Time
}

// StepStatus is the lifecycle status of a PlanStep.
type StepStatus string

const (
	StepPending      StepStatus = "pending"
	StepRunning      StepStatus = "running"
	StepAwaitingUser StepStatus = "awaiting_user"
	StepSucceeded    StepStatus = "succeeded"
	StepFailed       StepStatus = "failed"
	StepSkipped      StepStatus = "skipped"
)

// PlanStep is one node in a session's plan: an agent assignment plus its
// inputs and, once complete, a reference to its output.
type PlanStep struct {
	ID        string
	SessionID string
	Title     string
	AgentName string
	Position  int
	Status    StepStatus
	Inputs    map[string]any
	OutputRef map[string]any
	StartedAt *time.Time
	EndedAt   *time.Time
}

// ContextBundle is the bounded per-step context an AgentRunner receives:
// the assembled turns, relevant memories, and available tools, trimmed to
// fit a token budget by the ContextAssembler.
type ContextBundle struct {
	SessionID   string
	StepID      string
	Turns       []Message
	Memories    []MemoryItem
	Tools       []ToolDescriptor
	Peers       []AgentSpec
	ToolResults []Message
	TokenBudget int
	TokensUsed  int
}

// MemoryItem is one retrieved memory record, scored for relevance.
type MemoryItem struct {
	ID        string
	SessionID string
	Kind      string // "cache", "runtime", "vector"
	Content   string
	Pinned    bool
	Score     float64
	CreatedAt time.Time
}

// RetryPolicy bounds a tool's automatic retry behavior.
type RetryPolicy struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// ToolDescriptor advertises one invocable tool: its schema, retry policy,
// and whether concurrent invocations for the same session must serialize.
type ToolDescriptor struct {
	Name         string
	Description  string
	InputSchema  *jsonschema.Schema
	OutputSchema *jsonschema.Schema
	Idempotent   bool
	RetryPolicy  RetryPolicy
}

// AgentSpec declares one agent a PlanStep can be assigned to: its identity,
// the tools it may call, and the model backend that runs it. Loaded from the
// agent catalog at startup; referenced by name from PlanStep.AgentName and
// from a delegating agent's peer roster.
type AgentSpec struct {
	Name           string
	Description    string
	SystemPrompt   string
	PermittedTools []string
	ModelBackend   string
	Model          string
	DelegatesTo    []string
}

// Checkpoint is a durable, versioned snapshot of a session's state.
type Checkpoint struct {
	Tenant    string
	SessionID string
	Version   int
	StateTag  State
	Blob      []byte
	CreatedAt time.Time
}
