package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/kandev/orcad/internal/agentrunner"
	"github.com/kandev/orcad/internal/eventbus"
	"github.com/kandev/orcad/internal/wire"
	"github.com/kandev/orcad/pkg/session"
)

// plannedStep is how task_planner's finish_step.Output expresses one plan
// step: {"steps": [{"title":..., "agent_name":..., "inputs": {...}}, ...]}.
type plannedStep struct {
	Title     string         `json:"title"`
	AgentName string         `json:"agent_name"`
	Inputs    map[string]any `json:"inputs"`
}

// handlePlanning runs task_planner, turns its output into PlanSteps, and
// emits one agent_step event per step (with totalSteps), then enters
// Executing(0).
func (o *Orchestrator) handlePlanning(ctx context.Context, sess *session.Session) error {
	if err := o.commit(ctx, sess, nil, session.StatePlanning, nil); err != nil {
		return err
	}

	step := syntheticStep(sess, "plan", sess.Objective, AgentTaskPlanner)
	action, err := o.runAgentTurn(ctx, sess, step, AgentTaskPlanner)
	if err != nil {
		return o.internalFailure(ctx, sess, fmt.Errorf("planning: %w", err))
	}
	if action.Kind != agentrunner.ActionFinishStep {
		return o.internalFailure(ctx, sess, fmt.Errorf("planning: task_planner returned %s, expected finish_step", action.Kind))
	}

	planned, err := decodePlannedSteps(action.Output)
	if err != nil {
		return o.internalFailure(ctx, sess, fmt.Errorf("planning: %w", err))
	}
	if len(planned) == 0 {
		return o.internalFailure(ctx, sess, fmt.Errorf("planning: task_planner returned an empty plan"))
	}

	plan := make([]session.PlanStep, len(planned))
	history := make([]session.Message, 0, len(planned))
	events := make([]*eventbus.Event, 0, len(planned))
	total := len(planned)
	for i, p := range planned {
		plan[i] = session.PlanStep{
			ID:        uuid.NewString(),
			SessionID: sess.ID,
			Title:     p.Title,
			AgentName: p.AgentName,
			Position:  i,
			Status:    session.StepPending,
			Inputs:    p.Inputs,
		}
		history = append(history, newMessage(sess, session.RoleAgent, session.KindAgentStep, plan[i].ID, p.Title, ""))
		idx := i + 1
		events = append(events, progressEvent(wire.ProgressData{Status: p.Title, StepIndex: &idx, TotalSteps: &total}, false))
	}

	sess.PlanSteps = plan
	sess.CurrentStepIndex = 0
	if err := o.commit(ctx, sess, history, session.StateExecuting, events); err != nil {
		return err
	}

	return o.runExecuting(ctx, sess)
}

func decodePlannedSteps(output map[string]interface{}) ([]plannedStep, error) {
	raw, ok := output["steps"]
	if !ok {
		return nil, fmt.Errorf("missing steps in planner output")
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return nil, err
	}
	var steps []plannedStep
	if err := json.Unmarshal(data, &steps); err != nil {
		return nil, fmt.Errorf("decode planned steps: %w", err)
	}
	return steps, nil
}
