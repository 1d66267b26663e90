package catalog

import (
	"fmt"

	"github.com/spf13/viper"

	"github.com/kandev/orcad/pkg/session"
)

// workflowsFile is the on-disk shape of workflows.yaml. It declares the
// agent graph a plan is built from: the special system agents
// (input_validator, task_planner, human_reviewer, result_synthesizer) plus
// every agent a PlanStep can name, each with the tools it may call, the
// model backend that runs it, and (optionally) who it may delegate to.
//
//	agents:
//	  - name: task_planner
//	    description: breaks the objective into ordered steps
//	    systemPrompt: "You are a planner..."
//	    modelBackend: acp
//	    model: claude-sonnet
//	  - name: answer_agent
//	    permittedTools: [search_orders]
//	    modelBackend: acp
//	    model: claude-sonnet
//	    delegatesTo: [human_reviewer]
//	    recoveryPolicy: retry_bounded
type workflowsFile struct {
	Agents []agentEntry `mapstructure:"agents"`
}

type agentEntry struct {
	Name           string   `mapstructure:"name"`
	Description    string   `mapstructure:"description"`
	SystemPrompt   string   `mapstructure:"systemPrompt"`
	PermittedTools []string `mapstructure:"permittedTools"`
	ModelBackend   string   `mapstructure:"modelBackend"`
	Model          string   `mapstructure:"model"`
	DelegatesTo    []string `mapstructure:"delegatesTo"`

	// RecoveryPolicy is consulted by Recovering when no human_reviewer
	// agent is configured to decide case by case. One of "retry_bounded"
	// (the default), "skip", or "abort".
	RecoveryPolicy string `mapstructure:"recoveryPolicy"`
}

func loadWorkflows(path string) (map[string]session.AgentSpec, map[string]string, error) {
	agents := make(map[string]session.AgentSpec)
	recovery := make(map[string]string)
	if path == "" {
		return agents, recovery, nil
	}

	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		if isFileNotFound(err) {
			return agents, recovery, nil
		}
		return nil, nil, err
	}

	var file workflowsFile
	if err := v.Unmarshal(&file); err != nil {
		return nil, nil, fmt.Errorf("unmarshal %s: %w", path, err)
	}

	for _, a := range file.Agents {
		agents[a.Name] = session.AgentSpec{
			Name:           a.Name,
			Description:    a.Description,
			SystemPrompt:   a.SystemPrompt,
			PermittedTools: a.PermittedTools,
			ModelBackend:   a.ModelBackend,
			Model:          a.Model,
			DelegatesTo:    a.DelegatesTo,
		}
		if a.RecoveryPolicy != "" {
			recovery[a.Name] = a.RecoveryPolicy
		}
	}
	return agents, recovery, nil
}
