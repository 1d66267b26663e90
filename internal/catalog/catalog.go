// Package catalog loads the three declarative YAML catalogs that describe
// an orcad deployment: the tools a session may invoke, the agent graph a
// plan is built from, and the permission policies that gate which tools an
// agent may reach. All three are immutable for the lifetime of the
// process; a config change takes effect on the next restart, matching the
// teacher's own startup-time Load pattern in internal/common/config.
package catalog

import (
	"fmt"

	"github.com/kandev/orcad/internal/common/config"
	"github.com/kandev/orcad/internal/memory"
	"github.com/kandev/orcad/pkg/session"
)

// Catalog is the combined result of loading all three declarative sets.
type Catalog struct {
	Tools       []session.ToolDescriptor
	Agents      map[string]session.AgentSpec
	Recovery    map[string]string // agent name -> "retry_bounded" | "skip" | "abort"
	Permissions map[string][]string
}

// Load reads the tools, workflows, and permissions catalogs from the paths
// named in cfg. A missing file is not an error for any of the three: a
// deployment may start with an empty catalog and grow it incrementally.
func Load(cfg config.CatalogConfig) (*Catalog, error) {
	tools, err := loadTools(cfg.ToolsPath)
	if err != nil {
		return nil, fmt.Errorf("catalog: load tools: %w", err)
	}
	agents, recovery, err := loadWorkflows(cfg.WorkflowsPath)
	if err != nil {
		return nil, fmt.Errorf("catalog: load workflows: %w", err)
	}
	permissions, err := loadPermissions(cfg.PermissionsPath)
	if err != nil {
		return nil, fmt.Errorf("catalog: load permissions: %w", err)
	}
	return &Catalog{Tools: tools, Agents: agents, Recovery: recovery, Permissions: permissions}, nil
}

// RankWeights builds memory.RankWeights from a deployment's memory
// configuration, falling back to memory.DefaultRankWeights for any field
// that is zero in cfg. A field left unset in config.yaml gets config.Load's
// non-zero default instead, so the fallback applies only to explicit zeros.
func RankWeights(cfg config.MemoryConfig) memory.RankWeights {
	w := memory.DefaultRankWeights()
	if cfg.RecencyWeight != 0 {
		w.RecencyWeight = cfg.RecencyWeight
	}
	if cfg.PinBonus != 0 {
		w.PinBonus = cfg.PinBonus
	}
	if cfg.SimilarityWeight != 0 {
		w.SimilarityWeight = cfg.SimilarityWeight
	}
	return w
}

// PermittedTools returns the tool names policyName grants, or the empty
// slice if the policy is unknown (callers treat that as "no tools").
func (c *Catalog) PermittedTools(policyName string) []string {
	return c.Permissions[policyName]
}
