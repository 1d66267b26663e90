package catalog

import (
	"fmt"

	"github.com/kandev/orcad/internal/toolregistry"
)

// RegisterTools registers every descriptor in the tools catalog against
// reg, pairing each with the Go-side Invoker the caller supplies under the
// same name. A descriptor with no matching invoker is a deployment
// configuration error, not something to silently skip: a tool listed in
// tools.yaml that no code implements would otherwise fail confusingly at
// first invocation instead of at startup.
func (c *Catalog) RegisterTools(reg *toolregistry.Registry, invokers map[string]toolregistry.Invoker) error {
	for _, desc := range c.Tools {
		invoke, ok := invokers[desc.Name]
		if !ok {
			return fmt.Errorf("catalog: tool %q declared in catalog but no invoker registered", desc.Name)
		}
		reg.Register(desc, invoke)
	}
	return nil
}
