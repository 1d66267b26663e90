package catalog

import (
	"fmt"

	"github.com/spf13/viper"
)

// permissionsFile is the on-disk shape of permissions.yaml: named policies,
// each a set of tool names, that a tenant or agent role can be bound to
// independently of the tool list an AgentSpec itself declares. ToolRegistry
// consults a policy through ListForPolicy when a caller needs "every tool
// this role may see" rather than one specific agent's fixed roster.
//
//	policies:
//	  - name: read_only
//	    allowedTools: [search_orders, lookup_customer]
//	  - name: full_access
//	    allowedTools: [search_orders, lookup_customer, create_order, refund_order]
type permissionsFile struct {
	Policies []policyEntry `mapstructure:"policies"`
}

type policyEntry struct {
	Name         string   `mapstructure:"name"`
	AllowedTools []string `mapstructure:"allowedTools"`
}

func loadPermissions(path string) (map[string][]string, error) {
	policies := make(map[string][]string)
	if path == "" {
		return policies, nil
	}

	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		if isFileNotFound(err) {
			return policies, nil
		}
		return nil, err
	}

	var file permissionsFile
	if err := v.Unmarshal(&file); err != nil {
		return nil, fmt.Errorf("unmarshal %s: %w", path, err)
	}

	for _, p := range file.Policies {
		policies[p.Name] = p.AllowedTools
	}
	return policies, nil
}
