package auth

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDefaultRoleTable(t *testing.T) {
	table := NewRoleTable(nil)

	assert.True(t, table.Allows("employee", CapWorkflowAct))
	assert.False(t, table.Allows("employee", CapBudgetWrite))
	assert.True(t, table.Allows("officer", CapBudgetWrite))
	assert.True(t, table.Allows("admin", CapOrgAdmin))
	assert.False(t, table.Allows("unknown", CapWorkflowRead))
}

func TestConfiguredRolesReplaceDefaults(t *testing.T) {
	table := NewRoleTable(map[string][]string{
		"auditor": {"workflow:read", "budget:read"},
	})

	assert.True(t, table.Allows("auditor", CapWorkflowRead))
	assert.False(t, table.Allows("auditor", CapWorkflowAct))
	// Built-in roles are gone once configuration takes over.
	assert.False(t, table.Allows("admin", CapWorkflowRead))
}
