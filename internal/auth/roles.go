package auth

// Capability is a named permission checked by handlers.
type Capability string

const (
	CapWorkflowRead   Capability = "workflow:read"
	CapWorkflowAct    Capability = "workflow:act"
	CapWorkflowAdmin  Capability = "workflow:admin"
	CapBudgetRead     Capability = "budget:read"
	CapBudgetWrite    Capability = "budget:write"
	CapOrgAdmin       Capability = "org:admin"
	CapMessagingWrite Capability = "messaging:write"
)

// defaultRoles is the built-in role table, used when configuration supplies
// none.
var defaultRoles = map[string][]Capability{
	"employee": {CapWorkflowRead, CapWorkflowAct, CapMessagingWrite},
	"officer":  {CapWorkflowRead, CapWorkflowAct, CapBudgetRead, CapBudgetWrite, CapMessagingWrite},
	"admin":    {CapWorkflowRead, CapWorkflowAct, CapWorkflowAdmin, CapBudgetRead, CapBudgetWrite, CapOrgAdmin, CapMessagingWrite},
}

// RoleTable maps role names to capability sets. It is loaded once at
// startup from configuration rather than hardcoded in handler branches.
type RoleTable struct {
	roles map[string]map[Capability]bool
}

// NewRoleTable builds a RoleTable from configured role definitions, falling
// back to the built-in defaults when the map is empty.
func NewRoleTable(configured map[string][]string) *RoleTable {
	t := &RoleTable{roles: make(map[string]map[Capability]bool)}
	if len(configured) == 0 {
		for role, caps := range defaultRoles {
			set := make(map[Capability]bool, len(caps))
			for _, c := range caps {
				set[c] = true
			}
			t.roles[role] = set
		}
		return t
	}
	for role, caps := range configured {
		set := make(map[Capability]bool, len(caps))
		for _, c := range caps {
			set[Capability(c)] = true
		}
		t.roles[role] = set
	}
	return t
}

// Allows reports whether the role grants the capability.
func (t *RoleTable) Allows(role string, cap Capability) bool {
	return t.roles[role][cap]
}
