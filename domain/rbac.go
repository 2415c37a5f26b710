package domain

// RBACUser is a principal that authenticates against an organisation.
type RBACUser struct {
	ID    string
	OrgID string
	Email string
}

// RBACRole is a named, module-scoped bundle of actions, optionally
// narrowed to a resource scope (e.g. one vault).
type RBACRole struct {
	ID            string
	Module        string
	Name          string
	Actions       []string
	ResourceScope string // empty means org-wide
}

// RBACAssignment binds a user to a role within an organisation.
type RBACAssignment struct {
	UserID string
	OrgID  string
	RoleID string
}
