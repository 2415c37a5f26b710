package repository

import (
	"context"

	"github.com/jinzhu/gorm"

	"github.com/vaultworks/reconcore/domain"
	"github.com/vaultworks/reconcore/internal/errs"
	"github.com/vaultworks/reconcore/store"
)

type rbacUserRow struct {
	ID    string `gorm:"primary_key"`
	OrgID string `gorm:"column:org_id"`
	Email string
}

func (rbacUserRow) TableName() string { return "rbac_users" }

type rbacRoleRow struct {
	ID            string `gorm:"primary_key"`
	Module        string
	Name          string
	ActionsCSV    string `gorm:"column:actions_csv"` // comma-joined action names
	ResourceScope string `gorm:"column:resource_scope"`
}

func (rbacRoleRow) TableName() string { return "rbac_roles" }

type rbacAssignmentRow struct {
	UserID string `gorm:"column:user_id"`
	OrgID  string `gorm:"column:org_id"`
	RoleID string `gorm:"column:role_id"`
}

func (rbacAssignmentRow) TableName() string { return "rbac_assignments" }

// RBACRepo implements the user/role/assignment lookups behind
// Permissions.Check, per SPEC_FULL.md §4.6.
type RBACRepo struct {
	store *store.Store
}

func NewRBACRepo(s *store.Store) *RBACRepo {
	return &RBACRepo{store: s}
}

// FindUser fetches one user by id, scoped to an organisation.
func (r *RBACRepo) FindUser(ctx context.Context, orgID, userID string) (domain.RBACUser, error) {
	var row rbacUserRow
	err := r.store.Conn(ctx).Where("id = ? AND org_id = ?", userID, orgID).First(&row).Error
	if err == gorm.ErrRecordNotFound {
		return domain.RBACUser{}, errs.ErrNotFound
	}
	if err != nil {
		return domain.RBACUser{}, errs.Wrap(err, "find rbac user")
	}
	return domain.RBACUser{ID: row.ID, OrgID: row.OrgID, Email: row.Email}, nil
}

// RolesForUser resolves every role assigned to a user within an
// organisation, splitting each role's stored CSV back into its action
// list.
func (r *RBACRepo) RolesForUser(ctx context.Context, orgID, userID string) ([]domain.RBACRole, error) {
	var assignments []rbacAssignmentRow
	if err := r.store.Conn(ctx).Where("user_id = ? AND org_id = ?", userID, orgID).
		Find(&assignments).Error; err != nil {
		return nil, errs.Wrap(err, "find rbac assignments")
	}
	if len(assignments) == 0 {
		return nil, nil
	}

	roleIDs := make([]string, 0, len(assignments))
	for _, a := range assignments {
		roleIDs = append(roleIDs, a.RoleID)
	}

	var roleRows []rbacRoleRow
	if err := r.store.Conn(ctx).Where("id IN (?)", roleIDs).Find(&roleRows).Error; err != nil {
		return nil, errs.Wrap(err, "find rbac roles")
	}

	out := make([]domain.RBACRole, 0, len(roleRows))
	for _, rr := range roleRows {
		out = append(out, domain.RBACRole{
			ID: rr.ID, Module: rr.Module, Name: rr.Name,
			Actions: splitCSV(rr.ActionsCSV), ResourceScope: rr.ResourceScope,
		})
	}
	return out, nil
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	start := 0
	for i := 0; i <= len(s); i++ {
		if i == len(s) || s[i] == ',' {
			if i > start {
				out = append(out, s[start:i])
			}
			start = i + 1
		}
	}
	return out
}
