package port

import (
	"context"

	"github.com/arklim/platform-authz/internal/core/domain"
)

// RoleFilter selects roles tagged with Key equal to any of Values. Keys and values are upper-cased.
type RoleFilter struct {
	Key    string
	Values []string
}

// RuleStore reads durable permission data. The engine never writes through it.
type RuleStore interface {
	LoadPermissionRules(ctx context.Context) ([]domain.PermissionRule, error)
	LoadRolePermissions(ctx context.Context) ([]domain.RolePermission, error)
	LoadRolePermissionConditions(ctx context.Context) ([]domain.RolePermissionCondition, error)
	LoadUserPermissionConditions(ctx context.Context) ([]domain.UserPermissionCondition, error)
	LoadRoutes(ctx context.Context) ([]domain.Route, error)
	LoadUser(ctx context.Context, id int64) (*domain.User, error)
	// LoadRolesMatching returns ids of roles matching any of the filters.
	LoadRolesMatching(ctx context.Context, filters []RoleFilter) ([]int64, error)
}

// MaintenanceStore reads the operator controlled maintenance switch.
type MaintenanceStore interface {
	LoadMaintenanceState(ctx context.Context) (*domain.MaintenanceState, error)
}
