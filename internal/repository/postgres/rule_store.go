package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	squirrel "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"

	"github.com/arklim/platform-authz/internal/core/domain"
	"github.com/arklim/platform-authz/internal/core/port"
	"github.com/arklim/platform-authz/internal/repository"
)

// RuleStore reads permission rules, grants and identities from the authz schema.
type RuleStore struct {
	exec    pgExecutor
	builder squirrel.StatementBuilderType
}

// NewRuleStore constructs a store backed by any executor that satisfies pgExecutor.
func NewRuleStore(exec pgExecutor) *RuleStore {
	return &RuleStore{
		exec:    exec,
		builder: squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
	}
}

var _ port.RuleStore = (*RuleStore)(nil)

// LoadPermissionRules returns every rule of an enabled permission.
func (s *RuleStore) LoadPermissionRules(ctx context.Context) ([]domain.PermissionRule, error) {
	stmt, args, err := s.builder.Select(
		"pr.id", "pr.permission_id", "pr.function_id", "pr.priority", "pr.permission_type", "pr.allowed",
	).
		From("authz.permission_rules pr").
		Join("authz.permissions p ON p.id = pr.permission_id").
		Where(squirrel.Eq{"p.disabled": false}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select permission rules sql: %w", err)
	}

	rows, err := s.exec.Query(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("query permission rules: %w", err)
	}
	defer rows.Close()

	var rules []domain.PermissionRule
	for rows.Next() {
		var (
			rule           domain.PermissionRule
			permissionType int
		)
		if err := rows.Scan(&rule.ID, &rule.PermissionID, &rule.FunctionID, &rule.Priority, &permissionType, &rule.Allowed); err != nil {
			return nil, fmt.Errorf("scan permission rule: %w", err)
		}
		rule.PermissionType = domain.PermissionType(permissionType)
		rules = append(rules, rule)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate permission rules: %w", err)
	}

	return rules, nil
}

// LoadRolePermissions returns direct grants held by enabled roles.
func (s *RuleStore) LoadRolePermissions(ctx context.Context) ([]domain.RolePermission, error) {
	stmt, args, err := s.builder.Select("rp.role_id", "rp.permission_id").
		From("authz.role_permissions rp").
		Join("authz.roles r ON r.id = rp.role_id").
		Where(squirrel.Eq{"r.disabled": false}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select role permissions sql: %w", err)
	}

	rows, err := s.exec.Query(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("query role permissions: %w", err)
	}
	defer rows.Close()

	var grants []domain.RolePermission
	for rows.Next() {
		var grant domain.RolePermission
		if err := rows.Scan(&grant.RoleID, &grant.PermissionID); err != nil {
			return nil, fmt.Errorf("scan role permission: %w", err)
		}
		grants = append(grants, grant)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate role permissions: %w", err)
	}

	return grants, nil
}

// LoadRolePermissionConditions returns conditional grants held by enabled roles.
func (s *RuleStore) LoadRolePermissionConditions(ctx context.Context) ([]domain.RolePermissionCondition, error) {
	stmt, args, err := s.builder.Select(
		"c.id", "c.role_id", "c.permission_id", "c.priority", "c.group_name", "c.key", "c.value", "c.allowed",
	).
		From("authz.role_permission_conditions c").
		Join("authz.roles r ON r.id = c.role_id").
		Where(squirrel.Eq{"r.disabled": false}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select role permission conditions sql: %w", err)
	}

	rows, err := s.exec.Query(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("query role permission conditions: %w", err)
	}
	defer rows.Close()

	var conditions []domain.RolePermissionCondition
	for rows.Next() {
		var (
			cond  domain.RolePermissionCondition
			group sql.NullString
		)
		if err := rows.Scan(&cond.ID, &cond.RoleID, &cond.PermissionID, &cond.Priority, &group, &cond.Key, &cond.Value, &cond.Allowed); err != nil {
			return nil, fmt.Errorf("scan role permission condition: %w", err)
		}
		if group.Valid {
			cond.Group = &group.String
		}
		conditions = append(conditions, cond)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate role permission conditions: %w", err)
	}

	return conditions, nil
}

// LoadUserPermissionConditions returns every per-user conditional grant, expired rows included.
func (s *RuleStore) LoadUserPermissionConditions(ctx context.Context) ([]domain.UserPermissionCondition, error) {
	stmt, args, err := s.builder.Select(
		"id", "user_id", "permission_id", "priority", "group_name", "key", "value", "allowed", "expire_date",
	).
		From("authz.user_permission_conditions").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select user permission conditions sql: %w", err)
	}

	rows, err := s.exec.Query(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("query user permission conditions: %w", err)
	}
	defer rows.Close()

	var conditions []domain.UserPermissionCondition
	for rows.Next() {
		var (
			cond       domain.UserPermissionCondition
			group      sql.NullString
			expireDate sql.NullTime
		)
		if err := rows.Scan(&cond.ID, &cond.UserID, &cond.PermissionID, &cond.Priority, &group, &cond.Key, &cond.Value, &cond.Allowed, &expireDate); err != nil {
			return nil, fmt.Errorf("scan user permission condition: %w", err)
		}
		if group.Valid {
			cond.Group = &group.String
		}
		if expireDate.Valid {
			cond.ExpireDate = &expireDate.Time
		}
		conditions = append(conditions, cond)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate user permission conditions: %w", err)
	}

	return conditions, nil
}

// LoadRoutes returns the registered gateway routes.
func (s *RuleStore) LoadRoutes(ctx context.Context) ([]domain.Route, error) {
	stmt, args, err := s.builder.Select(
		"id", "group_name", "protocol", "http_method", "relative_path", "function_id", "native_permission", "allow_anonymous",
	).
		From("authz.routes").
		OrderBy("id ASC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select routes sql: %w", err)
	}

	rows, err := s.exec.Query(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("query routes: %w", err)
	}
	defer rows.Close()

	var routes []domain.Route
	for rows.Next() {
		var (
			route            domain.Route
			group            sql.NullString
			nativePermission int
		)
		if err := rows.Scan(&route.ID, &group, &route.Protocol, &route.HTTPMethod, &route.RelativePath, &route.FunctionID, &nativePermission, &route.AllowAnonymous); err != nil {
			return nil, fmt.Errorf("scan route: %w", err)
		}
		route.Group = group.String
		route.NativePermission = domain.PermissionType(nativePermission)
		routes = append(routes, route)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate routes: %w", err)
	}

	return routes, nil
}

// LoadUser returns the user and its role memberships, or repository.ErrNotFound.
func (s *RuleStore) LoadUser(ctx context.Context, id int64) (*domain.User, error) {
	stmt, args, err := s.builder.Select("id", "disabled").
		From("authz.users").
		Where(squirrel.Eq{"id": id}).
		Limit(1).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select user sql: %w", err)
	}

	var user domain.User
	if err := s.exec.QueryRow(ctx, stmt, args...).Scan(&user.ID, &user.Disabled); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("scan user: %w", err)
	}

	stmt, args, err = s.builder.Select("role_id", "expire_date").
		From("authz.user_roles").
		Where(squirrel.Eq{"user_id": id}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select user roles sql: %w", err)
	}

	rows, err := s.exec.Query(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("query user roles: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			role       domain.UserRole
			expireDate sql.NullTime
		)
		if err := rows.Scan(&role.RoleID, &expireDate); err != nil {
			return nil, fmt.Errorf("scan user role: %w", err)
		}
		if expireDate.Valid {
			role.ExpireDate = &expireDate.Time
		}
		user.Roles = append(user.Roles, role)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate user roles: %w", err)
	}

	return &user, nil
}

// LoadRolesMatching returns ids of roles carrying a tag that satisfies any filter.
// Tags are compared upper-cased.
func (s *RuleStore) LoadRolesMatching(ctx context.Context, filters []port.RoleFilter) ([]int64, error) {
	if len(filters) == 0 {
		return nil, nil
	}

	match := squirrel.Or{}
	for _, filter := range filters {
		match = append(match, squirrel.And{
			squirrel.Eq{"UPPER(e.key)": filter.Key},
			squirrel.Eq{"UPPER(e.value)": filter.Values},
		})
	}

	stmt, args, err := s.builder.Select("DISTINCT e.role_id").
		From("authz.role_extend_data e").
		Where(match).
		OrderBy("e.role_id ASC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select roles matching sql: %w", err)
	}

	rows, err := s.exec.Query(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("query roles matching: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan role id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate roles matching: %w", err)
	}

	return ids, nil
}
