package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	pgxmock "github.com/pashagolub/pgxmock/v2"

	"github.com/arklim/platform-authz/internal/core/domain"
	"github.com/arklim/platform-authz/internal/core/port"
	"github.com/arklim/platform-authz/internal/repository"
)

func TestRuleStore_LoadPermissionRules(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock.NewPool: %v", err)
	}
	defer mock.Close()

	store := NewRuleStore(mock)

	rows := pgxmock.NewRows([]string{"id", "permission_id", "function_id", "priority", "permission_type", "allowed"}).
		AddRow(int64(1), int64(10), "ORD", 0, 3, true).
		AddRow(int64(2), int64(10), "ORD", 1, 1, false)

	mock.ExpectQuery(`SELECT pr\.id, .* FROM authz\.permission_rules pr JOIN authz\.permissions p ON p\.id = pr\.permission_id WHERE p\.disabled = \$1`).
		WithArgs(false).
		WillReturnRows(rows)

	rules, err := store.LoadPermissionRules(context.Background())
	if err != nil {
		t.Fatalf("LoadPermissionRules returned error: %v", err)
	}
	if len(rules) != 2 {
		t.Fatalf("expected 2 rules, got %d", len(rules))
	}
	if rules[0].PermissionType != domain.PermissionRead|domain.PermissionWrite || !rules[0].Allowed {
		t.Fatalf("unexpected first rule %+v", rules[0])
	}
	if rules[1].Priority != 1 || rules[1].Allowed {
		t.Fatalf("unexpected second rule %+v", rules[1])
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestRuleStore_LoadRolePermissionConditions(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock.NewPool: %v", err)
	}
	defer mock.Close()

	store := NewRuleStore(mock)

	rows := pgxmock.NewRows([]string{"id", "role_id", "permission_id", "priority", "group_name", "key", "value", "allowed"}).
		AddRow(int64(1), int64(2), int64(3), 0, nil, "region", "eu", true).
		AddRow(int64(2), int64(2), int64(4), 0, "north", "region", "*", true)

	mock.ExpectQuery(`FROM authz\.role_permission_conditions c JOIN authz\.roles r ON r\.id = c\.role_id WHERE r\.disabled = \$1`).
		WithArgs(false).
		WillReturnRows(rows)

	conditions, err := store.LoadRolePermissionConditions(context.Background())
	if err != nil {
		t.Fatalf("LoadRolePermissionConditions returned error: %v", err)
	}
	if len(conditions) != 2 {
		t.Fatalf("expected 2 conditions, got %d", len(conditions))
	}
	if conditions[0].Group != nil {
		t.Fatalf("expected ungrouped condition, got %q", *conditions[0].Group)
	}
	if conditions[1].Group == nil || *conditions[1].Group != "north" {
		t.Fatalf("expected group north, got %+v", conditions[1].Group)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestRuleStore_LoadUserPermissionConditions(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock.NewPool: %v", err)
	}
	defer mock.Close()

	store := NewRuleStore(mock)
	expires := time.Now().UTC().Add(time.Hour)

	rows := pgxmock.NewRows([]string{"id", "user_id", "permission_id", "priority", "group_name", "key", "value", "allowed", "expire_date"}).
		AddRow(int64(1), int64(7), int64(3), 0, nil, "region", "eu", true, expires).
		AddRow(int64(2), int64(7), int64(4), 0, nil, "region", "us", true, nil)

	mock.ExpectQuery(`SELECT id, user_id, permission_id, priority, group_name, key, value, allowed, expire_date FROM authz\.user_permission_conditions`).
		WillReturnRows(rows)

	conditions, err := store.LoadUserPermissionConditions(context.Background())
	if err != nil {
		t.Fatalf("LoadUserPermissionConditions returned error: %v", err)
	}
	if conditions[0].ExpireDate == nil || !conditions[0].ExpireDate.Equal(expires) {
		t.Fatalf("expected expire date %v, got %v", expires, conditions[0].ExpireDate)
	}
	if conditions[1].ExpireDate != nil {
		t.Fatalf("expected no expiry, got %v", conditions[1].ExpireDate)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestRuleStore_LoadRoutes(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock.NewPool: %v", err)
	}
	defer mock.Close()

	store := NewRuleStore(mock)

	rows := pgxmock.NewRows([]string{"id", "group_name", "protocol", "http_method", "relative_path", "function_id", "native_permission", "allow_anonymous"}).
		AddRow(int64(1), "orders", "http", "GET", "/api/orders/{id}", "ORD", 0, false)

	mock.ExpectQuery(`FROM authz\.routes ORDER BY id ASC`).WillReturnRows(rows)

	routes, err := store.LoadRoutes(context.Background())
	if err != nil {
		t.Fatalf("LoadRoutes returned error: %v", err)
	}
	if len(routes) != 1 || routes[0].Group != "orders" || routes[0].RelativePath != "/api/orders/{id}" {
		t.Fatalf("unexpected routes %+v", routes)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestRuleStore_LoadUser(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock.NewPool: %v", err)
	}
	defer mock.Close()

	store := NewRuleStore(mock)
	expires := time.Now().UTC().Add(-time.Hour)

	mock.ExpectQuery(`SELECT id, disabled FROM authz\.users WHERE id = \$1 LIMIT 1`).
		WithArgs(int64(7)).
		WillReturnRows(pgxmock.NewRows([]string{"id", "disabled"}).AddRow(int64(7), false))
	mock.ExpectQuery(`SELECT role_id, expire_date FROM authz\.user_roles WHERE user_id = \$1`).
		WithArgs(int64(7)).
		WillReturnRows(pgxmock.NewRows([]string{"role_id", "expire_date"}).
			AddRow(int64(1), nil).
			AddRow(int64(2), expires))

	user, err := store.LoadUser(context.Background(), 7)
	if err != nil {
		t.Fatalf("LoadUser returned error: %v", err)
	}
	if user.ID != 7 || user.Disabled || len(user.Roles) != 2 {
		t.Fatalf("unexpected user %+v", user)
	}
	if user.Roles[0].ExpireDate != nil || user.Roles[1].ExpireDate == nil {
		t.Fatalf("unexpected role expiry %+v", user.Roles)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestRuleStore_LoadUserNotFound(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock.NewPool: %v", err)
	}
	defer mock.Close()

	store := NewRuleStore(mock)

	mock.ExpectQuery(`SELECT id, disabled FROM authz\.users`).
		WithArgs(int64(404)).
		WillReturnRows(pgxmock.NewRows([]string{"id", "disabled"}))

	if _, err := store.LoadUser(context.Background(), 404); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestRuleStore_LoadRolesMatching(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock.NewPool: %v", err)
	}
	defer mock.Close()

	store := NewRuleStore(mock)

	mock.ExpectQuery(`SELECT DISTINCT e\.role_id FROM authz\.role_extend_data e WHERE \(\(UPPER\(e\.key\) = \$1 AND UPPER\(e\.value\) IN \(\$2,\$3\)\) OR \(UPPER\(e\.key\) = \$4 AND UPPER\(e\.value\) IN \(\$5\)\)\)`).
		WithArgs("TENANT", "ACME", "GLOBEX", "TIER", "GOLD").
		WillReturnRows(pgxmock.NewRows([]string{"role_id"}).AddRow(int64(3)).AddRow(int64(5)))

	ids, err := store.LoadRolesMatching(context.Background(), []port.RoleFilter{
		{Key: "TENANT", Values: []string{"ACME", "GLOBEX"}},
		{Key: "TIER", Values: []string{"GOLD"}},
	})
	if err != nil {
		t.Fatalf("LoadRolesMatching returned error: %v", err)
	}
	if len(ids) != 2 || ids[0] != 3 || ids[1] != 5 {
		t.Fatalf("unexpected role ids %v", ids)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestRuleStore_QueryFailure(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock.NewPool: %v", err)
	}
	defer mock.Close()

	store := NewRuleStore(mock)
	boom := errors.New("connection reset")

	mock.ExpectQuery(`FROM authz\.role_permissions rp`).
		WithArgs(false).
		WillReturnError(boom)

	if _, err := store.LoadRolePermissions(context.Background()); !errors.Is(err, boom) {
		t.Fatalf("expected wrapped query error, got %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
