package usecase

import (
	"context"
	"sync"
	"time"

	"github.com/arklim/platform-authz/internal/core/domain"
	"github.com/arklim/platform-authz/internal/core/port"
	"github.com/arklim/platform-authz/internal/repository"
)

type ruleStoreStub struct {
	mu sync.Mutex

	rules          []domain.PermissionRule
	rolePerms      []domain.RolePermission
	roleConditions []domain.RolePermissionCondition
	userConditions []domain.UserPermissionCondition
	routes         []domain.Route
	users          map[int64]domain.User
	roleTags       map[int64][]domain.RoleExtendData

	err   error
	calls map[string]int
}

func newRuleStoreStub() *ruleStoreStub {
	return &ruleStoreStub{
		users:    make(map[int64]domain.User),
		roleTags: make(map[int64][]domain.RoleExtendData),
		calls:    make(map[string]int),
	}
}

func (s *ruleStoreStub) record(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls[name]++
	return s.err
}

func (s *ruleStoreStub) callCount(name string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[name]
}

func (s *ruleStoreStub) setErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

func (s *ruleStoreStub) LoadPermissionRules(context.Context) ([]domain.PermissionRule, error) {
	if err := s.record("rules"); err != nil {
		return nil, err
	}
	return append([]domain.PermissionRule(nil), s.rules...), nil
}

func (s *ruleStoreStub) LoadRolePermissions(context.Context) ([]domain.RolePermission, error) {
	if err := s.record("role_permissions"); err != nil {
		return nil, err
	}
	return append([]domain.RolePermission(nil), s.rolePerms...), nil
}

func (s *ruleStoreStub) LoadRolePermissionConditions(context.Context) ([]domain.RolePermissionCondition, error) {
	if err := s.record("role_conditions"); err != nil {
		return nil, err
	}
	return append([]domain.RolePermissionCondition(nil), s.roleConditions...), nil
}

func (s *ruleStoreStub) LoadUserPermissionConditions(context.Context) ([]domain.UserPermissionCondition, error) {
	if err := s.record("user_conditions"); err != nil {
		return nil, err
	}
	return append([]domain.UserPermissionCondition(nil), s.userConditions...), nil
}

func (s *ruleStoreStub) LoadRoutes(context.Context) ([]domain.Route, error) {
	if err := s.record("routes"); err != nil {
		return nil, err
	}
	return append([]domain.Route(nil), s.routes...), nil
}

func (s *ruleStoreStub) LoadUser(_ context.Context, id int64) (*domain.User, error) {
	if err := s.record("user"); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	user, ok := s.users[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &user, nil
}

func (s *ruleStoreStub) LoadRolesMatching(_ context.Context, filters []port.RoleFilter) ([]int64, error) {
	if err := s.record("roles_matching"); err != nil {
		return nil, err
	}
	var ids []int64
	for roleID, tags := range s.roleTags {
		if roleMatchesAny(tags, filters) {
			ids = append(ids, roleID)
		}
	}
	return ids, nil
}

func roleMatchesAny(tags []domain.RoleExtendData, filters []port.RoleFilter) bool {
	for _, filter := range filters {
		for _, tag := range tags {
			if tag.Key != filter.Key {
				continue
			}
			for _, value := range filter.Values {
				if tag.Value == value {
					return true
				}
			}
		}
	}
	return false
}

type maintenanceStoreStub struct {
	mu    sync.Mutex
	state *domain.MaintenanceState
	err   error
	calls int
}

func (s *maintenanceStoreStub) LoadMaintenanceState(context.Context) (*domain.MaintenanceState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	if s.state == nil {
		return nil, nil
	}
	state := *s.state
	return &state, nil
}

type metricsStub struct {
	mu            sync.Mutex
	decisions     map[domain.ValidationResult]int
	loads         map[string]int
	failedLoads   map[string]int
	invalidations map[domain.ChangeKind]int
	rejections    int
}

func newMetricsStub() *metricsStub {
	return &metricsStub{
		decisions:     make(map[domain.ValidationResult]int),
		loads:         make(map[string]int),
		failedLoads:   make(map[string]int),
		invalidations: make(map[domain.ChangeKind]int),
	}
}

func (m *metricsStub) ObserveDecision(result domain.ValidationResult, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.decisions[result]++
}

func (m *metricsStub) IncCacheLoad(table string, success bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if success {
		m.loads[table]++
		return
	}
	m.failedLoads[table]++
}

func (m *metricsStub) IncInvalidation(kind domain.ChangeKind) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.invalidations[kind]++
}

func (m *metricsStub) IncMaintenanceRejection() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rejections++
}

func int64Ptr(v int64) *int64 {
	return &v
}

func stringPtr(v string) *string {
	return &v
}
