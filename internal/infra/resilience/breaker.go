package resilience

import (
	"context"
	"errors"

	gobreaker "github.com/sony/gobreaker/v2"
	"go.uber.org/zap"

	"github.com/arklim/platform-authz/internal/core/domain"
	"github.com/arklim/platform-authz/internal/core/port"
	"github.com/arklim/platform-authz/internal/infra/config"
	"github.com/arklim/platform-authz/internal/repository"
)

// StateObserver receives breaker state transitions.
type StateObserver interface {
	SetBreakerState(name string, state string)
}

// BreakerRuleStore guards a RuleStore with a circuit breaker.
// Once open, loads fail fast with gobreaker.ErrOpenState until the timeout elapses.
type BreakerRuleStore struct {
	store port.RuleStore
	cb    *gobreaker.CircuitBreaker[any]
}

// NewBreakerRuleStore wraps store. observer and logger may be nil.
func NewBreakerRuleStore(store port.RuleStore, cfg config.BreakerSettings, observer StateObserver, logger *zap.Logger) *BreakerRuleStore {
	if logger == nil {
		logger = zap.NewNop()
	}

	threshold := cfg.FailureThreshold
	if threshold == 0 {
		threshold = 5
	}
	name := "rule-store"

	if observer != nil {
		observer.SetBreakerState(name, gobreaker.StateClosed.String())
	}

	cb := gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("rule store breaker state change",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
			if observer != nil {
				observer.SetBreakerState(name, to.String())
			}
		},
		IsSuccessful: isSuccessful,
	})

	return &BreakerRuleStore{store: store, cb: cb}
}

var _ port.RuleStore = (*BreakerRuleStore)(nil)

// A missing row or a caller giving up says nothing about store health.
func isSuccessful(err error) bool {
	return err == nil ||
		errors.Is(err, repository.ErrNotFound) ||
		errors.Is(err, context.Canceled)
}

// State reports the current breaker state.
func (s *BreakerRuleStore) State() gobreaker.State {
	return s.cb.State()
}

func execute[T any](s *BreakerRuleStore, fn func() (T, error)) (T, error) {
	result, err := s.cb.Execute(func() (any, error) {
		return fn()
	})
	if err != nil {
		var zero T
		return zero, err
	}
	typed, _ := result.(T)
	return typed, nil
}

func (s *BreakerRuleStore) LoadPermissionRules(ctx context.Context) ([]domain.PermissionRule, error) {
	return execute(s, func() ([]domain.PermissionRule, error) { return s.store.LoadPermissionRules(ctx) })
}

func (s *BreakerRuleStore) LoadRolePermissions(ctx context.Context) ([]domain.RolePermission, error) {
	return execute(s, func() ([]domain.RolePermission, error) { return s.store.LoadRolePermissions(ctx) })
}

func (s *BreakerRuleStore) LoadRolePermissionConditions(ctx context.Context) ([]domain.RolePermissionCondition, error) {
	return execute(s, func() ([]domain.RolePermissionCondition, error) { return s.store.LoadRolePermissionConditions(ctx) })
}

func (s *BreakerRuleStore) LoadUserPermissionConditions(ctx context.Context) ([]domain.UserPermissionCondition, error) {
	return execute(s, func() ([]domain.UserPermissionCondition, error) { return s.store.LoadUserPermissionConditions(ctx) })
}

func (s *BreakerRuleStore) LoadRoutes(ctx context.Context) ([]domain.Route, error) {
	return execute(s, func() ([]domain.Route, error) { return s.store.LoadRoutes(ctx) })
}

func (s *BreakerRuleStore) LoadUser(ctx context.Context, id int64) (*domain.User, error) {
	return execute(s, func() (*domain.User, error) { return s.store.LoadUser(ctx, id) })
}

func (s *BreakerRuleStore) LoadRolesMatching(ctx context.Context, filters []port.RoleFilter) ([]int64, error) {
	return execute(s, func() ([]int64, error) { return s.store.LoadRolesMatching(ctx, filters) })
}
