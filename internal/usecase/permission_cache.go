package usecase

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/arklim/platform-authz/internal/core/domain"
	"github.com/arklim/platform-authz/internal/core/port"
)

// Table names one of the rule tables held by the PermissionCache.
type Table string

const (
	TablePermissionRules          Table = "permission_rules"
	TableRolePermissions          Table = "role_permissions"
	TableRolePermissionConditions Table = "role_permission_conditions"
	TableUserPermissionConditions Table = "user_permission_conditions"
	TableRoutes                   Table = "routes"
)

// Tables lists every table the cache manages.
func Tables() []Table {
	return []Table{
		TablePermissionRules,
		TableRolePermissions,
		TableRolePermissionConditions,
		TableUserPermissionConditions,
		TableRoutes,
	}
}

// PermissionCacheOptions tunes cache expiry and cold load behaviour.
type PermissionCacheOptions struct {
	// TableTTL expires every table snapshot after the given age. Zero keeps snapshots until invalidated.
	TableTTL       time.Duration
	MaintenanceTTL time.Duration
	LoadTimeout    time.Duration
}

type snapshot[T any] struct {
	rows       []T
	generation uint64
	loadedAt   time.Time
}

// tableSlot holds one immutable snapshot. Readers only ever see a complete snapshot; an
// invalidation bumps the generation so stale snapshots and in-flight loads are discarded.
type tableSlot[T any] struct {
	name       Table
	load       func(context.Context) ([]T, error)
	current    atomic.Pointer[snapshot[T]]
	generation atomic.Uint64
}

func (s *tableSlot[T]) invalidate() {
	s.generation.Add(1)
	s.current.Store(nil)
}

// PermissionCache keeps process-wide snapshots of the rule tables.
type PermissionCache struct {
	rules          *tableSlot[domain.PermissionRule]
	rolePerms      *tableSlot[domain.RolePermission]
	roleConditions *tableSlot[domain.RolePermissionCondition]
	userConditions *tableSlot[domain.UserPermissionCondition]
	routes         *tableSlot[domain.Route]

	maintenanceStore port.MaintenanceStore
	maintenance      atomic.Pointer[snapshot[domain.MaintenanceState]]
	maintenanceGen   atomic.Uint64

	opts    PermissionCacheOptions
	group   singleflight.Group
	logger  *zap.Logger
	metrics port.PolicyMetrics
	now     func() time.Time
}

// NewPermissionCache constructs a cache that lazily loads tables from store.
func NewPermissionCache(store port.RuleStore, maintenance port.MaintenanceStore, opts PermissionCacheOptions) *PermissionCache {
	if opts.LoadTimeout <= 0 {
		opts.LoadTimeout = 10 * time.Second
	}
	if opts.MaintenanceTTL <= 0 {
		opts.MaintenanceTTL = 10 * time.Second
	}
	return &PermissionCache{
		rules: &tableSlot[domain.PermissionRule]{
			name: TablePermissionRules,
			load: func(ctx context.Context) ([]domain.PermissionRule, error) {
				rows, err := store.LoadPermissionRules(ctx)
				for i := range rows {
					rows[i].FunctionID = strings.ToUpper(strings.TrimSpace(rows[i].FunctionID))
				}
				return rows, err
			},
		},
		rolePerms: &tableSlot[domain.RolePermission]{
			name: TableRolePermissions,
			load: store.LoadRolePermissions,
		},
		roleConditions: &tableSlot[domain.RolePermissionCondition]{
			name: TableRolePermissionConditions,
			load: func(ctx context.Context) ([]domain.RolePermissionCondition, error) {
				rows, err := store.LoadRolePermissionConditions(ctx)
				for i := range rows {
					rows[i].Key = strings.ToUpper(rows[i].Key)
					rows[i].Value = strings.ToUpper(rows[i].Value)
				}
				return rows, err
			},
		},
		userConditions: &tableSlot[domain.UserPermissionCondition]{
			name: TableUserPermissionConditions,
			load: func(ctx context.Context) ([]domain.UserPermissionCondition, error) {
				rows, err := store.LoadUserPermissionConditions(ctx)
				for i := range rows {
					rows[i].Key = strings.ToUpper(rows[i].Key)
					rows[i].Value = strings.ToUpper(rows[i].Value)
				}
				return rows, err
			},
		},
		routes: &tableSlot[domain.Route]{
			name: TableRoutes,
			load: func(ctx context.Context) ([]domain.Route, error) {
				rows, err := store.LoadRoutes(ctx)
				for i := range rows {
					rows[i].FunctionID = strings.ToUpper(strings.TrimSpace(rows[i].FunctionID))
				}
				return rows, err
			},
		},
		maintenanceStore: maintenance,
		opts:             opts,
		logger:           zap.NewNop(),
		now:              time.Now,
	}
}

// WithLogger attaches a structured logger.
func (c *PermissionCache) WithLogger(logger *zap.Logger) *PermissionCache {
	if logger != nil {
		c.logger = logger
	}
	return c
}

// WithMetrics wires telemetry observers for cache loads.
func (c *PermissionCache) WithMetrics(metrics port.PolicyMetrics) *PermissionCache {
	if metrics != nil {
		c.metrics = metrics
	}
	return c
}

// WithNow overrides the clock, primarily for deterministic testing.
func (c *PermissionCache) WithNow(now func() time.Time) *PermissionCache {
	if now != nil {
		c.now = now
	}
	return c
}

// PermissionRules returns the permission rule snapshot, loading it on a cold cache.
func (c *PermissionCache) PermissionRules(ctx context.Context) ([]domain.PermissionRule, error) {
	return get(ctx, c, c.rules)
}

// RolePermissions returns the role grant snapshot, loading it on a cold cache.
func (c *PermissionCache) RolePermissions(ctx context.Context) ([]domain.RolePermission, error) {
	return get(ctx, c, c.rolePerms)
}

// RolePermissionConditions returns the conditional role grant snapshot.
func (c *PermissionCache) RolePermissionConditions(ctx context.Context) ([]domain.RolePermissionCondition, error) {
	return get(ctx, c, c.roleConditions)
}

// UserPermissionConditions returns the conditional user grant snapshot, expired rows included.
func (c *PermissionCache) UserPermissionConditions(ctx context.Context) ([]domain.UserPermissionCondition, error) {
	return get(ctx, c, c.userConditions)
}

// Routes returns the gateway route snapshot.
func (c *PermissionCache) Routes(ctx context.Context) ([]domain.Route, error) {
	return get(ctx, c, c.routes)
}

// Invalidate drops the named tables so the next read reloads them.
func (c *PermissionCache) Invalidate(tables ...Table) {
	for _, table := range tables {
		switch table {
		case TablePermissionRules:
			c.rules.invalidate()
		case TableRolePermissions:
			c.rolePerms.invalidate()
		case TableRolePermissionConditions:
			c.roleConditions.invalidate()
		case TableUserPermissionConditions:
			c.userConditions.invalidate()
		case TableRoutes:
			c.routes.invalidate()
		default:
			c.logger.Warn("invalidate unknown cache table", zap.String("table", string(table)))
			continue
		}
		c.logger.Debug("cache table invalidated", zap.String("table", string(table)))
	}
}

// InvalidateAll drops every rule table.
func (c *PermissionCache) InvalidateAll() {
	c.Invalidate(Tables()...)
}

// Warm loads every rule table, returning the first failure.
func (c *PermissionCache) Warm(ctx context.Context) error {
	if _, err := c.PermissionRules(ctx); err != nil {
		return err
	}
	if _, err := c.RolePermissions(ctx); err != nil {
		return err
	}
	if _, err := c.RolePermissionConditions(ctx); err != nil {
		return err
	}
	if _, err := c.UserPermissionConditions(ctx); err != nil {
		return err
	}
	_, err := c.Routes(ctx)
	return err
}

// Maintenance returns the cached maintenance state. A missing or failing store reads as
// disabled, and that answer is cached for MaintenanceTTL like any other.
func (c *PermissionCache) Maintenance(ctx context.Context) domain.MaintenanceState {
	gen := c.maintenanceGen.Load()
	if snap := c.maintenance.Load(); snap != nil && snap.generation == gen && c.now().Sub(snap.loadedAt) < c.opts.MaintenanceTTL {
		return snap.rows[0]
	}
	if c.maintenanceStore == nil {
		return domain.MaintenanceState{}
	}

	ch := c.group.DoChan(fmt.Sprintf("maintenance:%d", gen), func() (interface{}, error) {
		loadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.opts.LoadTimeout)
		defer cancel()

		state, err := c.maintenanceStore.LoadMaintenanceState(loadCtx)
		if err != nil {
			c.logger.Warn("load maintenance state failed, treating as disabled", zap.Error(err))
			state = nil
		}
		if state == nil {
			state = &domain.MaintenanceState{}
		}
		if c.maintenanceGen.Load() == gen {
			c.maintenance.Store(&snapshot[domain.MaintenanceState]{
				rows:       []domain.MaintenanceState{*state},
				generation: gen,
				loadedAt:   c.now(),
			})
		}
		return *state, nil
	})

	select {
	case <-ctx.Done():
		return domain.MaintenanceState{}
	case res := <-ch:
		return res.Val.(domain.MaintenanceState)
	}
}

// InvalidateMaintenance forces the next Maintenance call to consult the store.
func (c *PermissionCache) InvalidateMaintenance() {
	c.maintenanceGen.Add(1)
	c.maintenance.Store(nil)
}

func (c *PermissionCache) fresh(loadedAt time.Time) bool {
	return c.opts.TableTTL <= 0 || c.now().Sub(loadedAt) < c.opts.TableTTL
}

// get serves slot from memory, or loads it once for all concurrent callers. Waiting callers
// honour their own context; the load itself is detached so one cancelled request cannot fail
// the others sharing it.
func get[T any](ctx context.Context, c *PermissionCache, slot *tableSlot[T]) ([]T, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	gen := slot.generation.Load()
	if snap := slot.current.Load(); snap != nil && snap.generation == gen && c.fresh(snap.loadedAt) {
		return snap.rows, nil
	}

	key := fmt.Sprintf("%s:%d", slot.name, gen)
	ch := c.group.DoChan(key, func() (interface{}, error) {
		loadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.opts.LoadTimeout)
		defer cancel()

		rows, err := slot.load(loadCtx)
		if c.metrics != nil {
			c.metrics.IncCacheLoad(string(slot.name), err == nil)
		}
		if err != nil {
			c.logger.Error("load cache table failed", zap.String("table", string(slot.name)), zap.Error(err))
			return nil, fmt.Errorf("%w: load %s: %w", ErrUpstreamUnavailable, slot.name, err)
		}
		if rows == nil {
			rows = []T{}
		}

		snap := &snapshot[T]{rows: rows, generation: gen, loadedAt: c.now()}
		if slot.generation.Load() == gen {
			slot.current.Store(snap)
		}
		c.logger.Debug("cache table loaded", zap.String("table", string(slot.name)), zap.Int("rows", len(rows)))
		return snap, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*snapshot[T]).rows, nil
	}
}
