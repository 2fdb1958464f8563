package usecase

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/arklim/platform-authz/internal/core/domain"
	"github.com/arklim/platform-authz/internal/core/port"
	"github.com/arklim/platform-authz/internal/repository"
)

// IdentityCacheOptions bounds the per-identity caches.
type IdentityCacheOptions struct {
	UserCacheSize       int
	UserTTL             time.Duration
	RoleFilterCacheSize int
	RoleFilterTTL       time.Duration
	RevokedTokenSize    int
	RevokedTokenTTL     time.Duration
	LoadTimeout         time.Duration
}

type cachedUser struct {
	user       domain.User
	generation uint64
}

type cachedRoleFilter struct {
	roleIDs    []int64
	generation uint64
}

// IdentityCache memoises user and role lookups that the policy evaluator needs per request,
// and tracks revoked tokens announced on the token-revoke channel.
type IdentityCache struct {
	store         port.RuleStore
	users         *expirable.LRU[int64, cachedUser]
	roleFilters   *expirable.LRU[string, cachedRoleFilter]
	revokedTokens *expirable.LRU[int64, struct{}]
	userGen       atomic.Uint64
	roleGen       atomic.Uint64
	group         singleflight.Group
	loadTimeout   time.Duration
	logger        *zap.Logger
}

// NewIdentityCache constructs the identity caches backed by store.
func NewIdentityCache(store port.RuleStore, opts IdentityCacheOptions) *IdentityCache {
	if opts.UserCacheSize <= 0 {
		opts.UserCacheSize = 10000
	}
	if opts.UserTTL <= 0 {
		opts.UserTTL = 5 * time.Minute
	}
	if opts.RoleFilterCacheSize <= 0 {
		opts.RoleFilterCacheSize = 1000
	}
	if opts.RoleFilterTTL <= 0 {
		opts.RoleFilterTTL = 5 * time.Minute
	}
	if opts.RevokedTokenSize <= 0 {
		opts.RevokedTokenSize = 100000
	}
	if opts.RevokedTokenTTL <= 0 {
		opts.RevokedTokenTTL = 30 * time.Minute
	}
	if opts.LoadTimeout <= 0 {
		opts.LoadTimeout = 10 * time.Second
	}
	return &IdentityCache{
		store:         store,
		users:         expirable.NewLRU[int64, cachedUser](opts.UserCacheSize, nil, opts.UserTTL),
		roleFilters:   expirable.NewLRU[string, cachedRoleFilter](opts.RoleFilterCacheSize, nil, opts.RoleFilterTTL),
		revokedTokens: expirable.NewLRU[int64, struct{}](opts.RevokedTokenSize, nil, opts.RevokedTokenTTL),
		loadTimeout:   opts.LoadTimeout,
		logger:        zap.NewNop(),
	}
}

// WithLogger attaches a structured logger.
func (c *IdentityCache) WithLogger(logger *zap.Logger) *IdentityCache {
	if logger != nil {
		c.logger = logger
	}
	return c
}

// User returns the user with the given id, or nil when the store has no such user.
func (c *IdentityCache) User(ctx context.Context, id int64) (*domain.User, error) {
	gen := c.userGen.Load()
	if cached, ok := c.users.Get(id); ok && cached.generation == gen {
		user := cached.user
		return &user, nil
	}

	val, err := c.load(ctx, "user:"+strconv.FormatInt(id, 10), func(loadCtx context.Context) (interface{}, error) {
		user, err := c.store.LoadUser(loadCtx, id)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return (*domain.User)(nil), nil
			}
			return nil, upstreamError("load user", err)
		}
		if user == nil {
			return (*domain.User)(nil), nil
		}
		if c.userGen.Load() == gen {
			c.users.Add(id, cachedUser{user: *user, generation: gen})
		}
		return user, nil
	})
	if err != nil {
		return nil, err
	}
	user := val.(*domain.User)
	if user == nil {
		return nil, nil
	}
	copied := *user
	return &copied, nil
}

// EvictUsers drops cached users. With no ids every cached user is dropped.
func (c *IdentityCache) EvictUsers(ids ...int64) {
	c.userGen.Add(1)
	if len(ids) == 0 {
		c.users.Purge()
		return
	}
	for _, id := range ids {
		c.users.Remove(id)
	}
}

// RolesMatching returns ids of roles whose tags match any filter.
func (c *IdentityCache) RolesMatching(ctx context.Context, filters []port.RoleFilter) ([]int64, error) {
	key := roleFilterKey(filters)
	gen := c.roleGen.Load()
	if cached, ok := c.roleFilters.Get(key); ok && cached.generation == gen {
		return cached.roleIDs, nil
	}

	val, err := c.load(ctx, "roles:"+key, func(loadCtx context.Context) (interface{}, error) {
		ids, err := c.store.LoadRolesMatching(loadCtx, filters)
		if err != nil {
			return nil, upstreamError("load roles matching", err)
		}
		if ids == nil {
			ids = []int64{}
		}
		if c.roleGen.Load() == gen {
			c.roleFilters.Add(key, cachedRoleFilter{roleIDs: ids, generation: gen})
		}
		return ids, nil
	})
	if err != nil {
		return nil, err
	}
	return val.([]int64), nil
}

// EvictRoleFilters drops every cached role tag lookup.
func (c *IdentityCache) EvictRoleFilters() {
	c.roleGen.Add(1)
	c.roleFilters.Purge()
}

// RevokeTokens records revoked token ids until they age out.
func (c *IdentityCache) RevokeTokens(ids ...int64) {
	for _, id := range ids {
		c.revokedTokens.Add(id, struct{}{})
	}
}

// IsTokenRevoked reports whether a token id was announced as revoked.
func (c *IdentityCache) IsTokenRevoked(id int64) bool {
	return c.revokedTokens.Contains(id)
}

// load runs fn once per key for every concurrent caller. The store call is detached from
// the first caller's context and bounded by loadTimeout; each caller waits on its own context.
func (c *IdentityCache) load(ctx context.Context, key string, fn func(context.Context) (interface{}, error)) (interface{}, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ch := c.group.DoChan(key, func() (interface{}, error) {
		loadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.loadTimeout)
		defer cancel()
		return fn(loadCtx)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		return res.Val, res.Err
	}
}

// upstreamError marks a store failure as ErrUpstreamUnavailable unless it is a cancellation.
func upstreamError(op string, err error) error {
	if errors.Is(err, context.Canceled) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%w: %s: %w", ErrUpstreamUnavailable, op, err)
}

func roleFilterKey(filters []port.RoleFilter) string {
	parts := make([]string, 0, len(filters))
	for _, filter := range filters {
		values := append([]string(nil), filter.Values...)
		sort.Strings(values)
		parts = append(parts, filter.Key+"="+strings.Join(values, ","))
	}
	sort.Strings(parts)
	return strings.Join(parts, ";")
}
