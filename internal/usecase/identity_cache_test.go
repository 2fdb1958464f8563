package usecase

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/arklim/platform-authz/internal/core/domain"
	"github.com/arklim/platform-authz/internal/core/port"
)

func TestIdentityCacheUser(t *testing.T) {
	store := newRuleStoreStub()
	store.users[7] = domain.User{ID: 7, Roles: []domain.UserRole{{RoleID: 1}}}
	cache := NewIdentityCache(store, IdentityCacheOptions{})
	ctx := context.Background()

	user, err := cache.User(ctx, 7)
	if err != nil {
		t.Fatalf("user: %v", err)
	}
	if user == nil || user.ID != 7 {
		t.Fatalf("unexpected user %+v", user)
	}
	if _, err := cache.User(ctx, 7); err != nil {
		t.Fatalf("user: %v", err)
	}
	if calls := store.callCount("user"); calls != 1 {
		t.Fatalf("expected cached user, got %d loads", calls)
	}

	store.users[7] = domain.User{ID: 7, Disabled: true}
	cache.EvictUsers(7)
	user, err = cache.User(ctx, 7)
	if err != nil {
		t.Fatalf("user after evict: %v", err)
	}
	if !user.Disabled {
		t.Fatalf("expected reloaded user to be disabled")
	}
}

func TestIdentityCacheUnknownUser(t *testing.T) {
	cache := NewIdentityCache(newRuleStoreStub(), IdentityCacheOptions{})

	user, err := cache.User(context.Background(), 404)
	if err != nil {
		t.Fatalf("expected no error for unknown user, got %v", err)
	}
	if user != nil {
		t.Fatalf("expected nil user, got %+v", user)
	}
}

func TestIdentityCacheStoreFailure(t *testing.T) {
	store := newRuleStoreStub()
	store.setErr(errors.New("connection reset"))
	cache := NewIdentityCache(store, IdentityCacheOptions{})

	if _, err := cache.User(context.Background(), 1); !errors.Is(err, ErrUpstreamUnavailable) {
		t.Fatalf("expected ErrUpstreamUnavailable, got %v", err)
	}
	if _, err := cache.RolesMatching(context.Background(), []port.RoleFilter{{Key: "A", Values: []string{"B"}}}); !errors.Is(err, ErrUpstreamUnavailable) {
		t.Fatalf("expected ErrUpstreamUnavailable, got %v", err)
	}
}

func TestIdentityCacheRolesMatching(t *testing.T) {
	store := newRuleStoreStub()
	store.roleTags[3] = []domain.RoleExtendData{{Key: "TENANT", Value: "ACME"}}
	cache := NewIdentityCache(store, IdentityCacheOptions{})
	ctx := context.Background()

	first := []port.RoleFilter{{Key: "TENANT", Values: []string{"GLOBEX", "ACME"}}}
	reordered := []port.RoleFilter{{Key: "TENANT", Values: []string{"ACME", "GLOBEX"}}}

	ids, err := cache.RolesMatching(ctx, first)
	if err != nil {
		t.Fatalf("roles matching: %v", err)
	}
	if len(ids) != 1 || ids[0] != 3 {
		t.Fatalf("expected role 3, got %v", ids)
	}
	if _, err := cache.RolesMatching(ctx, reordered); err != nil {
		t.Fatalf("roles matching: %v", err)
	}
	if calls := store.callCount("roles_matching"); calls != 1 {
		t.Fatalf("expected equivalent filters to share a cache entry, got %d loads", calls)
	}

	cache.EvictRoleFilters()
	if _, err := cache.RolesMatching(ctx, first); err != nil {
		t.Fatalf("roles matching: %v", err)
	}
	if calls := store.callCount("roles_matching"); calls != 2 {
		t.Fatalf("expected reload after eviction, got %d loads", calls)
	}
}

func TestIdentityCacheRevokedTokens(t *testing.T) {
	cache := NewIdentityCache(newRuleStoreStub(), IdentityCacheOptions{})

	if cache.IsTokenRevoked(5) {
		t.Fatalf("expected token to be valid before revocation")
	}
	cache.RevokeTokens(5, 6)
	if !cache.IsTokenRevoked(5) || !cache.IsTokenRevoked(6) {
		t.Fatalf("expected tokens to be revoked")
	}
}

type blockingUserStore struct {
	*ruleStoreStub
	once    sync.Once
	started chan struct{}
	release chan struct{}
}

func (s *blockingUserStore) LoadUser(ctx context.Context, id int64) (*domain.User, error) {
	s.once.Do(func() { close(s.started) })
	select {
	case <-s.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return s.ruleStoreStub.LoadUser(ctx, id)
}

func TestIdentityCacheSharedLoadSurvivesCancelledCaller(t *testing.T) {
	base := newRuleStoreStub()
	base.users[7] = domain.User{ID: 7}
	store := &blockingUserStore{ruleStoreStub: base, started: make(chan struct{}), release: make(chan struct{})}
	cache := NewIdentityCache(store, IdentityCacheOptions{})

	ctxA, cancelA := context.WithCancel(context.Background())
	errA := make(chan error, 1)
	go func() {
		_, err := cache.User(ctxA, 7)
		errA <- err
	}()
	<-store.started

	type result struct {
		user *domain.User
		err  error
	}
	resB := make(chan result, 1)
	go func() {
		user, err := cache.User(context.Background(), 7)
		resB <- result{user, err}
	}()

	cancelA()
	if err := <-errA; !errors.Is(err, context.Canceled) || errors.Is(err, ErrUpstreamUnavailable) {
		t.Fatalf("expected plain cancellation for the cancelled caller, got %v", err)
	}

	close(store.release)
	got := <-resB
	if got.err != nil {
		t.Fatalf("other caller failed with the cancelled one: %v", got.err)
	}
	if got.user == nil || got.user.ID != 7 {
		t.Fatalf("unexpected user %+v", got.user)
	}
}

func TestIdentityCacheCancelledCallerNotUpstream(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	cache := NewIdentityCache(newRuleStoreStub(), IdentityCacheOptions{})

	_, err := cache.RolesMatching(ctx, []port.RoleFilter{{Key: "dept", Values: []string{"ops"}}})
	if !errors.Is(err, context.Canceled) || errors.Is(err, ErrUpstreamUnavailable) {
		t.Fatalf("expected cancellation, got %v", err)
	}
	if err := upstreamError("load user", context.Canceled); errors.Is(err, ErrUpstreamUnavailable) {
		t.Fatalf("cancellation must not read as upstream failure: %v", err)
	}
}
