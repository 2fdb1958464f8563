package usecase

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/arklim/platform-authz/internal/core/domain"
	"github.com/arklim/platform-authz/internal/core/port"
)

// InvalidationListener applies change notifications to the local caches.
type InvalidationListener struct {
	cache           *PermissionCache
	identity        *IdentityCache
	channels        domain.ChannelNames
	lastHealthCheck atomic.Int64
	startedAt       time.Time
	logger          *zap.Logger
	metrics         port.PolicyMetrics
	now             func() time.Time
}

// NewInvalidationListener constructs a listener for the configured channel names.
func NewInvalidationListener(cache *PermissionCache, identity *IdentityCache, channels domain.ChannelNames) *InvalidationListener {
	return &InvalidationListener{
		cache:     cache,
		identity:  identity,
		channels:  channels,
		startedAt: time.Now(),
		logger:    zap.NewNop(),
		now:       time.Now,
	}
}

// WithLogger attaches a structured logger.
func (l *InvalidationListener) WithLogger(logger *zap.Logger) *InvalidationListener {
	if logger != nil {
		l.logger = logger
	}
	return l
}

// WithMetrics wires invalidation telemetry.
func (l *InvalidationListener) WithMetrics(metrics port.PolicyMetrics) *InvalidationListener {
	if metrics != nil {
		l.metrics = metrics
	}
	return l
}

// WithNow overrides the clock, primarily for deterministic testing.
func (l *InvalidationListener) WithNow(now func() time.Time) *InvalidationListener {
	if now != nil {
		l.now = now
		l.startedAt = now()
	}
	return l
}

// Channels lists the channel names the listener must be subscribed to.
func (l *InvalidationListener) Channels() []string {
	return l.channels.All()
}

// LastHealthCheck returns when a health-check message was last received, or the zero time.
func (l *InvalidationListener) LastHealthCheck() time.Time {
	nanos := l.lastHealthCheck.Load()
	if nanos == 0 {
		return time.Time{}
	}
	return time.Unix(0, nanos)
}

// CheckHeartbeat returns ErrChangeBusStale when no health-check arrived within timeout.
// Until the first heartbeat the listener's start time is used. A non-positive timeout disables the check.
func (l *InvalidationListener) CheckHeartbeat(timeout time.Duration) error {
	if timeout <= 0 {
		return nil
	}
	last := l.LastHealthCheck()
	if last.IsZero() {
		last = l.startedAt
	}
	if age := l.now().Sub(last); age > timeout {
		return fmt.Errorf("%w: last heartbeat %s ago", ErrChangeBusStale, age.Truncate(time.Millisecond))
	}
	return nil
}

// HandleMessage decodes a raw channel message and applies it. Undecodable messages leave the
// caches untouched.
func (l *InvalidationListener) HandleMessage(ctx context.Context, channel string, payload []byte) error {
	kind, ok := l.channels.Kind(channel)
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownChannel, channel)
	}
	ids, err := domain.DecodeIDs(payload)
	if err != nil {
		return fmt.Errorf("%w on %s: %w", ErrMalformedChange, channel, err)
	}
	return l.HandleEvent(ctx, domain.ChangeEvent{
		Kind:       kind,
		Channel:    channel,
		IDs:        ids,
		ReceivedAt: l.now(),
	})
}

// HandleEvent invalidates the tables that correspond to the event kind.
func (l *InvalidationListener) HandleEvent(_ context.Context, event domain.ChangeEvent) error {
	switch event.Kind {
	case domain.ChangeRole:
		l.cache.Invalidate(TablePermissionRules, TableRolePermissions, TableRolePermissionConditions)
		l.identity.EvictRoleFilters()
	case domain.ChangeRoute:
		l.cache.Invalidate(TableRoutes)
	case domain.ChangeTokenRevoke:
		l.identity.RevokeTokens(event.IDs...)
	case domain.ChangeUser:
		l.identity.EvictUsers(event.IDs...)
		l.cache.Invalidate(TableUserPermissionConditions)
	case domain.ChangeUserRole:
		l.identity.EvictUsers(event.IDs...)
	case domain.ChangeHealthCheck:
		at := event.ReceivedAt
		if at.IsZero() {
			at = l.now()
		}
		l.lastHealthCheck.Store(at.UnixNano())
	default:
		return fmt.Errorf("%w: %q", ErrUnknownChannel, event.Kind)
	}

	if l.metrics != nil {
		l.metrics.IncInvalidation(event.Kind)
	}
	l.logger.Debug("change notification applied",
		zap.String("kind", string(event.Kind)),
		zap.Int("ids", len(event.IDs)),
	)
	return nil
}
