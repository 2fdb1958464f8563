package usecase

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/arklim/platform-authz/internal/core/domain"
	"github.com/arklim/platform-authz/internal/core/port"
)

// ChangeNotifier announces committed write-side mutations to every engine instance.
// Delivery is best-effort; callers decide whether a publish failure matters.
type ChangeNotifier struct {
	publisher port.ChangePublisher
	logger    *zap.Logger
}

// NewChangeNotifier constructs a notifier over publisher.
func NewChangeNotifier(publisher port.ChangePublisher) *ChangeNotifier {
	return &ChangeNotifier{publisher: publisher, logger: zap.NewNop()}
}

// WithLogger attaches a structured logger.
func (n *ChangeNotifier) WithLogger(logger *zap.Logger) *ChangeNotifier {
	if logger != nil {
		n.logger = logger
	}
	return n
}

// NotifyRoleChanged announces edited roles, which drops role grants and role tag lookups.
func (n *ChangeNotifier) NotifyRoleChanged(ctx context.Context, roleIDs ...int64) error {
	return n.notify(ctx, domain.ChangeRole, roleIDs)
}

// NotifyRouteChanged announces edited route bindings.
func (n *ChangeNotifier) NotifyRouteChanged(ctx context.Context, routeIDs ...int64) error {
	return n.notify(ctx, domain.ChangeRoute, routeIDs)
}

// NotifyTokenRevoked announces tokens that must be refused from now on.
func (n *ChangeNotifier) NotifyTokenRevoked(ctx context.Context, tokenIDs ...int64) error {
	return n.notify(ctx, domain.ChangeTokenRevoke, tokenIDs)
}

// NotifyUserChanged announces edited users. With no ids every cached user is dropped.
func (n *ChangeNotifier) NotifyUserChanged(ctx context.Context, userIDs ...int64) error {
	return n.notify(ctx, domain.ChangeUser, userIDs)
}

// NotifyUserRoleChanged announces changed role memberships of the given users.
func (n *ChangeNotifier) NotifyUserRoleChanged(ctx context.Context, userIDs ...int64) error {
	return n.notify(ctx, domain.ChangeUserRole, userIDs)
}

// NotifyHealthCheck publishes a heartbeat with no ids.
func (n *ChangeNotifier) NotifyHealthCheck(ctx context.Context) error {
	return n.publish(ctx, domain.ChangeHealthCheck, []int64{})
}

// NotifyUserCreated announces a new user; rolesAssigned adds a membership change.
func (n *ChangeNotifier) NotifyUserCreated(ctx context.Context, userID int64, rolesAssigned bool) error {
	return n.notifyUser(ctx, userID, rolesAssigned)
}

// NotifyUserUpdated announces an edited user; rolesChanged adds a membership change.
func (n *ChangeNotifier) NotifyUserUpdated(ctx context.Context, userID int64, rolesChanged bool) error {
	return n.notifyUser(ctx, userID, rolesChanged)
}

// NotifyUserDeleted announces a removed user and its memberships.
func (n *ChangeNotifier) NotifyUserDeleted(ctx context.Context, userID int64) error {
	return n.notifyUser(ctx, userID, true)
}

func (n *ChangeNotifier) notifyUser(ctx context.Context, userID int64, rolesChanged bool) error {
	if err := n.NotifyUserChanged(ctx, userID); err != nil {
		return err
	}
	if !rolesChanged {
		return nil
	}
	return n.NotifyUserRoleChanged(ctx, userID)
}

func (n *ChangeNotifier) notify(ctx context.Context, kind domain.ChangeKind, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	return n.publish(ctx, kind, ids)
}

func (n *ChangeNotifier) publish(ctx context.Context, kind domain.ChangeKind, ids []int64) error {
	if n.publisher == nil {
		return nil
	}
	if err := n.publisher.Publish(ctx, kind, ids); err != nil {
		n.logger.Warn("publish change notification failed", zap.String("kind", string(kind)), zap.Error(err))
		return fmt.Errorf("publish %s: %w", kind, err)
	}
	n.logger.Debug("change notification published", zap.String("kind", string(kind)), zap.Int64s("ids", ids))
	return nil
}
