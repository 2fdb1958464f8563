package usecase

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/arklim/platform-authz/internal/core/domain"
)

type publishedChange struct {
	kind domain.ChangeKind
	ids  []int64
}

type publisherStub struct {
	published []publishedChange
	err       error
}

func (p *publisherStub) Publish(_ context.Context, kind domain.ChangeKind, ids []int64) error {
	if p.err != nil {
		return p.err
	}
	p.published = append(p.published, publishedChange{kind: kind, ids: ids})
	return nil
}

func (p *publisherStub) kinds() []domain.ChangeKind {
	kinds := make([]domain.ChangeKind, 0, len(p.published))
	for _, change := range p.published {
		kinds = append(kinds, change.kind)
	}
	return kinds
}

func TestChangeNotifierUserLifecycle(t *testing.T) {
	ctx := context.Background()
	cases := []struct {
		name   string
		notify func(*ChangeNotifier) error
		want   []domain.ChangeKind
	}{
		{"created without roles", func(n *ChangeNotifier) error { return n.NotifyUserCreated(ctx, 5, false) }, []domain.ChangeKind{domain.ChangeUser}},
		{"created with roles", func(n *ChangeNotifier) error { return n.NotifyUserCreated(ctx, 5, true) }, []domain.ChangeKind{domain.ChangeUser, domain.ChangeUserRole}},
		{"updated without roles", func(n *ChangeNotifier) error { return n.NotifyUserUpdated(ctx, 5, false) }, []domain.ChangeKind{domain.ChangeUser}},
		{"updated with roles", func(n *ChangeNotifier) error { return n.NotifyUserUpdated(ctx, 5, true) }, []domain.ChangeKind{domain.ChangeUser, domain.ChangeUserRole}},
		{"deleted", func(n *ChangeNotifier) error { return n.NotifyUserDeleted(ctx, 5) }, []domain.ChangeKind{domain.ChangeUser, domain.ChangeUserRole}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			publisher := &publisherStub{}
			if err := tc.notify(NewChangeNotifier(publisher)); err != nil {
				t.Fatalf("notify: %v", err)
			}
			if got := publisher.kinds(); !reflect.DeepEqual(got, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, got)
			}
			for _, change := range publisher.published {
				if !reflect.DeepEqual(change.ids, []int64{5}) {
					t.Fatalf("expected user id payload, got %v", change.ids)
				}
			}
		})
	}
}

func TestChangeNotifierSkipsEmptyIDs(t *testing.T) {
	publisher := &publisherStub{}
	notifier := NewChangeNotifier(publisher)
	ctx := context.Background()

	if err := notifier.NotifyRoleChanged(ctx); err != nil {
		t.Fatalf("notify role changed: %v", err)
	}
	if len(publisher.published) != 0 {
		t.Fatalf("expected nothing published, got %v", publisher.published)
	}

	if err := notifier.NotifyHealthCheck(ctx); err != nil {
		t.Fatalf("notify health check: %v", err)
	}
	if err := notifier.NotifyRouteChanged(ctx, 3, 4); err != nil {
		t.Fatalf("notify route changed: %v", err)
	}
	want := []domain.ChangeKind{domain.ChangeHealthCheck, domain.ChangeRoute}
	if got := publisher.kinds(); !reflect.DeepEqual(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
}

func TestChangeNotifierPublishFailure(t *testing.T) {
	publisher := &publisherStub{err: errors.New("broker down")}
	notifier := NewChangeNotifier(publisher)

	err := notifier.NotifyTokenRevoked(context.Background(), 1)
	if err == nil || !errors.Is(err, publisher.err) {
		t.Fatalf("expected wrapped publish error, got %v", err)
	}
}
