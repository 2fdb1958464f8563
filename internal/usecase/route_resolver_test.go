package usecase

import (
	"context"
	"net/http"
	"testing"

	"github.com/arklim/platform-authz/internal/core/domain"
)

func TestRouteResolverResolve(t *testing.T) {
	store := newRuleStoreStub()
	store.routes = []domain.Route{
		{ID: 1, HTTPMethod: "GET", RelativePath: "/api/orders/{id}", FunctionID: "ord"},
		{ID: 2, HTTPMethod: "*", RelativePath: "/api/invoices/:id/lines", FunctionID: "inv"},
		{ID: 3, HTTPMethod: "POST", RelativePath: "/api/reports/*", FunctionID: "rpt", NativePermission: domain.PermissionRead},
	}
	resolver := NewRouteResolver(NewPermissionCache(store, nil, PermissionCacheOptions{}))
	ctx := context.Background()

	cases := []struct {
		method    string
		path      string
		found     bool
		routeID   int64
		requested domain.PermissionType
	}{
		{http.MethodGet, "/api/orders/15", true, 1, domain.PermissionRead},
		{http.MethodGet, "/API/Orders/15?expand=lines", true, 1, domain.PermissionRead},
		{http.MethodDelete, "/api/orders/15", false, 0, domain.PermissionNone},
		{http.MethodDelete, "/api/invoices/3/lines", true, 2, domain.PermissionDelete},
		{http.MethodPatch, "/api/invoices/3/lines", true, 2, domain.PermissionWrite},
		{http.MethodPost, "/api/reports/monthly/2024", true, 3, domain.PermissionRead},
		{http.MethodGet, "/api/orders", false, 0, domain.PermissionNone},
	}
	for _, tc := range cases {
		match, found, err := resolver.Resolve(ctx, tc.method, tc.path)
		if err != nil {
			t.Fatalf("resolve %s %s: %v", tc.method, tc.path, err)
		}
		if found != tc.found {
			t.Fatalf("resolve %s %s: expected found=%v", tc.method, tc.path, tc.found)
		}
		if !found {
			continue
		}
		if match.Route.ID != tc.routeID || match.RequestedType != tc.requested {
			t.Fatalf("resolve %s %s: unexpected match %+v", tc.method, tc.path, match)
		}
		if match.Route.FunctionID != normalizeFunctionID(match.Route.FunctionID) {
			t.Fatalf("expected normalised function id, got %q", match.Route.FunctionID)
		}
	}
}

func TestRequestedTypeForMethod(t *testing.T) {
	cases := map[string]domain.PermissionType{
		http.MethodGet:    domain.PermissionRead,
		http.MethodHead:   domain.PermissionRead,
		http.MethodPost:   domain.PermissionWrite,
		http.MethodPut:    domain.PermissionWrite,
		http.MethodPatch:  domain.PermissionWrite,
		http.MethodDelete: domain.PermissionDelete,
	}
	for method, want := range cases {
		if got := RequestedTypeForMethod(method); got != want {
			t.Fatalf("%s: expected %s, got %s", method, want, got)
		}
	}
}
