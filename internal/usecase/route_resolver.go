package usecase

import (
	"context"
	"net/http"
	"strings"

	"github.com/arklim/platform-authz/internal/core/domain"
)

// RouteMatch is a registered route resolved for an inbound request.
type RouteMatch struct {
	Route         domain.Route
	RequestedType domain.PermissionType
}

// RouteResolver maps inbound method and path pairs onto registered routes.
type RouteResolver struct {
	cache *PermissionCache
}

// NewRouteResolver constructs a resolver over the cached route table.
func NewRouteResolver(cache *PermissionCache) *RouteResolver {
	return &RouteResolver{cache: cache}
}

// Resolve returns the first route matching method and path. The boolean is false when no
// route is registered for the request.
func (r *RouteResolver) Resolve(ctx context.Context, method, path string) (RouteMatch, bool, error) {
	routes, err := r.cache.Routes(ctx)
	if err != nil {
		return RouteMatch{}, false, err
	}
	segments := splitPath(path)
	for _, route := range routes {
		if !methodMatches(route.HTTPMethod, method) || !pathMatches(splitPath(route.RelativePath), segments) {
			continue
		}
		requested := route.NativePermission
		if requested == domain.PermissionNone {
			requested = RequestedTypeForMethod(method)
		}
		return RouteMatch{Route: route, RequestedType: requested}, true, nil
	}
	return RouteMatch{}, false, nil
}

// RequestedTypeForMethod derives the capability an HTTP method exercises.
func RequestedTypeForMethod(method string) domain.PermissionType {
	switch strings.ToUpper(method) {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return domain.PermissionRead
	case http.MethodDelete:
		return domain.PermissionDelete
	default:
		return domain.PermissionWrite
	}
}

func methodMatches(routeMethod, method string) bool {
	routeMethod = strings.TrimSpace(routeMethod)
	return routeMethod == "" || routeMethod == "*" || strings.EqualFold(routeMethod, method)
}

// pathMatches treats {name} and :name segments as single segment parameters and a trailing
// * as the rest of the path.
func pathMatches(pattern, segments []string) bool {
	for i, part := range pattern {
		if part == "*" && i == len(pattern)-1 {
			return true
		}
		if i >= len(segments) {
			return false
		}
		if isParam(part) {
			continue
		}
		if !strings.EqualFold(part, segments[i]) {
			return false
		}
	}
	return len(pattern) == len(segments)
}

func isParam(segment string) bool {
	return strings.HasPrefix(segment, ":") ||
		(strings.HasPrefix(segment, "{") && strings.HasSuffix(segment, "}"))
}

func splitPath(path string) []string {
	if i := strings.IndexAny(path, "?#"); i >= 0 {
		path = path[:i]
	}
	path = strings.Trim(path, "/")
	if path == "" {
		return nil
	}
	return strings.Split(path, "/")
}
