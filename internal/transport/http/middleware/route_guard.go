package middleware

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/arklim/platform-authz/internal/core/domain"
	"github.com/arklim/platform-authz/internal/usecase"
)

// FunctionIDKey is the gin context key holding the function id of the matched route.
const FunctionIDKey = "function_id"

// RouteResolver maps requests onto registered routes.
type RouteResolver interface {
	Resolve(ctx context.Context, method, path string) (usecase.RouteMatch, bool, error)
}

// PermissionValidator evaluates a permission check.
type PermissionValidator interface {
	Validate(ctx context.Context, req domain.ValidationRequest) (domain.ValidationResult, error)
}

// RouteGuard authorizes requests against the registered route table. Requests that match no
// route pass through untouched. Must be installed after Identity.
func RouteGuard(resolver RouteResolver, validator PermissionValidator) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()

		match, ok, err := resolver.Resolve(ctx, c.Request.Method, c.Request.URL.Path)
		if err != nil {
			abortWithPolicyError(c, err)
			return
		}
		if !ok {
			c.Next()
			return
		}

		c.Set(FunctionIDKey, match.Route.FunctionID)
		if match.Route.AllowAnonymous {
			c.Next()
			return
		}

		identity, _ := GetIdentity(c)
		if identity.UserID == nil && len(identity.RoleIDs) == 0 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, newErrorResponse(c, "authentication required"))
			return
		}

		result, err := validator.Validate(ctx, domain.ValidationRequest{
			UserID:         identity.UserID,
			RoleIDs:        identity.RoleIDs,
			FunctionID:     match.Route.FunctionID,
			PermissionType: match.RequestedType,
			Group:          match.Route.Group,
		})
		if err != nil {
			abortWithPolicyError(c, err)
			return
		}

		switch result {
		case domain.ResultSuccess:
			c.Next()
		case domain.ResultAccountDisabled:
			c.AbortWithStatusJSON(http.StatusForbidden, newErrorResponse(c, "account disabled"))
		default:
			c.AbortWithStatusJSON(http.StatusForbidden, newErrorResponse(c, "forbidden"))
		}
	}
}

func abortWithPolicyError(c *gin.Context, err error) {
	_ = c.Error(err)
	switch {
	case errors.Is(err, usecase.ErrUpstreamUnavailable):
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, newErrorResponse(c, "permission data unavailable"))
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		c.AbortWithStatusJSON(http.StatusGatewayTimeout, newErrorResponse(c, "request cancelled"))
	default:
		c.AbortWithStatusJSON(http.StatusInternalServerError, newErrorResponse(c, "permission check failed"))
	}
}
