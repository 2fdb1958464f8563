package handlers

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/arklim/platform-authz/internal/core/domain"
	"github.com/arklim/platform-authz/internal/usecase"
)

// PermissionValidator evaluates a permission check.
type PermissionValidator interface {
	Validate(ctx context.Context, req domain.ValidationRequest) (domain.ValidationResult, error)
}

// PermissionHandler serves explicit permission checks for other services.
type PermissionHandler struct {
	validator PermissionValidator
}

// NewPermissionHandler constructs the handler.
func NewPermissionHandler(validator PermissionValidator) *PermissionHandler {
	return &PermissionHandler{validator: validator}
}

// RegisterRoutes mounts the handler on group.
func (h *PermissionHandler) RegisterRoutes(group *gin.RouterGroup) {
	group.POST("/validate", h.Validate)
}

var validateErrorCases = []ErrorCase{
	{Err: usecase.ErrInvalidRequest, Status: http.StatusBadRequest, Message: "invalid permission request"},
	{Err: usecase.ErrUpstreamUnavailable, Status: http.StatusServiceUnavailable, Message: "permission data unavailable", RetryAfter: 5 * time.Second},
	{Err: context.DeadlineExceeded, Status: http.StatusGatewayTimeout, Message: "permission check timed out"},
	{Err: context.Canceled, Status: http.StatusGatewayTimeout, Message: "permission check cancelled"},
}

// Validate decides one permission check. Denials are 200 responses with allowed=false.
func (h *PermissionHandler) Validate(c *gin.Context) {
	var body ValidatePermissionRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "malformed request body"))
		return
	}

	req, err := toValidationRequest(body)
	if err != nil {
		RespondWithMappedError(c, err, validateErrorCases, http.StatusBadRequest, "invalid permission request")
		return
	}

	result, err := h.validator.Validate(c.Request.Context(), req)
	if err != nil {
		_ = c.Error(err)
		RespondWithMappedError(c, err, validateErrorCases, http.StatusInternalServerError, "permission check failed")
		return
	}

	c.JSON(http.StatusOK, ValidatePermissionResponse{
		Result:  result.String(),
		Allowed: result == domain.ResultSuccess,
	})
}

func toValidationRequest(body ValidatePermissionRequest) (domain.ValidationRequest, error) {
	permissionType, ok := domain.ParsePermissionType(body.PermissionType)
	if !ok {
		return domain.ValidationRequest{}, fmt.Errorf("%w: permission type %q", usecase.ErrInvalidRequest, body.PermissionType)
	}

	req := domain.ValidationRequest{
		UserID:         body.UserID,
		RoleIDs:        body.RoleIDs,
		FunctionID:     body.FunctionID,
		PermissionType: permissionType,
		Group:          body.Group,
	}
	for _, tag := range body.RoleExtendDataFilters {
		req.RoleExtendDataFilters = append(req.RoleExtendDataFilters, domain.RoleExtendData{Key: tag.Key, Value: tag.Value})
	}
	for _, cond := range body.Conditions {
		req.Conditions = append(req.Conditions, domain.Condition{Key: cond.Key, Value: cond.Value})
	}

	if err := usecase.CheckRequest(req); err != nil {
		return domain.ValidationRequest{}, err
	}
	return req, nil
}
