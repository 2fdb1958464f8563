package handlers

import (
	"time"

	"github.com/gin-gonic/gin"
)

// ErrorResponse represents a generic error payload with trace ID for debugging.
type ErrorResponse struct {
	Error   string `json:"error"`
	TraceID string `json:"trace_id,omitempty"`
}

// NewErrorResponse creates an error response with trace ID from context
func NewErrorResponse(c *gin.Context, errorMsg string) ErrorResponse {
	traceID, _ := c.Get("trace_id")
	traceIDStr, _ := traceID.(string)

	return ErrorResponse{
		Error:   errorMsg,
		TraceID: traceIDStr,
	}
}

// KeyValue is a tag or condition pair.
type KeyValue struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// ValidatePermissionRequest is the body of POST /api/v1/permissions/validate.
// PermissionType accepts a bitmask ("3") or names ("Read|Write").
type ValidatePermissionRequest struct {
	UserID                *int64     `json:"userId,omitempty"`
	RoleIDs               []int64    `json:"roleIds,omitempty"`
	FunctionID            string     `json:"functionId"`
	PermissionType        string     `json:"permissionType"`
	Group                 string     `json:"group,omitempty"`
	RoleExtendDataFilters []KeyValue `json:"roleExtendData,omitempty"`
	Conditions            []KeyValue `json:"conditions,omitempty"`
}

// ValidatePermissionResponse reports the decision.
type ValidatePermissionResponse struct {
	Result  string `json:"result"`
	Allowed bool   `json:"allowed"`
}

// HealthResponse describes the service health payload.
type HealthResponse struct {
	Status    string    `json:"status"`
	StartedAt time.Time `json:"started_at"`
	Timestamp time.Time `json:"timestamp"`
}

// ReadyResponse describes readiness probe results with dependency checks.
type ReadyResponse struct {
	Status    string            `json:"status"`
	Checks    map[string]string `json:"checks,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}
