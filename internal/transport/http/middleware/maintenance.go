package middleware

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/arklim/platform-authz/internal/usecase"
)

// MaintenanceCode is the envelope code returned while maintenance mode rejects traffic.
const MaintenanceCode = "503000"

// Admitter decides whether a request may pass the maintenance gate.
type Admitter interface {
	Admit(ctx context.Context, req usecase.AdmissionRequest) usecase.AdmissionDecision
}

// MaintenanceEnvelope is the 200 body used when native status codes are disabled.
type MaintenanceEnvelope struct {
	Code    string `json:"code"`
	Message string `json:"message,omitempty"`
}

// Maintenance runs the admission gate. Must be installed after Identity.
// With useNativeStatus a rejection is a bare 503; otherwise it is a 200 carrying MaintenanceEnvelope.
func Maintenance(gate Admitter, useNativeStatus bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		identity, _ := GetIdentity(c)
		decision := gate.Admit(c.Request.Context(), usecase.AdmissionRequest{
			Host:     c.Request.Host,
			Identity: identity,
		})
		if decision.Admitted {
			c.Next()
			return
		}

		if useNativeStatus {
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, newErrorResponse(c, decision.Message))
			return
		}
		c.AbortWithStatusJSON(http.StatusOK, MaintenanceEnvelope{Code: MaintenanceCode, Message: decision.Message})
	}
}
