package port

import (
	"time"

	"github.com/arklim/platform-authz/internal/core/domain"
)

// PolicyMetrics captures telemetry hooks for the policy engine.
type PolicyMetrics interface {
	ObserveDecision(result domain.ValidationResult, duration time.Duration)
	IncCacheLoad(table string, success bool)
	IncInvalidation(kind domain.ChangeKind)
	IncMaintenanceRejection()
}
