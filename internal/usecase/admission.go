package usecase

import (
	"context"
	"net"
	"strings"

	"go.uber.org/zap"

	"github.com/arklim/platform-authz/internal/core/domain"
	"github.com/arklim/platform-authz/internal/core/port"
)

// AdmissionRequest describes an inbound request before it is routed.
type AdmissionRequest struct {
	Host     string
	Identity domain.Identity
}

// AdmissionDecision is the gate outcome. Message is only set on rejection.
type AdmissionDecision struct {
	Admitted bool
	Message  string
}

// AdmissionGate rejects traffic while maintenance mode is enabled, except for internal hosts,
// owners and roles excluded by the operator.
type AdmissionGate struct {
	cache         *PermissionCache
	owners        idSet
	internalHosts map[string]struct{}
	logger        *zap.Logger
	metrics       port.PolicyMetrics
}

// NewAdmissionGate constructs a gate reading maintenance state through cache.
func NewAdmissionGate(cache *PermissionCache, owners []int64, internalHosts []string) *AdmissionGate {
	hosts := make(map[string]struct{}, len(internalHosts))
	for _, host := range internalHosts {
		host = normalizeHost(host)
		if host != "" {
			hosts[host] = struct{}{}
		}
	}
	return &AdmissionGate{
		cache:         cache,
		owners:        newIDSet(owners...),
		internalHosts: hosts,
		logger:        zap.NewNop(),
	}
}

// WithLogger attaches a structured logger.
func (g *AdmissionGate) WithLogger(logger *zap.Logger) *AdmissionGate {
	if logger != nil {
		g.logger = logger
	}
	return g
}

// WithMetrics wires rejection telemetry.
func (g *AdmissionGate) WithMetrics(metrics port.PolicyMetrics) *AdmissionGate {
	if metrics != nil {
		g.metrics = metrics
	}
	return g
}

// Admit decides whether the request may proceed.
func (g *AdmissionGate) Admit(ctx context.Context, req AdmissionRequest) AdmissionDecision {
	state := g.cache.Maintenance(ctx)
	if !state.Enabled {
		return AdmissionDecision{Admitted: true}
	}
	if _, ok := g.internalHosts[normalizeHost(req.Host)]; ok {
		return AdmissionDecision{Admitted: true}
	}
	if req.Identity.UserID != nil && g.owners.has(*req.Identity.UserID) {
		return AdmissionDecision{Admitted: true}
	}
	if state.Excludes(req.Identity.RoleIDs) {
		return AdmissionDecision{Admitted: true}
	}

	if g.metrics != nil {
		g.metrics.IncMaintenanceRejection()
	}
	g.logger.Debug("request rejected by maintenance mode", zap.String("host", req.Host))
	return AdmissionDecision{Admitted: false, Message: state.Message}
}

// normalizeHost lower-cases host and strips any port.
func normalizeHost(host string) string {
	host = strings.TrimSpace(host)
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	return strings.ToLower(strings.Trim(host, "[]"))
}
