package usecase

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/arklim/platform-authz/internal/core/domain"
	"github.com/arklim/platform-authz/internal/core/port"
)

const tracerName = "github.com/arklim/platform-authz/internal/usecase"

// PolicyEvaluator decides permission checks against the cached rule snapshots.
// It only reads shared state and is safe for concurrent use.
type PolicyEvaluator struct {
	cache    *PermissionCache
	identity *IdentityCache
	owners   idSet
	mapping  domain.DeleteMapping
	logger   *zap.Logger
	metrics  port.PolicyMetrics
	tracer   trace.Tracer
	now      func() time.Time
}

// NewPolicyEvaluator constructs an evaluator. Owners bypass every check.
func NewPolicyEvaluator(cache *PermissionCache, identity *IdentityCache, owners []int64) *PolicyEvaluator {
	return &PolicyEvaluator{
		cache:    cache,
		identity: identity,
		owners:   newIDSet(owners...),
		logger:   zap.NewNop(),
		tracer:   otel.Tracer(tracerName),
		now:      time.Now,
	}
}

// WithLogger attaches a structured logger.
func (e *PolicyEvaluator) WithLogger(logger *zap.Logger) *PolicyEvaluator {
	if logger != nil {
		e.logger = logger
	}
	return e
}

// WithMetrics wires decision telemetry.
func (e *PolicyEvaluator) WithMetrics(metrics port.PolicyMetrics) *PolicyEvaluator {
	if metrics != nil {
		e.metrics = metrics
	}
	return e
}

// WithTracer overrides the tracer used for decision spans.
func (e *PolicyEvaluator) WithTracer(tracer trace.Tracer) *PolicyEvaluator {
	if tracer != nil {
		e.tracer = tracer
	}
	return e
}

// WithDeleteMapping selects which rule bit grants Delete. The default derives it from Read.
func (e *PolicyEvaluator) WithDeleteMapping(mapping domain.DeleteMapping) *PolicyEvaluator {
	e.mapping = mapping
	return e
}

// WithNow overrides the clock used for expiry checks.
func (e *PolicyEvaluator) WithNow(now func() time.Time) *PolicyEvaluator {
	if now != nil {
		e.now = now
	}
	return e
}

// IsOwner reports whether userID is a configured owner.
func (e *PolicyEvaluator) IsOwner(userID *int64) bool {
	return userID != nil && e.owners.has(*userID)
}

// CheckRequest rejects requests that name no function or no capability.
func CheckRequest(req domain.ValidationRequest) error {
	if strings.TrimSpace(req.FunctionID) == "" {
		return fmt.Errorf("%w: function id is required", ErrInvalidRequest)
	}
	if req.PermissionType == domain.PermissionNone || req.PermissionType&^domain.PermissionAll != 0 {
		return fmt.Errorf("%w: unsupported permission type %d", ErrInvalidRequest, int(req.PermissionType))
	}
	return nil
}

// Validate evaluates req. Denials are returned as results; an error is only returned when a
// cold cache load fails or ctx ends, in which case the result is ResultForbidden.
func (e *PolicyEvaluator) Validate(ctx context.Context, req domain.ValidationRequest) (domain.ValidationResult, error) {
	started := e.now()
	ctx, span := e.tracer.Start(ctx, "PolicyEvaluator.Validate", trace.WithAttributes(
		attribute.String("authz.function_id", req.FunctionID),
		attribute.String("authz.permission_type", req.PermissionType.String()),
	))
	defer span.End()

	result, err := e.validate(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		e.logger.Warn("permission validation failed",
			zap.String("function_id", req.FunctionID),
			zap.Error(err),
		)
	}
	span.SetAttributes(attribute.String("authz.result", result.String()))
	if e.metrics != nil {
		e.metrics.ObserveDecision(result, e.now().Sub(started))
	}
	return result, err
}

func (e *PolicyEvaluator) validate(ctx context.Context, req domain.ValidationRequest) (domain.ValidationResult, error) {
	rules, err := e.cache.PermissionRules(ctx)
	if err != nil {
		return domain.ResultForbidden, err
	}
	if len(rules) == 0 {
		return domain.ResultForbidden, nil
	}

	if e.IsOwner(req.UserID) {
		return domain.ResultSuccess, nil
	}

	roleIDs, result, err := e.resolveRoles(ctx, req)
	if err != nil || result != domain.ResultSuccess {
		return result, err
	}
	if err := ctx.Err(); err != nil {
		return domain.ResultForbidden, err
	}

	candidates, err := e.candidatePermissions(ctx, req, roleIDs)
	if err != nil {
		return domain.ResultForbidden, err
	}
	if err := ctx.Err(); err != nil {
		return domain.ResultForbidden, err
	}

	functionID := normalizeFunctionID(req.FunctionID)
	matched := Where(rules, func(rule domain.PermissionRule) bool {
		return rule.FunctionID == functionID && candidates.has(rule.PermissionID)
	})
	if len(matched) == 0 {
		return domain.ResultForbidden, nil
	}

	for _, granted := range foldRules(matched, e.mapping) {
		if granted.Has(req.PermissionType) {
			return domain.ResultSuccess, nil
		}
	}
	return domain.ResultForbidden, nil
}

// resolveRoles computes the effective role set. A non-success result short-circuits evaluation.
func (e *PolicyEvaluator) resolveRoles(ctx context.Context, req domain.ValidationRequest) ([]int64, domain.ValidationResult, error) {
	roleIDs := req.RoleIDs

	if req.UserID != nil {
		user, err := e.identity.User(ctx, *req.UserID)
		if err != nil {
			return nil, domain.ResultForbidden, err
		}
		if user == nil {
			return nil, domain.ResultForbidden, nil
		}
		if user.Disabled {
			return nil, domain.ResultAccountDisabled, nil
		}
		active := user.ActiveRoleIDs(e.now())
		if len(active) == 0 {
			return nil, domain.ResultForbidden, nil
		}
		if len(req.RoleIDs) > 0 {
			roleIDs = intersect(active, req.RoleIDs)
		} else {
			roleIDs = active
		}
	}

	if len(req.RoleExtendDataFilters) > 0 {
		matching, err := e.identity.RolesMatching(ctx, roleFilters(req.RoleExtendDataFilters))
		if err != nil {
			return nil, domain.ResultForbidden, err
		}
		roleIDs = intersect(roleIDs, matching)
	}

	roleIDs = distinct(roleIDs)
	if len(roleIDs) == 0 {
		return nil, domain.ResultForbidden, nil
	}
	return roleIDs, domain.ResultSuccess, nil
}

// candidatePermissions returns the permission ids reachable by the role set, widened by
// matching conditional grants when the caller supplied conditions.
func (e *PolicyEvaluator) candidatePermissions(ctx context.Context, req domain.ValidationRequest, roleIDs []int64) (idSet, error) {
	roles := newIDSet(roleIDs...)

	grants, err := e.cache.RolePermissions(ctx)
	if err != nil {
		return nil, err
	}
	candidates := make(idSet)
	for _, grant := range grants {
		if roles.has(grant.RoleID) {
			candidates[grant.PermissionID] = struct{}{}
		}
	}

	// Without request conditions only direct grants count.
	if len(req.Conditions) == 0 {
		return candidates, nil
	}

	wanted := conditionValues(req.Conditions)
	group := strings.TrimSpace(req.Group)

	roleConditions, err := e.cache.RolePermissionConditions(ctx)
	if err != nil {
		return nil, err
	}
	roleMatch := And[domain.RolePermissionCondition](
		func(row domain.RolePermissionCondition) bool { return roles.has(row.RoleID) },
		func(row domain.RolePermissionCondition) bool { return groupMatches(row.Group, group) },
		func(row domain.RolePermissionCondition) bool { return wanted.matches(row.Key, row.Value) },
	)
	for _, row := range Where(roleConditions, roleMatch) {
		candidates[row.PermissionID] = struct{}{}
	}

	if req.UserID == nil {
		return candidates, nil
	}
	userConditions, err := e.cache.UserPermissionConditions(ctx)
	if err != nil {
		return nil, err
	}
	userID, now := *req.UserID, e.now()
	userMatch := And[domain.UserPermissionCondition](
		func(row domain.UserPermissionCondition) bool { return row.UserID == userID && row.Active(now) },
		func(row domain.UserPermissionCondition) bool { return groupMatches(row.Group, group) },
		func(row domain.UserPermissionCondition) bool { return wanted.matches(row.Key, row.Value) },
	)
	for _, row := range Where(userConditions, userMatch) {
		candidates[row.PermissionID] = struct{}{}
	}
	return candidates, nil
}

// foldRules merges rules per function and priority, then applies tiers in ascending priority.
func foldRules(rules []domain.PermissionRule, mapping domain.DeleteMapping) map[string]domain.PermissionType {
	tiers := make(map[string]map[int]domain.Capabilities)
	for _, rule := range rules {
		byPriority, ok := tiers[rule.FunctionID]
		if !ok {
			byPriority = make(map[int]domain.Capabilities)
			tiers[rule.FunctionID] = byPriority
		}
		byPriority[rule.Priority] = byPriority[rule.Priority].Merge(domain.RuleCapabilities(rule, mapping))
	}

	out := make(map[string]domain.PermissionType, len(tiers))
	for functionID, byPriority := range tiers {
		priorities := make([]int, 0, len(byPriority))
		for priority := range byPriority {
			priorities = append(priorities, priority)
		}
		sort.Ints(priorities)

		var folded domain.Capabilities
		for _, priority := range priorities {
			folded = folded.Override(byPriority[priority])
		}
		out[functionID] = folded.PermissionType()
	}
	return out
}

// groupMatches applies the condition group scoping: an empty request group only matches
// ungrouped rows; otherwise ungrouped rows and rows of the same group match.
func groupMatches(rowGroup *string, requestGroup string) bool {
	ungrouped := rowGroup == nil || strings.TrimSpace(*rowGroup) == ""
	if requestGroup == "" {
		return ungrouped
	}
	return ungrouped || strings.TrimSpace(*rowGroup) == requestGroup
}

type conditionFilter map[string]map[string]struct{}

func conditionValues(conditions []domain.Condition) conditionFilter {
	filter := make(conditionFilter, len(conditions))
	for _, cond := range conditions {
		key := strings.ToUpper(strings.TrimSpace(cond.Key))
		if _, ok := filter[key]; !ok {
			filter[key] = make(map[string]struct{})
		}
		filter[key][strings.ToUpper(cond.Value)] = struct{}{}
	}
	return filter
}

// matches expects key and value already upper-cased, as the cache stores them.
func (f conditionFilter) matches(key, value string) bool {
	values, ok := f[key]
	if !ok {
		return false
	}
	if value == domain.ConditionWildcard {
		return true
	}
	_, ok = values[value]
	return ok
}

func roleFilters(tags []domain.RoleExtendData) []port.RoleFilter {
	index := make(map[string]int, len(tags))
	filters := make([]port.RoleFilter, 0, len(tags))
	for _, tag := range tags {
		key := strings.ToUpper(strings.TrimSpace(tag.Key))
		value := strings.ToUpper(strings.TrimSpace(tag.Value))
		if pos, ok := index[key]; ok {
			filters[pos].Values = append(filters[pos].Values, value)
			continue
		}
		index[key] = len(filters)
		filters = append(filters, port.RoleFilter{Key: key, Values: []string{value}})
	}
	return filters
}

func normalizeFunctionID(functionID string) string {
	return strings.ToUpper(strings.TrimSpace(functionID))
}
