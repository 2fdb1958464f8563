package domain

import (
	"strconv"
	"strings"
	"time"
)

// PermissionType is a bitmask of the access capabilities a rule confers.
type PermissionType int

const (
	PermissionNone   PermissionType = 0
	PermissionRead   PermissionType = 1
	PermissionWrite  PermissionType = 2
	PermissionDelete PermissionType = 4

	PermissionAll = PermissionRead | PermissionWrite | PermissionDelete
)

// Has reports whether every bit of other is present in t.
func (t PermissionType) Has(other PermissionType) bool {
	return t&other == other
}

// String renders the bitmask as a pipe separated list, e.g. "Read|Write".
func (t PermissionType) String() string {
	if t == PermissionNone {
		return "None"
	}
	parts := make([]string, 0, 3)
	if t.Has(PermissionRead) {
		parts = append(parts, "Read")
	}
	if t.Has(PermissionWrite) {
		parts = append(parts, "Write")
	}
	if t.Has(PermissionDelete) {
		parts = append(parts, "Delete")
	}
	return strings.Join(parts, "|")
}

// ParsePermissionType accepts either a numeric bitmask or a pipe/comma separated list of names.
func ParsePermissionType(value string) (PermissionType, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return PermissionNone, false
	}
	if n, err := strconv.Atoi(value); err == nil {
		if n < 0 || PermissionType(n)&^PermissionAll != 0 {
			return PermissionNone, false
		}
		return PermissionType(n), true
	}
	var result PermissionType
	for _, part := range strings.FieldsFunc(value, func(r rune) bool { return r == '|' || r == ',' }) {
		switch strings.ToLower(strings.TrimSpace(part)) {
		case "none":
		case "read":
			result |= PermissionRead
		case "write":
			result |= PermissionWrite
		case "delete":
			result |= PermissionDelete
		default:
			return PermissionNone, false
		}
	}
	return result, true
}

// PermissionRule identifies a function and the access a grant of the owning permission confers.
type PermissionRule struct {
	ID             int64
	PermissionID   int64
	FunctionID     string
	Priority       int
	PermissionType PermissionType
	Allowed        bool
}

// RolePermission is an unconditional grant of a permission to a role.
type RolePermission struct {
	RoleID       int64
	PermissionID int64
}

// RolePermissionCondition is a grant that only applies when a request condition matches.
type RolePermissionCondition struct {
	ID           int64
	RoleID       int64
	PermissionID int64
	Priority     int
	Group        *string
	Key          string
	Value        string
	Allowed      bool
}

// UserPermissionCondition is a per-user conditional grant. A nil ExpireDate never expires.
type UserPermissionCondition struct {
	ID           int64
	UserID       int64
	PermissionID int64
	Priority     int
	Group        *string
	Key          string
	Value        string
	Allowed      bool
	ExpireDate   *time.Time
}

// Active reports whether the condition is still in force at the given instant.
func (c UserPermissionCondition) Active(at time.Time) bool {
	return c.ExpireDate == nil || c.ExpireDate.After(at)
}

// ConditionWildcard matches any value supplied by the caller for the same key.
const ConditionWildcard = "*"

// Condition is a caller supplied key/value attribute.
type Condition struct {
	Key   string
	Value string
}

// RoleExtendData is a key/value tag attached to a role.
type RoleExtendData struct {
	Key   string
	Value string
}

// Role is a named permission grouping with optional tags.
type Role struct {
	ID         int64
	Name       string
	Disabled   bool
	ExtendData []RoleExtendData
}

// Route maps an HTTP method and path registered on the gateway to a protected function.
type Route struct {
	ID               int64
	Group            string
	Protocol         string
	HTTPMethod       string
	RelativePath     string
	FunctionID       string
	NativePermission PermissionType
	AllowAnonymous   bool
}
