package domain

import "time"

// UserRole is a role membership. A nil ExpireDate never expires.
type UserRole struct {
	RoleID     int64
	ExpireDate *time.Time
}

// Active reports whether the membership is still in force at the given instant.
func (r UserRole) Active(at time.Time) bool {
	return r.ExpireDate == nil || r.ExpireDate.After(at)
}

// User is the subset of the account record the policy engine needs.
type User struct {
	ID       int64
	Disabled bool
	Roles    []UserRole
}

// ActiveRoleIDs returns the ids of memberships that have not expired at the given instant.
func (u User) ActiveRoleIDs(at time.Time) []int64 {
	ids := make([]int64, 0, len(u.Roles))
	for _, role := range u.Roles {
		if role.Active(at) {
			ids = append(ids, role.RoleID)
		}
	}
	return ids
}

// Identity is the validated caller attached to a request by the authentication layer.
type Identity struct {
	UserID  *int64
	RoleIDs []int64
	TokenID *int64
}
