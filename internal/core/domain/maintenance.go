package domain

// MaintenanceState is the process-wide maintenance switch stored by operators.
type MaintenanceState struct {
	Enabled      bool    `json:"enabled"`
	Message      string  `json:"message,omitempty"`
	ExcludeRoles []int64 `json:"excludeRoles,omitempty"`
}

// Excludes reports whether any of the given roles bypasses maintenance.
func (m MaintenanceState) Excludes(roleIDs []int64) bool {
	for _, excluded := range m.ExcludeRoles {
		for _, id := range roleIDs {
			if id == excluded {
				return true
			}
		}
	}
	return false
}
