package domain

// ValidationResult is the outcome of a permission check. Denials are values, not errors.
type ValidationResult int

const (
	ResultForbidden ValidationResult = iota
	ResultSuccess
	ResultAccountDisabled
)

func (r ValidationResult) String() string {
	switch r {
	case ResultSuccess:
		return "success"
	case ResultAccountDisabled:
		return "account_disabled"
	default:
		return "forbidden"
	}
}

// ValidationRequest carries everything the evaluator needs to decide one permission check.
type ValidationRequest struct {
	UserID                *int64
	RoleIDs               []int64
	FunctionID            string
	PermissionType        PermissionType
	Group                 string
	RoleExtendDataFilters []RoleExtendData
	Conditions            []Condition
}

// TriState is a capability opinion: no opinion, explicitly granted, or explicitly denied.
type TriState uint8

const (
	Unset TriState = iota
	Granted
	Denied
)

// TriStateOf converts an allowed flag into an explicit opinion.
func TriStateOf(allowed bool) TriState {
	if allowed {
		return Granted
	}
	return Denied
}

// Merge combines two opinions from the same priority tier: a grant from either side wins,
// and an unset side keeps the other's value.
func (t TriState) Merge(next TriState) TriState {
	if t == Unset {
		return next
	}
	if t == Granted || next == Granted {
		return Granted
	}
	return Denied
}

// Override applies a higher tier's opinion over a lower tier's; Unset keeps the lower value.
func (t TriState) Override(next TriState) TriState {
	if next == Unset {
		return t
	}
	return next
}

// Capabilities holds one opinion per permission bit.
type Capabilities struct {
	Read   TriState
	Write  TriState
	Delete TriState
}

// Merge applies TriState.Merge field by field.
func (c Capabilities) Merge(next Capabilities) Capabilities {
	return Capabilities{
		Read:   c.Read.Merge(next.Read),
		Write:  c.Write.Merge(next.Write),
		Delete: c.Delete.Merge(next.Delete),
	}
}

// Override applies TriState.Override field by field.
func (c Capabilities) Override(next Capabilities) Capabilities {
	return Capabilities{
		Read:   c.Read.Override(next.Read),
		Write:  c.Write.Override(next.Write),
		Delete: c.Delete.Override(next.Delete),
	}
}

// PermissionType builds the bitmask of explicitly granted capabilities.
func (c Capabilities) PermissionType() PermissionType {
	result := PermissionNone
	if c.Read == Granted {
		result |= PermissionRead
	}
	if c.Write == Granted {
		result |= PermissionWrite
	}
	if c.Delete == Granted {
		result |= PermissionDelete
	}
	return result
}

// DeleteMapping selects which rule bit carries the Delete opinion.
type DeleteMapping int

const (
	// DeleteFromRead derives Delete from the Read bit. Stored rules depend on that mapping.
	DeleteFromRead DeleteMapping = iota
	// DeleteFromDelete derives Delete from the Delete bit.
	DeleteFromDelete
)

// RuleCapabilities derives the opinions a single rule expresses.
func RuleCapabilities(rule PermissionRule, mapping DeleteMapping) Capabilities {
	var caps Capabilities
	opinion := TriStateOf(rule.Allowed)
	if rule.PermissionType.Has(PermissionRead) {
		caps.Read = opinion
	}
	if rule.PermissionType.Has(PermissionWrite) {
		caps.Write = opinion
	}
	deleteBit := PermissionRead
	if mapping == DeleteFromDelete {
		deleteBit = PermissionDelete
	}
	if rule.PermissionType.Has(deleteBit) {
		caps.Delete = opinion
	}
	return caps
}
