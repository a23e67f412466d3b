package auth

// Role is the coarse permission level carried in API tokens. Roles are
// strictly ordered, so a higher role implies everything below it.
type Role string

const (
	// RoleViewer reads alarms, profiles and exports.
	RoleViewer Role = "viewer"
	// RoleOperator additionally acknowledges and clears alarms.
	RoleOperator Role = "operator"
	// RoleAdmin additionally edits device profiles.
	RoleAdmin Role = "admin"
)

var roleRanks = map[Role]int{
	RoleViewer:   1,
	RoleOperator: 2,
	RoleAdmin:    3,
}

// NormalizeRole maps a token's role claim onto a known role. An unknown claim
// yields no role at all rather than a zero-privilege one.
func NormalizeRole(value string) (Role, bool) {
	role := Role(value)
	if _, ok := roleRanks[role]; !ok {
		return "", false
	}
	return role, true
}

// RoleAtLeast reports whether role grants the permissions of required.
func RoleAtLeast(role, required Role) bool {
	return roleRanks[role] >= roleRanks[required]
}
