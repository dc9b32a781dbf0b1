package auth

import "strings"

// Role is the access level carried in a token's role claim.
type Role string

const (
	// RoleViewer reads alerts for its own facility.
	RoleViewer Role = "viewer"
	// RoleOperator may also submit sensor readings.
	RoleOperator Role = "operator"
	// RoleAdmin manages rules across all facilities.
	RoleAdmin Role = "admin"
)

var roleRanks = map[Role]int{
	RoleViewer:   1,
	RoleOperator: 2,
	RoleAdmin:    3,
}

// NormalizeRole maps a claim value such as " Operator" onto a known role.
func NormalizeRole(value string) (Role, bool) {
	role := Role(strings.ToLower(strings.TrimSpace(value)))
	if _, ok := roleRanks[role]; !ok {
		return "", false
	}
	return role, true
}

// Allows reports whether r grants at least the access of required.
// Unknown roles allow nothing.
func (r Role) Allows(required Role) bool {
	rank, ok := roleRanks[r]
	return ok && rank >= roleRanks[required]
}
