package rbac

// Role names. Keep these stable; they are part of the auth contract
// and appear inside issued tokens.
const (
	// RoleAdmin manages everything, including DNC overrides.
	RoleAdmin = "admin"

	// RoleManager runs campaigns: create, start, stop, single dials.
	RoleManager = "campaign_manager"

	// RoleAnalyst has read-only access to calls and stats.
	RoleAnalyst = "analyst"
)

func IsAdmin(role string) bool { return role == RoleAdmin }

func Known(role string) bool {
	switch role {
	case RoleAdmin, RoleManager, RoleAnalyst:
		return true
	default:
		return false
	}
}
