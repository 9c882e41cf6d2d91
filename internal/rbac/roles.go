package rbac

// Role names. Keep these stable; they are part of auth/RBAC contracts.
const (
	RoleOwner      = "owner"
	RoleSupervisor = "supervisor"
	RoleAgent      = "agent"
	RoleSuperAdmin = "super_admin"
)

// Managers may administer agents and read reports.
var Managers = []string{RoleOwner, RoleSupervisor}

func IsSuperAdmin(role string) bool { return role == RoleSuperAdmin }

func IsKnownRole(role string) bool {
	switch role {
	case RoleOwner, RoleSupervisor, RoleAgent, RoleSuperAdmin:
		return true
	default:
		return false
	}
}
