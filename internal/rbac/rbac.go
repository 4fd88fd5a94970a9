package rbac

type Role string
type Action string

const (
	RoleClient       Role = "client"
	RoleCollaborator Role = "collaborator"
	RoleAdmin        Role = "admin"
	RoleSuperadmin   Role = "superadmin"
)

const (
	ActionChecklistRead   Action = "checklist.read"
	ActionChecklistWrite  Action = "checklist.write"
	ActionVerifyRun       Action = "verify.run"
	ActionUsersManage     Action = "users.manage"
	ActionManageSuperuser Action = "users.manage_superadmin"
)

// Roles lists every assignable role, most privileged first.
var Roles = []Role{RoleSuperadmin, RoleAdmin, RoleCollaborator, RoleClient}

func Can(role Role, action Action) bool {
	switch role {
	case RoleSuperadmin:
		return true
	case RoleAdmin:
		return action != ActionManageSuperuser
	case RoleCollaborator:
		return action == ActionChecklistRead || action == ActionChecklistWrite || action == ActionVerifyRun
	case RoleClient:
		return action == ActionChecklistRead || action == ActionChecklistWrite
	default:
		return false
	}
}

// Valid reports whether role names one of Roles exactly.
func Valid(role string) bool {
	for _, r := range Roles {
		if Role(role) == r {
			return true
		}
	}
	return false
}

func Normalize(role string) Role {
	if Valid(role) {
		return Role(role)
	}
	return RoleClient
}
