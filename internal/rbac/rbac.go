package rbac

type Role string
type Action string

const (
	RoleManager Role = "MANAGER"
	RoleMember  Role = "MEMBER"
)

const (
	ActionRead    Action = "read"
	ActionComment Action = "comment"
	ActionWrite   Action = "write"
	ActionManage  Action = "manage"
	ActionDelete  Action = "delete"
)

// Can reports whether a project role grants the action. Managers hold every
// action; members may read, comment and edit documents.
func Can(role Role, action Action) bool {
	switch role {
	case RoleManager:
		return true
	case RoleMember:
		return action == ActionRead || action == ActionComment || action == ActionWrite
	default:
		return false
	}
}

// Parse returns the role for a wire value and whether it is a known role.
func Parse(role string) (Role, bool) {
	switch Role(role) {
	case RoleManager, RoleMember:
		return Role(role), true
	default:
		return "", false
	}
}

// Normalize maps unknown values to the least privileged role.
func Normalize(role string) Role {
	if parsed, ok := Parse(role); ok {
		return parsed
	}
	return RoleMember
}
