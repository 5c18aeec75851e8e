package auth

// Permission represents a named capability in the system.
type Permission string

// Permission constants.
const (
	PermDeviceRead       Permission = "device:read"
	PermCommandIssue     Permission = "command:issue"
	PermScheduleEdit     Permission = "schedule:edit"
	PermRawPublish       Permission = "raw:publish"
	PermConnectionManage Permission = "connection:manage"
	PermAuditRead        Permission = "audit:read"
)

// rolePermissions maps each role to its granted permissions.
// This is the single source of truth for the authorisation model.
var rolePermissions = map[Role][]Permission{
	RoleOperator: {
		PermDeviceRead,
	},
	RoleDeveloper: {
		PermDeviceRead,
		PermCommandIssue,
		PermScheduleEdit,
		PermRawPublish,
		PermConnectionManage,
		PermAuditRead,
	},
}

// HasPermission returns true if the given role has the specified permission.
func HasPermission(role Role, perm Permission) bool {
	perms, ok := rolePermissions[role]
	if !ok {
		return false
	}
	for _, p := range perms {
		if p == perm {
			return true
		}
	}
	return false
}
