package access

import "strings"

// Role is the closed set of roles understood by the hierarchy. Stored role
// strings are mapped onto it at the boundary; anything unrecognised becomes
// RoleUnknown, which sits below every real role.
type Role uint8

const (
	RoleUnknown Role = iota
	RoleViewer
	RoleUser
	RoleStudent
	RoleClient
	RoleEditor
	RoleInstructor
	RoleManager
	RoleAdmin
)

const (
	levelNone   = 0
	levelBasic  = 1
	levelEditor = 2
	levelAdmin  = 3
)

var roleNames = map[Role]string{
	RoleViewer:     "viewer",
	RoleUser:       "user",
	RoleStudent:    "student",
	RoleClient:     "client",
	RoleEditor:     "editor",
	RoleInstructor: "instructor",
	RoleManager:    "manager",
	RoleAdmin:      "admin",
}

// appRoles lists the app-specific roles. admin is valid everywhere.
var appRoles = map[AppName][]Role{
	AppHub:       {RoleUser},
	AppEditorial: {RoleViewer, RoleEditor},
	AppAcademy:   {RoleStudent, RoleInstructor},
	AppAgency:    {RoleClient, RoleManager},
}

// ParseRole never fails: unknown strings map to RoleUnknown.
func ParseRole(raw string) Role {
	name := strings.ToLower(strings.TrimSpace(raw))
	for role, n := range roleNames {
		if n == name {
			return role
		}
	}
	return RoleUnknown
}

func (r Role) String() string {
	if name, ok := roleNames[r]; ok {
		return name
	}
	return "unknown"
}

// Level is the role's position in the hierarchy: viewer=1 < editor=2 < admin=3.
func (r Role) Level() int {
	switch r {
	case RoleViewer, RoleUser, RoleStudent, RoleClient:
		return levelBasic
	case RoleEditor, RoleInstructor, RoleManager:
		return levelEditor
	case RoleAdmin:
		return levelAdmin
	default:
		return levelNone
	}
}

// Satisfies reports whether r is at or above minimum.
func (r Role) Satisfies(minimum Role) bool {
	return r.Level() >= minimum.Level()
}

// HasRole compares two raw role strings through the hierarchy.
func HasRole(userRole, requiredRole string) bool {
	return ParseRole(userRole).Satisfies(ParseRole(requiredRole))
}

// RoleLevel returns the numeric level of a raw role string, 0 when unknown.
func RoleLevel(role string) int {
	return ParseRole(role).Level()
}

// IsValidRoleForApp reports whether role may be granted on app.
func IsValidRoleForApp(app AppName, role Role) bool {
	if role == RoleAdmin {
		return app.Valid()
	}
	for _, r := range appRoles[app] {
		if r == role {
			return true
		}
	}
	return false
}
