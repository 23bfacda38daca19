package access_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/cenie/accessd/internal/domain/access"
)

func TestHasRole_Hierarchy(t *testing.T) {
	assert.True(t, access.HasRole("editor", "viewer"))
	assert.False(t, access.HasRole("viewer", "editor"))
	assert.True(t, access.HasRole("admin", "admin"))
	assert.True(t, access.HasRole("admin", "editor"))
	assert.True(t, access.HasRole("editor", "editor"))

	assert.True(t, access.HasRole("instructor", "student"))
	assert.False(t, access.HasRole("student", "instructor"))
	assert.True(t, access.HasRole("admin", "user"))
	assert.True(t, access.HasRole("admin", "manager"))
}

func TestHasRole_UnknownRoleNeverSatisfiesRealRole(t *testing.T) {
	for _, required := range []string{"viewer", "user", "student", "client", "editor", "admin"} {
		assert.False(t, access.HasRole("superuser", required), "required %s", required)
		assert.False(t, access.HasRole("", required), "required %s", required)
		assert.False(t, access.HasRole("Edtior", required), "required %s", required)
	}
}

func TestRoleLevel(t *testing.T) {
	assert.Equal(t, 1, access.RoleLevel("viewer"))
	assert.Equal(t, 2, access.RoleLevel("editor"))
	assert.Equal(t, 3, access.RoleLevel("admin"))
	assert.Equal(t, 1, access.RoleLevel("student"))
	assert.Equal(t, 2, access.RoleLevel("instructor"))
	assert.Equal(t, 0, access.RoleLevel("invalid"))
}

func TestParseRole_RoundTripsKnownNames(t *testing.T) {
	for _, name := range []string{"viewer", "user", "student", "client", "editor", "instructor", "manager", "admin"} {
		role := access.ParseRole(name)
		assert.NotEqual(t, access.RoleUnknown, role, name)
		assert.Equal(t, name, role.String())
	}
	assert.Equal(t, access.RoleEditor, access.ParseRole("  Editor "))
	assert.Equal(t, "unknown", access.ParseRole("root").String())
}

func TestIsValidRoleForApp(t *testing.T) {
	assert.True(t, access.IsValidRoleForApp(access.AppEditorial, access.RoleEditor))
	assert.False(t, access.IsValidRoleForApp(access.AppEditorial, access.RoleInstructor))
	assert.True(t, access.IsValidRoleForApp(access.AppEditorial, access.RoleAdmin))
	assert.True(t, access.IsValidRoleForApp(access.AppHub, access.RoleUser))
	assert.True(t, access.IsValidRoleForApp(access.AppAgency, access.RoleManager))
	assert.False(t, access.IsValidRoleForApp(access.AppAcademy, access.RoleUnknown))
	assert.False(t, access.IsValidRoleForApp(access.AppName("billing"), access.RoleAdmin))
}

func TestParseAppName(t *testing.T) {
	app, err := access.ParseAppName("editorial")
	assert.NoError(t, err)
	assert.Equal(t, access.AppEditorial, app)

	_, err = access.ParseAppName("billing")
	assert.ErrorIs(t, err, access.ErrUnknownApplication)

	_, err = access.ParseAppName("")
	assert.ErrorIs(t, err, access.ErrUnknownApplication)
}
