package access

import (
	"fmt"
	"strings"
	"time"
)

// AppName identifies one of the independently deployed applications sharing
// the identity provider. The set is closed.
type AppName string

const (
	AppHub       AppName = "hub"
	AppEditorial AppName = "editorial"
	AppAcademy   AppName = "academy"
	AppAgency    AppName = "agency"
)

func (a AppName) Valid() bool {
	switch a {
	case AppHub, AppEditorial, AppAcademy, AppAgency:
		return true
	default:
		return false
	}
}

func (a AppName) String() string {
	return string(a)
}

// ParseAppName validates a raw application name at the boundary.
func ParseAppName(raw string) (AppName, error) {
	app := AppName(strings.TrimSpace(raw))
	if !app.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownApplication, raw)
	}
	return app, nil
}

// AccessData is the effect of a grant as seen by an authorization check.
//
//nolint:revive // AccessData keeps the domain name in the type for clarity
type AccessData struct {
	HasAccess bool
	Role      string
	IsActive  bool
}

// NoAccess is the fail-closed answer.
func NoAccess() AccessData {
	return AccessData{}
}

// Grant is the authoritative record of one user's standing in one application.
// Revocation flips IsActive; records are never deleted.
type Grant struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	AppName   AppName   `json:"appName"`
	Role      string    `json:"role"`
	IsActive  bool      `json:"isActive"`
	GrantedAt time.Time `json:"grantedAt"`
	// GrantedBy is empty for system grants.
	GrantedBy string    `json:"grantedBy,omitempty"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func (g *Grant) AccessData() AccessData {
	if g == nil || !g.IsActive {
		return NoAccess()
	}
	return AccessData{
		HasAccess: true,
		Role:      g.Role,
		IsActive:  g.IsActive,
	}
}
