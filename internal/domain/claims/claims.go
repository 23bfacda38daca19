// Package claims projects a subject's active grants into the compact
// summary embedded in their future session credentials.
package claims

import (
	"errors"
	"fmt"
	"sort"

	"github.com/cenie/accessd/internal/domain/access"
)

// DefaultMaxBytes is the identity provider's cap on serialized custom claims.
const DefaultMaxBytes = 1000

var (
	ErrClaimsTooLarge = errors.New("custom claims exceed identity provider limit")
	ErrSyncFailed     = errors.New("custom claims sync failed")
)

type SizeError struct {
	UserID string
	Size   int
	Limit  int
}

func (e *SizeError) Error() string {
	return fmt.Sprintf("%v: %d bytes for user %s, limit %d", ErrClaimsTooLarge, e.Size, e.UserID, e.Limit)
}

func (e *SizeError) Is(target error) bool {
	return target == ErrClaimsTooLarge
}

// Summary is the embedded projection: the apps a subject can use and their
// role in each.
type Summary struct {
	Apps  []string          `json:"apps"`
	Roles map[string]string `json:"roles"`
}

// Build summarises active grants. Apps are sorted so identical grant sets
// always serialize identically.
func Build(grants []*access.Grant) Summary {
	s := Summary{
		Apps:  []string{},
		Roles: make(map[string]string),
	}
	for _, g := range grants {
		if g == nil || !g.IsActive {
			continue
		}
		app := string(g.AppName)
		if _, seen := s.Roles[app]; !seen {
			s.Apps = append(s.Apps, app)
		}
		s.Roles[app] = g.Role
	}
	sort.Strings(s.Apps)
	return s
}

func (s Summary) Map() map[string]any {
	return map[string]any{
		"apps":  s.Apps,
		"roles": s.Roles,
	}
}
