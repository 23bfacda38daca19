// Package handler holds the gin handlers for sessions and access grants.
// Handlers behind WithAuth or WithRole take the resolved caller as their
// second argument.
package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	accessapp "github.com/cenie/accessd/internal/app/access"
	"github.com/cenie/accessd/internal/domain/access"
	"github.com/cenie/accessd/internal/domain/session"
	"github.com/cenie/accessd/pkg/logger"
)

type AccessCommands interface {
	GrantAccess(ctx context.Context, userID string, app access.AppName, role, grantedBy string) (*access.Grant, error)
	BulkGrantAccess(ctx context.Context, userIDs []string, app access.AppName, role, grantedBy string) []accessapp.BulkResult
	RevokeAccess(ctx context.Context, userID string, app access.AppName) error
}

type AccessQueries interface {
	AppAccess(ctx context.Context, userID string, app access.AppName) (accessapp.AppAccess, error)
	ListGrants(ctx context.Context, userID string, activeOnly bool) ([]*access.Grant, error)
}

type AccessHandler struct {
	commands AccessCommands
	queries  AccessQueries
}

func NewAccessHandler(commands AccessCommands, queries AccessQueries) *AccessHandler {
	return &AccessHandler{
		commands: commands,
		queries:  queries,
	}
}

// Me reports the caller. Role is the placeholder until an app check runs.
func (h *AccessHandler) Me(c *gin.Context, user *session.AuthenticatedUser) {
	c.JSON(http.StatusOK, gin.H{
		"uid":   user.UID,
		"email": user.Email,
		"role":  user.Role,
	})
}

func (h *AccessHandler) MyApps(c *gin.Context, user *session.AuthenticatedUser) {
	grants, err := h.queries.ListGrants(c.Request.Context(), user.UID, true)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"grants": nonNil(grants)})
}

type appAccessResponse struct {
	HasAccess bool       `json:"hasAccess"`
	Role      *string    `json:"role"`
	GrantedAt *time.Time `json:"grantedAt,omitempty"`
}

func (h *AccessHandler) MyAppAccess(c *gin.Context, user *session.AuthenticatedUser) {
	app, err := access.ParseAppName(c.Param("app"))
	if err != nil {
		writeError(c, err)
		return
	}

	result, err := h.queries.AppAccess(c.Request.Context(), user.UID, app)
	if err != nil {
		writeError(c, err)
		return
	}

	resp := appAccessResponse{HasAccess: result.HasAccess, GrantedAt: result.GrantedAt}
	if result.HasAccess {
		role := result.Role
		resp.Role = &role
	}
	c.JSON(http.StatusOK, resp)
}

type grantRequest struct {
	Role string `json:"role"`
}

// Grant creates or updates the subject's grant; the caller is recorded as
// the granter.
func (h *AccessHandler) Grant(c *gin.Context, user *session.AuthenticatedUser) {
	app, err := access.ParseAppName(c.Param("app"))
	if err != nil {
		writeError(c, err)
		return
	}

	var req grantRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	grant, err := h.commands.GrantAccess(c.Request.Context(), c.Param("uid"), app, req.Role, user.UID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, grant)
}

type bulkGrantRequest struct {
	UserIDs []string `json:"userIds"`
	Role    string   `json:"role"`
}

type bulkGrantResult struct {
	UserID string        `json:"userId"`
	OK     bool          `json:"ok"`
	Grant  *access.Grant `json:"grant,omitempty"`
	Error  string        `json:"error,omitempty"`
}

func (h *AccessHandler) BulkGrant(c *gin.Context, user *session.AuthenticatedUser) {
	app, err := access.ParseAppName(c.Param("app"))
	if err != nil {
		writeError(c, err)
		return
	}

	var req bulkGrantRequest
	if err := c.ShouldBindJSON(&req); err != nil || len(req.UserIDs) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "userIds is required"})
		return
	}
	// Reject an invalid role once instead of failing every subject.
	if !access.IsValidRoleForApp(app, access.ParseRole(req.Role)) {
		writeError(c, access.ErrInvalidRole)
		return
	}

	results := h.commands.BulkGrantAccess(c.Request.Context(), req.UserIDs, app, req.Role, user.UID)
	out := make([]bulkGrantResult, 0, len(results))
	for _, r := range results {
		item := bulkGrantResult{UserID: r.UserID, OK: r.Err == nil, Grant: r.Grant}
		if r.Err != nil {
			item.Error = publicMessage(r.Err)
		}
		out = append(out, item)
	}
	c.JSON(http.StatusOK, gin.H{"results": out})
}

func (h *AccessHandler) Revoke(c *gin.Context, _ *session.AuthenticatedUser) {
	app, err := access.ParseAppName(c.Param("app"))
	if err != nil {
		writeError(c, err)
		return
	}

	if err := h.commands.RevokeAccess(c.Request.Context(), c.Param("uid"), app); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// UserGrants returns every record for the subject, revoked ones included.
func (h *AccessHandler) UserGrants(c *gin.Context, _ *session.AuthenticatedUser) {
	grants, err := h.queries.ListGrants(c.Request.Context(), c.Param("uid"), false)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"grants": nonNil(grants)})
}

func writeError(c *gin.Context, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		logger.ErrorContext(c.Request.Context(), "access request failed",
			slog.String("path", c.Request.URL.Path),
			slog.String("error", err.Error()),
		)
	}
	c.JSON(status, gin.H{"error": publicMessage(err)})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, access.ErrUnknownApplication),
		errors.Is(err, access.ErrInvalidRole),
		errors.Is(err, access.ErrEmptySubject):
		return http.StatusBadRequest
	case errors.Is(err, session.ErrUnauthenticated):
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

func publicMessage(err error) string {
	if statusFor(err) == http.StatusInternalServerError {
		return "Internal server error"
	}
	return err.Error()
}

func nonNil(grants []*access.Grant) []*access.Grant {
	if grants == nil {
		return []*access.Grant{}
	}
	return grants
}
