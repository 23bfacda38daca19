package handler

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"

	"github.com/cenie/accessd/internal/domain/access"
	"github.com/cenie/accessd/internal/domain/session"
	"github.com/cenie/accessd/pkg/logger"
	"github.com/cenie/accessd/pkg/tracer"
)

type SessionCreator interface {
	Create(ctx context.Context, idToken string, app access.AppName, expiresIn time.Duration) (string, time.Duration, error)
}

// CookieConfig shapes the session cookie. The cookie is always HTTP-only,
// SameSite=Lax and scoped to "/".
type CookieConfig struct {
	Name   string
	Secure bool
	// MaxAge is used when the request does not name an expiry.
	MaxAge time.Duration
}

type SessionHandler struct {
	sessions SessionCreator
	cookie   CookieConfig
}

func NewSessionHandler(sessions SessionCreator, cookie CookieConfig) *SessionHandler {
	if cookie.Name == "" {
		cookie.Name = "session"
	}
	if cookie.MaxAge <= 0 || cookie.MaxAge > session.MaxDuration {
		cookie.MaxAge = session.MaxDuration
	}
	return &SessionHandler{
		sessions: sessions,
		cookie:   cookie,
	}
}

type createSessionRequest struct {
	IDToken string `json:"idToken"`
	App     string `json:"app"`
	// ExpiresIn is in milliseconds.
	ExpiresIn int64 `json:"expiresIn"`
}

// Create exchanges an ID token for a session cookie.
func (h *SessionHandler) Create(c *gin.Context) {
	ctx, span := tracer.Start(c.Request.Context(), "transport.http.CreateSession")
	defer span.End()

	var req createSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	app, err := access.ParseAppName(req.App)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	span.SetAttributes(attribute.String("session.app", string(app)))

	expiresIn := h.requestedExpiry(req.ExpiresIn)

	credential, effective, err := h.sessions.Create(ctx, req.IDToken, app, expiresIn)
	switch {
	case errors.Is(err, session.ErrMissingIDToken), errors.Is(err, access.ErrUnknownApplication):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	case errors.Is(err, session.ErrSessionCreation):
		span.RecordError(err)
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Failed to create session"})
		return
	case err != nil:
		span.RecordError(err)
		logger.ErrorContext(ctx, "failed to create session", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	h.setCookie(c, credential, int(effective/time.Second))
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"expiresIn": effective.Milliseconds(),
	})
}

// requestedExpiry converts a millisecond expiry, saturating instead of
// overflowing so an oversized request still reaches the session cap.
func (h *SessionHandler) requestedExpiry(ms int64) time.Duration {
	switch {
	case ms <= 0:
		return h.cookie.MaxAge
	case ms > math.MaxInt64/int64(time.Millisecond):
		return time.Duration(math.MaxInt64)
	default:
		return time.Duration(ms) * time.Millisecond
	}
}

// Delete clears the session cookie.
func (h *SessionHandler) Delete(c *gin.Context) {
	h.setCookie(c, "", -1)
	c.Status(http.StatusNoContent)
}

func (h *SessionHandler) setCookie(c *gin.Context, value string, maxAge int) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(h.cookie.Name, value, maxAge, "/", "", h.cookie.Secure, true)
}
