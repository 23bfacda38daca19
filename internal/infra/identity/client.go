package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/goccy/go-json"
	"github.com/sony/gobreaker/v2"

	"github.com/cenie/accessd/internal/metrics"
	httpclient "github.com/cenie/accessd/pkg/http"
	"github.com/cenie/accessd/pkg/logger"
)

const (
	DefaultTimeout            = 5 * time.Second
	DefaultBreakerMaxFailures = 5
	DefaultBreakerOpenTimeout = 30 * time.Second
)

var errUpstream = errors.New("identity service error")

type Config struct {
	// BaseURL is the REST root, e.g. https://identitytoolkit.googleapis.com.
	BaseURL   string
	APIKey    string
	ProjectID string
	// KeysURL serves a JSON object of key id to PEM encoded public key.
	KeysURL string
	// Issuer defaults to the session issuer for ProjectID.
	Issuer  string
	Timeout time.Duration

	BreakerMaxFailures uint32
	BreakerOpenTimeout time.Duration
}

// Client is the REST implementation of Provider. Every remote call goes
// through one circuit breaker; an open breaker fails the call immediately.
type Client struct {
	cfg      Config
	breaker  *gobreaker.CircuitBreaker[*resty.Response]
	verifier *verifier
	now      func() time.Time
}

func NewClient(cfg Config) *Client {
	cfg.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/")
	if cfg.Issuer == "" {
		cfg.Issuer = sessionIssuerBase + cfg.ProjectID
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.BreakerMaxFailures == 0 {
		cfg.BreakerMaxFailures = DefaultBreakerMaxFailures
	}
	if cfg.BreakerOpenTimeout <= 0 {
		cfg.BreakerOpenTimeout = DefaultBreakerOpenTimeout
	}

	c := &Client{
		cfg: cfg,
		now: time.Now,
	}
	c.breaker = gobreaker.NewCircuitBreaker[*resty.Response](gobreaker.Settings{
		Name:        "identity",
		MaxRequests: 1,
		Timeout:     cfg.BreakerOpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.BreakerMaxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			metrics.IdentityBreakerState.Set(float64(to))
			logger.WarnContext(context.Background(), "identity circuit breaker state changed",
				slog.String("breaker", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()),
			)
		},
	})
	c.verifier = &verifier{
		keys: &keySet{
			fetch: c.fetchKeys,
			ttl:   defaultKeyTTL,
			now:   c.clock,
		},
		issuer:   cfg.Issuer,
		audience: cfg.ProjectID,
		now:      c.clock,
	}
	return c
}

func (c *Client) clock() time.Time {
	return c.now()
}

type createSessionCookieRequest struct {
	IDToken       string `json:"idToken"`
	ValidDuration int64  `json:"validDuration"`
}

type createSessionCookieResponse struct {
	SessionCookie string `json:"sessionCookie"`
}

func (c *Client) CreateSessionCookie(ctx context.Context, idToken string, expiresIn time.Duration) (string, error) {
	resp, err := c.call(ctx, "create_session", http.MethodPost,
		c.projectURL(":createSessionCookie"),
		httpclient.WithBody(createSessionCookieRequest{
			IDToken:       idToken,
			ValidDuration: int64(expiresIn / time.Second),
		}),
	)
	if err != nil {
		return "", err
	}

	var out createSessionCookieResponse
	if err := json.Unmarshal(resp.Body(), &out); err != nil {
		return "", fmt.Errorf("failed to decode session cookie response: %w", err)
	}
	if out.SessionCookie == "" {
		return "", fmt.Errorf("%w: empty session cookie", ErrRejected)
	}
	return out.SessionCookie, nil
}

// VerifySessionCookie checks signature, expiry, issuer and audience locally.
// With checkRevoked it also looks the account up and rejects disabled users
// and credentials issued before the account's tokens were revoked.
func (c *Client) VerifySessionCookie(ctx context.Context, credential string, checkRevoked bool) (*Token, error) {
	token, err := c.verifier.verify(ctx, credential)
	if err != nil {
		metrics.IdentityRequests.WithLabelValues("verify_session", "rejected").Inc()
		return nil, err
	}
	if !checkRevoked {
		metrics.IdentityRequests.WithLabelValues("verify_session", "ok").Inc()
		return token, nil
	}

	account, err := c.lookup(ctx, token.UID)
	if err != nil {
		return nil, err
	}
	if account.Disabled {
		return nil, ErrUserDisabled
	}
	if validSince, _ := strconv.ParseInt(account.ValidSince, 10, 64); validSince > 0 {
		if token.AuthTime.Unix() < validSince {
			return nil, ErrRevoked
		}
	}

	metrics.IdentityRequests.WithLabelValues("verify_session", "ok").Inc()
	return token, nil
}

type updateAccountRequest struct {
	LocalID          string `json:"localId"`
	CustomAttributes string `json:"customAttributes"`
}

func (c *Client) SetCustomUserClaims(ctx context.Context, uid string, claims map[string]any) error {
	attrs, err := json.Marshal(claims)
	if err != nil {
		return fmt.Errorf("failed to marshal custom claims: %w", err)
	}

	_, err = c.call(ctx, "set_claims", http.MethodPost,
		c.projectURL("/accounts:update"),
		httpclient.WithBody(updateAccountRequest{
			LocalID:          uid,
			CustomAttributes: string(attrs),
		}),
	)
	return err
}

type account struct {
	LocalID    string `json:"localId"`
	Email      string `json:"email"`
	Disabled   bool   `json:"disabled"`
	ValidSince string `json:"validSince"`
}

type lookupRequest struct {
	LocalID []string `json:"localId"`
}

type lookupResponse struct {
	Users []account `json:"users"`
}

func (c *Client) lookup(ctx context.Context, uid string) (*account, error) {
	resp, err := c.call(ctx, "lookup", http.MethodPost,
		c.projectURL("/accounts:lookup"),
		httpclient.WithBody(lookupRequest{LocalID: []string{uid}}),
	)
	if err != nil {
		return nil, err
	}

	var out lookupResponse
	if err := json.Unmarshal(resp.Body(), &out); err != nil {
		return nil, fmt.Errorf("failed to decode account lookup: %w", err)
	}
	if len(out.Users) == 0 {
		return nil, fmt.Errorf("%w: no account for subject", ErrInvalidCredential)
	}
	return &out.Users[0], nil
}

func (c *Client) fetchKeys(ctx context.Context) (map[string]string, error) {
	resp, err := c.call(ctx, "fetch_keys", http.MethodGet, c.cfg.KeysURL)
	if err != nil {
		return nil, err
	}

	keys := make(map[string]string)
	if err := json.Unmarshal(resp.Body(), &keys); err != nil {
		return nil, fmt.Errorf("failed to decode signing keys: %w", err)
	}
	return keys, nil
}

// call runs one request under the timeout and breaker. Transport failures
// and 5xx responses count against the breaker and map to ErrUnavailable;
// 4xx responses map to ErrRejected.
func (c *Client) call(
	ctx context.Context,
	op, method, url string,
	opts ...httpclient.RequestOption,
) (*resty.Response, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	opts = append(opts, httpclient.WithQueryParam("key", c.cfg.APIKey))

	resp, err := c.breaker.Execute(func() (*resty.Response, error) {
		resp, err := httpclient.Request(ctx, method, url, opts...)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode() >= http.StatusInternalServerError {
			return resp, fmt.Errorf("%w: status %d", errUpstream, resp.StatusCode())
		}
		return resp, nil
	})

	switch {
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		metrics.IdentityRequests.WithLabelValues(op, "short_circuit").Inc()
		return nil, fmt.Errorf("%w: %s: %w", ErrUnavailable, op, err)
	case err != nil:
		metrics.IdentityRequests.WithLabelValues(op, "error").Inc()
		logger.ErrorContext(ctx, "identity service call failed",
			slog.String("operation", op),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("%w: %s: %w", ErrUnavailable, op, err)
	case resp.IsError():
		metrics.IdentityRequests.WithLabelValues(op, "rejected").Inc()
		return nil, fmt.Errorf("%w: %s returned %d", ErrRejected, op, resp.StatusCode())
	}

	metrics.IdentityRequests.WithLabelValues(op, "ok").Inc()
	return resp, nil
}

func (c *Client) projectURL(suffix string) string {
	return c.cfg.BaseURL + "/v1/projects/" + c.cfg.ProjectID + suffix
}
