// Package rpc serves access checks to other applications over Connect,
// using JSON on plain Go structs rather than generated protobuf types.
package rpc

import (
	"context"
	"errors"
	"net/http"

	"connectrpc.com/connect"
	"github.com/goccy/go-json"
	"go.opentelemetry.io/otel/attribute"

	"github.com/cenie/accessd/internal/domain/access"
	"github.com/cenie/accessd/pkg/tracer"
)

const (
	ServicePath          = "/access.v1.AccessService/"
	CheckAccessProcedure = ServicePath + "CheckAccess"
)

type CheckAccessRequest struct {
	SubjectID string `json:"subjectId"`
	App       string `json:"app"`
}

type CheckAccessResponse struct {
	HasAccess bool   `json:"hasAccess"`
	Role      string `json:"role,omitempty"`
	IsActive  bool   `json:"isActive"`
}

type AccessChecker interface {
	CheckAccess(ctx context.Context, userID string, app access.AppName) (access.AccessData, error)
}

// codec replaces connect's protobuf-only "json" codec.
type codec struct{}

func (codec) Name() string { return "json" }

func (codec) Marshal(v any) ([]byte, error) { return json.Marshal(v) }

func (codec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }

type Handler struct {
	access AccessChecker
}

// NewHandler returns the service path and its handler, ready to mount.
// Every call must carry serviceToken as a bearer token.
func NewHandler(checker AccessChecker, serviceToken string) (string, http.Handler) {
	h := &Handler{access: checker}

	mux := http.NewServeMux()
	mux.Handle(CheckAccessProcedure, connect.NewUnaryHandler(
		CheckAccessProcedure,
		h.CheckAccess,
		connect.WithCodec(codec{}),
		connect.WithInterceptors(
			recoveryInterceptor(),
			loggingInterceptor(),
			serviceTokenInterceptor(serviceToken),
		),
	))
	return ServicePath, mux
}

// CheckAccess has the same fail-closed semantics as the in-process check:
// a store failure answers hasAccess=false, never an error.
func (h *Handler) CheckAccess(
	ctx context.Context,
	req *connect.Request[CheckAccessRequest],
) (*connect.Response[CheckAccessResponse], error) {
	ctx, span := tracer.Start(ctx, "transport.rpc.CheckAccess")
	defer span.End()

	span.SetAttributes(
		attribute.String("access.user_id", req.Msg.SubjectID),
		attribute.String("access.app", req.Msg.App),
	)

	app, err := access.ParseAppName(req.Msg.App)
	if err != nil {
		return nil, connect.NewError(connect.CodeInvalidArgument, err)
	}

	data, err := h.access.CheckAccess(ctx, req.Msg.SubjectID, app)
	if err != nil {
		span.RecordError(err)
		if errors.Is(err, access.ErrEmptySubject) || errors.Is(err, access.ErrUnknownApplication) {
			return nil, connect.NewError(connect.CodeInvalidArgument, err)
		}
		return nil, connect.NewError(connect.CodeInternal, errors.New("access check failed"))
	}

	span.SetAttributes(attribute.Bool("access.has_access", data.HasAccess))
	return connect.NewResponse(&CheckAccessResponse{
		HasAccess: data.HasAccess,
		Role:      data.Role,
		IsActive:  data.IsActive,
	}), nil
}
