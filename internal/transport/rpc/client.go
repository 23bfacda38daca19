package rpc

import (
	"context"
	"strings"

	"connectrpc.com/connect"

	"github.com/cenie/accessd/internal/domain/access"
)

// Client lets another application ask accessd for a decision.
type Client struct {
	checkAccess *connect.Client[CheckAccessRequest, CheckAccessResponse]
	token       string
}

func NewClient(httpClient connect.HTTPClient, baseURL, serviceToken string) *Client {
	return &Client{
		checkAccess: connect.NewClient[CheckAccessRequest, CheckAccessResponse](
			httpClient,
			strings.TrimSuffix(baseURL, "/")+CheckAccessProcedure,
			connect.WithCodec(codec{}),
		),
		token: serviceToken,
	}
}

func (c *Client) CheckAccess(ctx context.Context, subjectID string, app access.AppName) (access.AccessData, error) {
	req := connect.NewRequest(&CheckAccessRequest{
		SubjectID: subjectID,
		App:       string(app),
	})
	req.Header().Set("Authorization", "Bearer "+c.token)

	resp, err := c.checkAccess.CallUnary(ctx, req)
	if err != nil {
		return access.NoAccess(), err
	}
	return access.AccessData{
		HasAccess: resp.Msg.HasAccess,
		Role:      resp.Msg.Role,
		IsActive:  resp.Msg.IsActive,
	}, nil
}
