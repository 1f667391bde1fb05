package server

import (
	"context"
	"net/http"
	"strings"

	"connectrpc.com/connect"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// Client calls the machine service over Connect.
type Client struct {
	submit  *connect.Client[wrapperspb.StringValue, structpb.Struct]
	check   *connect.Client[wrapperspb.StringValue, structpb.Struct]
	history *connect.Client[wrapperspb.Int64Value, structpb.Struct]
}

// NewClient creates a client for the server at baseURL, e.g.
// "http://localhost:4567".
func NewClient(httpClient connect.HTTPClient, baseURL string, opts ...connect.ClientOption) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	baseURL = strings.TrimSuffix(baseURL, "/")
	return &Client{
		submit:  connect.NewClient[wrapperspb.StringValue, structpb.Struct](httpClient, baseURL+SubmitProcedure, opts...),
		check:   connect.NewClient[wrapperspb.StringValue, structpb.Struct](httpClient, baseURL+CheckProcedure, opts...),
		history: connect.NewClient[wrapperspb.Int64Value, structpb.Struct](httpClient, baseURL+HistoryProcedure, opts...),
	}
}

// Submit runs a program remotely.
func (c *Client) Submit(ctx context.Context, source string) (*structpb.Struct, error) {
	resp, err := c.submit.CallUnary(ctx, connect.NewRequest(wrapperspb.String(source)))
	if err != nil {
		return nil, err
	}
	return resp.Msg, nil
}

// Check assembles a program remotely.
func (c *Client) Check(ctx context.Context, source string) (*structpb.Struct, error) {
	resp, err := c.check.CallUnary(ctx, connect.NewRequest(wrapperspb.String(source)))
	if err != nil {
		return nil, err
	}
	return resp.Msg, nil
}

// History lists recent submissions remotely.
func (c *Client) History(ctx context.Context, limit int64) (*structpb.Struct, error) {
	resp, err := c.history.CallUnary(ctx, connect.NewRequest(wrapperspb.Int64(limit)))
	if err != nil {
		return nil, err
	}
	return resp.Msg, nil
}
