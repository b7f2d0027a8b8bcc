package api

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"

	"github.com/understudy-ai/understudy-backend/internal/domain"
)

// Client is a thin typed wrapper over a gRPC connection. It exists for
// the learner's in-process use and for tests; game engines carry their
// own SDK-side bindings.
type Client struct {
	conn   *grpc.ClientConn
	apiKey string
}

// DefaultCallOptions selects the JSON wire form. Pass these when
// dialing a connection meant for this service.
func DefaultCallOptions() []grpc.CallOption {
	return []grpc.CallOption{grpc.CallContentSubtype(CodecName)}
}

func NewClient(conn *grpc.ClientConn, apiKey string) *Client {
	return &Client{conn: conn, apiKey: apiKey}
}

func (c *Client) invoke(ctx context.Context, method string, req, resp interface{}) error {
	if c.apiKey != "" {
		ctx = metadata.AppendToOutgoingContext(ctx, APIKeyMetadata, c.apiKey)
	}
	return c.conn.Invoke(ctx, "/"+ServiceName+"/"+method, req, resp, DefaultCallOptions()...)
}

func (c *Client) CreateBrain(ctx context.Context, req *CreateBrainRequest) (*domain.Brain, error) {
	resp := new(domain.Brain)
	return resp, c.invoke(ctx, "CreateBrain", req, resp)
}

func (c *Client) GetBrain(ctx context.Context, req *GetBrainRequest) (*domain.Brain, error) {
	resp := new(domain.Brain)
	return resp, c.invoke(ctx, "GetBrain", req, resp)
}

func (c *Client) ListBrains(ctx context.Context, req *ListBrainsRequest) (*ListBrainsResponse, error) {
	resp := new(ListBrainsResponse)
	return resp, c.invoke(ctx, "ListBrains", req, resp)
}

func (c *Client) CreateSession(ctx context.Context, req *CreateSessionRequest) (*domain.Session, error) {
	resp := new(domain.Session)
	return resp, c.invoke(ctx, "CreateSession", req, resp)
}

func (c *Client) GetSession(ctx context.Context, req *GetSessionRequest) (*domain.Session, error) {
	resp := new(domain.Session)
	return resp, c.invoke(ctx, "GetSession", req, resp)
}

func (c *Client) GetSessionByIndex(ctx context.Context, req *GetSessionByIndexRequest) (*domain.Session, error) {
	resp := new(domain.Session)
	return resp, c.invoke(ctx, "GetSessionByIndex", req, resp)
}

func (c *Client) ListSessions(ctx context.Context, req *ListSessionsRequest) (*ListSessionsResponse, error) {
	resp := new(ListSessionsResponse)
	return resp, c.invoke(ctx, "ListSessions", req, resp)
}

func (c *Client) GetSessionCount(ctx context.Context, req *GetSessionCountRequest) (*GetSessionCountResponse, error) {
	resp := new(GetSessionCountResponse)
	return resp, c.invoke(ctx, "GetSessionCount", req, resp)
}

func (c *Client) StopSession(ctx context.Context, req *StopSessionRequest) (*StopSessionResponse, error) {
	resp := new(StopSessionResponse)
	return resp, c.invoke(ctx, "StopSession", req, resp)
}

func (c *Client) ListEpisodeChunks(ctx context.Context, req *ListEpisodeChunksRequest) (*ListEpisodeChunksResponse, error) {
	resp := new(ListEpisodeChunksResponse)
	return resp, c.invoke(ctx, "ListEpisodeChunks", req, resp)
}

func (c *Client) SubmitEpisodeChunks(ctx context.Context, req *SubmitEpisodeChunksRequest) (*SubmitEpisodeChunksResponse, error) {
	resp := new(SubmitEpisodeChunksResponse)
	return resp, c.invoke(ctx, "SubmitEpisodeChunks", req, resp)
}

func (c *Client) GetModel(ctx context.Context, req *GetModelRequest) (*GetModelResponse, error) {
	resp := new(GetModelResponse)
	return resp, c.invoke(ctx, "GetModel", req, resp)
}
