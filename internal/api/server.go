// Package api is the gRPC data plane: brain and session CRUD, episode
// submission and model download for game clients.
package api

import (
	"context"
	"crypto/subtle"
	"errors"
	"strings"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"

	"github.com/understudy-ai/understudy-backend/internal/datastore"
	"github.com/understudy-ai/understudy-backend/internal/domain"
	"github.com/understudy-ai/understudy-backend/internal/ingest"
	"github.com/understudy-ai/understudy-backend/internal/observability"
	"github.com/understudy-ai/understudy-backend/internal/platform/logger"
	"github.com/understudy-ai/understudy-backend/internal/platform/svcerr"
)

// APIKeyMetadata is the request metadata key carrying the project key.
const APIKeyMetadata = "x-goog-api-key"

var _ UnderstudyServer = (*Server)(nil)

// Server implements UnderstudyServer over the datastore.
type Server struct {
	data     *datastore.Store
	ingestor *ingest.Ingestor
	metrics  *observability.Metrics
	latency  *observability.LatencyStats
	log      *logger.Logger
}

func NewServer(data *datastore.Store, ingestor *ingest.Ingestor, latency *observability.LatencyStats, baseLog *logger.Logger) *Server {
	return &Server{
		data:     data,
		ingestor: ingestor,
		metrics:  observability.Current(),
		latency:  latency,
		log:      baseLog.With("component", "api"),
	}
}

// Interceptors returns the server's unary chain: panic recovery first,
// then request observation.
func (s *Server) Interceptors() []grpc.UnaryServerInterceptor {
	return []grpc.UnaryServerInterceptor{s.recover, s.observe}
}

func (s *Server) recover(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (resp interface{}, err error) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("handler panic", "method", info.FullMethod, "panic", r)
			err = svcerr.Internal("internal error")
		}
	}()
	return handler(ctx, req)
}

func (s *Server) observe(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
	method := info.FullMethod
	if i := strings.LastIndexByte(method, '/'); i >= 0 {
		method = method[i+1:]
	}
	s.metrics.APIInflightInc()
	start := time.Now()
	resp, err := handler(ctx, req)
	dur := time.Since(start)
	s.metrics.APIInflightDec()
	s.metrics.ObserveAPI(method, svcerr.GRPCCode(err).String(), dur)
	s.latency.Observe(method, dur)
	if err != nil {
		s.log.Warn("request failed", "method", method, "error", err)
	}
	return resp, svcerr.ToStatus(err)
}

// authorize matches the request's api key against the project record.
func (s *Server) authorize(ctx context.Context, projectID string) (*domain.Project, error) {
	if projectID == "" {
		return nil, svcerr.InvalidArgument("project_id is required")
	}
	md, _ := metadata.FromIncomingContext(ctx)
	keys := md.Get(APIKeyMetadata)
	if len(keys) == 0 || keys[0] == "" {
		return nil, svcerr.Unauthenticated("missing %s metadata", APIKeyMetadata)
	}
	project, err := s.data.ReadProject(projectID)
	if err != nil {
		if errors.Is(err, svcerr.ErrNotFound) {
			return nil, svcerr.Unauthenticated("unknown project %q", projectID)
		}
		return nil, err
	}
	if subtle.ConstantTimeCompare([]byte(keys[0]), []byte(project.APIKey)) != 1 {
		return nil, svcerr.Unauthenticated("api key does not match project %q", projectID)
	}
	return project, nil
}

// userAgent extracts the client identity recorded on sessions.
func userAgent(ctx context.Context) string {
	md, _ := metadata.FromIncomingContext(ctx)
	if ua := md.Get("user-agent"); len(ua) > 0 {
		return ua[0]
	}
	return ""
}
