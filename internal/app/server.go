package app

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"net"
	"net/http"
	"path/filepath"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"

	"github.com/understudy-ai/understudy-backend/internal/api"
	"github.com/understudy-ai/understudy-backend/internal/datastore"
	"github.com/understudy-ai/understudy-backend/internal/domain"
	"github.com/understudy-ai/understudy-backend/internal/filestore"
	"github.com/understudy-ai/understudy-backend/internal/ingest"
	"github.com/understudy-ai/understudy-backend/internal/monitor"
	"github.com/understudy-ai/understudy-backend/internal/observability"
	"github.com/understudy-ai/understudy-backend/internal/ops"
	"github.com/understudy-ai/understudy-backend/internal/platform/logger"
	"github.com/understudy-ai/understudy-backend/internal/platform/svcerr"
	"github.com/understudy-ai/understudy-backend/internal/sdkconfig"
)

const latencyLogInterval = time.Minute

// Server is the RPC frontend: it owns the listener, the data tree and
// the ingest path, and provisions configured projects on boot.
type Server struct {
	cfg     *Config
	log     *logger.Logger
	data    *datastore.Store
	latency *observability.LatencyStats

	grpcServer *grpc.Server
	opsServer  *http.Server
	health     *health.Server
	ready      atomic.Bool
}

func NewServer(cfg *Config) (*Server, error) {
	log, err := logger.New(cfg.Verbosity)
	if err != nil {
		return nil, fmt.Errorf("building logger: %w", err)
	}
	observability.Init()

	files, err := filestore.New(cfg.RootDir, log)
	if err != nil {
		return nil, err
	}
	data := datastore.New(files, log)

	s := &Server{
		cfg:     cfg,
		log:     log.With("component", "server"),
		data:    data,
		latency: observability.NewLatencyStats(),
	}
	if err := s.provisionProjects(); err != nil {
		return nil, err
	}

	// The server side of the bus only triggers notifications, so the
	// monitor needs no callbacks here.
	mon := monitor.New(files, monitor.Callbacks{}, nil, log)
	ingestor := ingest.New(data, mon, log)
	apiSrv := api.NewServer(data, ingestor, s.latency, log)

	opts := []grpc.ServerOption{
		grpc.ChainUnaryInterceptor(apiSrv.Interceptors()...),
		grpc.MaxConcurrentStreams(uint32(cfg.MaxWorkers)),
	}
	if cfg.SSLDir != "" {
		creds, err := credentials.NewServerTLSFromFile(
			filepath.Join(cfg.SSLDir, "cert.pem"),
			filepath.Join(cfg.SSLDir, "key.pem"),
		)
		if err != nil {
			return nil, svcerr.Internal("loading TLS credentials from %q: %v", cfg.SSLDir, err)
		}
		opts = append(opts, grpc.Creds(creds))
	}
	s.grpcServer = grpc.NewServer(opts...)
	api.Register(s.grpcServer, apiSrv)

	s.health = health.NewServer()
	grpc_health_v1.RegisterHealthServer(s.grpcServer, s.health)

	if cfg.MetricsAddr != "" {
		s.opsServer = ops.NewServer(cfg.MetricsAddr, s.ready.Load, log)
	}
	return s, nil
}

// provisionProjects creates any configured project that does not exist
// yet and writes a client config for each, new or old.
func (s *Server) provisionProjects() error {
	certPath := ""
	if s.cfg.SSLDir != "" {
		certPath = filepath.Join(s.cfg.SSLDir, "cert.pem")
	}
	address := fmt.Sprintf("localhost:%d", s.cfg.Port)

	for _, projectID := range s.cfg.ProjectIDs {
		project, err := s.data.ReadProject(projectID)
		switch {
		case err == nil:
		case errors.Is(err, svcerr.ErrNotFound):
			key, keyErr := newAPIKey()
			if keyErr != nil {
				return keyErr
			}
			project = &domain.Project{ProjectID: projectID, APIKey: key}
			if err := s.data.WriteProject(project); err != nil {
				return err
			}
			s.log.Info("provisioned project", "project", projectID)
		default:
			return err
		}

		configPath := filepath.Join(s.cfg.RootDir, "client_configs", projectID+".json")
		if err := sdkconfig.WriteFromCertFile(configPath, address, certPath,
			project.ProjectID, project.APIKey); err != nil {
			return err
		}
		s.log.Info("wrote client config", "project", projectID, "path", configPath)
	}
	return nil
}

func newAPIKey() (string, error) {
	raw := make([]byte, 16)
	if _, err := rand.Read(raw); err != nil {
		return "", svcerr.Internal("generating api key: %v", err)
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

// Run serves until ctx is cancelled, then drains in-flight RPCs.
func (s *Server) Run(ctx context.Context) error {
	defer s.log.Sync()

	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", s.cfg.Port))
	if err != nil {
		return fmt.Errorf("listening on port %d: %w", s.cfg.Port, err)
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.log.Info("grpc server listening", "addr", lis.Addr().String())
		return s.grpcServer.Serve(lis)
	})
	if s.opsServer != nil {
		g.Go(func() error {
			s.log.Info("ops server listening", "addr", s.opsServer.Addr)
			if err := s.opsServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
	}
	g.Go(func() error {
		s.latency.LogPeriodically(ctx, s.log, latencyLogInterval)
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		s.log.Info("shutting down")
		s.health.SetServingStatus("", grpc_health_v1.HealthCheckResponse_NOT_SERVING)
		if s.opsServer != nil {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = s.opsServer.Shutdown(shutdownCtx)
		}
		s.grpcServer.GracefulStop()
		return nil
	})

	s.ready.Store(true)
	s.health.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)

	err = g.Wait()
	if errors.Is(err, grpc.ErrServerStopped) || errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
