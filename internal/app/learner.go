package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/understudy-ai/understudy-backend/internal/datastore"
	"github.com/understudy-ai/understudy-backend/internal/filestore"
	"github.com/understudy-ai/understudy-backend/internal/learner"
	"github.com/understudy-ai/understudy-backend/internal/observability"
	"github.com/understudy-ai/understudy-backend/internal/ops"
	"github.com/understudy-ai/understudy-backend/internal/platform/logger"
	"github.com/understudy-ai/understudy-backend/internal/trainer"
	"github.com/understudy-ai/understudy-backend/internal/trainer/bcnet"
)

// Learner is the training worker: one process that competes for
// assignments on the shared file tree and trains them to completion.
type Learner struct {
	cfg    *Config
	log    *logger.Logger
	driver *learner.Driver

	opsServer *http.Server
	ready     atomic.Bool
}

func NewLearner(cfg *Config) (*Learner, error) {
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

	hps, err := cfg.ParsedHyperparameters()
	if err != nil {
		return nil, err
	}

	l := &Learner{cfg: cfg, log: log.With("component", "learner")}
	// The driver's eval routing defaults to the same fraction, keeping
	// the two sides of the train/eval split in agreement.
	l.driver = learner.NewDriver(data, bcnet.Factory(files, trainer.DefaultEvalFraction), hps, learner.Config{
		ModelsDir:      cfg.ModelsDir,
		TmpModelsDir:   cfg.TmpModelsDir,
		CheckpointsDir: cfg.CheckpointsDir,
		SummariesDir:   cfg.SummariesDir,
	}, nil, log)

	if cfg.MetricsAddr != "" {
		l.opsServer = ops.NewServer(cfg.MetricsAddr, l.ready.Load, log)
	}
	return l, nil
}

// Run drives the worker until ctx is cancelled.
func (l *Learner) Run(ctx context.Context) error {
	defer l.log.Sync()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return l.driver.Run(ctx)
	})
	if l.opsServer != nil {
		g.Go(func() error {
			l.log.Info("ops server listening", "addr", l.opsServer.Addr)
			if err := l.opsServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return l.opsServer.Shutdown(shutdownCtx)
		})
	}

	l.ready.Store(true)
	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
