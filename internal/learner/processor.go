// Package learner is the training worker: a driver that acquires
// assignments off the notification bus and a processor that turns an
// acquired assignment's demonstrations into published models.
package learner

import (
	"context"
	"errors"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/understudy-ai/understudy-backend/internal/braincache"
	"github.com/understudy-ai/understudy-backend/internal/brainspec"
	"github.com/understudy-ai/understudy-backend/internal/datastore"
	"github.com/understudy-ai/understudy-backend/internal/domain"
	"github.com/understudy-ai/understudy-backend/internal/evalstore"
	"github.com/understudy-ai/understudy-backend/internal/export"
	"github.com/understudy-ai/understudy-backend/internal/observability"
	"github.com/understudy-ai/understudy-backend/internal/platform/logger"
	"github.com/understudy-ai/understudy-backend/internal/platform/svcerr"
	"github.com/understudy-ai/understudy-backend/internal/resource"
	"github.com/understudy-ai/understudy-backend/internal/selection"
	"github.com/understudy-ai/understudy-backend/internal/trainer"
)

// Stop reasons a processor run can end with. Selection adds its own
// (selection.StopNoEvalSet, selection.StopNoImprovement).
const (
	StopMaxExamples    = "max training examples reached"
	StopSessionStopped = "session stopped"
	StopShutdown       = "shutdown requested"
	StopExportFailures = "too many consecutive export failures"
)

// DefaultAssignmentID is the assignment that trains with default
// hyperparameters.
const DefaultAssignmentID = "default"

const (
	DefaultMaxTrainingExamples = 1_000_000

	maxConsecutiveExportFailures = 3
	idleWait                     = 200 * time.Millisecond
	sessionCheckInterval         = time.Second
)

// Config is shared by the driver and its processors.
type Config struct {
	// ModelsDir receives published bundles; TmpModelsDir holds
	// per-model scratch trees until the exporter publishes them.
	ModelsDir    string
	TmpModelsDir string
	// CheckpointsDir holds each assignment's working checkpoint so a
	// re-acquired assignment resumes instead of restarting.
	CheckpointsDir string
	SummariesDir   string

	MaxTrainingExamples int64
	EvalFraction        float64
}

func (c Config) withDefaults() Config {
	if c.MaxTrainingExamples <= 0 {
		c.MaxTrainingExamples = DefaultMaxTrainingExamples
	}
	if c.EvalFraction <= 0 {
		c.EvalFraction = trainer.DefaultEvalFraction
	}
	return c
}

// Processor runs the training loop for one acquired assignment. States
// are implicit in the loop: replay, then train / evaluate / publish
// until a stop rule fires.
type Processor struct {
	data     *datastore.Store
	cache    *braincache.Cache
	exporter *export.Exporter
	cfg      Config
	metrics  *observability.Metrics
	log      *logger.Logger

	assignment *domain.Assignment
	session    *domain.Session
	rawSpec    *domain.BrainSpec
	spec       *brainspec.Spec
	hp         trainer.Hyperparameters

	tr      trainer.Trainer
	evals   *evalstore.Store
	manager *selection.ModelManager

	checkpointPath string
	summaryPath    string
	sessionPrefix  string

	evalDirty      bool
	batches        int64
	examples       int64
	lastDemoMicros int64
	lastEpisodeID  string
	lastChunkID    int
	exportFailures int
}

// NewProcessor resolves the assignment's session, brain and
// hyperparameters and checks a trainer out of the cache.
func NewProcessor(data *datastore.Store, cache *braincache.Cache, exporter *export.Exporter,
	cfg Config, assignment *domain.Assignment, baseLog *logger.Logger) (*Processor, error) {
	cfg = cfg.withDefaults()

	session, err := data.ReadSession(assignment.ProjectID, assignment.BrainID, assignment.SessionID)
	if err != nil {
		return nil, err
	}
	brain, err := data.ReadBrain(assignment.ProjectID, assignment.BrainID)
	if err != nil {
		return nil, err
	}
	spec, err := brainspec.New(brain.BrainSpec)
	if err != nil {
		return nil, err
	}
	hp, err := assignmentHyperparameters(assignment.AssignmentID)
	if err != nil {
		return nil, err
	}

	scoped := path.Join(assignment.ProjectID, assignment.BrainID, assignment.SessionID,
		resource.Sanitize(assignment.AssignmentID))
	checkpointPath := path.Join(cfg.CheckpointsDir, scoped)
	summaryPath := path.Join(cfg.SummariesDir, scoped)

	tr, effective, err := cache.Get(brain.BrainSpec, hp, checkpointPath, summaryPath)
	if err != nil {
		return nil, err
	}

	sessionID := resource.SessionID(assignment.ProjectID, assignment.BrainID, assignment.SessionID)
	return &Processor{
		data:           data,
		cache:          cache,
		exporter:       exporter,
		cfg:            cfg,
		metrics:        observability.Current(),
		log:            baseLog.With("component", "assignment_processor", "assignment", assignment.AssignmentID),
		assignment:     assignment,
		session:        session,
		rawSpec:        brain.BrainSpec,
		spec:           spec,
		hp:             effective,
		tr:             tr,
		evals:          evalstore.New(),
		manager:        selection.NewModelManager(),
		checkpointPath: checkpointPath,
		summaryPath:    summaryPath,
		sessionPrefix:  sessionID.String() + "/",
	}, nil
}

// assignmentHyperparameters decodes the hyperparameters an assignment
// id carries. The id "default" trains with defaults; anything else
// must be a canonical hyperparameters document.
func assignmentHyperparameters(assignmentID string) (trainer.Hyperparameters, error) {
	if assignmentID == DefaultAssignmentID {
		return trainer.Defaults(), nil
	}
	return trainer.Parse(assignmentID)
}

// Run trains until a stop rule fires and reports the reason. chunks
// delivers resource-path chunk ids from the monitor while the
// assignment is held.
func (p *Processor) Run(ctx context.Context, chunks <-chan []string) (string, error) {
	p.log.Info("processing assignment",
		"session", p.session.SessionID,
		"hyperparameters", p.hp.Canonical())

	if err := p.replay(); err != nil {
		return "", err
	}

	lastSessionCheck := time.Now()
	for {
		if reason := p.drain(ctx, chunks); reason != "" {
			return reason, nil
		}
		if time.Since(lastSessionCheck) >= sessionCheckInterval {
			lastSessionCheck = time.Now()
			if p.sessionStopped() {
				return StopSessionStopped, nil
			}
		}

		examples, demoMicros, err := p.tr.TrainStep()
		if err != nil {
			return "", err
		}
		if examples == p.examples {
			// Nothing buffered; wait for data instead of spinning.
			if reason := p.idle(ctx, chunks); reason != "" {
				return reason, nil
			}
			continue
		}
		p.metrics.ObserveTrainingStep(examples - p.examples)
		p.examples = examples
		p.lastDemoMicros = demoMicros
		p.batches++

		if p.batches%int64(p.hp.SaveIntervalBatches) == 0 {
			if reason, err := p.saveAndPublish(); reason != "" || err != nil {
				return reason, err
			}
			if p.sessionStopped() {
				return StopSessionStopped, nil
			}
			if reason := p.manager.ShouldStop(); reason != "" {
				return reason, nil
			}
		}
		if p.examples >= p.cfg.MaxTrainingExamples {
			return StopMaxExamples, nil
		}
	}
}

// drain consumes every pending chunk notification without blocking.
func (p *Processor) drain(ctx context.Context, chunks <-chan []string) string {
	for {
		select {
		case <-ctx.Done():
			return StopShutdown
		case ids := <-chunks:
			p.feedChunkIDs(ids)
		default:
			return ""
		}
	}
}

// idle blocks until new chunks arrive, the session stops, or shutdown.
func (p *Processor) idle(ctx context.Context, chunks <-chan []string) string {
	select {
	case <-ctx.Done():
		return StopShutdown
	case ids := <-chunks:
		p.feedChunkIDs(ids)
		return ""
	case <-time.After(idleWait):
		if p.sessionStopped() {
			return StopSessionStopped
		}
		return ""
	}
}

// replay feeds every chunk already on disk, episodes in id order and
// chunks in ascending numeric index within each episode.
func (p *Processor) replay() error {
	pattern := resource.SessionID(p.session.ProjectID, p.session.BrainID, p.session.SessionID).
		Child(resource.Episodes, "*").
		Child(resource.Chunks, "*").
		String()
	ids, _, err := p.data.List(pattern, 0, "")
	if err != nil {
		return err
	}
	type ref struct {
		episode string
		chunk   int
	}
	refs := make([]ref, 0, len(ids))
	for _, id := range ids {
		index, err := id.ChunkIndex()
		if err != nil {
			return err
		}
		refs = append(refs, ref{episode: id.Episode(), chunk: index})
	}
	sort.Slice(refs, func(i, j int) bool {
		if refs[i].episode != refs[j].episode {
			return refs[i].episode < refs[j].episode
		}
		return refs[i].chunk < refs[j].chunk
	})
	for _, r := range refs {
		chunk, err := p.data.ReadEpisodeChunk(
			p.session.ProjectID, p.session.BrainID, p.session.SessionID, r.episode, r.chunk)
		if err != nil {
			return err
		}
		p.feed(chunk)
	}
	p.log.Info("replayed chunks", "count", len(refs))
	return nil
}

// feedChunkIDs resolves notification chunk ids. Ids from other
// sessions can appear when two sessions share a hyperparameter set;
// they belong to a different processor run and are skipped.
func (p *Processor) feedChunkIDs(ids []string) {
	for _, raw := range ids {
		if !strings.HasPrefix(raw, p.sessionPrefix) {
			p.log.Warn("skipping chunk from another session", "chunk", raw)
			continue
		}
		id, err := resource.Parse(raw)
		if err != nil {
			p.log.Warn("malformed chunk notification", "chunk", raw, "error", err)
			continue
		}
		index, err := id.ChunkIndex()
		if err != nil {
			p.log.Warn("malformed chunk notification", "chunk", raw, "error", err)
			continue
		}
		chunk, err := p.data.ReadEpisodeChunk(
			id.Project(), id.Brain(), id.Session(), id.Episode(), index)
		if err != nil {
			p.log.Warn("reading notified chunk", "chunk", raw, "error", err)
			continue
		}
		p.feed(chunk)
	}
}

// feed routes one chunk: eval-partition frames go to the versioned
// eval store, everything else into the trainer's demonstration buffer.
func (p *Processor) feed(chunk *domain.EpisodeChunk) {
	if trainer.InEvalSet(chunk.EpisodeID, chunk.ChunkID, p.cfg.EvalFraction) {
		frames, err := trainer.Frames(p.spec, chunk)
		if err != nil {
			p.log.Warn("framing eval chunk",
				"episode", chunk.EpisodeID, "chunk", chunk.ChunkID, "error", err)
		} else if len(frames) > 0 {
			if err := p.evals.AddTrajectory(frames); err != nil {
				p.log.Warn("buffering eval trajectory", "error", err)
			} else {
				p.evalDirty = true
			}
		}
	}
	if err := p.tr.AddDemonstration(chunk); err != nil {
		p.log.Warn("adding demonstration",
			"episode", chunk.EpisodeID, "chunk", chunk.ChunkID, "error", err)
		return
	}
	p.lastEpisodeID = chunk.EpisodeID
	p.lastChunkID = chunk.ChunkID
}

// saveAndPublish checkpoints the policy, scores it on every eval
// version, and hands it to the exporter when it is the new best. A
// non-empty reason terminates the run.
func (p *Processor) saveAndPublish() (string, error) {
	if p.evalDirty {
		p.evals.CreateVersion()
		p.evalDirty = false
	}

	// Working checkpoint first, so a re-acquired assignment resumes
	// from here.
	if err := p.tr.SaveCheckpoint(); err != nil {
		return "", err
	}

	modelID := uuid.NewString()
	tmpRoot := path.Join(p.cfg.TmpModelsDir,
		p.session.ProjectID, p.session.BrainID, p.session.SessionID, modelID)
	modelCheckpoint := path.Join(tmpRoot, "checkpoint")
	p.tr.Rebind(modelCheckpoint, p.summaryPath)
	err := p.tr.SaveCheckpoint()
	p.tr.Rebind(p.checkpointPath, p.summaryPath)
	if err != nil {
		return "", err
	}

	scores, err := p.evaluate()
	if err != nil {
		return "", err
	}
	if err := p.persistEvaluations(modelID, scores); err != nil {
		return "", err
	}
	if err := p.manager.RecordNewModel(modelID, scores); err != nil {
		return "", err
	}

	if p.manager.BestModelID() != modelID {
		// Not publishing; drop the scratch tree.
		if err := p.data.Files().RemoveTree(tmpRoot); err != nil {
			p.log.Warn("removing unpublished model tree", "model", modelID, "error", err)
		}
		return "", nil
	}

	exportErr := p.exporter.ExportModel(&export.Task{
		ProjectID:                 p.session.ProjectID,
		BrainID:                   p.session.BrainID,
		SessionID:                 p.session.SessionID,
		AssignmentID:              p.assignment.AssignmentID,
		ModelID:                   modelID,
		CheckpointPath:            modelCheckpoint,
		Spec:                      p.rawSpec,
		Hyperparameters:           p.hp,
		EvalScores:                scores,
		EpisodeID:                 p.lastEpisodeID,
		ChunkID:                   p.lastChunkID,
		TrainingExamplesCompleted: p.examples,
		MaxTrainingExamples:       p.cfg.MaxTrainingExamples,
		MostRecentDemoTimeMicros:  p.lastDemoMicros,
	})
	if exportErr != nil {
		p.exportFailures++
		p.log.Error("export failed",
			"model", modelID, "consecutive", p.exportFailures, "error", exportErr)
		if p.exportFailures > maxConsecutiveExportFailures {
			return StopExportFailures, nil
		}
		return "", nil
	}
	p.exportFailures = 0
	return "", nil
}

// evaluate scores the current policy on every eval version.
func (p *Processor) evaluate() ([]selection.EvalScore, error) {
	var scores []selection.EvalScore
	for _, delta := range p.evals.GetVersionDeltas() {
		batch, err := p.evals.GetVersion(delta.Version)
		if err != nil {
			return nil, err
		}
		score, err := p.tr.EvaluateOffline(batch)
		if err != nil {
			return nil, err
		}
		scores = append(scores, selection.EvalScore{Version: delta.Version, Score: score})
	}
	return scores, nil
}

func (p *Processor) persistEvaluations(modelID string, scores []selection.EvalScore) error {
	for _, score := range scores {
		err := p.data.WriteOfflineEvaluation(&domain.OfflineEvaluation{
			ProjectID:           p.session.ProjectID,
			BrainID:             p.session.BrainID,
			SessionID:           p.session.SessionID,
			OfflineEvaluationID: datastore.OfflineEvaluationElementID(modelID, score.Version),
			ModelID:             modelID,
			AssignmentID:        p.assignment.AssignmentID,
			EvalSetVersion:      score.Version,
			Score:               score.Score,
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// sessionStopped re-reads the session record. Stop requests land there
// via the RPC surface; the processor observes them at save points and
// while idle.
func (p *Processor) sessionStopped() bool {
	session, err := p.data.ReadSession(
		p.session.ProjectID, p.session.BrainID, p.session.SessionID)
	if err != nil {
		if !errors.Is(err, svcerr.ErrNotFound) {
			p.log.Warn("re-reading session", "error", err)
		}
		return false
	}
	return session.Stopped()
}
