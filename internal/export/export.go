// Package export publishes trained checkpoints as downloadable model
// bundles. A single background writer drains a task queue so exports
// never block a training step; failures surface to the producer on its
// next call.
package export

import (
	"archive/zip"
	"bytes"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/understudy-ai/understudy-backend/internal/datastore"
	"github.com/understudy-ai/understudy-backend/internal/domain"
	"github.com/understudy-ai/understudy-backend/internal/filestore"
	"github.com/understudy-ai/understudy-backend/internal/observability"
	"github.com/understudy-ai/understudy-backend/internal/platform/logger"
	"github.com/understudy-ai/understudy-backend/internal/platform/svcerr"
	"github.com/understudy-ai/understudy-backend/internal/selection"
	"github.com/understudy-ai/understudy-backend/internal/trainer"
)

const (
	checkpointDirName = "checkpoint"
	savedModelDirName = "saved_model"
	inferenceFileName = "model.json"

	queueDepth = 16
)

// Task describes one model to publish. CheckpointPath points at the
// checkpoint directory under the model's tmp tree.
type Task struct {
	ProjectID    string
	BrainID      string
	SessionID    string
	AssignmentID string
	ModelID      string

	CheckpointPath  string
	Spec            *domain.BrainSpec
	Hyperparameters trainer.Hyperparameters

	EvalScores []selection.EvalScore

	EpisodeID                 string
	ChunkID                   int
	TrainingExamplesCompleted int64
	MaxTrainingExamples       int64
	MostRecentDemoTimeMicros  int64
}

// Exporter is the single-writer publish queue.
type Exporter struct {
	files     *filestore.Store
	data      *datastore.Store
	factory   trainer.Factory
	modelsDir string
	metrics   *observability.Metrics
	log       *logger.Logger

	tasks chan *Task
	done  chan struct{}

	errMu    sync.Mutex
	deferred error
}

func New(data *datastore.Store, factory trainer.Factory, modelsDir string, baseLog *logger.Logger) *Exporter {
	return &Exporter{
		files:     data.Files(),
		data:      data,
		factory:   factory,
		modelsDir: modelsDir,
		metrics:   observability.Current(),
		log:       baseLog.With("component", "model_exporter"),
		tasks:     make(chan *Task, queueDepth),
		done:      make(chan struct{}),
	}
}

// Start launches the writer goroutine.
func (e *Exporter) Start() {
	go func() {
		defer close(e.done)
		for task := range e.tasks {
			if task == nil {
				return
			}
			e.runTask(task)
		}
	}()
}

// ExportModel enqueues a task. It returns any error deferred from an
// earlier task; with synchronous_export set the task runs inline and
// its own error is returned.
func (e *Exporter) ExportModel(task *Task) error {
	if err := e.takeDeferred(); err != nil {
		return err
	}
	if task.Hyperparameters.SynchronousExport {
		if err := e.process(task); err != nil {
			e.observe(task, err, 0)
			return err
		}
		return nil
	}
	e.tasks <- task
	return nil
}

// Stop terminates the writer after in-flight tasks finish and returns
// any remaining deferred error.
func (e *Exporter) Stop() error {
	e.tasks <- nil
	<-e.done
	return e.takeDeferred()
}

func (e *Exporter) setDeferred(err error) {
	e.errMu.Lock()
	defer e.errMu.Unlock()
	if e.deferred == nil {
		e.deferred = err
	}
}

func (e *Exporter) takeDeferred() error {
	e.errMu.Lock()
	defer e.errMu.Unlock()
	err := e.deferred
	e.deferred = nil
	return err
}

func (e *Exporter) runTask(task *Task) {
	start := time.Now()
	err := e.process(task)
	e.observe(task, err, time.Since(start))
	if err != nil {
		e.setDeferred(err)
	}
}

func (e *Exporter) observe(task *Task, err error, dur time.Duration) {
	if err != nil {
		e.log.Error("exporting model",
			"model", task.ModelID, "assignment", task.AssignmentID, "error", err)
		e.metrics.ObserveExport("error", dur)
		return
	}
	e.log.Info("exported model",
		"model", task.ModelID,
		"assignment", task.AssignmentID,
		"training_examples", task.TrainingExamplesCompleted,
	)
	e.metrics.ObserveExport("ok", dur)
}

// process publishes one model: re-export the checkpoint as a saved
// model, convert for inference, copy into the models dir with a
// sibling zip, then record the model and its evaluations.
func (e *Exporter) process(task *Task) error {
	if !e.files.Exists(task.CheckpointPath) {
		return svcerr.FailedPrecondition("checkpoint %q does not exist", task.CheckpointPath)
	}

	tmpRoot := path.Dir(task.CheckpointPath)
	savedModel := path.Join(tmpRoot, savedModelDirName)

	tr, err := e.factory(task.Spec, task.Hyperparameters, task.CheckpointPath, "", false)
	if err != nil {
		return err
	}
	if err := tr.ExportSavedModel(savedModel); err != nil {
		return err
	}
	if err := tr.ConvertForInference(savedModel, path.Join(tmpRoot, inferenceFileName)); err != nil {
		return err
	}

	bundleDir := path.Join(e.modelsDir, task.ProjectID, task.BrainID, task.SessionID, task.ModelID)
	zipPath := bundleDir + ".zip"
	if err := e.publishBundle(tmpRoot, bundleDir, zipPath); err != nil {
		return err
	}
	if err := e.files.RemoveTree(tmpRoot); err != nil {
		return err
	}

	model := &domain.Model{
		ProjectID:                 task.ProjectID,
		BrainID:                   task.BrainID,
		SessionID:                 task.SessionID,
		ModelID:                   task.ModelID,
		AssignmentID:              task.AssignmentID,
		EpisodeID:                 task.EpisodeID,
		ChunkID:                   task.ChunkID,
		TrainingExamplesCompleted: task.TrainingExamplesCompleted,
		MaxTrainingExamples:       task.MaxTrainingExamples,
		MostRecentDemoTimeMicros:  task.MostRecentDemoTimeMicros,
		ModelPath:                 bundleDir,
		CompressedModelPath:       zipPath,
	}
	if err := e.data.WriteModel(model); err != nil {
		return err
	}
	for _, score := range task.EvalScores {
		eval := &domain.OfflineEvaluation{
			ProjectID:           task.ProjectID,
			BrainID:             task.BrainID,
			SessionID:           task.SessionID,
			OfflineEvaluationID: datastore.OfflineEvaluationElementID(task.ModelID, score.Version),
			ModelID:             task.ModelID,
			AssignmentID:        task.AssignmentID,
			EvalSetVersion:      score.Version,
			Score:               score.Score,
		}
		if err := e.data.WriteOfflineEvaluation(eval); err != nil {
			return err
		}
	}
	return nil
}

// publishBundle copies everything under tmpRoot except the checkpoint
// into bundleDir and writes the same tree as one zip.
func (e *Exporter) publishBundle(tmpRoot, bundleDir, zipPath string) error {
	entries, err := e.files.ListTree(tmpRoot)
	if err != nil {
		return err
	}
	checkpointPrefix := path.Join(tmpRoot, checkpointDirName) + "/"

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	wrote := false
	for _, entry := range entries {
		if strings.HasPrefix(entry, checkpointPrefix) {
			continue
		}
		rel := strings.TrimPrefix(entry, tmpRoot+"/")
		data, err := e.files.Read(entry)
		if err != nil {
			return err
		}
		if err := e.files.Write(path.Join(bundleDir, rel), data); err != nil {
			return err
		}
		w, err := zw.Create(rel)
		if err != nil {
			return svcerr.Internal("adding %q to bundle zip: %v", rel, err)
		}
		if _, err := w.Write(data); err != nil {
			return svcerr.Internal("writing %q to bundle zip: %v", rel, err)
		}
		wrote = true
	}
	if err := zw.Close(); err != nil {
		return svcerr.Internal("closing bundle zip: %v", err)
	}
	if !wrote {
		return svcerr.Internal("bundle at %q is empty", tmpRoot)
	}
	return e.files.Write(zipPath, buf.Bytes())
}
