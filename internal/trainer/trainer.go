// Package trainer defines the contract between the training control
// loop and a policy network. Any network can plug in by implementing
// Trainer; the default implementation lives in trainer/bcnet.
package trainer

import "github.com/understudy-ai/understudy-backend/internal/domain"

// Trainer is one policy under training. Implementations are not safe
// for concurrent use; the assignment processor owns its trainer.
type Trainer interface {
	// AddDemonstration validates a chunk against the brain spec and
	// appends its training-partition frames to the step buffer.
	// Eval-partition chunks update bookkeeping but add no frames.
	AddDemonstration(chunk *domain.EpisodeChunk) error

	// TrainStep runs one optimization step and reports cumulative
	// training examples completed plus the creation time of the most
	// recent demonstration seen. With an empty buffer it is a no-op.
	TrainStep() (examplesCompleted int64, mostRecentDemoMicros int64, err error)

	// EvaluateOffline scores the policy on held-out frames. Lower is
	// better.
	EvaluateOffline(batch []Frame) (float64, error)

	// SaveCheckpoint persists the current weights under the bound
	// checkpoint path.
	SaveCheckpoint() error

	// ExportSavedModel writes a self-describing model bundle to path.
	ExportSavedModel(path string) error

	// ConvertForInference rewrites a saved-model bundle as the compact
	// client format, preserving declared tensor names.
	ConvertForInference(inPath, outPath string) error

	// ReinitializeAgent resets the weights to a fresh initialization.
	ReinitializeAgent()

	// ClearStepBuffers drops buffered demonstrations.
	ClearStepBuffers()

	// Rebind points the trainer at new checkpoint and summary paths,
	// used when a cached trainer is reassigned.
	Rebind(checkpointPath, summaryPath string)

	// Hyperparameters returns the effective, post-validation settings.
	Hyperparameters() Hyperparameters
}

// Factory builds a trainer for a brain spec. compileGraph false skips
// optimizer state, for export-only rehydration.
type Factory func(spec *domain.BrainSpec, h Hyperparameters, checkpointPath, summaryPath string, compileGraph bool) (Trainer, error)
