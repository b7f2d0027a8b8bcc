// Package bcnet is the default policy network: a small fully-connected
// net trained by behavioral cloning over demonstration frames.
package bcnet

import (
	"hash/fnv"
	"math/rand"
	"path"

	"github.com/understudy-ai/understudy-backend/internal/brainspec"
	"github.com/understudy-ai/understudy-backend/internal/domain"
	"github.com/understudy-ai/understudy-backend/internal/filestore"
	"github.com/understudy-ai/understudy-backend/internal/platform/svcerr"
	"github.com/understudy-ai/understudy-backend/internal/trainer"
)

// maxBufferFrames bounds the in-memory demonstration window; the
// oldest frames fall out first.
const maxBufferFrames = 100000

const checkpointFile = "checkpoint.json"

var _ trainer.Trainer = (*Policy)(nil)

// Policy implements trainer.Trainer. Not safe for concurrent use.
type Policy struct {
	files *filestore.Store
	spec  *brainspec.Spec
	h     trainer.Hyperparameters

	checkpointPath string
	summaryPath    string
	compiled       bool
	evalFraction   float64

	net    *network
	buffer []trainer.Frame
	rng    *rand.Rand

	batches           int64
	examplesCompleted int64
	lastDemoMicros    int64
}

// New builds a policy for the brain spec, restoring weights from
// checkpointPath when a checkpoint exists there. With compileGraph
// false the policy can evaluate and export but not train.
func New(files *filestore.Store, spec *domain.BrainSpec, h trainer.Hyperparameters, checkpointPath, summaryPath string, compileGraph bool) (*Policy, error) {
	if err := h.Validate(); err != nil {
		return nil, err
	}
	tree, err := brainspec.New(spec)
	if err != nil {
		return nil, err
	}

	seed := fnv.New64a()
	seed.Write([]byte(h.Canonical()))
	rng := rand.New(rand.NewSource(int64(seed.Sum64())))

	p := &Policy{
		files:          files,
		spec:           tree,
		h:              h,
		checkpointPath: checkpointPath,
		summaryPath:    summaryPath,
		compiled:       compileGraph,
		evalFraction:   trainer.DefaultEvalFraction,
		net:            newNetwork(tree.ObservationDim(), tree.ActionTensorSpecs(), h, rng),
		rng:            rng,
	}
	if checkpointPath != "" {
		if file := path.Join(checkpointPath, checkpointFile); files.Exists(file) {
			if err := p.loadCheckpoint(file); err != nil {
				return nil, err
			}
		}
	}
	return p, nil
}

// Factory adapts New to the trainer.Factory signature over one store.
// Policies it builds hold out evalFraction of chunks from the training
// buffer; pass the same fraction the caller uses to route chunks into
// its eval set, or <= 0 for DefaultEvalFraction.
func Factory(files *filestore.Store, evalFraction float64) trainer.Factory {
	return func(spec *domain.BrainSpec, h trainer.Hyperparameters, checkpointPath, summaryPath string, compileGraph bool) (trainer.Trainer, error) {
		p, err := New(files, spec, h, checkpointPath, summaryPath, compileGraph)
		if err != nil {
			return nil, err
		}
		if evalFraction > 0 {
			p.evalFraction = evalFraction
		}
		return p, nil
	}
}

func (p *Policy) AddDemonstration(chunk *domain.EpisodeChunk) error {
	frames, err := trainer.Frames(p.spec, chunk)
	if err != nil {
		return err
	}
	if chunk.CreatedMicros > p.lastDemoMicros {
		p.lastDemoMicros = chunk.CreatedMicros
	}
	if trainer.InEvalSet(chunk.EpisodeID, chunk.ChunkID, p.evalFraction) {
		return nil
	}
	p.buffer = append(p.buffer, frames...)
	if excess := len(p.buffer) - maxBufferFrames; excess > 0 {
		p.buffer = append(p.buffer[:0], p.buffer[excess:]...)
	}
	return nil
}

func (p *Policy) TrainStep() (int64, int64, error) {
	if !p.compiled {
		return 0, 0, svcerr.FailedPrecondition("policy was built without a training graph")
	}
	if len(p.buffer) == 0 {
		return p.examplesCompleted, p.lastDemoMicros, nil
	}

	batch := p.buffer
	if len(batch) > p.h.BatchSize {
		batch = make([]trainer.Frame, p.h.BatchSize)
		for i := range batch {
			batch[i] = p.buffer[p.rng.Intn(len(p.buffer))]
		}
	}
	loss := p.net.trainBatch(batch)
	p.batches++
	p.examplesCompleted += int64(len(batch))

	if err := p.writeSummary(loss); err != nil {
		return p.examplesCompleted, p.lastDemoMicros, err
	}
	return p.examplesCompleted, p.lastDemoMicros, nil
}

func (p *Policy) EvaluateOffline(batch []trainer.Frame) (float64, error) {
	return p.net.evaluate(batch)
}

func (p *Policy) ReinitializeAgent() {
	p.net.initWeights()
	p.batches = 0
	p.examplesCompleted = 0
	p.lastDemoMicros = 0
}

func (p *Policy) ClearStepBuffers() {
	p.buffer = nil
}

func (p *Policy) Rebind(checkpointPath, summaryPath string) {
	p.checkpointPath = checkpointPath
	p.summaryPath = summaryPath
}

func (p *Policy) Hyperparameters() trainer.Hyperparameters {
	return p.h
}

// BufferedFrames reports the current step-buffer depth.
func (p *Policy) BufferedFrames() int { return len(p.buffer) }
