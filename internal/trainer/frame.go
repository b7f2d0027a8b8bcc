package trainer

import (
	"hash/fnv"
	"strconv"

	"github.com/understudy-ai/understudy-backend/internal/brainspec"
	"github.com/understudy-ai/understudy-backend/internal/domain"
)

// Frame is one demonstration step flattened to the trainer's tensor
// layout: leaf values concatenated in brain-spec tree order.
type Frame struct {
	Observation []float64
	Action      []float64
	TimeMicros  int64
}

// Frames validates and flattens a chunk's steps. The chunk's creation
// time stamps every frame.
func Frames(spec *brainspec.Spec, chunk *domain.EpisodeChunk) ([]Frame, error) {
	out := make([]Frame, 0, len(chunk.Steps))
	for _, step := range chunk.Steps {
		obs, err := spec.ObservationTensors(step.Observation)
		if err != nil {
			return nil, err
		}
		act, err := spec.ActionTensors(step.Action)
		if err != nil {
			return nil, err
		}
		out = append(out, Frame{
			Observation: flatten(obs),
			Action:      flatten(act),
			TimeMicros:  chunk.CreatedMicros,
		})
	}
	return out, nil
}

func flatten(tensors []brainspec.LeafTensor) []float64 {
	n := 0
	for _, t := range tensors {
		n += len(t.Values)
	}
	out := make([]float64, 0, n)
	for _, t := range tensors {
		out = append(out, t.Values...)
	}
	return out
}

// DefaultEvalFraction is the share of chunks held out for offline
// evaluation.
const DefaultEvalFraction = 0.1

// InEvalSet deterministically assigns a chunk to the eval partition.
// The same (episode, chunk) lands on the same side on every worker.
func InEvalSet(episodeID string, chunkID int, fraction float64) bool {
	h := fnv.New32a()
	h.Write([]byte(episodeID))
	h.Write([]byte("/"))
	h.Write([]byte(strconv.Itoa(chunkID)))
	return float64(h.Sum32()%1000)/1000.0 < fraction
}
