// Package ingest validates and persists episode chunks, then wakes the
// learners attached to the session.
package ingest

import (
	"sync"

	"github.com/understudy-ai/understudy-backend/internal/brainspec"
	"github.com/understudy-ai/understudy-backend/internal/datastore"
	"github.com/understudy-ai/understudy-backend/internal/domain"
	"github.com/understudy-ai/understudy-backend/internal/monitor"
	"github.com/understudy-ai/understudy-backend/internal/observability"
	"github.com/understudy-ai/understudy-backend/internal/platform/logger"
	"github.com/understudy-ai/understudy-backend/internal/platform/svcerr"
	"github.com/understudy-ai/understudy-backend/internal/resource"
)

// Ingestor handles SubmitEpisodeChunks. Spec trees are cached per
// brain; submissions for the same brain skip the parse.
type Ingestor struct {
	data    *datastore.Store
	mon     *monitor.Monitor
	metrics *observability.Metrics
	log     *logger.Logger

	mu    sync.Mutex
	specs map[string]*brainspec.Spec
}

func New(data *datastore.Store, mon *monitor.Monitor, baseLog *logger.Logger) *Ingestor {
	return &Ingestor{
		data:    data,
		mon:     mon,
		metrics: observability.Current(),
		log:     baseLog.With("component", "episode_ingestor"),
		specs:   make(map[string]*brainspec.Spec),
	}
}

// Spec returns the cached spec tree for a brain, parsing on first use.
func (in *Ingestor) Spec(projectID, brainID string) (*brainspec.Spec, error) {
	key := projectID + "/" + brainID
	in.mu.Lock()
	spec, ok := in.specs[key]
	in.mu.Unlock()
	if ok {
		return spec, nil
	}

	brain, err := in.data.ReadBrain(projectID, brainID)
	if err != nil {
		return nil, err
	}
	spec, err = brainspec.New(brain.BrainSpec)
	if err != nil {
		return nil, err
	}
	in.mu.Lock()
	in.specs[key] = spec
	in.mu.Unlock()
	return spec, nil
}

// SubmitChunks validates the chunks in request order against the
// brain's spec, persists them, and notifies every assignment attached
// to the session.
//
// The first invalid chunk aborts the call; chunks persisted earlier in
// the same request are kept. Consumers tolerate the partial set since
// chunk writes are individually atomic.
func (in *Ingestor) SubmitChunks(session *domain.Session, chunks []*domain.EpisodeChunk) error {
	spec, err := in.Spec(session.ProjectID, session.BrainID)
	if err != nil {
		return err
	}

	assignments, err := in.sessionAssignments(session)
	if err != nil {
		return err
	}

	steps := 0
	for i, chunk := range chunks {
		if err := in.validateChunk(spec, i, chunk); err != nil {
			return err
		}
		chunk.ProjectID = session.ProjectID
		chunk.BrainID = session.BrainID
		chunk.SessionID = session.SessionID
		if err := in.data.WriteEpisodeChunk(chunk); err != nil {
			return err
		}
		steps += len(chunk.Steps)

		ref := resource.ChunkID(chunk.ProjectID, chunk.BrainID, chunk.SessionID,
			chunk.EpisodeID, chunk.ChunkID).String()
		for _, assignment := range assignments {
			if err := in.mon.TriggerNotification(assignment, ref); err != nil {
				return err
			}
		}
	}

	in.metrics.ObserveIngest(session.ProjectID, steps)
	in.log.Info("ingested chunks",
		"project", session.ProjectID,
		"session", session.SessionID,
		"chunks", len(chunks),
		"steps", steps,
	)
	return nil
}

func (in *Ingestor) validateChunk(spec *brainspec.Spec, index int, chunk *domain.EpisodeChunk) error {
	if chunk.EpisodeID == "" {
		return svcerr.InvalidArgument("chunk %d: episode_id is required", index)
	}
	if chunk.ChunkID < 0 {
		return svcerr.InvalidArgument("chunk %d: chunk_id %d is negative", index, chunk.ChunkID)
	}
	terminal := chunk.EpisodeState.Terminal()
	if len(chunk.Steps) == 0 {
		if !terminal {
			return svcerr.InvalidArgument(
				"chunk %d: a chunk without steps must terminate its episode", index)
		}
		if chunk.ChunkID == 0 {
			return svcerr.InvalidArgument(
				"chunk %d: episode %q is empty and terminal at chunk 0", index, chunk.EpisodeID)
		}
	}
	for j, step := range chunk.Steps {
		if err := spec.ValidateStep(step); err != nil {
			return svcerr.InvalidArgument("chunk %d, step %d: %v", index, j, err)
		}
	}
	return nil
}

// sessionAssignments lists the assignment ids attached to the session.
func (in *Ingestor) sessionAssignments(session *domain.Session) ([]string, error) {
	pattern := resource.AssignmentID(session.ProjectID, session.BrainID, session.SessionID, "*").String()
	ids, _, err := in.data.List(pattern, 0, "")
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		out = append(out, id.Assignment())
	}
	return out, nil
}
