package datastore

import (
	"errors"
	"fmt"

	"github.com/understudy-ai/understudy-backend/internal/domain"
	"github.com/understudy-ai/understudy-backend/internal/platform/svcerr"
	"github.com/understudy-ai/understudy-backend/internal/resource"
)

// Typed accessors, one pair per record kind. Write derives the path
// from the ids embedded in the record.

func (s *Store) ReadProject(projectID string) (*domain.Project, error) {
	var p domain.Project
	if err := s.Read(resource.ProjectID(projectID), &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *Store) WriteProject(p *domain.Project) error {
	return s.write(resource.ProjectID(p.ProjectID), p, &p.CreatedMicros)
}

func (s *Store) ReadBrain(projectID, brainID string) (*domain.Brain, error) {
	var b domain.Brain
	if err := s.Read(resource.BrainID(projectID, brainID), &b); err != nil {
		return nil, err
	}
	return &b, nil
}

func (s *Store) WriteBrain(b *domain.Brain) error {
	return s.write(resource.BrainID(b.ProjectID, b.BrainID), b, &b.CreatedMicros)
}

func (s *Store) ReadSession(projectID, brainID, sessionID string) (*domain.Session, error) {
	var sess domain.Session
	if err := s.Read(resource.SessionID(projectID, brainID, sessionID), &sess); err != nil {
		return nil, err
	}
	return &sess, nil
}

func (s *Store) WriteSession(sess *domain.Session) error {
	return s.write(resource.SessionID(sess.ProjectID, sess.BrainID, sess.SessionID), sess, &sess.CreatedMicros)
}

func (s *Store) ReadEpisodeChunk(projectID, brainID, sessionID, episodeID string, chunkID int) (*domain.EpisodeChunk, error) {
	var c domain.EpisodeChunk
	if err := s.Read(resource.ChunkID(projectID, brainID, sessionID, episodeID, chunkID), &c); err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *Store) WriteEpisodeChunk(c *domain.EpisodeChunk) error {
	id := resource.ChunkID(c.ProjectID, c.BrainID, c.SessionID, c.EpisodeID, c.ChunkID)
	return s.write(id, c, &c.CreatedMicros)
}

func (s *Store) ReadAssignment(projectID, brainID, sessionID, assignmentID string) (*domain.Assignment, error) {
	var a domain.Assignment
	if err := s.Read(resource.AssignmentID(projectID, brainID, sessionID, assignmentID), &a); err != nil {
		return nil, err
	}
	return &a, nil
}

func (s *Store) WriteAssignment(a *domain.Assignment) error {
	id := resource.AssignmentID(a.ProjectID, a.BrainID, a.SessionID, a.AssignmentID)
	return s.write(id, a, &a.CreatedMicros)
}

func (s *Store) ReadModel(projectID, brainID, sessionID, modelID string) (*domain.Model, error) {
	var m domain.Model
	if err := s.Read(resource.ModelID(projectID, brainID, sessionID, modelID), &m); err != nil {
		return nil, err
	}
	return &m, nil
}

func (s *Store) WriteModel(m *domain.Model) error {
	id := resource.ModelID(m.ProjectID, m.BrainID, m.SessionID, m.ModelID)
	return s.write(id, m, &m.CreatedMicros)
}

// OfflineEvaluationElementID is "<model_id>_<version>": one record per
// (model, eval-set version) pair.
func OfflineEvaluationElementID(modelID string, evalSetVersion int) string {
	return fmt.Sprintf("%s_%d", modelID, evalSetVersion)
}

func (s *Store) ReadOfflineEvaluation(projectID, brainID, sessionID, evalID string) (*domain.OfflineEvaluation, error) {
	var e domain.OfflineEvaluation
	if err := s.Read(resource.OfflineEvaluationID(projectID, brainID, sessionID, evalID), &e); err != nil {
		return nil, err
	}
	return &e, nil
}

func (s *Store) WriteOfflineEvaluation(e *domain.OfflineEvaluation) error {
	if e.OfflineEvaluationID == "" {
		e.OfflineEvaluationID = OfflineEvaluationElementID(e.ModelID, e.EvalSetVersion)
	}
	id := resource.OfflineEvaluationID(e.ProjectID, e.BrainID, e.SessionID, e.OfflineEvaluationID)
	return s.write(id, e, &e.CreatedMicros)
}

func (s *Store) ReadOnlineEvaluation(projectID, brainID, sessionID, modelID string) (*domain.OnlineEvaluation, error) {
	var e domain.OnlineEvaluation
	if err := s.Read(resource.OnlineEvaluationID(projectID, brainID, sessionID, modelID), &e); err != nil {
		return nil, err
	}
	return &e, nil
}

func (s *Store) WriteOnlineEvaluation(e *domain.OnlineEvaluation) error {
	id := resource.OnlineEvaluationID(e.ProjectID, e.BrainID, e.SessionID, e.ModelID)
	return s.write(id, e, &e.CreatedMicros)
}

func (s *Store) ReadSnapshot(projectID, brainID, snapshotID string) (*domain.Snapshot, error) {
	var snap domain.Snapshot
	if err := s.Read(resource.SnapshotID(projectID, brainID, snapshotID), &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

func (s *Store) WriteSnapshot(snap *domain.Snapshot) error {
	id := resource.SnapshotID(snap.ProjectID, snap.BrainID, snap.SnapshotID)
	return s.write(id, snap, &snap.CreatedMicros)
}

// GetMostRecentSnapshot returns the brain's snapshot with the highest
// created_micros, ties broken by the greater id string. (nil, nil)
// when the brain has no snapshots.
func (s *Store) GetMostRecentSnapshot(projectID, brainID string) (*domain.Snapshot, error) {
	pattern := resource.BrainID(projectID, brainID).String() + "/" + resource.Snapshots + "/*"
	ids, _, err := s.List(pattern, 0, "")
	if err != nil {
		return nil, err
	}
	var best *domain.Snapshot
	for _, id := range ids {
		snap, err := s.ReadSnapshot(id.Project(), id.Brain(), id.Snapshot())
		if err != nil {
			// A listing can race a concurrent write set; skip holes.
			if errors.Is(err, svcerr.ErrNotFound) {
				continue
			}
			return nil, err
		}
		if best == nil ||
			snap.CreatedMicros > best.CreatedMicros ||
			(snap.CreatedMicros == best.CreatedMicros && snap.SnapshotID > best.SnapshotID) {
			best = snap
		}
	}
	return best, nil
}
