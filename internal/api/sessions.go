package api

import (
	"context"
	"errors"
	"sort"

	"github.com/google/uuid"

	"github.com/understudy-ai/understudy-backend/internal/domain"
	"github.com/understudy-ai/understudy-backend/internal/platform/svcerr"
	"github.com/understudy-ai/understudy-backend/internal/resource"
)

func (s *Server) CreateSession(ctx context.Context, req *CreateSessionRequest) (*domain.Session, error) {
	spec := req.Spec
	if spec == nil {
		return nil, svcerr.InvalidArgument("spec is required")
	}
	if _, err := s.authorize(ctx, spec.ProjectID); err != nil {
		return nil, err
	}
	if _, err := s.data.ReadBrain(spec.ProjectID, spec.BrainID); err != nil {
		return nil, err
	}

	switch spec.SessionType {
	case domain.SessionTypeInteractiveTraining, domain.SessionTypeInference, domain.SessionTypeEvaluation:
	default:
		return nil, svcerr.InvalidArgument("unsupported session type %q", spec.SessionType)
	}

	snapshot, err := s.startingSnapshot(spec)
	if err != nil {
		return nil, err
	}
	if snapshot == nil && spec.SessionType != domain.SessionTypeInteractiveTraining {
		return nil, svcerr.FailedPrecondition(
			"%s session requires a snapshot, and brain %q has none", spec.SessionType, spec.BrainID)
	}
	if snapshot != nil && spec.SessionType == domain.SessionTypeEvaluation {
		source, err := s.data.ReadSession(snapshot.ProjectID, snapshot.BrainID, snapshot.SessionID)
		if err != nil {
			return nil, err
		}
		if source.SessionType != domain.SessionTypeInteractiveTraining {
			return nil, svcerr.FailedPrecondition(
				"evaluation requires a snapshot of an %s session, got %s",
				domain.SessionTypeInteractiveTraining, source.SessionType)
		}
	}

	session := &domain.Session{
		ProjectID:   spec.ProjectID,
		BrainID:     spec.BrainID,
		SessionID:   uuid.NewString(),
		SessionType: spec.SessionType,
		UserAgent:   userAgent(ctx),
		State:       domain.SessionStateActive,
	}
	if snapshot != nil {
		session.StartingSnapshotIDs = []string{snapshot.SnapshotID}
	}
	if err := s.data.WriteSession(session); err != nil {
		return nil, err
	}
	s.log.Info("session created",
		"project", session.ProjectID,
		"brain", session.BrainID,
		"session", session.SessionID,
		"type", session.SessionType)
	return session, nil
}

// startingSnapshot resolves the snapshot a new session resumes from: the
// requested one, or the brain's most recent when none is named. A nil
// result means the brain has no snapshots yet.
func (s *Server) startingSnapshot(spec *SessionSpec) (*domain.Snapshot, error) {
	if spec.SnapshotID != "" {
		return s.data.ReadSnapshot(spec.ProjectID, spec.BrainID, spec.SnapshotID)
	}
	snapshot, err := s.data.GetMostRecentSnapshot(spec.ProjectID, spec.BrainID)
	if err != nil {
		if errors.Is(err, svcerr.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return snapshot, nil
}

func (s *Server) GetSession(ctx context.Context, req *GetSessionRequest) (*domain.Session, error) {
	if _, err := s.authorize(ctx, req.ProjectID); err != nil {
		return nil, err
	}
	return s.data.ReadSession(req.ProjectID, req.BrainID, req.SessionID)
}

func (s *Server) GetSessionByIndex(ctx context.Context, req *GetSessionByIndexRequest) (*domain.Session, error) {
	if _, err := s.authorize(ctx, req.ProjectID); err != nil {
		return nil, err
	}
	if req.SessionIndex < 0 {
		return nil, svcerr.InvalidArgument("session_index must be non-negative, got %d", req.SessionIndex)
	}
	sessions, err := s.readSessions(req.ProjectID, req.BrainID)
	if err != nil {
		return nil, err
	}
	if req.SessionIndex >= len(sessions) {
		return nil, svcerr.NotFound("brain %q has %d sessions, index %d out of range",
			req.BrainID, len(sessions), req.SessionIndex)
	}
	return sessions[req.SessionIndex], nil
}

func (s *Server) ListSessions(ctx context.Context, req *ListSessionsRequest) (*ListSessionsResponse, error) {
	if _, err := s.authorize(ctx, req.ProjectID); err != nil {
		return nil, err
	}
	pattern := resource.SessionID(req.ProjectID, req.BrainID, "*").String()
	ids, next, err := s.data.List(pattern, req.PageSize, req.PageToken)
	if err != nil {
		return nil, err
	}
	sessions := make([]*domain.Session, 0, len(ids))
	for _, id := range ids {
		session, err := s.data.ReadSession(id.Project(), id.Brain(), id.Session())
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, session)
	}
	return &ListSessionsResponse{Sessions: sessions, NextPageToken: next}, nil
}

func (s *Server) GetSessionCount(ctx context.Context, req *GetSessionCountRequest) (*GetSessionCountResponse, error) {
	if _, err := s.authorize(ctx, req.ProjectID); err != nil {
		return nil, err
	}
	pattern := resource.SessionID(req.ProjectID, req.BrainID, "*").String()
	ids, _, err := s.data.List(pattern, 0, "")
	if err != nil {
		return nil, err
	}
	return &GetSessionCountResponse{SessionCount: len(ids)}, nil
}

func (s *Server) StopSession(ctx context.Context, req *StopSessionRequest) (*StopSessionResponse, error) {
	if _, err := s.authorize(ctx, req.ProjectID); err != nil {
		return nil, err
	}
	session, err := s.data.ReadSession(req.ProjectID, req.BrainID, req.SessionID)
	if err != nil {
		return nil, err
	}
	if session.Stopped() {
		return nil, svcerr.FailedPrecondition("session %q is already stopped", req.SessionID)
	}

	snapshotID := ""
	if session.SessionType == domain.SessionTypeInteractiveTraining {
		best, err := s.bestSessionModel(session)
		if err != nil {
			return nil, err
		}
		if best != "" {
			snapshot := &domain.Snapshot{
				ProjectID:  session.ProjectID,
				BrainID:    session.BrainID,
				SnapshotID: uuid.NewString(),
				SessionID:  session.SessionID,
				ModelID:    best,
			}
			if err := s.data.WriteSnapshot(snapshot); err != nil {
				return nil, err
			}
			snapshotID = snapshot.SnapshotID
		}
	}

	session.State = domain.SessionStateStopped
	if err := s.data.WriteSession(session); err != nil {
		return nil, err
	}
	s.log.Info("session stopped",
		"project", session.ProjectID,
		"brain", session.BrainID,
		"session", session.SessionID,
		"snapshot", snapshotID)
	return &StopSessionResponse{SnapshotID: snapshotID}, nil
}

// bestSessionModel picks the model a stopping session should snapshot:
// the lowest offline-evaluation score on the newest eval-set version,
// falling back to the most recently exported model when nothing was
// evaluated. "" means the session produced no models.
func (s *Server) bestSessionModel(session *domain.Session) (string, error) {
	evals, err := s.readOfflineEvaluations(session)
	if err != nil {
		return "", err
	}
	best := ""
	bestVersion := -1
	bestScore := 0.0
	for _, eval := range evals {
		better := eval.EvalSetVersion > bestVersion ||
			(eval.EvalSetVersion == bestVersion && eval.Score < bestScore) ||
			(eval.EvalSetVersion == bestVersion && eval.Score == bestScore && eval.ModelID < best)
		if best == "" || better {
			best = eval.ModelID
			bestVersion = eval.EvalSetVersion
			bestScore = eval.Score
		}
	}
	if best != "" {
		return best, nil
	}
	return s.mostRecentModel(session)
}

func (s *Server) mostRecentModel(session *domain.Session) (string, error) {
	pattern := resource.ModelID(session.ProjectID, session.BrainID, session.SessionID, "*").String()
	ids, _, err := s.data.List(pattern, 0, "")
	if err != nil {
		return "", err
	}
	best := ""
	bestMicros := int64(-1)
	for _, id := range ids {
		model, err := s.data.ReadModel(id.Project(), id.Brain(), id.Session(), id.Model())
		if err != nil {
			return "", err
		}
		if model.CreatedMicros > bestMicros ||
			(model.CreatedMicros == bestMicros && model.ModelID > best) {
			best = model.ModelID
			bestMicros = model.CreatedMicros
		}
	}
	return best, nil
}

func (s *Server) readOfflineEvaluations(session *domain.Session) ([]*domain.OfflineEvaluation, error) {
	pattern := resource.OfflineEvaluationID(session.ProjectID, session.BrainID, session.SessionID, "*").String()
	ids, _, err := s.data.List(pattern, 0, "")
	if err != nil {
		return nil, err
	}
	evals := make([]*domain.OfflineEvaluation, 0, len(ids))
	for _, id := range ids {
		eval, err := s.data.ReadOfflineEvaluation(
			id.Project(), id.Brain(), id.Session(), id.Element(resource.OfflineEvaluations))
		if err != nil {
			return nil, err
		}
		evals = append(evals, eval)
	}
	return evals, nil
}

// readSessions returns the brain's sessions ordered by creation time,
// session id breaking ties. The order is what GetSessionByIndex
// exposes, so it must be stable across calls.
func (s *Server) readSessions(projectID, brainID string) ([]*domain.Session, error) {
	pattern := resource.SessionID(projectID, brainID, "*").String()
	ids, _, err := s.data.List(pattern, 0, "")
	if err != nil {
		return nil, err
	}
	sessions := make([]*domain.Session, 0, len(ids))
	for _, id := range ids {
		session, err := s.data.ReadSession(id.Project(), id.Brain(), id.Session())
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, session)
	}
	sort.Slice(sessions, func(i, j int) bool {
		if sessions[i].CreatedMicros != sessions[j].CreatedMicros {
			return sessions[i].CreatedMicros < sessions[j].CreatedMicros
		}
		return sessions[i].SessionID < sessions[j].SessionID
	})
	return sessions, nil
}
