package api

import (
	"context"

	"github.com/google/uuid"

	"github.com/understudy-ai/understudy-backend/internal/brainspec"
	"github.com/understudy-ai/understudy-backend/internal/domain"
	"github.com/understudy-ai/understudy-backend/internal/platform/svcerr"
	"github.com/understudy-ai/understudy-backend/internal/resource"
)

func (s *Server) CreateBrain(ctx context.Context, req *CreateBrainRequest) (*domain.Brain, error) {
	if _, err := s.authorize(ctx, req.ProjectID); err != nil {
		return nil, err
	}
	if req.DisplayName == "" {
		return nil, svcerr.InvalidArgument("display_name is required")
	}
	if req.BrainSpec == nil {
		return nil, svcerr.InvalidArgument("brain_spec is required")
	}
	if _, err := brainspec.New(req.BrainSpec); err != nil {
		return nil, err
	}
	brain := &domain.Brain{
		ProjectID:   req.ProjectID,
		BrainID:     uuid.NewString(),
		DisplayName: req.DisplayName,
		BrainSpec:   req.BrainSpec,
	}
	if err := s.data.WriteBrain(brain); err != nil {
		return nil, err
	}
	s.log.Info("brain created", "project", brain.ProjectID, "brain", brain.BrainID)
	return brain, nil
}

func (s *Server) GetBrain(ctx context.Context, req *GetBrainRequest) (*domain.Brain, error) {
	if _, err := s.authorize(ctx, req.ProjectID); err != nil {
		return nil, err
	}
	return s.data.ReadBrain(req.ProjectID, req.BrainID)
}

func (s *Server) ListBrains(ctx context.Context, req *ListBrainsRequest) (*ListBrainsResponse, error) {
	if _, err := s.authorize(ctx, req.ProjectID); err != nil {
		return nil, err
	}
	pattern := resource.BrainID(req.ProjectID, "*").String()
	ids, next, err := s.data.List(pattern, req.PageSize, req.PageToken)
	if err != nil {
		return nil, err
	}
	brains := make([]*domain.Brain, 0, len(ids))
	for _, id := range ids {
		brain, err := s.data.ReadBrain(id.Project(), id.Brain())
		if err != nil {
			return nil, err
		}
		brains = append(brains, brain)
	}
	return &ListBrainsResponse{Brains: brains, NextPageToken: next}, nil
}
