package api

import (
	"archive/zip"
	"bytes"
	"context"
	"io"
	"strings"

	"github.com/understudy-ai/understudy-backend/internal/domain"
	"github.com/understudy-ai/understudy-backend/internal/platform/svcerr"
	"github.com/understudy-ai/understudy-backend/internal/resource"
)

// savedModelPrefix scopes GetModel to the serving artifact inside a
// published bundle; checkpoints and conversion leftovers stay server
// side.
const savedModelPrefix = "saved_model/"

func (s *Server) GetModel(ctx context.Context, req *GetModelRequest) (*GetModelResponse, error) {
	if _, err := s.authorize(ctx, req.ProjectID); err != nil {
		return nil, err
	}
	if (req.SnapshotID == "") == (req.ModelID == "") {
		return nil, svcerr.InvalidArgument("exactly one of snapshot_id and model_id is required")
	}

	var model *domain.Model
	snapshotID := ""
	if req.SnapshotID != "" {
		snapshot, err := s.data.ReadSnapshot(req.ProjectID, req.BrainID, req.SnapshotID)
		if err != nil {
			return nil, err
		}
		model, err = s.data.ReadModel(snapshot.ProjectID, snapshot.BrainID, snapshot.SessionID, snapshot.ModelID)
		if err != nil {
			return nil, err
		}
		snapshotID = snapshot.SnapshotID
	} else {
		var err error
		model, err = s.findModel(req.ProjectID, req.BrainID, req.ModelID)
		if err != nil {
			return nil, err
		}
	}

	files, err := s.readBundle(model)
	if err != nil {
		return nil, err
	}
	return &GetModelResponse{ModelID: model.ModelID, SnapshotID: snapshotID, Files: files}, nil
}

// findModel resolves a model id without a session id by searching the
// brain's sessions. Model ids are unique within a brain.
func (s *Server) findModel(projectID, brainID, modelID string) (*domain.Model, error) {
	pattern := resource.ModelID(projectID, brainID, "*", modelID).String()
	ids, _, err := s.data.List(pattern, 0, "")
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, svcerr.NotFound("model %q not found in brain %q", modelID, brainID)
	}
	id := ids[0]
	return s.data.ReadModel(id.Project(), id.Brain(), id.Session(), id.Model())
}

// readBundle extracts the saved_model tree from the model's published
// zip.
func (s *Server) readBundle(model *domain.Model) ([]*ModelFile, error) {
	if model.CompressedModelPath == "" {
		return nil, svcerr.FailedPrecondition("model %q has no published bundle", model.ModelID)
	}
	data, err := s.data.Files().Read(model.CompressedModelPath)
	if err != nil {
		return nil, err
	}
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, svcerr.Internal("opening bundle for model %q: %v", model.ModelID, err)
	}
	var files []*ModelFile
	for _, entry := range zr.File {
		if !strings.HasPrefix(entry.Name, savedModelPrefix) {
			continue
		}
		rc, err := entry.Open()
		if err != nil {
			return nil, svcerr.Internal("opening %q in bundle for model %q: %v", entry.Name, model.ModelID, err)
		}
		contents, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return nil, svcerr.Internal("reading %q in bundle for model %q: %v", entry.Name, model.ModelID, err)
		}
		files = append(files, &ModelFile{Path: entry.Name, Contents: contents})
	}
	if len(files) == 0 {
		return nil, svcerr.Internal("bundle for model %q has no %s entries", model.ModelID, savedModelPrefix)
	}
	return files, nil
}
