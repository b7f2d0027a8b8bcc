package api

import "github.com/understudy-ai/understudy-backend/internal/domain"

// Request and response messages for the understudy.v1.Understudy
// service. The wire form is JSON via the codec in codec.go.

type CreateBrainRequest struct {
	ProjectID   string            `json:"project_id"`
	DisplayName string            `json:"display_name"`
	BrainSpec   *domain.BrainSpec `json:"brain_spec"`
}

type GetBrainRequest struct {
	ProjectID string `json:"project_id"`
	BrainID   string `json:"brain_id"`
}

type ListBrainsRequest struct {
	ProjectID string `json:"project_id"`
	PageSize  int    `json:"page_size,omitempty"`
	PageToken string `json:"page_token,omitempty"`
}

type ListBrainsResponse struct {
	Brains        []*domain.Brain `json:"brains,omitempty"`
	NextPageToken string          `json:"next_page_token,omitempty"`
}

// SessionSpec names what a new session should be.
type SessionSpec struct {
	ProjectID   string             `json:"project_id"`
	BrainID     string             `json:"brain_id"`
	SessionType domain.SessionType `json:"session_type"`
	SnapshotID  string             `json:"snapshot_id,omitempty"`
}

type CreateSessionRequest struct {
	Spec *SessionSpec `json:"spec"`
}

type GetSessionRequest struct {
	ProjectID string `json:"project_id"`
	BrainID   string `json:"brain_id"`
	SessionID string `json:"session_id"`
}

type GetSessionByIndexRequest struct {
	ProjectID    string `json:"project_id"`
	BrainID      string `json:"brain_id"`
	SessionIndex int    `json:"session_index"`
}

type ListSessionsRequest struct {
	ProjectID string `json:"project_id"`
	BrainID   string `json:"brain_id"`
	PageSize  int    `json:"page_size,omitempty"`
	PageToken string `json:"page_token,omitempty"`
}

type ListSessionsResponse struct {
	Sessions      []*domain.Session `json:"sessions,omitempty"`
	NextPageToken string            `json:"next_page_token,omitempty"`
}

type GetSessionCountRequest struct {
	ProjectID string `json:"project_id"`
	BrainID   string `json:"brain_id"`
}

type GetSessionCountResponse struct {
	SessionCount int `json:"session_count"`
}

type StopSessionRequest struct {
	ProjectID string `json:"project_id"`
	BrainID   string `json:"brain_id"`
	SessionID string `json:"session_id"`
}

type StopSessionResponse struct {
	// SnapshotID names the snapshot of the session's best model, or ""
	// when the session produced no model.
	SnapshotID string `json:"snapshot_id,omitempty"`
}

// ListEpisodeChunks filters.
type EpisodeChunkFilter string

const (
	FilterAll              EpisodeChunkFilter = "ALL"
	FilterSpecifiedEpisode EpisodeChunkFilter = "SPECIFIED_EPISODE"
	FilterEpisodeIDs       EpisodeChunkFilter = "EPISODE_IDS"
)

type ListEpisodeChunksRequest struct {
	ProjectID string             `json:"project_id"`
	BrainID   string             `json:"brain_id"`
	SessionID string             `json:"session_id"`
	Filter    EpisodeChunkFilter `json:"filter,omitempty"`
	EpisodeID string             `json:"episode_id,omitempty"`
	// EpisodeIDs scopes the EPISODE_IDS filter; empty means every
	// episode in the session.
	EpisodeIDs []string `json:"episode_ids,omitempty"`
	PageSize   int      `json:"page_size,omitempty"`
	PageToken  string   `json:"page_token,omitempty"`
}

type ListEpisodeChunksResponse struct {
	// EpisodeChunks carry full payloads, except under EPISODE_IDS where
	// they are id-only stubs.
	EpisodeChunks []*domain.EpisodeChunk `json:"episode_chunks,omitempty"`
	NextPageToken string                 `json:"next_page_token,omitempty"`
}

type SubmitEpisodeChunksRequest struct {
	ProjectID string                 `json:"project_id"`
	BrainID   string                 `json:"brain_id"`
	SessionID string                 `json:"session_id"`
	Chunks    []*domain.EpisodeChunk `json:"chunks"`
}

type SubmitEpisodeChunksResponse struct{}

type GetModelRequest struct {
	ProjectID  string `json:"project_id"`
	BrainID    string `json:"brain_id"`
	SnapshotID string `json:"snapshot_id,omitempty"`
	ModelID    string `json:"model_id,omitempty"`
}

// ModelFile is one file of the packaged model.
type ModelFile struct {
	Path     string `json:"path"`
	Contents []byte `json:"contents"`
}

type GetModelResponse struct {
	ModelID    string       `json:"model_id"`
	SnapshotID string       `json:"snapshot_id,omitempty"`
	Files      []*ModelFile `json:"files,omitempty"`
}
