package api

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/understudy-ai/understudy-backend/internal/domain"
	"github.com/understudy-ai/understudy-backend/internal/platform/svcerr"
	"github.com/understudy-ai/understudy-backend/internal/resource"
)

// chunkRef orders chunks by episode then by numeric chunk index. The
// datastore's id-string order would put chunk 10 before chunk 2, so
// chunk listings carry their own paging tokens of the form
// "<episode>/<chunk>".
type chunkRef struct {
	episode string
	chunk   int
}

func (r chunkRef) token() string { return fmt.Sprintf("%s/%d", r.episode, r.chunk) }

func (r chunkRef) less(other chunkRef) bool {
	if r.episode != other.episode {
		return r.episode < other.episode
	}
	return r.chunk < other.chunk
}

func parseChunkToken(token string) (chunkRef, error) {
	i := strings.LastIndexByte(token, '/')
	if i < 0 {
		return chunkRef{}, svcerr.InvalidArgument("malformed page token %q", token)
	}
	chunk, err := strconv.Atoi(token[i+1:])
	if err != nil || chunk < 0 {
		return chunkRef{}, svcerr.InvalidArgument("malformed page token %q", token)
	}
	return chunkRef{episode: token[:i], chunk: chunk}, nil
}

func (s *Server) ListEpisodeChunks(ctx context.Context, req *ListEpisodeChunksRequest) (*ListEpisodeChunksResponse, error) {
	if _, err := s.authorize(ctx, req.ProjectID); err != nil {
		return nil, err
	}
	session, err := s.data.ReadSession(req.ProjectID, req.BrainID, req.SessionID)
	if err != nil {
		return nil, err
	}

	episodePattern := "*"
	switch req.Filter {
	case FilterAll, "":
	case FilterSpecifiedEpisode:
		if req.EpisodeID == "" {
			return nil, svcerr.InvalidArgument("SPECIFIED_EPISODE filter requires episode_id")
		}
		episodePattern = req.EpisodeID
	case FilterEpisodeIDs:
		if len(req.EpisodeIDs) == 1 {
			episodePattern = req.EpisodeIDs[0]
		} else if len(req.EpisodeIDs) > 1 {
			episodePattern = "{" + strings.Join(req.EpisodeIDs, ",") + "}"
		}
	default:
		return nil, svcerr.InvalidArgument("unsupported filter %q", req.Filter)
	}

	pattern := resource.SessionID(session.ProjectID, session.BrainID, session.SessionID).
		Child(resource.Episodes, episodePattern).
		Child(resource.Chunks, "*").
		String()
	ids, _, err := s.data.List(pattern, 0, "")
	if err != nil {
		return nil, err
	}
	refs := make([]chunkRef, 0, len(ids))
	for _, id := range ids {
		index, err := id.ChunkIndex()
		if err != nil {
			return nil, err
		}
		refs = append(refs, chunkRef{episode: id.Episode(), chunk: index})
	}
	sort.Slice(refs, func(i, j int) bool { return refs[i].less(refs[j]) })

	start := 0
	if req.PageToken != "" {
		from, err := parseChunkToken(req.PageToken)
		if err != nil {
			return nil, err
		}
		start = sort.Search(len(refs), func(i int) bool { return !refs[i].less(from) })
	}
	end := len(refs)
	next := ""
	if req.PageSize > 0 && start+req.PageSize < end {
		end = start + req.PageSize
		next = refs[end].token()
	}

	chunks := make([]*domain.EpisodeChunk, 0, end-start)
	for _, ref := range refs[start:end] {
		if req.Filter == FilterEpisodeIDs {
			// Id-only stubs: enough for a client to name what it has
			// without moving step payloads.
			chunks = append(chunks, &domain.EpisodeChunk{EpisodeID: ref.episode, ChunkID: ref.chunk})
			continue
		}
		chunk, err := s.data.ReadEpisodeChunk(
			session.ProjectID, session.BrainID, session.SessionID, ref.episode, ref.chunk)
		if err != nil {
			return nil, err
		}
		chunks = append(chunks, chunk)
	}
	return &ListEpisodeChunksResponse{EpisodeChunks: chunks, NextPageToken: next}, nil
}

func (s *Server) SubmitEpisodeChunks(ctx context.Context, req *SubmitEpisodeChunksRequest) (*SubmitEpisodeChunksResponse, error) {
	if _, err := s.authorize(ctx, req.ProjectID); err != nil {
		return nil, err
	}
	session, err := s.data.ReadSession(req.ProjectID, req.BrainID, req.SessionID)
	if err != nil {
		return nil, err
	}
	if session.Stopped() {
		return nil, svcerr.FailedPrecondition("session %q is stopped", req.SessionID)
	}
	if err := s.ingestor.SubmitChunks(session, req.Chunks); err != nil {
		return nil, err
	}
	return &SubmitEpisodeChunksResponse{}, nil
}
