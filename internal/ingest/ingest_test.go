package ingest

import (
	"strings"
	"testing"

	"github.com/understudy-ai/understudy-backend/internal/datastore"
	"github.com/understudy-ai/understudy-backend/internal/domain"
	"github.com/understudy-ai/understudy-backend/internal/filestore"
	"github.com/understudy-ai/understudy-backend/internal/monitor"
	"github.com/understudy-ai/understudy-backend/internal/platform/logger"
	"github.com/understudy-ai/understudy-backend/internal/testfix"
)

func newIngestor(t *testing.T) (*Ingestor, *datastore.Store, *monitor.Monitor) {
	t.Helper()
	files, err := filestore.New(t.TempDir(), logger.NewNop())
	if err != nil {
		t.Fatalf("filestore.New: %v", err)
	}
	data := datastore.New(files, logger.NewNop())
	mon := monitor.New(files, monitor.Callbacks{}, monitor.NewManualMetronome(), logger.NewNop())

	if err := data.WriteBrain(&domain.Brain{
		ProjectID: "p0", BrainID: "b0", DisplayName: "b", BrainSpec: testfix.BrainSpec(),
	}); err != nil {
		t.Fatalf("WriteBrain: %v", err)
	}
	if err := data.WriteAssignment(&domain.Assignment{
		ProjectID: "p0", BrainID: "b0", SessionID: "s0", AssignmentID: "a1",
	}); err != nil {
		t.Fatalf("WriteAssignment: %v", err)
	}
	return New(data, mon, logger.NewNop()), data, mon
}

func session() *domain.Session {
	return &domain.Session{
		ProjectID: "p0", BrainID: "b0", SessionID: "s0",
		SessionType: domain.SessionTypeInteractiveTraining,
	}
}

func TestSubmitPersistsAndNotifies(t *testing.T) {
	in, data, mon := newIngestor(t)

	chunk := testfix.Chunk("p0", "b0", "s0", "e0", 0, 1, domain.EpisodeStateSuccess)
	if err := in.SubmitChunks(session(), []*domain.EpisodeChunk{chunk}); err != nil {
		t.Fatalf("SubmitChunks: %v", err)
	}

	stored, err := data.ReadEpisodeChunk("p0", "b0", "s0", "e0", 0)
	if err != nil {
		t.Fatalf("ReadEpisodeChunk: %v", err)
	}
	if len(stored.Steps) != 1 || stored.EpisodeState != domain.EpisodeStateSuccess {
		t.Fatalf("stored chunk: %+v", stored)
	}

	pending, err := mon.PendingAssignments()
	if err != nil {
		t.Fatalf("PendingAssignments: %v", err)
	}
	if len(pending) != 1 || pending[0] != "a1" {
		t.Fatalf("pending assignments: %v", pending)
	}
}

func TestSubmitSpecMismatch(t *testing.T) {
	in, data, _ := newIngestor(t)

	chunk := testfix.Chunk("p0", "b0", "s0", "e0", 0, 1, domain.EpisodeStateSuccess)
	chunk.Steps[0].Action.Actions[0].Number.Value = 5.0 // throttle range is [-1, 1]
	err := in.SubmitChunks(session(), []*domain.EpisodeChunk{chunk})
	if err == nil {
		t.Fatal("expected spec mismatch error")
	}
	msg := err.Error()
	if !strings.Contains(msg, "chunk 0, step 0") {
		t.Fatalf("missing chunk/step context in %q", msg)
	}
	if !strings.Contains(msg, "action_spec/actions/throttle") {
		t.Fatalf("missing leaf path in %q", msg)
	}
	if _, err := data.ReadEpisodeChunk("p0", "b0", "s0", "e0", 0); err == nil {
		t.Fatal("invalid chunk was persisted")
	}
}

func TestSubmitChunkWithoutStepsMustTerminate(t *testing.T) {
	in, _, _ := newIngestor(t)

	empty := testfix.Chunk("p0", "b0", "s0", "e0", 1, 0, domain.EpisodeStateInProgress)
	if err := in.SubmitChunks(session(), []*domain.EpisodeChunk{empty}); err == nil {
		t.Fatal("expected error for steps-less non-terminal chunk")
	}

	terminator := testfix.Chunk("p0", "b0", "s0", "e0", 1, 0, domain.EpisodeStateGaveUp)
	if err := in.SubmitChunks(session(), []*domain.EpisodeChunk{terminator}); err != nil {
		t.Fatalf("terminator rejected: %v", err)
	}
}

func TestSubmitRejectsEmptyTerminalEpisode(t *testing.T) {
	in, _, _ := newIngestor(t)

	chunk := testfix.Chunk("p0", "b0", "s0", "e0", 0, 0, domain.EpisodeStateFailure)
	if err := in.SubmitChunks(session(), []*domain.EpisodeChunk{chunk}); err == nil {
		t.Fatal("expected error for empty terminal episode at chunk 0")
	}
}

func TestSubmitKeepsEarlierChunksOnFailure(t *testing.T) {
	in, data, _ := newIngestor(t)

	good := testfix.Chunk("p0", "b0", "s0", "e0", 0, 1, domain.EpisodeStateInProgress)
	bad := testfix.Chunk("p0", "b0", "s0", "e0", 1, 1, domain.EpisodeStateSuccess)
	bad.Steps[0].Observation.Player.Fields[0].Number.Value = 500 // health range is [0, 100]

	if err := in.SubmitChunks(session(), []*domain.EpisodeChunk{good, bad}); err == nil {
		t.Fatal("expected error from second chunk")
	}
	if _, err := data.ReadEpisodeChunk("p0", "b0", "s0", "e0", 0); err != nil {
		t.Fatalf("first chunk was not kept: %v", err)
	}
	if _, err := data.ReadEpisodeChunk("p0", "b0", "s0", "e0", 1); err == nil {
		t.Fatal("second chunk was persisted")
	}
}
