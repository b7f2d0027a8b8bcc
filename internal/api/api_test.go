package api

import (
	"archive/zip"
	"bytes"
	"context"
	"net"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/understudy-ai/understudy-backend/internal/datastore"
	"github.com/understudy-ai/understudy-backend/internal/domain"
	"github.com/understudy-ai/understudy-backend/internal/filestore"
	"github.com/understudy-ai/understudy-backend/internal/ingest"
	"github.com/understudy-ai/understudy-backend/internal/monitor"
	"github.com/understudy-ai/understudy-backend/internal/observability"
	"github.com/understudy-ai/understudy-backend/internal/platform/logger"
	"github.com/understudy-ai/understudy-backend/internal/testfix"
)

const testAPIKey = "test-api-key"

type harness struct {
	client *Client
	data   *datastore.Store
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	files, err := filestore.New(t.TempDir(), logger.NewNop())
	if err != nil {
		t.Fatalf("filestore.New: %v", err)
	}
	data := datastore.New(files, logger.NewNop())
	if err := data.WriteProject(&domain.Project{
		ProjectID: "p0", DisplayName: "test", APIKey: testAPIKey,
	}); err != nil {
		t.Fatalf("WriteProject: %v", err)
	}

	mon := monitor.New(files, monitor.Callbacks{}, monitor.NewManualMetronome(), logger.NewNop())
	srv := NewServer(data, ingest.New(data, mon, logger.NewNop()), observability.NewLatencyStats(), logger.NewNop())

	lis := bufconn.Listen(1 << 20)
	server := grpc.NewServer(grpc.ChainUnaryInterceptor(srv.Interceptors()...))
	Register(server, srv)
	go func() { _ = server.Serve(lis) }()
	t.Cleanup(server.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}))
	if err != nil {
		t.Fatalf("grpc.NewClient: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })

	return &harness{client: NewClient(conn, testAPIKey), data: data}
}

func ctxT(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func (h *harness) createBrain(t *testing.T) *domain.Brain {
	t.Helper()
	brain, err := h.client.CreateBrain(ctxT(t), &CreateBrainRequest{
		ProjectID:   "p0",
		DisplayName: "driver",
		BrainSpec:   testfix.BrainSpec(),
	})
	if err != nil {
		t.Fatalf("CreateBrain: %v", err)
	}
	return brain
}

func (h *harness) createSession(t *testing.T, brainID string, st domain.SessionType) *domain.Session {
	t.Helper()
	session, err := h.client.CreateSession(ctxT(t), &CreateSessionRequest{
		Spec: &SessionSpec{ProjectID: "p0", BrainID: brainID, SessionType: st},
	})
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	return session
}

func TestAuthRejectsBadKeys(t *testing.T) {
	h := newHarness(t)

	cases := []struct {
		name    string
		client  *Client
		project string
	}{
		{"missing key", NewClient(h.client.conn, ""), "p0"},
		{"wrong key", NewClient(h.client.conn, "wrong"), "p0"},
		{"unknown project", h.client, "nope"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := tc.client.ListBrains(ctxT(t), &ListBrainsRequest{ProjectID: tc.project})
			if status.Code(err) != codes.Unauthenticated {
				t.Fatalf("code = %v, want Unauthenticated (err %v)", status.Code(err), err)
			}
		})
	}
}

func TestBrainLifecycle(t *testing.T) {
	h := newHarness(t)
	brain := h.createBrain(t)
	if brain.BrainID == "" || brain.CreatedMicros == 0 {
		t.Fatalf("incomplete brain: %+v", brain)
	}

	got, err := h.client.GetBrain(ctxT(t), &GetBrainRequest{ProjectID: "p0", BrainID: brain.BrainID})
	if err != nil {
		t.Fatalf("GetBrain: %v", err)
	}
	if got.DisplayName != "driver" || got.BrainSpec == nil {
		t.Fatalf("GetBrain = %+v", got)
	}

	list, err := h.client.ListBrains(ctxT(t), &ListBrainsRequest{ProjectID: "p0"})
	if err != nil {
		t.Fatalf("ListBrains: %v", err)
	}
	if len(list.Brains) != 1 || list.Brains[0].BrainID != brain.BrainID {
		t.Fatalf("ListBrains = %+v", list)
	}
}

func TestCreateBrainRejectsBadSpec(t *testing.T) {
	h := newHarness(t)

	spec := testfix.BrainSpec()
	spec.ActionSpec = nil
	_, err := h.client.CreateBrain(ctxT(t), &CreateBrainRequest{
		ProjectID: "p0", DisplayName: "bad", BrainSpec: spec,
	})
	if status.Code(err) != codes.InvalidArgument {
		t.Fatalf("code = %v, want InvalidArgument (err %v)", status.Code(err), err)
	}
}

func TestCreateSessionSnapshotRules(t *testing.T) {
	h := newHarness(t)
	brain := h.createBrain(t)

	_, err := h.client.CreateSession(ctxT(t), &CreateSessionRequest{
		Spec: &SessionSpec{ProjectID: "p0", BrainID: brain.BrainID, SessionType: domain.SessionTypeInference},
	})
	if status.Code(err) != codes.FailedPrecondition {
		t.Fatalf("inference without snapshot: code = %v, want FailedPrecondition", status.Code(err))
	}

	training := h.createSession(t, brain.BrainID, domain.SessionTypeInteractiveTraining)
	if training.State != domain.SessionStateActive || len(training.StartingSnapshotIDs) != 0 {
		t.Fatalf("training session: %+v", training)
	}
}

func TestGetSessionByIndexOrdering(t *testing.T) {
	h := newHarness(t)
	brain := h.createBrain(t)

	first := h.createSession(t, brain.BrainID, domain.SessionTypeInteractiveTraining)
	second := h.createSession(t, brain.BrainID, domain.SessionTypeInteractiveTraining)

	for i, want := range []string{first.SessionID, second.SessionID} {
		got, err := h.client.GetSessionByIndex(ctxT(t), &GetSessionByIndexRequest{
			ProjectID: "p0", BrainID: brain.BrainID, SessionIndex: i,
		})
		if err != nil {
			t.Fatalf("GetSessionByIndex(%d): %v", i, err)
		}
		if got.SessionID != want {
			t.Fatalf("index %d = %q, want %q", i, got.SessionID, want)
		}
	}
	_, err := h.client.GetSessionByIndex(ctxT(t), &GetSessionByIndexRequest{
		ProjectID: "p0", BrainID: brain.BrainID, SessionIndex: 2,
	})
	if status.Code(err) != codes.NotFound {
		t.Fatalf("out of range: code = %v, want NotFound", status.Code(err))
	}

	count, err := h.client.GetSessionCount(ctxT(t), &GetSessionCountRequest{ProjectID: "p0", BrainID: brain.BrainID})
	if err != nil {
		t.Fatalf("GetSessionCount: %v", err)
	}
	if count.SessionCount != 2 {
		t.Fatalf("SessionCount = %d, want 2", count.SessionCount)
	}
}

func TestSubmitAndListEpisodeChunks(t *testing.T) {
	h := newHarness(t)
	brain := h.createBrain(t)
	session := h.createSession(t, brain.BrainID, domain.SessionTypeInteractiveTraining)

	// Twelve chunks in one episode so that numeric ordering diverges
	// from string ordering (chunk 10 sorts before chunk 2 as a string).
	var chunks []*domain.EpisodeChunk
	for i := 0; i < 12; i++ {
		state := domain.EpisodeStateInProgress
		if i == 11 {
			state = domain.EpisodeStateSuccess
		}
		chunks = append(chunks, testfix.Chunk("p0", brain.BrainID, session.SessionID, "e0", i, 1, state))
	}
	chunks = append(chunks, testfix.Chunk("p0", brain.BrainID, session.SessionID, "e1", 0, 1, domain.EpisodeStateFailure))

	if _, err := h.client.SubmitEpisodeChunks(ctxT(t), &SubmitEpisodeChunksRequest{
		ProjectID: "p0", BrainID: brain.BrainID, SessionID: session.SessionID, Chunks: chunks,
	}); err != nil {
		t.Fatalf("SubmitEpisodeChunks: %v", err)
	}

	var got []*domain.EpisodeChunk
	token := ""
	for {
		page, err := h.client.ListEpisodeChunks(ctxT(t), &ListEpisodeChunksRequest{
			ProjectID: "p0", BrainID: brain.BrainID, SessionID: session.SessionID,
			PageSize: 5, PageToken: token,
		})
		if err != nil {
			t.Fatalf("ListEpisodeChunks: %v", err)
		}
		got = append(got, page.EpisodeChunks...)
		if page.NextPageToken == "" {
			break
		}
		token = page.NextPageToken
	}
	if len(got) != 13 {
		t.Fatalf("got %d chunks, want 13", len(got))
	}
	for i := 0; i < 12; i++ {
		if got[i].EpisodeID != "e0" || got[i].ChunkID != i {
			t.Fatalf("chunk %d = %s/%d, want e0/%d", i, got[i].EpisodeID, got[i].ChunkID, i)
		}
		if len(got[i].Steps) != 1 {
			t.Fatalf("chunk %d has no steps", i)
		}
	}
	if got[12].EpisodeID != "e1" || got[12].ChunkID != 0 {
		t.Fatalf("last chunk = %s/%d, want e1/0", got[12].EpisodeID, got[12].ChunkID)
	}

	single, err := h.client.ListEpisodeChunks(ctxT(t), &ListEpisodeChunksRequest{
		ProjectID: "p0", BrainID: brain.BrainID, SessionID: session.SessionID,
		Filter: FilterSpecifiedEpisode, EpisodeID: "e1",
	})
	if err != nil {
		t.Fatalf("ListEpisodeChunks(e1): %v", err)
	}
	if len(single.EpisodeChunks) != 1 || single.EpisodeChunks[0].EpisodeID != "e1" {
		t.Fatalf("SPECIFIED_EPISODE = %+v", single.EpisodeChunks)
	}

	stubs, err := h.client.ListEpisodeChunks(ctxT(t), &ListEpisodeChunksRequest{
		ProjectID: "p0", BrainID: brain.BrainID, SessionID: session.SessionID,
		Filter: FilterEpisodeIDs, EpisodeIDs: []string{"e0"},
	})
	if err != nil {
		t.Fatalf("ListEpisodeChunks(EPISODE_IDS): %v", err)
	}
	if len(stubs.EpisodeChunks) != 12 {
		t.Fatalf("EPISODE_IDS returned %d chunks, want 12", len(stubs.EpisodeChunks))
	}
	for _, stub := range stubs.EpisodeChunks {
		if len(stub.Steps) != 0 {
			t.Fatalf("EPISODE_IDS stub carries steps: %+v", stub)
		}
	}
}

func TestSubmitRejectedAfterStop(t *testing.T) {
	h := newHarness(t)
	brain := h.createBrain(t)
	session := h.createSession(t, brain.BrainID, domain.SessionTypeInteractiveTraining)

	stop, err := h.client.StopSession(ctxT(t), &StopSessionRequest{
		ProjectID: "p0", BrainID: brain.BrainID, SessionID: session.SessionID,
	})
	if err != nil {
		t.Fatalf("StopSession: %v", err)
	}
	if stop.SnapshotID != "" {
		t.Fatalf("SnapshotID = %q, want empty for model-less session", stop.SnapshotID)
	}

	chunk := testfix.Chunk("p0", brain.BrainID, session.SessionID, "e0", 0, 1, domain.EpisodeStateSuccess)
	_, err = h.client.SubmitEpisodeChunks(ctxT(t), &SubmitEpisodeChunksRequest{
		ProjectID: "p0", BrainID: brain.BrainID, SessionID: session.SessionID,
		Chunks: []*domain.EpisodeChunk{chunk},
	})
	if status.Code(err) != codes.FailedPrecondition {
		t.Fatalf("submit after stop: code = %v, want FailedPrecondition", status.Code(err))
	}

	_, err = h.client.StopSession(ctxT(t), &StopSessionRequest{
		ProjectID: "p0", BrainID: brain.BrainID, SessionID: session.SessionID,
	})
	if status.Code(err) != codes.FailedPrecondition {
		t.Fatalf("double stop: code = %v, want FailedPrecondition", status.Code(err))
	}
}

// writeBundle publishes a fake model zip the way the exporter does, so
// GetModel can be exercised without running training.
func (h *harness) writeBundle(t *testing.T, brainID, sessionID, modelID string) {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, contents := range map[string]string{
		"saved_model/manifest.json":          `{"format":"understudy.saved_model.v1"}`,
		"saved_model/variables/layer_0.json": `{"kernel":[[1]],"bias":[0]}`,
		"model.json":                         `{"format":"understudy.inference.v1"}`,
	} {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatalf("zip.Create(%q): %v", name, err)
		}
		if _, err := w.Write([]byte(contents)); err != nil {
			t.Fatalf("zip write: %v", err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("zip.Close: %v", err)
	}
	zipPath := "models/p0/" + brainID + "/" + sessionID + "/" + modelID + ".zip"
	if err := h.data.Files().Write(zipPath, buf.Bytes()); err != nil {
		t.Fatalf("writing bundle: %v", err)
	}
	if err := h.data.WriteModel(&domain.Model{
		ProjectID: "p0", BrainID: brainID, SessionID: sessionID, ModelID: modelID,
		CompressedModelPath: zipPath,
	}); err != nil {
		t.Fatalf("WriteModel: %v", err)
	}
}

func TestStopSessionPromotesBestModel(t *testing.T) {
	h := newHarness(t)
	brain := h.createBrain(t)
	session := h.createSession(t, brain.BrainID, domain.SessionTypeInteractiveTraining)

	h.writeBundle(t, brain.BrainID, session.SessionID, "m1")
	h.writeBundle(t, brain.BrainID, session.SessionID, "m2")
	for _, eval := range []*domain.OfflineEvaluation{
		{ProjectID: "p0", BrainID: brain.BrainID, SessionID: session.SessionID,
			OfflineEvaluationID: "m1_1", ModelID: "m1", EvalSetVersion: 1, Score: 0.2},
		{ProjectID: "p0", BrainID: brain.BrainID, SessionID: session.SessionID,
			OfflineEvaluationID: "m2_1", ModelID: "m2", EvalSetVersion: 1, Score: 0.5},
	} {
		if err := h.data.WriteOfflineEvaluation(eval); err != nil {
			t.Fatalf("WriteOfflineEvaluation: %v", err)
		}
	}

	stop, err := h.client.StopSession(ctxT(t), &StopSessionRequest{
		ProjectID: "p0", BrainID: brain.BrainID, SessionID: session.SessionID,
	})
	if err != nil {
		t.Fatalf("StopSession: %v", err)
	}
	if stop.SnapshotID == "" {
		t.Fatal("expected a snapshot for a session with models")
	}
	snapshot, err := h.data.ReadSnapshot("p0", brain.BrainID, stop.SnapshotID)
	if err != nil {
		t.Fatalf("ReadSnapshot: %v", err)
	}
	if snapshot.ModelID != "m1" {
		t.Fatalf("snapshot model = %q, want m1 (lowest score)", snapshot.ModelID)
	}

	// The snapshot now seeds inference sessions.
	inference, err := h.client.CreateSession(ctxT(t), &CreateSessionRequest{
		Spec: &SessionSpec{ProjectID: "p0", BrainID: brain.BrainID, SessionType: domain.SessionTypeInference},
	})
	if err != nil {
		t.Fatalf("CreateSession(inference): %v", err)
	}
	if len(inference.StartingSnapshotIDs) != 1 || inference.StartingSnapshotIDs[0] != stop.SnapshotID {
		t.Fatalf("inference snapshots = %v, want [%s]", inference.StartingSnapshotIDs, stop.SnapshotID)
	}

	model, err := h.client.GetModel(ctxT(t), &GetModelRequest{
		ProjectID: "p0", BrainID: brain.BrainID, SnapshotID: stop.SnapshotID,
	})
	if err != nil {
		t.Fatalf("GetModel: %v", err)
	}
	if model.ModelID != "m1" || model.SnapshotID != stop.SnapshotID {
		t.Fatalf("GetModel = %+v", model)
	}
	if len(model.Files) != 2 {
		t.Fatalf("got %d files, want the 2 saved_model entries", len(model.Files))
	}
	for _, f := range model.Files {
		if f.Path != "saved_model/manifest.json" && f.Path != "saved_model/variables/layer_0.json" {
			t.Fatalf("unexpected bundle entry %q", f.Path)
		}
	}
}

func TestGetModelByID(t *testing.T) {
	h := newHarness(t)
	brain := h.createBrain(t)
	session := h.createSession(t, brain.BrainID, domain.SessionTypeInteractiveTraining)
	h.writeBundle(t, brain.BrainID, session.SessionID, "m1")

	model, err := h.client.GetModel(ctxT(t), &GetModelRequest{
		ProjectID: "p0", BrainID: brain.BrainID, ModelID: "m1",
	})
	if err != nil {
		t.Fatalf("GetModel: %v", err)
	}
	if model.ModelID != "m1" || len(model.Files) == 0 {
		t.Fatalf("GetModel = %+v", model)
	}

	_, err = h.client.GetModel(ctxT(t), &GetModelRequest{ProjectID: "p0", BrainID: brain.BrainID})
	if status.Code(err) != codes.InvalidArgument {
		t.Fatalf("neither id: code = %v, want InvalidArgument", status.Code(err))
	}
	_, err = h.client.GetModel(ctxT(t), &GetModelRequest{
		ProjectID: "p0", BrainID: brain.BrainID, ModelID: "missing",
	})
	if status.Code(err) != codes.NotFound {
		t.Fatalf("missing model: code = %v, want NotFound", status.Code(err))
	}
}
