package resource

import (
	"errors"
	"testing"

	"github.com/understudy-ai/understudy-backend/internal/platform/svcerr"
)

func TestParseRoundTrip(t *testing.T) {
	paths := []string{
		"projects/p0",
		"projects/p0/brains/b0",
		"projects/p0/brains/b0/snapshots/sn0",
		"projects/p0/brains/b0/sessions/s0",
		"projects/p0/brains/b0/sessions/s0/episodes/e0/chunks/3",
		"projects/p0/brains/b0/sessions/s0/assignments/a0",
		"projects/p0/brains/b0/sessions/s0/models/m0",
		"projects/p0/brains/b0/sessions/s0/online_evaluations/m0",
		"projects/p0/brains/b0/sessions/s0/offline_evaluations/m0_4",
	}
	for _, path := range paths {
		id, err := Parse(path)
		if err != nil {
			t.Fatalf("Parse(%q): %v", path, err)
		}
		if id.String() != path {
			t.Fatalf("round trip: want=%q got=%q", path, id.String())
		}
		again, err := Parse(id.String())
		if err != nil {
			t.Fatalf("Parse(String(Parse(%q))): %v", path, err)
		}
		if !again.Equal(id) {
			t.Fatalf("Parse not idempotent for %q", path)
		}
	}
}

func TestParseErrors(t *testing.T) {
	cases := []string{
		"",
		"projects",
		"projects/p0/brains",
		"projects//brains/b0",
		"projects/p0/models/m0",
		"brains/b0",
		"projects/p0/brains/b0/sessions/s0/episodes/e0/chunks/0/chunks/1",
	}
	for _, path := range cases {
		if _, err := Parse(path); err == nil {
			t.Fatalf("Parse(%q): want error, got nil", path)
		} else if !errors.Is(err, svcerr.ErrInvalidArgument) {
			t.Fatalf("Parse(%q): want ErrInvalidArgument, got %v", path, err)
		}
	}
}

func TestFromMapRoundTrip(t *testing.T) {
	m := map[string]string{
		Projects: "p0",
		Brains:   "b0",
		Sessions: "s0",
		Episodes: "e0",
		Chunks:   "2",
	}
	id, err := FromMap(m)
	if err != nil {
		t.Fatalf("FromMap: %v", err)
	}
	want := "projects/p0/brains/b0/sessions/s0/episodes/e0/chunks/2"
	if id.String() != want {
		t.Fatalf("FromMap order: want=%q got=%q", want, id.String())
	}
	back := id.CollectionMap()
	if len(back) != len(m) {
		t.Fatalf("CollectionMap size: want=%d got=%d", len(m), len(back))
	}
	for k, v := range m {
		if back[k] != v {
			t.Fatalf("CollectionMap[%q]: want=%q got=%q", k, v, back[k])
		}
	}
}

func TestFromMapMissingAncestor(t *testing.T) {
	_, err := FromMap(map[string]string{Brains: "b0"})
	if err == nil {
		t.Fatalf("FromMap without projects: want error")
	}
	if !errors.Is(err, svcerr.ErrInvalidArgument) {
		t.Fatalf("FromMap: want ErrInvalidArgument, got %v", err)
	}
}

func TestFromMapAmbiguousSiblings(t *testing.T) {
	_, err := FromMap(map[string]string{
		Projects:    "p0",
		Brains:      "b0",
		Sessions:    "s0",
		Episodes:    "e0",
		Assignments: "a0",
	})
	if err == nil {
		t.Fatalf("FromMap with sibling branches: want error")
	}
}

func TestAccessors(t *testing.T) {
	id := ChunkID("p0", "b0", "s0", "e0", 7)
	if id.Project() != "p0" || id.Brain() != "b0" || id.Session() != "s0" || id.Episode() != "e0" {
		t.Fatalf("accessors: got %q %q %q %q", id.Project(), id.Brain(), id.Session(), id.Episode())
	}
	if id.Chunk() != "7" {
		t.Fatalf("Chunk: want=%q got=%q", "7", id.Chunk())
	}
	n, err := id.ChunkIndex()
	if err != nil || n != 7 {
		t.Fatalf("ChunkIndex: want=7 got=%d err=%v", n, err)
	}
	if id.Model() != "" {
		t.Fatalf("Model on chunk id: want empty, got %q", id.Model())
	}
	if id.Kind() != Chunks {
		t.Fatalf("Kind: want=%q got=%q", Chunks, id.Kind())
	}
}

func TestParentAndChild(t *testing.T) {
	session := SessionID("p0", "b0", "s0")
	if got := session.Parent().String(); got != "projects/p0/brains/b0" {
		t.Fatalf("Parent: want=%q got=%q", "projects/p0/brains/b0", got)
	}
	model := session.Child(Models, "m0")
	if err := model.Validate(); err != nil {
		t.Fatalf("Child validate: %v", err)
	}
	if got := model.String(); got != "projects/p0/brains/b0/sessions/s0/models/m0" {
		t.Fatalf("Child: got %q", got)
	}
	bad := session.Child("widgets", "w0")
	if err := bad.Validate(); err == nil {
		t.Fatalf("Child with unknown collection: want validate error")
	}
}

func TestValidateRejectsSeparatorInElement(t *testing.T) {
	id := ID{parts: []string{Projects, "p0", Brains, "b/0"}}
	if err := id.Validate(); err == nil {
		t.Fatalf("Validate: want error for element containing separator")
	}
}

func TestTypedConstructors(t *testing.T) {
	cases := map[string]ID{
		"projects/p0": ProjectID("p0"),
		"projects/p0/brains/b0/snapshots/sn0":                     SnapshotID("p0", "b0", "sn0"),
		"projects/p0/brains/b0/sessions/s0/assignments/a0":        AssignmentID("p0", "b0", "s0", "a0"),
		"projects/p0/brains/b0/sessions/s0/models/m0":             ModelID("p0", "b0", "s0", "m0"),
		"projects/p0/brains/b0/sessions/s0/offline_evaluations/x": OfflineEvaluationID("p0", "b0", "s0", "x"),
		"projects/p0/brains/b0/sessions/s0/online_evaluations/m0": OnlineEvaluationID("p0", "b0", "s0", "m0"),
		"projects/p0/brains/b0/sessions/s0/episodes/e0":           EpisodeID("p0", "b0", "s0", "e0"),
	}
	for want, id := range cases {
		if err := id.Validate(); err != nil {
			t.Fatalf("Validate(%q): %v", want, err)
		}
		if id.String() != want {
			t.Fatalf("constructor: want=%q got=%q", want, id.String())
		}
	}
}
