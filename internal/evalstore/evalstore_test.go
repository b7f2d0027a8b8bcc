package evalstore

import (
	"testing"

	"github.com/understudy-ai/understudy-backend/internal/trainer"
)

func frames(values ...float64) []trainer.Frame {
	out := make([]trainer.Frame, len(values))
	for i, v := range values {
		out[i] = trainer.Frame{Observation: []float64{v}, Action: []float64{v}}
	}
	return out
}

func TestCreateVersionEmptyStore(t *testing.T) {
	s := New()
	if v, ok := s.CreateVersion(); ok {
		t.Fatalf("empty store produced version %d", v)
	}
	if _, ok := s.LatestVersion(); ok {
		t.Fatal("empty store has a latest version")
	}
}

func TestCreateVersionEmptyBufferReturnsPrevious(t *testing.T) {
	s := New()
	if err := s.AddTrajectory(frames(1, 2)); err != nil {
		t.Fatalf("AddTrajectory: %v", err)
	}
	v1, ok := s.CreateVersion()
	if !ok || v1 != 1 {
		t.Fatalf("first version: ok=%v v=%d", ok, v1)
	}
	v, ok := s.CreateVersion()
	if !ok || v != v1 {
		t.Fatalf("empty-buffer flush: ok=%v v=%d want=%d", ok, v, v1)
	}
}

func TestAddTrajectoryRejectsUnbatched(t *testing.T) {
	if err := New().AddTrajectory(nil); err == nil {
		t.Fatal("expected error for empty trajectory")
	}
}

func TestVersionPrefixProperty(t *testing.T) {
	s := New()
	if err := s.AddTrajectory(frames(1, 2)); err != nil {
		t.Fatalf("AddTrajectory: %v", err)
	}
	v1, _ := s.CreateVersion()
	if err := s.AddTrajectory(frames(3)); err != nil {
		t.Fatalf("AddTrajectory: %v", err)
	}
	v2, _ := s.CreateVersion()
	if v2 != v1+1 {
		t.Fatalf("version ids not dense: v1=%d v2=%d", v1, v2)
	}

	older, err := s.GetVersion(v1)
	if err != nil {
		t.Fatalf("GetVersion(%d): %v", v1, err)
	}
	newer, err := s.GetVersion(v2)
	if err != nil {
		t.Fatalf("GetVersion(%d): %v", v2, err)
	}
	if len(newer) <= len(older) {
		t.Fatalf("v2 not a proper extension: len v1=%d len v2=%d", len(older), len(newer))
	}
	for i := range older {
		if older[i].Observation[0] != newer[i].Observation[0] {
			t.Fatalf("frame %d differs between versions", i)
		}
	}
}

func TestDeltasReproduceVersions(t *testing.T) {
	s := New()
	for _, batch := range [][]trainer.Frame{frames(1, 2), frames(3), frames(4, 5, 6)} {
		if err := s.AddTrajectory(batch); err != nil {
			t.Fatalf("AddTrajectory: %v", err)
		}
		if _, ok := s.CreateVersion(); !ok {
			t.Fatal("CreateVersion failed")
		}
	}

	deltas := s.GetVersionDeltas()
	if len(deltas) != 3 {
		t.Fatalf("deltas: want=3 got=%d", len(deltas))
	}
	var rebuilt []trainer.Frame
	for i, d := range deltas {
		if d.Version != i+1 {
			t.Fatalf("delta %d has version %d", i, d.Version)
		}
		if d.Size != len(d.Frames) {
			t.Fatalf("delta %d size mismatch", i)
		}
		rebuilt = append(rebuilt, d.Frames...)
	}
	full, err := s.GetVersion(3)
	if err != nil {
		t.Fatalf("GetVersion(3): %v", err)
	}
	if len(rebuilt) != len(full) {
		t.Fatalf("concatenated deltas: want=%d frames got=%d", len(full), len(rebuilt))
	}
	for i := range full {
		if rebuilt[i].Observation[0] != full[i].Observation[0] {
			t.Fatalf("frame %d differs from concatenated deltas", i)
		}
	}
}

func TestGetVersionOutOfRange(t *testing.T) {
	s := New()
	if _, err := s.GetVersion(1); err == nil {
		t.Fatal("expected error for missing version")
	}
}

func TestClear(t *testing.T) {
	s := New()
	if err := s.AddTrajectory(frames(1)); err != nil {
		t.Fatalf("AddTrajectory: %v", err)
	}
	s.CreateVersion()
	s.Clear()
	if _, ok := s.LatestVersion(); ok {
		t.Fatal("cleared store has a version")
	}
}
