package trainer

import (
	"testing"

	"github.com/understudy-ai/understudy-backend/internal/brainspec"
	"github.com/understudy-ai/understudy-backend/internal/domain"
	"github.com/understudy-ai/understudy-backend/internal/testfix"
)

func TestParseDefaults(t *testing.T) {
	h, err := Parse("")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if got := Defaults().Canonical(); h.Canonical() != got {
		t.Fatalf("empty parse differs from defaults: %s vs %s", h.Canonical(), got)
	}
}

func TestParseDropoutForms(t *testing.T) {
	h, err := Parse(`{"dropout": 0.2}`)
	if err != nil {
		t.Fatalf("scalar dropout: %v", err)
	}
	if len(h.Dropout) != 1 || h.Dropout[0] != 0.2 {
		t.Fatalf("scalar dropout: %v", h.Dropout)
	}

	h, err = Parse(`{"dropout": null}`)
	if err != nil {
		t.Fatalf("null dropout: %v", err)
	}
	if h.Dropout != nil {
		t.Fatalf("null dropout: %v", h.Dropout)
	}

	h, err = Parse(`{"fc_layers": [64, 32], "dropout": [0.1, 0.2]}`)
	if err != nil {
		t.Fatalf("per-layer dropout: %v", err)
	}
	if len(h.Dropout) != 2 {
		t.Fatalf("per-layer dropout: %v", h.Dropout)
	}

	if _, err := Parse(`{"dropout": [0.1, 0.2]}`); err == nil {
		t.Fatal("expected error for 2 dropout rates over 1 layer")
	}
}

func TestParseRejects(t *testing.T) {
	for _, raw := range []string{
		`{"learning_rate": 0.1}`,
		`{"fc_layers": []}`,
		`{"fc_layers": [0]}`,
		`{"activation_fn": "softplus"}`,
		`{"initializer": "uniform"}`,
		`{"feelers_version": "v3"}`,
		`{"batch_size": 0}`,
		`{"dropout": 1.0}`,
	} {
		if _, err := Parse(raw); err == nil {
			t.Errorf("Parse(%s): expected error", raw)
		}
	}
}

func TestCanonicalIsOrderIndependent(t *testing.T) {
	a, err := Parse(`{"batch_size": 10, "fc_layers": [8]}`)
	if err != nil {
		t.Fatalf("Parse a: %v", err)
	}
	b, err := Parse(`{"fc_layers": [8], "batch_size": 10}`)
	if err != nil {
		t.Fatalf("Parse b: %v", err)
	}
	if a.Canonical() != b.Canonical() {
		t.Fatalf("canonical mismatch: %s vs %s", a.Canonical(), b.Canonical())
	}
}

func TestInEvalSetDeterministic(t *testing.T) {
	for chunk := 0; chunk < 50; chunk++ {
		first := InEvalSet("episode-1", chunk, DefaultEvalFraction)
		if InEvalSet("episode-1", chunk, DefaultEvalFraction) != first {
			t.Fatalf("chunk %d: split not deterministic", chunk)
		}
		if InEvalSet("episode-1", chunk, 0) {
			t.Fatalf("chunk %d: fraction 0 put chunk in eval set", chunk)
		}
		if !InEvalSet("episode-1", chunk, 1) {
			t.Fatalf("chunk %d: fraction 1 left chunk out of eval set", chunk)
		}
	}
}

func TestFramesFlattenInTreeOrder(t *testing.T) {
	spec, err := brainspec.New(testfix.BrainSpec())
	if err != nil {
		t.Fatalf("brainspec.New: %v", err)
	}
	chunk := testfix.Chunk("p0", "b0", "s0", "e0", 0, 2, domain.EpisodeStateInProgress)
	chunk.CreatedMicros = 42

	frames, err := Frames(spec, chunk)
	if err != nil {
		t.Fatalf("Frames: %v", err)
	}
	if len(frames) != 2 {
		t.Fatalf("frames: want=2 got=%d", len(frames))
	}
	if got := len(frames[0].Observation); got != spec.ObservationDim() {
		t.Fatalf("observation width: want=%d got=%d", spec.ObservationDim(), got)
	}
	if got := len(frames[0].Action); got != spec.ActionDim() {
		t.Fatalf("action width: want=%d got=%d", spec.ActionDim(), got)
	}
	if frames[0].TimeMicros != 42 {
		t.Fatalf("frame time: want=42 got=%d", frames[0].TimeMicros)
	}
}
