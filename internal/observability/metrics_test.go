package observability

import (
	"strings"
	"testing"
	"time"
)

func TestCounterVecExposition(t *testing.T) {
	c := NewCounterVec("test_total", "Test counter.", []string{"kind"})
	c.Inc("a")
	c.Inc("a")
	c.Add(3, "b")

	var b strings.Builder
	if err := c.WritePrometheus(&b); err != nil {
		t.Fatalf("WritePrometheus: %v", err)
	}
	out := b.String()
	if !strings.Contains(out, "# TYPE test_total counter") {
		t.Fatalf("missing TYPE line in %q", out)
	}
	if !strings.Contains(out, `test_total{kind="a"} 2.000000`) {
		t.Fatalf("missing kind=a sample in %q", out)
	}
	if !strings.Contains(out, `test_total{kind="b"} 3.000000`) {
		t.Fatalf("missing kind=b sample in %q", out)
	}
}

func TestHistogramBuckets(t *testing.T) {
	h := NewHistogramVec("test_seconds", "Test histogram.", []string{"op"}, []float64{0.1, 1})
	h.Observe(0.05, "x")
	h.Observe(0.5, "x")
	h.Observe(5, "x")

	var b strings.Builder
	if err := h.WritePrometheus(&b); err != nil {
		t.Fatalf("WritePrometheus: %v", err)
	}
	out := b.String()
	for _, want := range []string{
		`test_seconds_bucket{op="x",le="0.1"} 1`,
		`test_seconds_bucket{op="x",le="1"} 2`,
		`test_seconds_bucket{op="x",le="+Inf"} 3`,
		`test_seconds_count{op="x"} 3`,
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("missing %q in %q", want, out)
		}
	}
}

func TestNilMetricsIsNoOp(t *testing.T) {
	var m *Metrics
	m.ObserveAPI("CreateBrain", "OK", time.Millisecond)
	m.ObserveIngest("p0", 10)
	m.ObserveTrainingStep(32)
	m.ObserveExport("ok", time.Second)
	if err := m.WritePrometheus(&strings.Builder{}); err != nil {
		t.Fatalf("nil WritePrometheus: %v", err)
	}
}

func TestLatencyStatsFlush(t *testing.T) {
	l := NewLatencyStats()
	l.Observe("read", 10*time.Millisecond)
	l.Observe("read", 30*time.Millisecond)
	l.Observe("write", 5*time.Millisecond)

	out := l.Flush()
	if len(out) != 2 {
		t.Fatalf("summaries: want=2 got=%d", len(out))
	}
	if out[0].Op != "read" || out[1].Op != "write" {
		t.Fatalf("unexpected order: %+v", out)
	}
	if out[0].Count != 2 || out[0].Mean != 20*time.Millisecond || out[0].Max != 30*time.Millisecond {
		t.Fatalf("read summary: %+v", out[0])
	}
	if len(l.Flush()) != 0 {
		t.Fatal("second flush should be empty")
	}
}
