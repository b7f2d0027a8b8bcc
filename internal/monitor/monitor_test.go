package monitor

import (
	"fmt"
	"sort"
	"testing"

	"github.com/understudy-ai/understudy-backend/internal/filestore"
	"github.com/understudy-ai/understudy-backend/internal/platform/logger"
)

func newTestStore(t *testing.T) *filestore.Store {
	t.Helper()
	files, err := filestore.New(t.TempDir(), logger.NewNop())
	if err != nil {
		t.Fatalf("filestore.New: %v", err)
	}
	return files
}

func TestAcquireAssignmentExclusive(t *testing.T) {
	files := newTestStore(t)
	a := New(files, Callbacks{}, NewManualMetronome(), logger.NewNop())
	b := New(files, Callbacks{}, NewManualMetronome(), logger.NewNop())

	ok, err := a.AcquireAssignment("assignment-x")
	if err != nil || !ok {
		t.Fatalf("first acquire: ok=%v err=%v", ok, err)
	}
	ok, err = b.AcquireAssignment("assignment-x")
	if err != nil {
		t.Fatalf("second acquire: %v", err)
	}
	if ok {
		t.Fatal("second monitor acquired a held assignment")
	}

	a.ReleaseAssignment()
	ok, err = b.AcquireAssignment("assignment-x")
	if err != nil || !ok {
		t.Fatalf("acquire after release: ok=%v err=%v", ok, err)
	}
}

func TestAcquireAssignmentSingleHolding(t *testing.T) {
	files := newTestStore(t)
	m := New(files, Callbacks{}, NewManualMetronome(), logger.NewNop())

	if ok, err := m.AcquireAssignment("assignment-x"); err != nil || !ok {
		t.Fatalf("acquire: ok=%v err=%v", ok, err)
	}
	if _, err := m.AcquireAssignment("assignment-y"); err == nil {
		t.Fatal("expected error acquiring a second assignment")
	}
}

func TestChunkDeliveryNoDuplicates(t *testing.T) {
	files := newTestStore(t)

	var got []string
	m := New(files, Callbacks{
		Chunks: func(assignmentID string, chunkIDs []string) {
			if assignmentID != "assignment-x" {
				t.Fatalf("chunk callback for %q", assignmentID)
			}
			got = append(got, chunkIDs...)
		},
	}, NewManualMetronome(), logger.NewNop())

	if ok, err := m.AcquireAssignment("assignment-x"); err != nil || !ok {
		t.Fatalf("acquire: ok=%v err=%v", ok, err)
	}

	want := []string{"chunk-a", "chunk-b", "chunk-c"}
	for _, id := range want {
		if err := m.TriggerNotification("assignment-x", id); err != nil {
			t.Fatalf("TriggerNotification(%s): %v", id, err)
		}
	}
	// Duplicate notification for an already-pending chunk.
	if err := m.TriggerNotification("assignment-x", "chunk-b"); err != nil {
		t.Fatalf("TriggerNotification(dup): %v", err)
	}

	m.Scan()
	m.Scan() // second pass must deliver nothing new

	if err := m.TriggerNotification("assignment-x", "chunk-a"); err != nil {
		t.Fatalf("TriggerNotification(redelivery): %v", err)
	}
	m.Scan()

	sort.Strings(got)
	if len(got) != len(want) {
		t.Fatalf("delivered chunks: want=%v got=%v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("delivered chunks: want=%v got=%v", want, got)
		}
	}
}

func TestBroadcastSuppressedWhileHolding(t *testing.T) {
	files := newTestStore(t)

	var broadcasts []string
	m := New(files, Callbacks{
		Assignment: func(assignmentID string) { broadcasts = append(broadcasts, assignmentID) },
		Chunks:     func(string, []string) {},
	}, NewManualMetronome(), logger.NewNop())

	if err := m.TriggerNotification("assignment-x", "chunk-1"); err != nil {
		t.Fatalf("TriggerNotification: %v", err)
	}
	if err := m.TriggerNotification("assignment-y", "chunk-2"); err != nil {
		t.Fatalf("TriggerNotification: %v", err)
	}

	m.Scan()
	if len(broadcasts) != 2 || broadcasts[0] != "assignment-x" || broadcasts[1] != "assignment-y" {
		t.Fatalf("broadcasts before acquire: %v", broadcasts)
	}

	if ok, err := m.AcquireAssignment("assignment-x"); err != nil || !ok {
		t.Fatalf("acquire: ok=%v err=%v", ok, err)
	}
	broadcasts = nil
	m.Scan()
	if len(broadcasts) != 0 {
		t.Fatalf("broadcast fired while holding: %v", broadcasts)
	}
}

func TestPendingAssignments(t *testing.T) {
	files := newTestStore(t)
	m := New(files, Callbacks{}, NewManualMetronome(), logger.NewNop())

	if ids, err := m.PendingAssignments(); err != nil || len(ids) != 0 {
		t.Fatalf("empty store: ids=%v err=%v", ids, err)
	}
	for _, pair := range [][2]string{
		{"assignment-b", "chunk-1"},
		{"assignment-a", "chunk-2"},
		{"assignment-a", "chunk-3"},
	} {
		if err := m.TriggerNotification(pair[0], pair[1]); err != nil {
			t.Fatalf("TriggerNotification: %v", err)
		}
	}
	ids, err := m.PendingAssignments()
	if err != nil {
		t.Fatalf("PendingAssignments: %v", err)
	}
	if len(ids) != 2 || ids[0] != "assignment-a" || ids[1] != "assignment-b" {
		t.Fatalf("pending: %v", ids)
	}
}

// The scan loop and the acquiring worker run on separate goroutines,
// exactly how the learner driver wires one Monitor. Ownership churn
// during scans must not race or drop delivery state.
func TestScanConcurrentWithOwnershipChurn(t *testing.T) {
	files := newTestStore(t)
	m := New(files, Callbacks{
		Chunks: func(string, []string) {},
	}, NewManualMetronome(), logger.NewNop())

	done := make(chan struct{})
	stop := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case <-stop:
				return
			default:
				m.Scan()
			}
		}
	}()

	for i := 0; i < 200; i++ {
		if err := m.TriggerNotification("assignment-x", fmt.Sprintf("chunk-%d", i)); err != nil {
			t.Fatalf("TriggerNotification: %v", err)
		}
		ok, err := m.AcquireAssignment("assignment-x")
		if err != nil {
			t.Fatalf("AcquireAssignment: %v", err)
		}
		if !ok {
			t.Fatal("single-process acquire refused")
		}
		if m.Acquired() != "assignment-x" {
			t.Fatalf("Acquired() = %q", m.Acquired())
		}
		m.ReleaseAssignment()
	}
	close(stop)
	<-done

	if got := m.Acquired(); got != "" {
		t.Fatalf("Acquired() after release = %q", got)
	}
}
