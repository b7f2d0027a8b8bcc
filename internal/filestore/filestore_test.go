package filestore

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/understudy-ai/understudy-backend/internal/platform/logger"
	"github.com/understudy-ai/understudy-backend/internal/platform/svcerr"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(t.TempDir(), logger.NewNop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

func TestWriteReadRoundTrip(t *testing.T) {
	s := newTestStore(t)
	path := "projects/p0/brains/b0/brain.json"
	want := []byte(`{"display_name":"b"}`)
	if err := s.Write(path, want); err != nil {
		t.Fatalf("Write: %v", err)
	}
	got, err := s.Read(path)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(got) != string(want) {
		t.Fatalf("Read: want=%q got=%q", want, got)
	}
}

func TestWriteOverwriteLeavesNoTempFiles(t *testing.T) {
	s := newTestStore(t)
	path := "a/b/record.json"
	if err := s.Write(path, []byte("one")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := s.Write(path, []byte("two")); err != nil {
		t.Fatalf("Write overwrite: %v", err)
	}
	got, err := s.Read(path)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(got) != "two" {
		t.Fatalf("Read after overwrite: want=%q got=%q", "two", got)
	}
	entries, err := os.ReadDir(filepath.Join(s.Root(), "a", "b"))
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), tmpPrefix) {
			t.Fatalf("temp file left behind: %s", e.Name())
		}
	}
}

func TestReadNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Read("missing/file")
	if !errors.Is(err, svcerr.ErrNotFound) {
		t.Fatalf("Read missing: want ErrNotFound, got %v", err)
	}
}

func TestResolveRejectsEscapes(t *testing.T) {
	s := newTestStore(t)
	if err := s.Write("../outside", []byte("x")); !errors.Is(err, svcerr.ErrInvalidArgument) {
		t.Fatalf("Write escape: want ErrInvalidArgument, got %v", err)
	}
	if err := s.Write("/abs/path", []byte("x")); !errors.Is(err, svcerr.ErrInvalidArgument) {
		t.Fatalf("Write abs: want ErrInvalidArgument, got %v", err)
	}
}

func TestExists(t *testing.T) {
	s := newTestStore(t)
	if s.Exists("nope") {
		t.Fatalf("Exists(nope): want=false")
	}
	if err := s.Write("yep", []byte("1")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if !s.Exists("yep") {
		t.Fatalf("Exists(yep): want=true")
	}
}

func TestGlobStarsAndBraces(t *testing.T) {
	s := newTestStore(t)
	files := []string{
		"projects/p0/brains/b0/brain.json",
		"projects/p0/brains/b1/brain.json",
		"projects/p1/brains/b2/brain.json",
		"projects/p1/project.json",
	}
	for _, f := range files {
		if err := s.Write(f, []byte("{}")); err != nil {
			t.Fatalf("Write(%q): %v", f, err)
		}
	}

	got, err := s.Glob("projects/*/brains/*/brain.json")
	if err != nil {
		t.Fatalf("Glob: %v", err)
	}
	want := []string{
		"projects/p0/brains/b0/brain.json",
		"projects/p0/brains/b1/brain.json",
		"projects/p1/brains/b2/brain.json",
	}
	if len(got) != len(want) {
		t.Fatalf("Glob count: want=%d got=%d (%v)", len(want), len(got), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Glob[%d]: want=%q got=%q", i, want[i], got[i])
		}
	}

	got, err = s.Glob("projects/{p0,p1}/brains/{b0,b2}/brain.json")
	if err != nil {
		t.Fatalf("Glob braces: %v", err)
	}
	want = []string{
		"projects/p0/brains/b0/brain.json",
		"projects/p1/brains/b2/brain.json",
	}
	if len(got) != len(want) {
		t.Fatalf("Glob braces count: want=%d got=%d (%v)", len(want), len(got), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Glob braces[%d]: want=%q got=%q", i, want[i], got[i])
		}
	}
}

func TestExpandBraces(t *testing.T) {
	got := expandBraces("a/{x,y}/b/{1,2}")
	if len(got) != 4 {
		t.Fatalf("expandBraces: want=4 got=%d (%v)", len(got), got)
	}
	plain := expandBraces("a/b/c")
	if len(plain) != 1 || plain[0] != "a/b/c" {
		t.Fatalf("expandBraces plain: got %v", plain)
	}
}

func TestRemoveAndRemoveTree(t *testing.T) {
	s := newTestStore(t)
	if err := s.Write("dir/x", []byte("1")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := s.Remove("dir/x"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if err := s.Remove("dir/x"); !errors.Is(err, svcerr.ErrNotFound) {
		t.Fatalf("Remove missing: want ErrNotFound, got %v", err)
	}
	if err := s.Write("tree/a/b", []byte("1")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := s.RemoveTree("tree"); err != nil {
		t.Fatalf("RemoveTree: %v", err)
	}
	if s.Exists("tree/a/b") {
		t.Fatalf("RemoveTree: file still present")
	}
}

func TestGetModificationTime(t *testing.T) {
	s := newTestStore(t)
	before := time.Now().Add(-time.Minute).UnixMilli()
	if err := s.Write("f", []byte("1")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	mt, err := s.GetModificationTime("f")
	if err != nil {
		t.Fatalf("GetModificationTime: %v", err)
	}
	if mt < before {
		t.Fatalf("GetModificationTime: %d is older than a minute ago", mt)
	}
	if _, err := s.GetModificationTime("missing"); !errors.Is(err, svcerr.ErrNotFound) {
		t.Fatalf("GetModificationTime missing: want ErrNotFound, got %v", err)
	}
}

func TestLockExclusiveWithTimeout(t *testing.T) {
	s := newTestStore(t)
	l, err := s.LockFile("assignments/a0", 0)
	if err != nil {
		t.Fatalf("LockFile: %v", err)
	}

	timeout := 150 * time.Millisecond
	start := time.Now()
	_, err = s.LockFile("assignments/a0", timeout)
	elapsed := time.Since(start)
	if !errors.Is(err, svcerr.ErrAborted) {
		t.Fatalf("second LockFile: want ErrAborted, got %v", err)
	}
	if elapsed < 100*time.Millisecond {
		t.Fatalf("second LockFile returned too early: %v", elapsed)
	}
	if elapsed > 5*time.Second {
		t.Fatalf("second LockFile took too long: %v", elapsed)
	}

	if err := s.UnlockFile(l); err != nil {
		t.Fatalf("UnlockFile: %v", err)
	}
	l2, err := s.LockFile("assignments/a0", 0)
	if err != nil {
		t.Fatalf("LockFile after release: %v", err)
	}
	if err := s.UnlockFile(l2); err != nil {
		t.Fatalf("UnlockFile: %v", err)
	}
}

func TestUnlockStolenLock(t *testing.T) {
	s := newTestStore(t)
	l, err := s.LockFile("res", 0)
	if err != nil {
		t.Fatalf("LockFile: %v", err)
	}
	sidecar := filepath.Join(s.Root(), "res.lock")
	if err := os.WriteFile(sidecar, []byte("other-token\n999\n"), 0o644); err != nil {
		t.Fatalf("overwriting sidecar: %v", err)
	}
	if err := s.UnlockFile(l); !errors.Is(err, svcerr.ErrAborted) {
		t.Fatalf("UnlockFile stolen: want ErrAborted, got %v", err)
	}
}

func TestWithLockReleasesOnError(t *testing.T) {
	s := newTestStore(t)
	boom := errors.New("boom")
	err := s.WithLock("res", 0, func() error { return boom })
	if !errors.Is(err, boom) {
		t.Fatalf("WithLock: want fn error, got %v", err)
	}
	l, err := s.LockFile("res", 0)
	if err != nil {
		t.Fatalf("LockFile after WithLock: %v", err)
	}
	_ = s.UnlockFile(l)
}

func TestGetStaleness(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.GetStaleness("empty"); !errors.Is(err, svcerr.ErrNotFound) {
		t.Fatalf("GetStaleness empty: want ErrNotFound, got %v", err)
	}
	if err := s.Write("d/old", []byte("1")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := s.Write("d/sub/new", []byte("2")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	st, err := s.GetStaleness("d")
	if err != nil {
		t.Fatalf("GetStaleness: %v", err)
	}
	if st < 0 || st > (10*time.Second).Milliseconds() {
		t.Fatalf("GetStaleness: implausible value %d", st)
	}
}

func TestWatchMovesSeesAtomicWrites(t *testing.T) {
	s := newTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events := make(chan string, 64)
	if err := s.WatchMoves(ctx, func(path string) { events <- path }); err != nil {
		t.Fatalf("WatchMoves: %v", err)
	}

	path := "notifications/a0/chunk_1_deadbeef"
	if err := s.Write(path, []byte("a0\nchunk")); err != nil {
		t.Fatalf("Write: %v", err)
	}

	deadline := time.After(5 * time.Second)
	for {
		select {
		case got := <-events:
			if strings.HasPrefix(filepath.Base(got), tmpPrefix) {
				t.Fatalf("temp file leaked into move callback: %q", got)
			}
			if got == path {
				return
			}
		case <-deadline:
			t.Fatalf("no move callback for %q", path)
		}
	}
}
