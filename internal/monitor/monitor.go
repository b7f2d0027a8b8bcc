// Package monitor couples chunk ingestion with learner workers: tiny
// notification files act as the message bus, advisory file locks give
// each assignment at most one consumer.
package monitor

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/understudy-ai/understudy-backend/internal/filestore"
	"github.com/understudy-ai/understudy-backend/internal/observability"
	"github.com/understudy-ai/understudy-backend/internal/platform/logger"
	"github.com/understudy-ai/understudy-backend/internal/platform/svcerr"
	"github.com/understudy-ai/understudy-backend/internal/resource"
)

// NotificationsDir is the bus root under the store.
const NotificationsDir = "notifications"

// Callbacks are registered at construction.
//
// Assignment is the broadcast: fired for any assignment with pending
// notifications while this process holds none. It may coalesce and is
// best-effort.
//
// Chunks is the exclusive path: fired only for the acquired
// assignment, with the chunk ids newly observed since the last call.
type Callbacks struct {
	Assignment func(assignmentID string)
	Chunks     func(assignmentID string, chunkIDs []string)
}

// Monitor watches the notification directory on a metronome-paced
// loop. One Monitor serves one process; it holds at most one
// assignment at a time. The scan loop and the acquiring worker run on
// different goroutines, so mu guards the ownership state.
type Monitor struct {
	files     *filestore.Store
	cb        Callbacks
	metronome Metronome
	metrics   *observability.Metrics
	log       *logger.Logger

	mu        sync.Mutex
	acquired  string
	lock      *filestore.Lock
	delivered map[string]bool
}

func New(files *filestore.Store, cb Callbacks, metronome Metronome, baseLog *logger.Logger) *Monitor {
	if metronome == nil {
		metronome = NewMetronome(DefaultFrequency)
	}
	return &Monitor{
		files:     files,
		cb:        cb,
		metronome: metronome,
		metrics:   observability.Current(),
		log:       baseLog.With("component", "assignment_monitor"),
	}
}

func assignmentDir(assignmentID string) string {
	return path.Join(NotificationsDir, resource.Sanitize(assignmentID))
}

func ownerLockPath(assignmentID string) string {
	return path.Join(assignmentDir(assignmentID), "owner")
}

// TriggerNotification records that a chunk landed for an assignment.
// Producers only ever append; the acquired consumer deletes.
func (m *Monitor) TriggerNotification(assignmentID, chunkID string) error {
	digest := sha256.Sum256([]byte(chunkID))
	name := fmt.Sprintf("chunk_%d_%s", time.Now().UnixNano(), hex.EncodeToString(digest[:]))
	content := assignmentID + "\n" + chunkID
	return m.files.Write(path.Join(assignmentDir(assignmentID), name), []byte(content))
}

// AcquireAssignment takes the exclusive lock on an assignment. It
// returns false when another process holds it. A single process holds
// at most one assignment.
func (m *Monitor) AcquireAssignment(assignmentID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.acquired != "" {
		return false, svcerr.FailedPrecondition("already holding assignment %q", m.acquired)
	}
	lock, err := m.files.LockFile(ownerLockPath(assignmentID), 0)
	if err != nil {
		if errors.Is(err, svcerr.ErrAborted) {
			return false, nil
		}
		return false, err
	}
	m.acquired = assignmentID
	m.lock = lock
	m.delivered = make(map[string]bool)
	m.log.Info("acquired assignment", "assignment", assignmentID)
	return true, nil
}

// ReleaseAssignment drops the exclusive lock. In-flight notifications
// stay on disk for the next owner.
func (m *Monitor) ReleaseAssignment() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.acquired == "" {
		return
	}
	if err := m.files.UnlockFile(m.lock); err != nil {
		m.log.Warn("releasing assignment lock", "assignment", m.acquired, "error", err)
	}
	m.log.Info("released assignment", "assignment", m.acquired)
	m.acquired = ""
	m.lock = nil
	m.delivered = nil
}

// Acquired returns the held assignment id, or "".
func (m *Monitor) Acquired() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.acquired
}

// Start arms the move watcher for low-latency wakeups and runs the
// scan loop until ctx is cancelled.
func (m *Monitor) Start(ctx context.Context) error {
	err := m.files.WatchMoves(ctx, func(p string) {
		if strings.HasPrefix(p, NotificationsDir+"/") {
			m.metronome.Wake()
		}
	})
	if err != nil {
		return err
	}
	return m.Run(ctx)
}

// Run is the scan loop without the watcher fast path.
func (m *Monitor) Run(ctx context.Context) error {
	for {
		if err := m.metronome.Wait(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		m.Scan()
	}
}

// notification is one parsed bus file.
type notification struct {
	file         string
	assignmentID string
	chunkID      string
}

// Scan performs one pass over the notification tree, dispatching the
// exclusive chunk callback for the held assignment and the broadcast
// otherwise.
func (m *Monitor) Scan() {
	files, err := m.files.Glob(NotificationsDir + "/*/chunk_*")
	if err != nil {
		m.log.Warn("scanning notifications", "error", err)
		return
	}
	m.metrics.SetQueueDepth(len(files))
	if len(files) == 0 {
		return
	}

	byAssignment := make(map[string][]notification)
	for _, f := range files {
		n, ok := m.readNotification(f)
		if !ok {
			continue
		}
		byAssignment[n.assignmentID] = append(byAssignment[n.assignmentID], n)
	}

	if acquired := m.Acquired(); acquired != "" {
		m.consume(acquired, byAssignment[acquired])
		return
	}

	if m.cb.Assignment == nil {
		return
	}
	ids := make([]string, 0, len(byAssignment))
	for id := range byAssignment {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		m.cb.Assignment(id)
	}
}

func (m *Monitor) readNotification(file string) (notification, bool) {
	data, err := m.files.Read(file)
	if err != nil {
		// Another consumer may have deleted it between glob and read.
		return notification{}, false
	}
	assignmentID, chunkID, ok := strings.Cut(strings.TrimSpace(string(data)), "\n")
	if !ok || assignmentID == "" || chunkID == "" {
		m.log.Warn("malformed notification", "file", file)
		_ = m.files.Remove(file)
		return notification{}, false
	}
	return notification{file: file, assignmentID: assignmentID, chunkID: chunkID}, true
}

// consume removes the held assignment's notifications and delivers
// each chunk id at most once per ownership. Files for chunks already
// delivered are still deleted. The mutex is dropped before the Chunks
// callback, which may block on the consumer.
func (m *Monitor) consume(assignmentID string, pending []notification) {
	if len(pending) == 0 {
		return
	}
	var fresh []string
	m.mu.Lock()
	if m.acquired != assignmentID {
		// Released since the scan started; leave the files for the
		// next owner.
		m.mu.Unlock()
		return
	}
	for _, n := range pending {
		if err := m.files.Remove(n.file); err != nil {
			continue
		}
		if m.delivered[n.chunkID] {
			continue
		}
		m.delivered[n.chunkID] = true
		fresh = append(fresh, n.chunkID)
	}
	m.mu.Unlock()
	if len(fresh) == 0 || m.cb.Chunks == nil {
		return
	}
	sort.Strings(fresh)
	m.cb.Chunks(assignmentID, fresh)
}

// PendingAssignments lists assignment ids with at least one pending
// notification, in id order.
func (m *Monitor) PendingAssignments() ([]string, error) {
	files, err := m.files.Glob(NotificationsDir + "/*/chunk_*")
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool)
	var ids []string
	for _, f := range files {
		n, ok := m.readNotification(f)
		if !ok || seen[n.assignmentID] {
			continue
		}
		seen[n.assignmentID] = true
		ids = append(ids, n.assignmentID)
	}
	sort.Strings(ids)
	return ids, nil
}
