package learner

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/understudy-ai/understudy-backend/internal/braincache"
	"github.com/understudy-ai/understudy-backend/internal/datastore"
	"github.com/understudy-ai/understudy-backend/internal/domain"
	"github.com/understudy-ai/understudy-backend/internal/export"
	"github.com/understudy-ai/understudy-backend/internal/monitor"
	"github.com/understudy-ai/understudy-backend/internal/platform/logger"
	"github.com/understudy-ai/understudy-backend/internal/platform/svcerr"
	"github.com/understudy-ai/understudy-backend/internal/resource"
	"github.com/understudy-ai/understudy-backend/internal/trainer"
)

const (
	broadcastBuffer = 16
	chunkBuffer     = 64

	// attachInterval paces the pass that binds configured
	// hyperparameter sets to active training sessions.
	attachInterval = 2 * time.Second
)

// Driver is one training worker. It watches the notification bus,
// acquires one assignment at a time, and runs a Processor for it in
// the foreground.
type Driver struct {
	data     *datastore.Store
	mon      *monitor.Monitor
	cache    *braincache.Cache
	exporter *export.Exporter
	cfg      Config
	hps      []trainer.Hyperparameters
	log      *logger.Logger

	broadcast chan string
	chunks    chan []string
}

// NewDriver wires a worker over a shared store root. hps are the
// hyperparameter sets this worker attaches to every active training
// session; empty means defaults only.
func NewDriver(data *datastore.Store, factory trainer.Factory, hps []trainer.Hyperparameters,
	cfg Config, metronome monitor.Metronome, baseLog *logger.Logger) *Driver {
	cfg = cfg.withDefaults()
	d := &Driver{
		data:      data,
		cache:     braincache.New(factory, braincache.DefaultCapacity),
		exporter:  export.New(data, factory, cfg.ModelsDir, baseLog),
		cfg:       cfg,
		hps:       hps,
		log:       baseLog.With("component", "learner_driver"),
		broadcast: make(chan string, broadcastBuffer),
		chunks:    make(chan []string, chunkBuffer),
	}
	d.mon = monitor.New(data.Files(), monitor.Callbacks{
		Assignment: d.onBroadcast,
		Chunks:     d.onChunks,
	}, metronome, baseLog)
	return d
}

// onBroadcast is best-effort: a full queue drops the wakeup and the
// next monitor scan re-fires it.
func (d *Driver) onBroadcast(assignmentID string) {
	select {
	case d.broadcast <- assignmentID:
	default:
	}
}

// onChunks must not drop: the monitor has already deleted the
// notification files. The processor drains every training step, so a
// blocked send resolves quickly.
func (d *Driver) onChunks(_ string, chunkIDs []string) {
	d.chunks <- chunkIDs
}

// Run serves until ctx is cancelled, then drains the exporter.
func (d *Driver) Run(ctx context.Context) error {
	d.exporter.Start()
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return d.mon.Start(gctx) })
	g.Go(func() error { return d.loop(gctx) })
	err := g.Wait()
	if stopErr := d.exporter.Stop(); stopErr != nil {
		d.log.Error("draining exporter", "error", stopErr)
		if err == nil {
			err = stopErr
		}
	}
	return err
}

func (d *Driver) loop(ctx context.Context) error {
	d.attachAssignments()
	ticker := time.NewTicker(attachInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			d.attachAssignments()
		case assignmentID := <-d.broadcast:
			d.handle(ctx, assignmentID)
		}
	}
}

// handle acquires one broadcast assignment and processes it to
// termination. Failures release the assignment and return to polling.
func (d *Driver) handle(ctx context.Context, assignmentID string) {
	assignment, err := d.findAssignment(assignmentID)
	if err != nil {
		d.log.Warn("resolving broadcast assignment", "assignment", assignmentID, "error", err)
		return
	}
	ok, err := d.mon.AcquireAssignment(assignmentID)
	if err != nil {
		d.log.Warn("acquiring assignment", "assignment", assignmentID, "error", err)
		return
	}
	if !ok {
		return
	}
	defer d.mon.ReleaseAssignment()
	d.drainStaleChunks()

	proc, err := NewProcessor(d.data, d.cache, d.exporter, d.cfg, assignment, d.log)
	if err != nil {
		d.log.Error("starting processor", "assignment", assignmentID, "error", err)
		return
	}
	reason, err := proc.Run(ctx, d.chunks)
	if err != nil {
		d.log.Error("processor failed", "assignment", assignmentID, "error", err)
		return
	}
	d.log.Info("processor finished", "assignment", assignmentID, "reason", reason)
}

// drainStaleChunks clears deliveries left over from a previous
// ownership; the processor's replay pass covers their content.
func (d *Driver) drainStaleChunks() {
	for {
		select {
		case <-d.chunks:
		default:
			return
		}
	}
}

// findAssignment maps a notification's assignment id back to its
// record. The bus carries bare assignment ids, so the same
// hyperparameter set in several sessions shares one queue; the first
// record with a live session wins and the processor skips chunks from
// other sessions.
func (d *Driver) findAssignment(assignmentID string) (*domain.Assignment, error) {
	pattern := resource.AssignmentID("*", "*", "*", "*").String()
	ids, _, err := d.data.List(pattern, 0, "")
	if err != nil {
		return nil, err
	}
	var fallback *domain.Assignment
	for _, id := range ids {
		if id.Assignment() != assignmentID {
			continue
		}
		assignment, err := d.data.ReadAssignment(id.Project(), id.Brain(), id.Session(), id.Assignment())
		if err != nil {
			return nil, err
		}
		session, err := d.data.ReadSession(id.Project(), id.Brain(), id.Session())
		if err != nil || session.Stopped() {
			if fallback == nil {
				fallback = assignment
			}
			continue
		}
		return assignment, nil
	}
	if fallback != nil {
		return fallback, nil
	}
	return nil, svcerr.NotFound("no assignment record matches %q", assignmentID)
}

// attachAssignments creates this worker's hyperparameter assignments
// on every active training session, then nudges the bus for sessions
// that already hold chunks so replay starts without a new submission.
func (d *Driver) attachAssignments() {
	pattern := resource.SessionID("*", "*", "*").String()
	ids, _, err := d.data.List(pattern, 0, "")
	if err != nil {
		d.log.Warn("listing sessions", "error", err)
		return
	}
	for _, id := range ids {
		session, err := d.data.ReadSession(id.Project(), id.Brain(), id.Session())
		if err != nil {
			d.log.Warn("reading session", "session", id.String(), "error", err)
			continue
		}
		if session.SessionType != domain.SessionTypeInteractiveTraining || session.Stopped() {
			continue
		}
		for _, assignmentID := range d.assignmentIDs() {
			d.attach(session, assignmentID)
		}
	}
}

func (d *Driver) assignmentIDs() []string {
	if len(d.hps) == 0 {
		return []string{DefaultAssignmentID}
	}
	ids := make([]string, 0, len(d.hps))
	for _, hp := range d.hps {
		ids = append(ids, hp.Canonical())
	}
	return ids
}

func (d *Driver) attach(session *domain.Session, assignmentID string) {
	id := resource.AssignmentID(session.ProjectID, session.BrainID, session.SessionID, assignmentID)
	if d.data.Exists(id) {
		return
	}
	err := d.data.WriteAssignment(&domain.Assignment{
		ProjectID:    session.ProjectID,
		BrainID:      session.BrainID,
		SessionID:    session.SessionID,
		AssignmentID: assignmentID,
	})
	if err != nil {
		d.log.Warn("creating assignment", "assignment", assignmentID, "error", err)
		return
	}
	d.log.Info("attached assignment",
		"session", session.SessionID, "assignment", assignmentID)

	// Chunks submitted before the assignment existed never produced
	// notifications; nudge with the latest one so the worker wakes up.
	chunkPattern := resource.SessionID(session.ProjectID, session.BrainID, session.SessionID).
		Child(resource.Episodes, "*").
		Child(resource.Chunks, "*").
		String()
	chunkIDs, _, err := d.data.List(chunkPattern, 0, "")
	if err != nil || len(chunkIDs) == 0 {
		return
	}
	// List orders by id string, which puts chunk 9 after chunk 10;
	// pick the latest by numeric index within the last episode.
	var latest string
	latestEpisode, latestIndex := "", -1
	for _, id := range chunkIDs {
		index, err := id.ChunkIndex()
		if err != nil {
			continue
		}
		if id.Episode() > latestEpisode ||
			(id.Episode() == latestEpisode && index > latestIndex) {
			latest = id.String()
			latestEpisode, latestIndex = id.Episode(), index
		}
	}
	if latest == "" {
		return
	}
	if err := d.mon.TriggerNotification(assignmentID, latest); err != nil {
		d.log.Warn("nudging new assignment", "assignment", assignmentID, "error", err)
	}
}
