package observability

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/understudy-ai/understudy-backend/internal/platform/logger"
)

// LatencyStats aggregates in-process call latencies per operation:
// count, mean and max since the last flush. A nil *LatencyStats is a
// no-op, mirroring Metrics.
type LatencyStats struct {
	mu    sync.Mutex
	stats map[string]*opStats
}

type opStats struct {
	count int64
	total time.Duration
	max   time.Duration
}

func NewLatencyStats() *LatencyStats {
	return &LatencyStats{stats: map[string]*opStats{}}
}

func (l *LatencyStats) Observe(op string, dur time.Duration) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	s, ok := l.stats[op]
	if !ok {
		s = &opStats{}
		l.stats[op] = s
	}
	s.count++
	s.total += dur
	if dur > s.max {
		s.max = dur
	}
}

// Time runs fn and records its duration under op.
func (l *LatencyStats) Time(op string, fn func() error) error {
	start := time.Now()
	err := fn()
	l.Observe(op, time.Since(start))
	return err
}

// OpSummary is one operation's aggregate since the last flush.
type OpSummary struct {
	Op    string
	Count int64
	Mean  time.Duration
	Max   time.Duration
}

// Flush returns the aggregates in operation-name order and resets them.
func (l *LatencyStats) Flush() []OpSummary {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	stats := l.stats
	l.stats = map[string]*opStats{}
	l.mu.Unlock()

	out := make([]OpSummary, 0, len(stats))
	for op, s := range stats {
		out = append(out, OpSummary{
			Op:    op,
			Count: s.count,
			Mean:  s.total / time.Duration(s.count),
			Max:   s.max,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Op < out[j].Op })
	return out
}

// LogPeriodically emits one summary line per operation at each
// interval until ctx is cancelled. Quiet intervals log nothing.
func (l *LatencyStats) LogPeriodically(ctx context.Context, log *logger.Logger, interval time.Duration) {
	if l == nil {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				for _, s := range l.Flush() {
					log.Info("latency",
						"op", s.Op,
						"count", s.Count,
						"mean_ms", s.Mean.Milliseconds(),
						"max_ms", s.Max.Milliseconds(),
					)
				}
			}
		}
	}()
}
