package monitor

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// DefaultFrequency is the default scan pacing in Hz.
const DefaultFrequency = 5.0

// Metronome paces filesystem scans. Wait blocks until the next scan is
// due; Wake requests an early scan without exceeding the bounded
// frequency.
type Metronome interface {
	Wait(ctx context.Context) error
	Wake()
}

type pacedMetronome struct {
	interval time.Duration
	limiter  *rate.Limiter
	wake     chan struct{}
}

// NewMetronome returns a metronome that scans at most frequency times
// per second, scanning early when woken.
func NewMetronome(frequency float64) Metronome {
	if frequency <= 0 {
		frequency = DefaultFrequency
	}
	return &pacedMetronome{
		interval: time.Duration(float64(time.Second) / frequency),
		limiter:  rate.NewLimiter(rate.Limit(frequency), 1),
		wake:     make(chan struct{}, 1),
	}
}

func (p *pacedMetronome) Wait(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-p.wake:
	case <-time.After(p.interval):
	}
	// A burst of wakes still scans at the bounded frequency.
	return p.limiter.Wait(ctx)
}

func (p *pacedMetronome) Wake() {
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

// ManualMetronome releases one scan per Step call, giving tests
// deterministic ticks.
type ManualMetronome struct {
	ticks chan struct{}
}

func NewManualMetronome() *ManualMetronome {
	return &ManualMetronome{ticks: make(chan struct{})}
}

func (m *ManualMetronome) Wait(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-m.ticks:
		return nil
	}
}

func (m *ManualMetronome) Wake() {}

// Step releases n waiting scans, blocking until each is taken.
func (m *ManualMetronome) Step(n int) {
	for i := 0; i < n; i++ {
		m.ticks <- struct{}{}
	}
}
