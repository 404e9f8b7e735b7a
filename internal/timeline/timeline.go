// Package timeline schedules the load phases: it ramps per-phase actor
// counts along their configured stage profiles, paces activations, and
// drains every phase before returning, guaranteeing the quiescence the
// consistency oracle requires.
package timeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/example/flashsale/tools/loadgen/internal/actor"
	"github.com/example/flashsale/tools/loadgen/internal/config"
)

// ErrNoPhases is returned when the scheduler has nothing to run.
var ErrNoPhases = errors.New("timeline: no phases configured")

// Stage is one segment of a phase's actor-count profile.
type Stage struct {
	Duration time.Duration
	Target   int
}

// Phase is one runnable load phase.
type Phase struct {
	Name         string
	StartAfter   time.Duration
	StartTarget  int
	Stages       []Stage
	GracefulStop time.Duration
	PauseMin     time.Duration
	PauseMax     time.Duration

	// Run is the activation every actor of this phase executes.
	Run actor.Func
}

// FromConfig binds a configured phase to its activation function.
func FromConfig(pc config.PhaseConfig, run actor.Func) Phase {
	stages := make([]Stage, len(pc.Stages))
	for i, s := range pc.Stages {
		stages[i] = Stage{Duration: s.Duration, Target: s.Target}
	}
	return Phase{
		Name:         pc.Name,
		StartAfter:   pc.StartAfter,
		StartTarget:  pc.StartTarget,
		Stages:       stages,
		GracefulStop: pc.GracefulStop,
		PauseMin:     pc.PauseMin,
		PauseMax:     pc.PauseMax,
		Run:          run,
	}
}

// duration returns the total wall-clock length of the phase's stages.
func (p *Phase) duration() time.Duration {
	var d time.Duration
	for _, s := range p.Stages {
		d += s.Duration
	}
	return d
}

// targetAt returns the actor count the phase should run at the given
// elapsed offset, interpolating linearly within each stage.
func (p *Phase) targetAt(elapsed time.Duration) int {
	prev := p.StartTarget
	var passed time.Duration
	for _, s := range p.Stages {
		if elapsed < passed+s.Duration {
			frac := float64(elapsed-passed) / float64(s.Duration)
			return int(math.Round(float64(prev) + frac*float64(s.Target-prev)))
		}
		passed += s.Duration
		prev = s.Target
	}
	return prev
}

// pause returns a randomized pause within the phase's bounds.
func (p *Phase) pause() time.Duration {
	if p.PauseMax <= 0 {
		return 0
	}
	span := p.PauseMax - p.PauseMin
	if span <= 0 {
		return p.PauseMin
	}
	return p.PauseMin + time.Duration(rand.Int64N(int64(span)))
}

// Scheduler runs a set of phases to completion.
type Scheduler struct {
	phases         []Phase
	limiter        *rate.Limiter
	logger         *slog.Logger
	adjustInterval time.Duration
}

// New creates a scheduler. A pacing QPS of zero disables the global rate
// cap.
func New(phases []Phase, pacing config.PacingConfig, logger *slog.Logger) (*Scheduler, error) {
	if len(phases) == 0 {
		return nil, ErrNoPhases
	}
	for _, p := range phases {
		if p.Run == nil {
			return nil, fmt.Errorf("timeline: phase %q has no behavior bound", p.Name)
		}
	}
	if logger == nil {
		logger = slog.Default()
	}

	s := &Scheduler{
		phases:         phases,
		logger:         logger,
		adjustInterval: 100 * time.Millisecond,
	}
	if pacing.QPS > 0 {
		burst := pacing.Burst
		if burst <= 0 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(rate.Limit(pacing.QPS), burst)
	}
	return s, nil
}

// Run executes every phase and returns once all of them have fully
// drained, including grace periods. Afterwards no actor has in-flight
// work, so the run is quiescent.
func (s *Scheduler) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	for i := range s.phases {
		wg.Add(1)
		go func(p *Phase) {
			defer wg.Done()
			s.runPhase(ctx, p)
		}(&s.phases[i])
	}
	wg.Wait()
	return ctx.Err()
}

// worker is one actor goroutine. quit stops new activations; the context
// kills in-flight work.
type worker struct {
	cancel context.CancelFunc
	quit   chan struct{}
	done   chan struct{}
}

func (s *Scheduler) runPhase(ctx context.Context, p *Phase) {
	select {
	case <-ctx.Done():
		return
	case <-time.After(p.StartAfter):
	}

	s.logger.Info("phase starting", "phase", p.Name, "duration", p.duration())

	var (
		workers []*worker
		stopped []*worker
		nextID  = 1
	)
	defer func() {
		// Stop new activations, allow the grace period, then cut the cord.
		for _, w := range workers {
			close(w.quit)
		}
		graceTimer := time.NewTimer(p.GracefulStop)
		defer graceTimer.Stop()
		remaining := workers
	drain:
		for _, w := range remaining {
			select {
			case <-w.done:
			case <-graceTimer.C:
				break drain
			}
		}
		for _, w := range workers {
			w.cancel()
		}
		for _, w := range workers {
			<-w.done
		}
		for _, w := range stopped {
			<-w.done
		}
		s.logger.Info("phase drained", "phase", p.Name, "actors_spawned", nextID-1)
	}()

	start := time.Now()
	total := p.duration()
	ticker := time.NewTicker(s.adjustInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		elapsed := time.Since(start)
		if elapsed >= total {
			return
		}

		target := p.targetAt(elapsed)
		for len(workers) < target {
			workers = append(workers, s.spawn(ctx, p, nextID))
			nextID++
		}
		for len(workers) > target {
			w := workers[len(workers)-1]
			workers = workers[:len(workers)-1]
			close(w.quit)
			w.cancel()
			stopped = append(stopped, w)
		}
	}
}

func (s *Scheduler) spawn(ctx context.Context, p *Phase, id int) *worker {
	wctx, cancel := context.WithCancel(ctx)
	w := &worker{
		cancel: cancel,
		quit:   make(chan struct{}),
		done:   make(chan struct{}),
	}

	go func() {
		defer close(w.done)
		defer cancel()

		a := &actor.Actor{ID: id, Phase: p.Name, Memory: &actor.Memory{}}
		for {
			select {
			case <-w.quit:
				return
			case <-wctx.Done():
				return
			default:
			}

			if s.limiter != nil {
				if err := s.limiter.Wait(wctx); err != nil {
					return
				}
			}

			p.Run(wctx, a)

			pause := p.pause()
			if pause <= 0 {
				continue
			}
			pauseTimer := time.NewTimer(pause)
			select {
			case <-w.quit:
				pauseTimer.Stop()
				return
			case <-wctx.Done():
				pauseTimer.Stop()
				return
			case <-pauseTimer.C:
			}
		}
	}()
	return w
}
