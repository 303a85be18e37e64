// Package driver runs the reconciliation engine on a fixed cadence: one
// cycle at a time, with manual triggering and a status snapshot for the
// web surface.
package driver

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/nhle/ticketwatch/internal/mailbox"
)

// CycleRunner is the unit of work the driver schedules.
type CycleRunner interface {
	RunCycle(ctx context.Context) error
}

// State is the driver's coarse condition, exposed on the status endpoint.
type State string

const (
	StateIdle    State = "idle"
	StateRunning State = "running"
	StateError   State = "error"
)

// Status is a point-in-time snapshot of the driver.
type Status struct {
	State       State     `json:"state"`
	LastRun     time.Time `json:"last_run,omitempty"`
	LastRunID   string    `json:"last_run_id,omitempty"`
	LastError   string    `json:"last_error,omitempty"`
	TotalCycles int       `json:"total_cycles"`
	AuthExpired bool      `json:"auth_expired"`
}

// Runner drives the engine on a ticker. Cycles never overlap: a tick that
// arrives while a cycle is in flight is dropped, and a tick firing later
// than the misfire grace is logged as missed scheduling.
type Runner struct {
	engine       CycleRunner
	interval     time.Duration
	misfireGrace time.Duration
	logger       zerolog.Logger

	triggerCh chan struct{}

	mu     sync.Mutex
	status Status
}

// New creates a runner for the given engine.
func New(engine CycleRunner, interval, misfireGrace time.Duration, logger zerolog.Logger) *Runner {
	return &Runner{
		engine:       engine,
		interval:     interval,
		misfireGrace: misfireGrace,
		logger:       logger.With().Str("component", "driver").Logger(),
		triggerCh:    make(chan struct{}, 1),
		status:       Status{State: StateIdle},
	}
}

// Run blocks until ctx is cancelled, executing one cycle immediately and
// then one per tick or manual trigger.
func (r *Runner) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.logger.Info().Dur("interval", r.interval).Msg("driver started")

	r.runOnce(ctx)

	expected := time.Now().Add(r.interval)
	for {
		select {
		case <-ctx.Done():
			r.logger.Info().Msg("driver stopped")
			return ctx.Err()

		case now := <-ticker.C:
			if late := now.Sub(expected); late > r.misfireGrace {
				r.logger.Warn().Dur("late", late).
					Msg("tick fired past the misfire grace; scheduling fell behind")
			}
			expected = now.Add(r.interval)
			r.runOnce(ctx)
			drainTicks(ticker)

		case <-r.triggerCh:
			r.runOnce(ctx)
			drainTicks(ticker)
		}
	}
}

// drainTicks drops a tick that fired while a cycle was running, so a slow
// cycle is not immediately followed by a catch-up cycle.
func drainTicks(ticker *time.Ticker) {
	select {
	case <-ticker.C:
	default:
	}
}

// TriggerNow requests an immediate cycle. Coalesces with a pending trigger;
// never blocks.
func (r *Runner) TriggerNow() {
	select {
	case r.triggerCh <- struct{}{}:
	default:
	}
}

// Status returns a copy of the current status.
func (r *Runner) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

func (r *Runner) runOnce(ctx context.Context) {
	runID := uuid.NewString()
	log := r.logger.With().Str("run_id", runID).Logger()

	r.mu.Lock()
	r.status.State = StateRunning
	r.status.LastRunID = runID
	r.mu.Unlock()

	start := time.Now()
	err := r.engine.RunCycle(ctx)

	r.mu.Lock()
	defer r.mu.Unlock()

	r.status.LastRun = start
	r.status.TotalCycles++

	if err != nil {
		r.status.State = StateError
		r.status.LastError = err.Error()
		if mailbox.IsAuthError(err) {
			// Credentials will not fix themselves; flag it for the operator
			// but keep ticking in case the token file is replaced.
			r.status.AuthExpired = true
			log.Error().Err(err).Msg("cycle failed: authentication expired, re-run setup")
			return
		}
		log.Error().Err(err).Dur("took", time.Since(start)).Msg("cycle failed")
		return
	}

	r.status.State = StateIdle
	r.status.LastError = ""
	r.status.AuthExpired = false
	log.Debug().Dur("took", time.Since(start)).Msg("cycle finished")
}
