package scheduler

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Scheduler runs a process on a fixed interval
type Scheduler struct {
	name     string
	process  Process
	log      *zerolog.Logger
	interval time.Duration
	mu       sync.Mutex
	// wg tracks the run loop and every in-flight execution
	wg sync.WaitGroup
}

// NewSchedulerWithInterval creates a new scheduler with a parsed interval string
func NewSchedulerWithInterval(intervalExpr string, process Process, log *zerolog.Logger) (*Scheduler, error) {
	duration, err := ParseEveryExpr(intervalExpr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse interval: %w", err)
	}
	if duration <= 0 {
		return nil, fmt.Errorf("interval must be positive, got %s", duration)
	}

	return &Scheduler{
		name:     process.Name(),
		process:  process,
		log:      log,
		interval: duration,
	}, nil
}

// Start runs the scheduler in the background until ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.run(ctx)
	}()
}

// Stop waits for the run loop and any in-flight execution to finish, or for
// ctx to expire. Cancel the context passed to Start first.
func (s *Scheduler) Stop(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scheduler) run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.log.Info().
		Str("Process", s.name).
		Dur("interval", s.interval).
		Msg("Starting scheduler")

	if ctx.Err() != nil {
		return
	}

	// Run once immediately
	s.launchProcess(ctx)

	for {
		select {
		case <-ctx.Done():
			s.log.Info().
				Str("Process", s.name).
				Msg("Scheduler received cancellation signal. Exiting...")
			return

		case <-ticker.C:
			if s.process.IsComplete() {
				s.log.Info().
					Str("Process", s.name).
					Msg("Process marked as complete. Stopping scheduling.")
				return
			}
			s.launchProcess(ctx)
		}
	}
}

// GetInterval returns the current interval
func (s *Scheduler) GetInterval() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.interval
}

// Name returns the name of the scheduler
func (s *Scheduler) Name() string {
	return s.name
}

func (s *Scheduler) launchProcess(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if ctx.Err() != nil {
		return
	}

	if s.process.IsRunning() {
		s.log.Debug().
			Str("Process", s.name).
			Msg("Process already executing")
		return
	}

	s.log.Debug().
		Str("Process", s.name).
		Msg("Scheduler triggering task execution")

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.process.Execute(ctx); err != nil {
			s.log.Warn().
				Str("Process", s.name).
				Err(err).
				Msg("Error occurred while executing process.")
		}
	}()
}

func ParseEveryExpr(expr string) (time.Duration, error) {
	const prefix = "@every "
	if expr == "" {
		return 0, fmt.Errorf("empty expression provided")
	}
	if !strings.HasPrefix(expr, prefix) {
		return 0, fmt.Errorf("unsupported format: must start with %q", prefix)
	}
	return time.ParseDuration(strings.TrimPrefix(expr, prefix))
}
