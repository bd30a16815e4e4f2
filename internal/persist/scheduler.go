package persist

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Scheduler calls a save function on a fixed interval and once more on
// Stop. Saves never overlap.
type Scheduler struct {
	interval time.Duration
	save     func() error
	logger   *slog.Logger
	observe  func(time.Duration)

	opsMu  sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewScheduler creates a scheduler. It does nothing until Start.
func NewScheduler(interval time.Duration, save func() error, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		interval: interval,
		save:     save,
		logger:   logger,
	}
}

// OnPersist registers a callback receiving the duration of each
// successful save.
func (s *Scheduler) OnPersist(fn func(time.Duration)) {
	s.observe = fn
}

// Start begins periodic saving until ctx ends or Stop is called.
func (s *Scheduler) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go func() {
		defer close(s.done)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				_ = s.Persist()
			}
		}
	}()
}

// Persist saves immediately.
func (s *Scheduler) Persist() error {
	s.opsMu.Lock()
	defer s.opsMu.Unlock()

	start := time.Now()
	if err := s.save(); err != nil {
		s.logger.Error("error while persisting data", "error", err)
		return err
	}
	elapsed := time.Since(start)
	if s.observe != nil {
		s.observe(elapsed)
	}
	s.logger.Debug("persisted data", "duration", elapsed)
	return nil
}

// Stop ends the timer and performs a final save.
func (s *Scheduler) Stop() error {
	if s.cancel != nil {
		s.cancel()
		<-s.done
		s.cancel = nil
	}
	return s.Persist()
}
