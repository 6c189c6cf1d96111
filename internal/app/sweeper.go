/**
 * @description
 * Cron-driven cleanup of idle payment sessions.
 */

package app

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/securepay/payment-service/internal/domain"
)

// SweepIdleSessions drops sessions untouched for longer than idle. A payment still in
// progress is cancelled first so anything waiting on it is released. It returns the
// number of sessions removed.
func (s *Service) SweepIdleSessions(idle time.Duration) int {
	if idle <= 0 {
		return 0
	}
	cutoff := s.opts.Now().Add(-idle)

	s.mu.Lock()
	var stale []*session
	for userID, sess := range s.sessions {
		if sess.lastSeen.Before(cutoff) {
			stale = append(stale, sess)
			delete(s.sessions, userID)
		}
	}
	s.mu.Unlock()

	for _, sess := range stale {
		state := sess.ctrl.State()
		if state != domain.StateIdle && !state.Terminal() {
			sess.ctrl.Cancel()
		}
	}
	return len(stale)
}

// Sweeper runs SweepIdleSessions on a cron schedule.
type Sweeper struct {
	cron     *cron.Cron
	service  *Service
	logger   *slog.Logger
	schedule string
	idle     time.Duration
}

// NewSweeper creates a sweeper for service.
func NewSweeper(service *Service, logger *slog.Logger, schedule string, idle time.Duration) *Sweeper {
	cronLogger := cron.PrintfLogger(slog.NewLogLogger(logger.Handler(), slog.LevelInfo))
	c := cron.New(cron.WithChain(cron.Recover(cronLogger)))
	return &Sweeper{cron: c, service: service, logger: logger, schedule: schedule, idle: idle}
}

// Start registers the sweep job and starts the scheduler.
func (s *Sweeper) Start() error {
	if _, err := s.cron.AddFunc(s.schedule, s.sweep); err != nil {
		s.logger.Error("failed to schedule session sweep job", "error", err, "schedule", s.schedule)
		return err
	}
	s.logger.Info("scheduled session sweep job", "schedule", s.schedule, "idle_timeout", s.idle.String())
	s.cron.Start()
	return nil
}

// Stop stops the scheduler; the returned context is done when a running sweep finishes.
func (s *Sweeper) Stop() context.Context {
	return s.cron.Stop()
}

func (s *Sweeper) sweep() {
	removed := s.service.SweepIdleSessions(s.idle)
	if removed > 0 {
		s.logger.Info("removed idle payment sessions", "count", removed)
	}
}
