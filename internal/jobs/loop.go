package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

const defaultInterval = 10 * time.Second

// Loop drives the dispatcher. RunOnce is the triggered mode; Run keeps passing
// until its context is cancelled.
type Loop struct {
	dispatcher       *Dispatcher
	recoverer        *Recoverer
	interval         time.Duration
	recoveryInterval time.Duration
	logger           *slog.Logger
}

// NewLoop creates a Loop. recoverer may be nil; recoveryInterval <= 0 disables
// periodic recovery.
func NewLoop(d *Dispatcher, recoverer *Recoverer, interval, recoveryInterval time.Duration, logger *slog.Logger) *Loop {
	if interval <= 0 {
		interval = defaultInterval
	}
	return &Loop{
		dispatcher:       d,
		recoverer:        recoverer,
		interval:         interval,
		recoveryInterval: recoveryInterval,
		logger:           logger,
	}
}

// RunOnce runs a single dispatcher pass.
func (l *Loop) RunOnce(ctx context.Context) (int, error) {
	return l.dispatcher.RunOnce(ctx)
}

// Run passes, sleeps interval, and repeats. A failing or panicking pass is
// logged and the loop carries on.
func (l *Loop) Run(ctx context.Context) {
	l.logger.Info("worker loop started", "interval", l.interval, "recovery_interval", l.recoveryInterval)

	if l.recoverer != nil && l.recoveryInterval > 0 {
		go l.runRecovery(ctx)
	}

	timer := time.NewTimer(0)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			l.logger.Info("worker loop stopped")
			return
		case <-timer.C:
		}

		l.pass(ctx)
		timer.Reset(l.interval)
	}
}

func (l *Loop) pass(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("panic in dispatcher pass", "error", fmt.Sprint(r))
		}
	}()

	n, err := l.dispatcher.RunOnce(ctx)
	if err != nil {
		l.logger.Error("dispatcher pass failed", "error", err)
		return
	}
	if n > 0 {
		l.logger.Info("dispatcher pass finished", "processed", n)
	}
}

func (l *Loop) runRecovery(ctx context.Context) {
	ticker := time.NewTicker(l.recoveryInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		l.recoverOnce(ctx)
	}
}

func (l *Loop) recoverOnce(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("panic in stuck-job recovery", "error", fmt.Sprint(r))
		}
	}()
	if _, err := l.recoverer.RecoverStale(ctx); err != nil {
		l.logger.Error("stuck-job recovery failed", "error", err)
	}
}
