package service

import (
	"context"
	"fmt"
	"time"

	"github.com/adhocore/gronx"

	"github.com/chatsync/internal/event"
	"github.com/chatsync/internal/logger"
	"github.com/chatsync/internal/metrics"
	"github.com/chatsync/internal/storage"
)

const (
	DefaultSweepCron = "0 * * * *"
	sweepLockKey     = "pin-sweeper"
	sweepLockTTL     = 5 * time.Minute
	sweepRetryDelay  = 30 * time.Second
)

// Sweeper removes expired pins and announces each removal as desfijado/expired.
// With a shared Locker only one instance runs a given sweep.
type Sweeper struct {
	pins   storage.PinStore
	locker storage.Locker
	events Emitter
	cron   string
	now    func() time.Time
}

func NewSweeper(pins storage.PinStore, locker storage.Locker, events Emitter, cronExpr string, opts Options) (*Sweeper, error) {
	if cronExpr == "" {
		cronExpr = DefaultSweepCron
	}
	if !gronx.IsValid(cronExpr) {
		return nil, fmt.Errorf("invalid sweep cron expression: %s", cronExpr)
	}
	opts = opts.withDefaults()
	return &Sweeper{pins: pins, locker: locker, events: events, cron: cronExpr, now: opts.Now}, nil
}

// RunOnce performs one sweep and returns how many pins it removed.
// Skipped is true when another instance holds the lease.
func (s *Sweeper) RunOnce(ctx context.Context) (removed int, skipped bool, err error) {
	defer logger.DeferLogDuration("sweeper.RunOnce", time.Now())()
	if s.locker != nil {
		release, ok, err := s.locker.TryLock(ctx, sweepLockKey, sweepLockTTL)
		if err != nil {
			metrics.SweepRuns.WithLabelValues("error").Inc()
			return 0, false, fmt.Errorf("sweep lock: %w", err)
		}
		if !ok {
			metrics.SweepRuns.WithLabelValues("skipped").Inc()
			return 0, true, nil
		}
		defer release()
	}

	expired, err := s.pins.DeleteExpired(ctx, s.now())
	if err != nil {
		metrics.SweepRuns.WithLabelValues("error").Inc()
		return 0, false, fmt.Errorf("sweep: %w", err)
	}
	for _, p := range expired {
		emit(ctx, s.events, p.Conversation, event.PinChanged, event.UnpinnedPayload(p, event.ReasonExpired, ""))
	}
	metrics.PinsExpired.Add(float64(len(expired)))
	metrics.SweepRuns.WithLabelValues("ok").Inc()
	if len(expired) > 0 {
		logger.Infof("sweeper: removed %d expired pins", len(expired))
	}
	return len(expired), false, nil
}

// Start sweeps once immediately, then on every cron tick until ctx is done.
func (s *Sweeper) Start(ctx context.Context) {
	logger.Infof("sweeper started cron=%q", s.cron)
	s.run(ctx)
	for {
		next, err := gronx.NextTickAfter(s.cron, time.Now().UTC(), false)
		wait := sweepRetryDelay
		if err != nil {
			logger.Errorf("sweeper next tick cron=%q: %v", s.cron, err)
		} else if d := time.Until(next); d > 0 {
			wait = d
		} else {
			wait = time.Second
		}

		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			logger.Info("sweeper stopped")
			return
		case <-t.C:
			if err == nil {
				s.run(ctx)
			}
		}
	}
}

func (s *Sweeper) run(ctx context.Context) {
	if _, _, err := s.RunOnce(ctx); err != nil {
		logger.Errorf("sweeper: %v", err)
	}
}
