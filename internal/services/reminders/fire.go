package reminders

import (
	"context"
	"time"

	"remindbot/internal/reminder"
	"remindbot/internal/scheduler"
	logx "remindbot/pkg/logx"
)

// onFire retires the reminder and hands it to the notifier. A job whose
// reminder is gone or was moved to another instant is stale and ignored.
func (s *Service) onFire(ctx context.Context, job scheduler.Job) {
	s.mu.Lock()
	r, ok := s.store.Get(job.Key.UserID, job.Key.ID)
	if !ok || !r.DueAt.Equal(job.DueAt) {
		s.mu.Unlock()
		s.log.Debug("stale job ignored", logx.String("key", job.Key.String()))
		return
	}
	// Remove first: from here on a cancel sees NotFound, and a crash before
	// delivery loses the notification instead of repeating it.
	if _, _, err := s.store.Remove(ctx, r.UserID, r.ID); err != nil {
		s.log.Error("fired reminder not removed from store", logx.String("user", r.UserID), logx.String("id", r.ID), logx.Err(err))
	}
	s.snooze.put(r, s.now())
	s.publish(EventFired, r, nil)
	s.mu.Unlock()

	s.deliver(ctx, r)
}

// deliver calls the notifier once. Failures are reported, never retried.
func (s *Service) deliver(ctx context.Context, r reminder.Reminder) {
	cfg := s.config()
	dctx, cancel := context.WithTimeout(ctx, cfg.DeliveryTimeout)
	defer cancel()

	start := time.Now()
	err := s.notifier.Deliver(dctx, r.UserID, r)
	if err != nil {
		s.log.Error("reminder delivery failed",
			logx.String("user", r.UserID),
			logx.String("id", r.ID),
			logx.Time("due_at", r.DueAt),
			logx.Duration("took", time.Since(start)),
			logx.Err(err),
		)
		s.publish(EventDeliveryFailed, r, err)
		return
	}
	s.log.Info("reminder delivered",
		logx.String("user", r.UserID),
		logx.String("id", r.ID),
		logx.Duration("late", s.now().Sub(r.DueAt)),
	)
	s.publish(EventDelivered, r, nil)
}

// Sweep re-arms stored future reminders that have no timer and purges
// reminders that are past due without one. A store whose load failed is
// loaded first.
func (s *Service) Sweep(ctx context.Context) SweepReport {
	s.mu.Lock()
	defer s.mu.Unlock()

	var rep SweepReport
	if !s.store.Loaded() {
		if _, err := s.store.Load(ctx); err != nil && !s.store.Loaded() {
			return rep
		}
	}
	now := s.now()
	snap := s.store.All()
	var purged []reminder.Reminder
	for _, list := range snap {
		for _, r := range list {
			if _, pending := s.sched.Pending(r.Key()); pending {
				continue
			}
			// Dequeued but still waiting for s.mu in onFire.
			if s.sched.Firing(r.Key()) {
				continue
			}
			if r.Active(now) {
				if err := s.scheduleLocked(r); err == nil {
					rep.Rearmed++
				}
				continue
			}
			if now.Sub(r.DueAt) < sweepGrace {
				continue
			}
			purged = append(purged, r)
		}
	}

	if len(purged) > 0 {
		next := snap.Clone()
		for _, r := range purged {
			list := next[r.UserID]
			for i := range list {
				if list[i].ID == r.ID {
					next[r.UserID] = append(list[:i:i], list[i+1:]...)
					break
				}
			}
			if len(next[r.UserID]) == 0 {
				delete(next, r.UserID)
			}
		}
		if err := s.store.Replace(ctx, next); err != nil {
			s.log.Error("sweep purge not saved", logx.Err(err))
		} else {
			rep.Purged = len(purged)
			for _, r := range purged {
				s.publish(EventMissed, r, nil)
			}
		}
	}
	if rep.Rearmed > 0 || rep.Purged > 0 {
		s.log.Info("sweep done", logx.Int("rearmed", rep.Rearmed), logx.Int("purged", rep.Purged))
	}
	return rep
}
