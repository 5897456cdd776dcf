package reminders

import (
	"context"
	"errors"
	"strings"
	"time"

	"remindbot/internal/reminder"
	logx "remindbot/pkg/logx"
)

// Create persists a new reminder and arms its timer. A returned error that
// matches reminder.ErrSchedulingDegraded still carries a saved reminder.
func (s *Service) Create(ctx context.Context, userID, task string, dueAt time.Time) (reminder.Reminder, error) {
	task = strings.TrimSpace(task)
	if task == "" {
		return reminder.Reminder{}, &reminder.ValidationError{Field: "task", Reason: "empty", Example: "pick up the parcel"}
	}
	if dueAt.IsZero() {
		return reminder.Reminder{}, &reminder.ValidationError{Field: "dt", Reason: "missing"}
	}
	r := reminder.Reminder{
		ID:     reminder.NewID(),
		UserID: userID,
		Task:   task,
		DueAt:  dueAt.In(s.Location()),
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.createLocked(ctx, r)
}

func (s *Service) createLocked(ctx context.Context, r reminder.Reminder) (reminder.Reminder, error) {
	if err := s.store.Upsert(ctx, r); err != nil {
		return reminder.Reminder{}, err
	}
	s.publish(EventCreated, r, nil)
	s.log.Info("reminder created", logx.String("user", r.UserID), logx.String("id", r.ID), logx.Time("due_at", r.DueAt))
	return r, s.scheduleLocked(r)
}

// Cancel removes an active reminder and its timer. A reminder that already
// fired or was cancelled is NotFound.
func (s *Service) Cancel(ctx context.Context, userID, id string) (reminder.Reminder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.store.Get(userID, id)
	if !ok {
		return reminder.Reminder{}, reminder.NotFound(userID, id)
	}
	hadJob := s.sched.Cancel(r.Key())
	if _, _, err := s.store.Remove(ctx, userID, id); err != nil {
		// Keep the store and the scheduler in agreement.
		if hadJob {
			_ = s.scheduleLocked(r)
		}
		return reminder.Reminder{}, err
	}
	s.snooze.drop(r.Key())
	s.publish(EventCancelled, r, nil)
	s.log.Info("reminder cancelled", logx.String("user", userID), logx.String("id", id))
	return r, nil
}

// Edit changes the task text and/or the time of day of an active reminder.
// A time-only change keeps the original date in the configured zone. A time
// earlier than now fires immediately.
func (s *Service) Edit(ctx context.Context, userID, id string, e Edit) (reminder.Reminder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.editLocked(ctx, userID, id, e)
}

func (s *Service) editLocked(ctx context.Context, userID, id string, e Edit) (reminder.Reminder, error) {
	cur, ok := s.store.Get(userID, id)
	if !ok {
		return reminder.Reminder{}, reminder.NotFound(userID, id)
	}
	next := cur
	if e.Task != nil {
		if t := strings.TrimSpace(*e.Task); t != "" {
			next.Task = t
		}
	}
	if e.Clock != nil {
		loc := s.Location()
		y, m, d := cur.DueAt.In(loc).Date()
		next.DueAt = time.Date(y, m, d, e.Clock.Hour, e.Clock.Minute, 0, 0, loc)
	}
	if next.Task == cur.Task && next.DueAt.Equal(cur.DueAt) {
		return cur, nil
	}
	if err := s.store.Upsert(ctx, next); err != nil {
		return reminder.Reminder{}, err
	}
	s.publish(EventUpdated, next, nil)
	s.log.Info("reminder edited", logx.String("user", userID), logx.String("id", id), logx.Time("due_at", next.DueAt))
	if next.DueAt.Equal(cur.DueAt) {
		if _, pending := s.sched.Pending(next.Key()); pending {
			return next, nil
		}
	}
	return next, s.scheduleLocked(next)
}

// Postpone adds minutes to the reminder's due instant and re-arms it. A
// reminder delivered within the snooze window is brought back under the same
// id; its new instant is never in the past.
func (s *Service) Postpone(ctx context.Context, userID, id string, minutes int) (reminder.Reminder, error) {
	if minutes <= 0 {
		return reminder.Reminder{}, &reminder.ValidationError{Field: "minutes", Reason: "must be positive", Example: "10"}
	}
	delta := time.Duration(minutes) * time.Minute

	s.mu.Lock()
	defer s.mu.Unlock()

	key := reminder.Key{UserID: userID, ID: id}
	cur, ok := s.store.Get(userID, id)
	snoozed := false
	if !ok {
		cur, ok = s.snooze.take(key, s.now())
		if !ok {
			return reminder.Reminder{}, reminder.NotFound(userID, id)
		}
		snoozed = true
	}

	next := cur
	next.DueAt = cur.DueAt.Add(delta)
	if snoozed {
		if now := s.now(); !next.DueAt.After(now) {
			next.DueAt = now.Add(delta).In(cur.DueAt.Location()).Truncate(time.Second)
		}
	}
	if err := s.store.Upsert(ctx, next); err != nil {
		if snoozed {
			s.snooze.put(cur, s.now())
		}
		return reminder.Reminder{}, err
	}
	if snoozed {
		s.publish(EventCreated, next, nil)
	} else {
		s.publish(EventUpdated, next, nil)
	}
	s.log.Info("reminder postponed",
		logx.String("user", userID), logx.String("id", id),
		logx.Int("minutes", minutes), logx.Bool("snooze", snoozed),
		logx.Time("due_at", next.DueAt),
	)
	return next, s.scheduleLocked(next)
}

// IsDegraded reports whether err only signals a missing timer.
func IsDegraded(err error) bool { return errors.Is(err, reminder.ErrSchedulingDegraded) }
