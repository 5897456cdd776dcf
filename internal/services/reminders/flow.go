package reminders

import (
	"context"
	"errors"
	"strings"

	"remindbot/internal/conversation"
	"remindbot/internal/reminder"
	logx "remindbot/pkg/logx"
)

// HandleEvent drives one structured user event. Validation problems come back
// as KindInvalid replies; NotFound, persistence failures and the like are
// returned as errors. A failed commit leaves the flow where it was.
func (s *Service) HandleEvent(ctx context.Context, userID string, ev conversation.Event) (Reply, error) {
	switch e := ev.(type) {
	case conversation.CancelRequested:
		r, err := s.Cancel(ctx, userID, e.ID)
		if err != nil {
			return Reply{}, err
		}
		return Reply{Kind: KindCancelled, Reminder: r, Step: s.machine.State(userID).Step}, nil

	case conversation.PostponeRequested:
		r, err := s.Postpone(ctx, userID, e.ID, e.Minutes)
		return s.commitReply(KindPostponed, userID, r, e.Minutes, err)

	case conversation.EditStart:
		cur, ok := s.store.Get(userID, e.ID)
		if !ok {
			return Reply{}, reminder.NotFound(userID, e.ID)
		}
		e.CurrentTask = cur.Task
		ev = e
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tr := s.machine.Apply(userID, ev)
	rep := Reply{Step: tr.To, Draft: tr.Draft}
	if tr.Effect != conversation.EffectIgnored {
		s.log.Debug("flow transition",
			logx.String("user", userID),
			logx.String("from", tr.From.String()),
			logx.String("to", tr.To.String()),
			logx.String("effect", tr.Effect.String()),
		)
	}

	switch tr.Effect {
	case conversation.EffectIgnored, conversation.EffectNone:
		rep.Kind = KindIgnored
		return rep, nil

	case conversation.EffectPrompt:
		rep.Kind = KindPrompt
		if tr.To == conversation.AwaitingDate {
			rep.Kind = KindCalendar
		}
		if tr.To == conversation.EditingTask {
			rep.Reminder, _ = s.store.Get(userID, tr.Draft.EditID)
		}
		return rep, nil

	case conversation.EffectCalendar:
		rep.Kind = KindCalendar
		return rep, nil

	case conversation.EffectReprompt:
		rep.Kind = KindInvalid
		rep.Err = tr.Err
		return rep, nil

	case conversation.EffectBack:
		rep.Kind = KindMenu
		return rep, nil

	case conversation.EffectCommitCreate:
		d := tr.Draft
		due := d.Date.At(d.Clock, s.Location())
		r := reminder.Reminder{ID: reminder.NewID(), UserID: userID, Task: d.Task, DueAt: due}
		saved, err := s.createLocked(ctx, r)
		if err != nil && !IsDegraded(err) {
			s.machine.Restore(userID, tr.Prev)
			return Reply{}, err
		}
		return s.commitReply(KindCreated, userID, saved, 0, err)

	case conversation.EffectCommitEdit:
		d := tr.Draft
		task, clock := d.Task, d.Clock
		saved, err := s.editLocked(ctx, userID, d.EditID, Edit{Task: &task, Clock: &clock})
		if err != nil && !IsDegraded(err) {
			if !errors.Is(err, reminder.ErrNotFound) {
				s.machine.Restore(userID, tr.Prev)
			}
			return Reply{}, err
		}
		return s.commitReply(KindUpdated, userID, saved, 0, err)
	}
	return rep, nil
}

func (s *Service) commitReply(kind Kind, userID string, r reminder.Reminder, minutes int, err error) (Reply, error) {
	if err != nil && !IsDegraded(err) {
		return Reply{}, err
	}
	return Reply{
		Kind:     kind,
		Reminder: r,
		Minutes:  minutes,
		Step:     s.machine.State(userID).Step,
		Degraded: err != nil,
	}, nil
}

// HandleText maps free text to the event the user's current step expects.
// Text outside a flow is ignored.
func (s *Service) HandleText(ctx context.Context, userID, text string) (Reply, error) {
	ev := s.machine.TextEvent(userID, strings.TrimSpace(text))
	if ev == nil {
		return Reply{Kind: KindIgnored, Step: s.machine.State(userID).Step}, nil
	}
	return s.HandleEvent(ctx, userID, ev)
}
