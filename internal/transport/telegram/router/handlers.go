package router

import (
	"context"
	"errors"
	"strconv"

	"remindbot/internal/conversation"
	"remindbot/internal/reminder"
	"remindbot/internal/services/reminders"
	kit "remindbot/internal/transport"
	logx "remindbot/pkg/logx"
	"remindbot/pkg/tgui"
)

func (r *Router) messageHandler(cmd string) HandlerFunc {
	switch cmd {
	case "start", "menu":
		return r.onStart
	case "new", "add":
		return r.onNew
	case "list":
		return r.onList
	case "":
		return r.onText
	}
	return func(ctx context.Context, req *Request) error {
		_, err := r.adapter.SendText(ctx, req.Chat, "Неизвестная команда. Попробуй /start", nil)
		return err
	}
}

func (r *Router) callbackHandler(action string) HandlerFunc {
	switch action {
	case actAdd:
		return r.onAdd
	case actList:
		return r.onListCallback
	case actEdit:
		return r.onEdit
	case actCancel:
		return r.onCancel
	case actPP:
		return r.onPostpone
	case actCal:
		return r.onCalendarPage
	case actDay:
		return r.onDay
	case actBack:
		return r.onBack
	case actKeep:
		return r.onKeep
	}
	return func(context.Context, *Request) error { return nil }
}

func (r *Router) today() reminder.Date {
	return reminder.DateOf(r.now().In(r.svc.Location()))
}

// show edits msgID in place, falling back to a new message when there is no
// message to edit or the edit fails.
func (r *Router) show(ctx context.Context, chat kit.ChatTarget, msgID int, v view) (kit.MessageRef, error) {
	if msgID > 0 {
		ref := kit.MessageRef{ChatID: chat.ChatID, MessageID: msgID}
		err := r.adapter.EditText(ctx, ref, v.Text.String(), v.options())
		if err == nil {
			return ref, nil
		}
		r.log.Debug("edit failed, sending new message", logx.Err(err))
	}
	return r.adapter.SendText(ctx, chat, v.Text.String(), v.options())
}

// render shows a service reply in msgID.
func (r *Router) render(ctx context.Context, req *Request, msgID int, rep reminders.Reply) error {
	v, ok := replyView(rep, r.today(), r.svc.Location(), r.svc.PostponeOptions())
	if !ok {
		return nil
	}
	_, err := r.show(ctx, req.Chat, msgID, v)
	return err
}

// failure maps a service error to the toast text. NotFound is an expected
// outcome and is not reported as a request error.
func failure(req *Request, err error) error {
	switch {
	case errors.Is(err, reminder.ErrNotFound):
		req.Answer = textGone
		return nil
	case errors.Is(err, reminder.ErrValidation):
		req.Answer = "Неверный ввод."
		return nil
	}
	req.Answer = textFailed
	req.Alert = true
	return err
}

func (r *Router) onStart(ctx context.Context, req *Request) error {
	if _, err := r.svc.HandleEvent(ctx, req.UserID, conversation.BackRequested{}); err != nil {
		return err
	}
	_, err := r.show(ctx, req.Chat, 0, startView())
	return err
}

func (r *Router) onNew(ctx context.Context, req *Request) error {
	ref, err := r.show(ctx, req.Chat, 0, taskView(""))
	if err != nil {
		return err
	}
	_, err = r.svc.HandleEvent(ctx, req.UserID, conversation.CreateStart{MessageID: ref.MessageID})
	return err
}

func (r *Router) onList(ctx context.Context, req *Request) error {
	_, err := r.show(ctx, req.Chat, 0, listView(r.svc.ListActive(req.UserID), r.svc.Location()))
	return err
}

// onText feeds free text into the user's flow. The input message is removed
// and the flow message updated in place.
func (r *Router) onText(ctx context.Context, req *Request) error {
	st := r.svc.FlowState(req.UserID)
	if st.Step == conversation.Idle {
		return nil
	}
	msgID := st.Draft.MessageID
	rep, err := r.svc.HandleText(ctx, req.UserID, req.Text)

	if derr := r.adapter.DeleteMessage(ctx, kit.MessageRef{ChatID: req.Chat.ChatID, MessageID: req.MessageID}); derr != nil {
		req.Logger.Debug("input message not deleted", logx.Err(derr))
	}

	if err != nil {
		text := textFailed
		if errors.Is(err, reminder.ErrNotFound) {
			text = textGone
		}
		_, _ = r.show(ctx, req.Chat, msgID, view{Text: menuView().Text + "\n\n" + tgui.Raw(text), Markup: menuMarkup()})
		if errors.Is(err, reminder.ErrNotFound) {
			return nil
		}
		return err
	}
	return r.render(ctx, req, msgID, rep)
}

func (r *Router) onAdd(ctx context.Context, req *Request) error {
	rep, err := r.svc.HandleEvent(ctx, req.UserID, conversation.CreateStart{MessageID: req.MessageID})
	if err != nil {
		return failure(req, err)
	}
	return r.render(ctx, req, req.MessageID, rep)
}

func (r *Router) onListCallback(ctx context.Context, req *Request) error {
	_, err := r.show(ctx, req.Chat, req.MessageID, listView(r.svc.ListActive(req.UserID), r.svc.Location()))
	return err
}

func (r *Router) onEdit(ctx context.Context, req *Request) error {
	id := req.Data.Arg(0)
	rep, err := r.svc.HandleEvent(ctx, req.UserID, conversation.EditStart{ID: id, MessageID: req.MessageID})
	if err != nil {
		if ferr := failure(req, err); ferr != nil {
			return ferr
		}
		return r.onListCallback(ctx, req)
	}
	return r.render(ctx, req, req.MessageID, rep)
}

func (r *Router) onCancel(ctx context.Context, req *Request) error {
	rep, err := r.svc.HandleEvent(ctx, req.UserID, conversation.CancelRequested{ID: req.Data.Arg(0)})
	if err != nil {
		return failure(req, err)
	}
	req.Answer = "Удалено!"
	return r.render(ctx, req, req.MessageID, rep)
}

func (r *Router) onPostpone(ctx context.Context, req *Request) error {
	minutes, err := strconv.Atoi(req.Data.Arg(1))
	if err != nil || minutes <= 0 {
		req.Answer = "Неверный ввод."
		return nil
	}
	rep, err := r.svc.HandleEvent(ctx, req.UserID, conversation.PostponeRequested{ID: req.Data.Arg(0), Minutes: minutes})
	if err != nil {
		return failure(req, err)
	}
	req.Answer = "Отложено!"
	return r.render(ctx, req, req.MessageID, rep)
}

func (r *Router) onCalendarPage(ctx context.Context, req *Request) error {
	dir := 0
	switch req.Data.Arg(0) {
	case "prev":
		dir = -1
	case "next":
		dir = 1
	}
	return r.flowEvent(ctx, req, conversation.CalendarPage{Direction: dir})
}

func (r *Router) onDay(ctx context.Context, req *Request) error {
	d, ok := parseDay(req.Data.Arg(0))
	if !ok {
		req.Answer = "Такой даты нет."
		return nil
	}
	return r.flowEvent(ctx, req, conversation.DateSelected{Year: d.Year, Month: d.Month, Day: d.Day})
}

func (r *Router) onKeep(ctx context.Context, req *Request) error {
	return r.flowEvent(ctx, req, conversation.TaskTextEntered{Text: ""})
}

// flowEvent applies a button press that belongs to an active flow. A press
// on a flow that no longer exists (e.g. after a restart) falls back to the
// main menu.
func (r *Router) flowEvent(ctx context.Context, req *Request, ev conversation.Event) error {
	rep, err := r.svc.HandleEvent(ctx, req.UserID, ev)
	if err != nil {
		return failure(req, err)
	}
	if rep.Kind == reminders.KindIgnored {
		if rep.Step == conversation.Idle {
			req.Answer = textStale
			_, err := r.show(ctx, req.Chat, req.MessageID, menuView())
			return err
		}
		return nil
	}
	return r.render(ctx, req, req.MessageID, rep)
}

func (r *Router) onBack(ctx context.Context, req *Request) error {
	target := req.Data.Arg(0)
	if target == backCalendar {
		rep, err := r.svc.HandleEvent(ctx, req.UserID, conversation.ReselectDate{})
		if err != nil {
			return failure(req, err)
		}
		if rep.Kind == reminders.KindCalendar {
			return r.render(ctx, req, req.MessageID, rep)
		}
		target = backMain
	}

	if _, err := r.svc.HandleEvent(ctx, req.UserID, conversation.BackRequested{}); err != nil {
		return failure(req, err)
	}
	if target == backList {
		return r.onListCallback(ctx, req)
	}
	_, err := r.show(ctx, req.Chat, req.MessageID, menuView())
	return err
}
