package router

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"

	"remindbot/internal/conversation"
	"remindbot/internal/reminder"
	"remindbot/internal/services/reminders"
	kit "remindbot/internal/transport"
	"remindbot/pkg/tgui"
)

const ns = "rem"

const (
	actAdd    = "add"
	actList   = "list"
	actEdit   = "edit"
	actCancel = "cancel"
	actPP     = "pp"
	actCal    = "cal"
	actDay    = "day"
	actBack   = "back"
	actKeep   = "keep"
	actNoop   = "noop"
)

const (
	backMain     = "main"
	backList     = "list"
	backCalendar = "calendar"
)

const (
	textStart = "Привет! Я — умный бот-напоминалка\n\n" +
		"• Календарь\n" +
		"• Время: <code>" + reminder.ClockExample + "</code>\n" +
		"• Только активные\n\n" +
		"Выбери действие:"
	textMenu      = "Главное меню:"
	textEmptyList = "У тебя нет активных напоминаний."
	textGone      = "Уже удалено."
	textStale     = "Это меню устарело, начни заново."
	textDenied    = "Доступ запрещён."
	textFailed    = "Не удалось сохранить, попробуй ещё раз."
	textDegraded  = "\n\n<i>Напоминание сохранено, таймер будет восстановлен автоматически.</i>"
)

// view is one rendered message: HTML text plus an optional keyboard.
type view struct {
	Text   tgui.H
	Markup *tele.ReplyMarkup
}

func (v view) options() *kit.SendOptions {
	opt := &kit.SendOptions{ParseMode: string(tele.ModeHTML), DisablePreview: true}
	if v.Markup != nil {
		opt.ReplyMarkup = v.Markup
	}
	return opt
}

func data(parts ...string) string { return tgui.Data(append([]string{ns}, parts...)...) }

func backButton(to string) tele.Btn { return tgui.Btn("Назад", data(actBack, to)) }

func backRow(to string) *tele.ReplyMarkup {
	return tgui.NewInline().Row(backButton(to)).Markup()
}

func menuMarkup() *tele.ReplyMarkup {
	return tgui.NewInline().
		Row(tgui.Btn("Добавить напоминание", data(actAdd))).
		Row(tgui.Btn("Мои напоминания", data(actList))).
		Markup()
}

func startView() view { return view{Text: tgui.Raw(textStart), Markup: menuMarkup()} }

func menuView() view { return view{Text: tgui.Raw(textMenu), Markup: menuMarkup()} }

func stamp(t time.Time, loc *time.Location) string {
	if loc != nil {
		t = t.In(loc)
	}
	return t.Format("02.01 15:04")
}

// reminderActions is the keyboard attached to confirmations and notifications.
func reminderActions(r reminder.Reminder, postpone []int) *tele.ReplyMarkup {
	kb := tgui.NewInline()
	row := make([]tele.Btn, 0, len(postpone))
	for _, m := range postpone {
		row = append(row, tgui.Btn(fmt.Sprintf("Отложить %d мин", m), data(actPP, r.ID, strconv.Itoa(m))))
	}
	kb.Grid(2, row...)
	kb.Row(tgui.Btn("Отменить", data(actCancel, r.ID)))
	kb.Row(backButton(backMain))
	return kb.Markup()
}

func taskView(errLine string) view {
	text := tgui.JoinH("\n\n",
		tgui.Raw(errLine),
		tgui.Raw("Что нужно сделать?"),
		tgui.Raw("Пример: ")+tgui.Code("забрать заказ в озоне"),
	)
	return view{Text: text, Markup: backRow(backMain)}
}

func calendarView(month reminder.Date, today reminder.Date, errLine string) view {
	kb := tgui.NewInline()
	kb.Row(
		tgui.Btn("Previous", data(actCal, "prev")),
		tgui.Btn(fmt.Sprintf("%02d.%d", int(month.Month), month.Year), data(actNoop)),
		tgui.Btn("Next", data(actCal, "next")),
	)
	head := make([]tele.Btn, 0, 7)
	for _, d := range weekdayNames {
		head = append(head, tgui.Btn(d, data(actNoop)))
	}
	kb.Row(head...)
	for _, week := range monthGrid(month.Year, month.Month) {
		row := make([]tele.Btn, 0, 7)
		for _, day := range week {
			if day == 0 {
				row = append(row, tgui.Btn(" ", data(actNoop)))
				continue
			}
			d := reminder.Date{Year: month.Year, Month: month.Month, Day: day}
			label := strconv.Itoa(day)
			if d == today {
				label += " сегодня"
			}
			row = append(row, tgui.Btn(label, data(actDay, d.Compact())))
		}
		kb.Row(row...)
	}
	kb.Row(backButton(backList))
	return view{Text: tgui.JoinH("\n\n", tgui.Raw(errLine), tgui.Raw("Выбери дату:")), Markup: kb.Markup()}
}

func timeView(d reminder.Date, errLine string) view {
	text := tgui.JoinH("\n\n",
		tgui.Raw(errLine),
		tgui.Raw("Дата: ")+tgui.B(fmt.Sprintf("%02d.%02d.%d", d.Day, int(d.Month), d.Year)),
		tgui.Raw("Теперь время (например: ")+tgui.Code(reminder.ClockExample)+tgui.Raw("):"),
	)
	return view{Text: text, Markup: backRow(backCalendar)}
}

func editTaskView(task, errLine string) view {
	text := tgui.JoinH("\n\n",
		tgui.Raw(errLine),
		tgui.Raw("Редактируем: ")+tgui.B(task),
		tgui.Raw("Новое название (или оставь как есть):"),
	)
	kb := tgui.NewInline().
		Row(tgui.Btn("Оставить как есть", data(actKeep))).
		Row(backButton(backList))
	return view{Text: text, Markup: kb.Markup()}
}

func editTimeView(task, errLine string) view {
	text := tgui.JoinH("\n\n",
		tgui.Raw(errLine),
		tgui.Raw("Новое название: ")+tgui.B(task),
		tgui.Raw("Новое время (например: ")+tgui.Code(reminder.ClockExample)+tgui.Raw("):"),
	)
	return view{Text: text, Markup: backRow(backList)}
}

func summary(head string, r reminder.Reminder, timeLabel string, loc *time.Location) tgui.H {
	return tgui.JoinH("\n",
		tgui.Raw(head+"\n"),
		tgui.B(r.Task),
		tgui.Raw(timeLabel+": ")+tgui.Code(stamp(r.DueAt, loc)),
	)
}

func createdView(r reminder.Reminder, loc *time.Location, postpone []int, degraded bool) view {
	text := summary("Напоминание создано!", r, "Время", loc)
	if degraded {
		text += tgui.Raw(textDegraded)
	}
	return view{Text: text, Markup: reminderActions(r, postpone)}
}

func updatedView(r reminder.Reminder, loc *time.Location, degraded bool) view {
	text := summary("Готово!", r, "Время", loc)
	if degraded {
		text += tgui.Raw(textDegraded)
	}
	return view{Text: text, Markup: backRow(backMain)}
}

func postponedView(r reminder.Reminder, minutes int, loc *time.Location, degraded bool) view {
	text := summary(fmt.Sprintf("Отложено на %d мин", minutes), r, "Новое время", loc)
	if degraded {
		text += tgui.Raw(textDegraded)
	}
	return view{Text: text, Markup: backRow(backMain)}
}

func cancelledView(r reminder.Reminder) view {
	return view{Text: tgui.Raw("Отменено: ") + tgui.Esc(r.Task), Markup: backRow(backMain)}
}

// taskLabel picks a short verb label from the task text.
func taskLabel(task string) string {
	low := strings.ToLower(task)
	switch {
	case strings.Contains(low, "куп"):
		return "Купить"
	case strings.Contains(low, "забрать"):
		return "Забрать"
	case strings.Contains(low, "звон"):
		return "Позвонить"
	case strings.Contains(low, "сдел"):
		return "Сделать"
	}
	return "Задача"
}

func listView(list []reminder.Reminder, loc *time.Location) view {
	if len(list) == 0 {
		return view{Text: tgui.Raw(textEmptyList), Markup: backRow(backMain)}
	}
	lines := make([]tgui.H, 0, len(list)+1)
	lines = append(lines, tgui.Raw("Твои напоминания:\n"))
	kb := tgui.NewInline()
	for _, r := range list {
		lines = append(lines, tgui.Esc(taskLabel(r.Task)+" ")+tgui.B(tgui.TruncRunes(r.Task, 200))+tgui.Raw(" — ")+tgui.Code(stamp(r.DueAt, loc)))
		kb.Row(
			tgui.Btn("Редактировать", data(actEdit, r.ID)),
			tgui.Btn("Отменить", data(actCancel, r.ID)),
		)
	}
	kb.Row(backButton(backMain))
	return view{Text: tgui.JoinH("\n", lines...), Markup: kb.Markup()}
}

// NotificationView renders a fired reminder. It is always sent as a new
// message.
func NotificationView(r reminder.Reminder, loc *time.Location, postpone []int) (string, *kit.SendOptions) {
	if loc != nil {
		r.DueAt = r.DueAt.In(loc)
	}
	text := tgui.JoinH("\n",
		tgui.Raw("Напоминание!\n"),
		tgui.B(r.Task),
		tgui.Raw("Время: ")+tgui.Code(r.DueAt.Format("15:04 02.01")),
	)
	v := view{Text: text, Markup: reminderActions(r, postpone)}
	return v.Text.String(), v.options()
}

// errorLine turns a validation error into the line shown above a re-prompt.
func errorLine(err error) string {
	var ve *reminder.ValidationError
	if !errors.As(err, &ve) {
		return ""
	}
	switch {
	case ve.Field == "time" && ve.Reason == reminder.ReasonClockRange:
		return "Неверное время! Пример: <code>" + reminder.ClockExample + "</code>"
	case ve.Field == "time":
		return "Неверный формат! Пример: <code>" + reminder.ClockExample + "</code>"
	case ve.Field == "task":
		return "Название не может быть пустым."
	case ve.Field == "date":
		return "Такой даты нет."
	}
	return "Неверный ввод."
}

// promptView renders the prompt for the flow step after a transition.
func promptView(step conversation.Step, d conversation.Draft, today reminder.Date, errLine string) view {
	switch step {
	case conversation.AwaitingTask:
		return taskView(errLine)
	case conversation.AwaitingDate:
		month := d.View
		if month.IsZero() {
			month = reminder.Date{Year: today.Year, Month: today.Month, Day: 1}
		}
		return calendarView(month, today, errLine)
	case conversation.AwaitingTime:
		return timeView(d.Date, errLine)
	case conversation.EditingTask:
		return editTaskView(d.Task, errLine)
	case conversation.EditingTime:
		return editTimeView(d.Task, errLine)
	}
	return menuView()
}

// replyView renders a service reply. ok is false for replies that need no
// message update.
func replyView(rep reminders.Reply, today reminder.Date, loc *time.Location, postpone []int) (view, bool) {
	switch rep.Kind {
	case reminders.KindPrompt, reminders.KindCalendar:
		return promptView(rep.Step, rep.Draft, today, ""), true
	case reminders.KindInvalid:
		return promptView(rep.Step, rep.Draft, today, errorLine(rep.Err)), true
	case reminders.KindCreated:
		return createdView(rep.Reminder, loc, postpone, rep.Degraded), true
	case reminders.KindUpdated:
		return updatedView(rep.Reminder, loc, rep.Degraded), true
	case reminders.KindPostponed:
		return postponedView(rep.Reminder, rep.Minutes, loc, rep.Degraded), true
	case reminders.KindCancelled:
		return cancelledView(rep.Reminder), true
	case reminders.KindMenu:
		return menuView(), true
	}
	return view{}, false
}
