package reminders

import (
	"remindbot/internal/conversation"
	"remindbot/internal/reminder"
)

type Kind int

const (
	KindIgnored Kind = iota
	KindPrompt
	KindInvalid
	KindCalendar
	KindCreated
	KindUpdated
	KindCancelled
	KindPostponed
	KindMenu
)

func (k Kind) String() string {
	switch k {
	case KindIgnored:
		return "ignored"
	case KindPrompt:
		return "prompt"
	case KindInvalid:
		return "invalid"
	case KindCalendar:
		return "calendar"
	case KindCreated:
		return "created"
	case KindUpdated:
		return "updated"
	case KindCancelled:
		return "cancelled"
	case KindPostponed:
		return "postponed"
	case KindMenu:
		return "menu"
	default:
		return "unknown"
	}
}

// Reply tells the presentation layer what to render after an event.
type Reply struct {
	Kind     Kind
	Step     conversation.Step
	Draft    conversation.Draft
	Reminder reminder.Reminder
	Minutes  int
	// Err is the validation error behind KindInvalid.
	Err error
	// Degraded is set when the reminder was saved but its timer is not armed.
	Degraded bool
}
