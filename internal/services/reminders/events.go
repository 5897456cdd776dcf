package reminders

import (
	"remindbot/internal/eventbus"
	"remindbot/internal/reminder"
)

const (
	EventCreated        = "reminder.created"
	EventUpdated        = "reminder.updated"
	EventCancelled      = "reminder.cancelled"
	EventFired          = "reminder.fired"
	EventDelivered      = "reminder.delivered"
	EventDeliveryFailed = "reminder.delivery_failed"
	EventMissed         = "reminder.missed"
)

// EventData is the payload of every reminder event.
type EventData struct {
	Task  string `json:"task"`
	DueAt string `json:"due_at"`
	Error string `json:"error,omitempty"`
}

func (s *Service) publish(typ string, r reminder.Reminder, err error) {
	d := EventData{Task: r.Task, DueAt: r.DT()}
	if err != nil {
		d.Error = err.Error()
	}
	s.bus.Publish(eventbus.Event{Type: typ, UserID: r.UserID, ReminderID: r.ID, Data: d})
}
