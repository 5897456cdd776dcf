package conversation

import (
	"strings"
	"sync"
	"time"

	"remindbot/internal/reminder"
)

// Machine keeps one State per user. Apply is serialized per process, so a
// user's second event always observes the state left by the first.
type Machine struct {
	mu     sync.Mutex
	states map[string]State
	now    func() time.Time
	loc    *time.Location
}

func NewMachine(loc *time.Location, now func() time.Time) *Machine {
	if loc == nil {
		loc = time.Local
	}
	if now == nil {
		now = time.Now
	}
	return &Machine{states: map[string]State{}, now: now, loc: loc}
}

// SetLocation changes the zone used for the initial calendar view.
func (m *Machine) SetLocation(loc *time.Location) {
	if loc == nil {
		return
	}
	m.mu.Lock()
	m.loc = loc
	m.mu.Unlock()
}

func (m *Machine) State(userID string) State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.states[userID]
}

// Restore puts back a state returned as Transition.Prev.
func (m *Machine) Restore(userID string, st State) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.setLocked(userID, st)
}

func (m *Machine) Reset(userID string) {
	m.mu.Lock()
	delete(m.states, userID)
	m.mu.Unlock()
}

// Active returns how many users are inside a flow.
func (m *Machine) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.states)
}

func (m *Machine) setLocked(userID string, st State) {
	if st.Step == Idle {
		delete(m.states, userID)
		return
	}
	m.states[userID] = st
}

// Apply runs one event through userID's state.
func (m *Machine) Apply(userID string, ev Event) Transition {
	m.mu.Lock()
	defer m.mu.Unlock()

	cur := m.states[userID]
	tr := Transition{From: cur.Step, To: cur.Step, Prev: cur, Draft: cur.Draft, Effect: EffectIgnored}

	next, effect, err := m.step(cur, ev)
	if effect == EffectIgnored {
		return tr
	}
	tr.Effect = effect
	tr.Err = err
	tr.To = next.Step
	tr.Draft = next.Draft
	m.setLocked(userID, next)
	return tr
}

func (m *Machine) step(cur State, ev Event) (State, Effect, error) {
	d := cur.Draft
	switch e := ev.(type) {
	case CreateStart:
		// Starting over is allowed from any step; the old draft is dropped.
		return State{Step: AwaitingTask, Draft: Draft{MessageID: e.MessageID, View: m.thisMonth()}}, EffectPrompt, nil

	case EditStart:
		if strings.TrimSpace(e.ID) == "" {
			return cur, EffectIgnored, nil
		}
		return State{Step: EditingTask, Draft: Draft{
			EditID:    e.ID,
			OldTask:   e.CurrentTask,
			Task:      e.CurrentTask,
			MessageID: e.MessageID,
		}}, EffectPrompt, nil

	case BackRequested:
		if cur.Step == Idle {
			return cur, EffectIgnored, nil
		}
		return State{}, EffectBack, nil

	case TaskTextEntered:
		text := strings.TrimSpace(e.Text)
		switch cur.Step {
		case AwaitingTask:
			if text == "" {
				return cur, EffectReprompt, &reminder.ValidationError{Field: "task", Reason: "empty", Example: "pick up the parcel"}
			}
			d.Task = text
			if d.View.IsZero() {
				d.View = m.thisMonth()
			}
			return State{Step: AwaitingDate, Draft: d}, EffectPrompt, nil
		case EditingTask:
			if text == "" {
				text = d.OldTask
			}
			d.Task = text
			return State{Step: EditingTime, Draft: d}, EffectPrompt, nil
		}
		return cur, EffectIgnored, nil

	case CalendarPage:
		if cur.Step != AwaitingDate || e.Direction == 0 {
			return cur, EffectIgnored, nil
		}
		d.View = shiftMonth(d.View, e.Direction)
		return State{Step: AwaitingDate, Draft: d}, EffectCalendar, nil

	case DateSelected:
		if cur.Step != AwaitingDate {
			return cur, EffectIgnored, nil
		}
		date := reminder.Date{Year: e.Year, Month: e.Month, Day: e.Day}
		if err := date.Validate(); err != nil {
			return cur, EffectReprompt, err
		}
		d.Date = date
		return State{Step: AwaitingTime, Draft: d}, EffectPrompt, nil

	case ReselectDate:
		if cur.Step != AwaitingTime {
			return cur, EffectIgnored, nil
		}
		d.Date = reminder.Date{}
		return State{Step: AwaitingDate, Draft: d}, EffectCalendar, nil

	case TimeTextEntered:
		if cur.Step != AwaitingTime && cur.Step != EditingTime {
			return cur, EffectIgnored, nil
		}
		c, err := reminder.ParseClock(e.Text)
		if err != nil {
			return cur, EffectReprompt, err
		}
		d.Clock = c
		if cur.Step == AwaitingTime {
			return State{Draft: d}, EffectCommitCreate, nil
		}
		return State{Draft: d}, EffectCommitEdit, nil
	}
	// CancelRequested and PostponeRequested are one-shot service calls.
	return cur, EffectIgnored, nil
}

// TextEvent maps free text to the event the user's current step expects.
// It returns nil when no flow is waiting for text.
func (m *Machine) TextEvent(userID, text string) Event {
	switch m.State(userID).Step {
	case AwaitingTask, EditingTask:
		return TaskTextEntered{Text: text}
	case AwaitingTime, EditingTime:
		return TimeTextEntered{Text: text}
	}
	return nil
}

func (m *Machine) thisMonth() reminder.Date {
	y, mo, _ := m.now().In(m.loc).Date()
	return reminder.Date{Year: y, Month: mo, Day: 1}
}

// shiftMonth moves a month view by n months, wrapping years.
func shiftMonth(v reminder.Date, n int) reminder.Date {
	t := time.Date(v.Year, v.Month, 1, 0, 0, 0, 0, time.UTC).AddDate(0, n, 0)
	return reminder.Date{Year: t.Year(), Month: t.Month(), Day: 1}
}
