// Package conversation is the per-user finite-state machine behind the
// create and edit flows. It never touches storage or timers; it reports an
// Effect and the caller commits.
package conversation

import (
	"time"

	"remindbot/internal/reminder"
)

type Step int

const (
	Idle Step = iota
	AwaitingTask
	AwaitingDate
	AwaitingTime
	EditingTask
	EditingTime
)

func (s Step) String() string {
	switch s {
	case Idle:
		return "idle"
	case AwaitingTask:
		return "awaiting_task"
	case AwaitingDate:
		return "awaiting_date"
	case AwaitingTime:
		return "awaiting_time"
	case EditingTask:
		return "editing_task"
	case EditingTime:
		return "editing_time"
	default:
		return "unknown"
	}
}

// Draft holds the fields collected so far plus flow bookkeeping.
type Draft struct {
	Task  string
	Date  reminder.Date
	Clock reminder.Clock

	// View is the month shown by the calendar (Day is unused).
	View reminder.Date

	// EditID is set in the edit flow; OldTask is the text kept on blank input.
	EditID  string
	OldTask string

	// MessageID is the flow message updated in place.
	MessageID int
}

type State struct {
	Step  Step
	Draft Draft
}

// Event is a structured user input. The set is closed.
type Event interface{ isEvent() }

type CreateStart struct{ MessageID int }

type TaskTextEntered struct{ Text string }

type DateSelected struct {
	Year  int
	Month time.Month
	Day   int
}

// CalendarPage moves the calendar view by Direction months (-1 or +1).
type CalendarPage struct{ Direction int }

type TimeTextEntered struct{ Text string }

type EditStart struct {
	ID          string
	CurrentTask string
	MessageID   int
}

type CancelRequested struct{ ID string }

type PostponeRequested struct {
	ID      string
	Minutes int
}

type BackRequested struct{}

// ReselectDate returns from AwaitingTime to the calendar, keeping the task.
type ReselectDate struct{}

func (CreateStart) isEvent()       {}
func (TaskTextEntered) isEvent()   {}
func (DateSelected) isEvent()      {}
func (CalendarPage) isEvent()      {}
func (TimeTextEntered) isEvent()   {}
func (EditStart) isEvent()         {}
func (CancelRequested) isEvent()   {}
func (PostponeRequested) isEvent() {}
func (BackRequested) isEvent()     {}
func (ReselectDate) isEvent()      {}

// Effect tells the caller what to do after a transition.
type Effect int

const (
	EffectNone Effect = iota
	// EffectPrompt: the step advanced; show the prompt for Transition.To.
	EffectPrompt
	// EffectReprompt: input rejected; Transition.Err explains why.
	EffectReprompt
	// EffectCalendar: the calendar view moved; step unchanged.
	EffectCalendar
	// EffectCommitCreate: Draft is complete; persist and schedule it.
	EffectCommitCreate
	// EffectCommitEdit: Draft.EditID must be updated with Draft.Task/Clock.
	EffectCommitEdit
	// EffectBack: the flow was abandoned; show the main menu.
	EffectBack
	// EffectIgnored: the event does not apply to the current step.
	EffectIgnored
)

func (e Effect) String() string {
	switch e {
	case EffectNone:
		return "none"
	case EffectPrompt:
		return "prompt"
	case EffectReprompt:
		return "reprompt"
	case EffectCalendar:
		return "calendar"
	case EffectCommitCreate:
		return "commit_create"
	case EffectCommitEdit:
		return "commit_edit"
	case EffectBack:
		return "back"
	case EffectIgnored:
		return "ignored"
	default:
		return "unknown"
	}
}

// Transition is the result of applying one event. Prev is the state before
// the event so a failed commit can be undone with Machine.Restore.
type Transition struct {
	From   Step
	To     Step
	Effect Effect
	Draft  Draft
	Prev   State
	Err    error
}
