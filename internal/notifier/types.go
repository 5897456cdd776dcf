package notifier

import (
	"context"
	"errors"

	"remindbot/internal/reminder"
	kit "remindbot/internal/transport"
)

var ErrBadRecipient = errors.New("notifier: user id is not a chat id")

type Config struct {
	// RatePerSec caps sends across all users. <=0 uses 20.
	RatePerSec int
}

// Sender is the part of transport.Adapter the notifier needs.
type Sender interface {
	SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error)
}

// Renderer builds the notification message for a fired reminder.
type Renderer func(r reminder.Reminder) (string, *kit.SendOptions)

type Stats struct {
	Sent   uint64
	Failed uint64
}
