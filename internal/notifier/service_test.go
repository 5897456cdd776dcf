package notifier

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"remindbot/internal/reminder"
	kit "remindbot/internal/transport"
	logx "remindbot/pkg/logx"
)

type fakeSender struct {
	mu   sync.Mutex
	err  error
	sent []kit.ChatTarget
	text []string
}

func (f *fakeSender) SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return kit.MessageRef{}, f.err
	}
	f.sent = append(f.sent, to)
	f.text = append(f.text, text)
	return kit.MessageRef{ChatID: to.ChatID, MessageID: len(f.sent)}, nil
}

func sampleReminder() reminder.Reminder {
	return reminder.Reminder{ID: "a", UserID: "42", Task: "buy milk", DueAt: time.Date(2026, 3, 14, 18, 30, 0, 0, time.UTC)}
}

func TestDeliverSendsOnce(t *testing.T) {
	t.Parallel()
	fs := &fakeSender{}
	render := func(r reminder.Reminder) (string, *kit.SendOptions) { return "R:" + r.Task, nil }
	s := New(Config{}, fs, render, logx.Nop())

	if err := s.Deliver(context.Background(), "42", sampleReminder()); err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	if len(fs.sent) != 1 || fs.sent[0].ChatID != 42 || fs.text[0] != "R:buy milk" {
		t.Fatalf("sent = %+v %v", fs.sent, fs.text)
	}
	if st := s.Stats(); st.Sent != 1 || st.Failed != 0 {
		t.Fatalf("stats = %+v", st)
	}
}

func TestDeliverErrors(t *testing.T) {
	t.Parallel()
	boom := errors.New("boom")
	fs := &fakeSender{err: boom}
	s := New(Config{RatePerSec: 5}, fs, nil, logx.Nop())

	if err := s.Deliver(context.Background(), "42", sampleReminder()); !errors.Is(err, boom) {
		t.Fatalf("err = %v, want boom", err)
	}
	if err := s.Deliver(context.Background(), "not-a-chat", sampleReminder()); !errors.Is(err, ErrBadRecipient) {
		t.Fatalf("err = %v, want ErrBadRecipient", err)
	}
	if st := s.Stats(); st.Failed != 2 {
		t.Fatalf("failed = %d", st.Failed)
	}
}

func TestDeliverHonoursContext(t *testing.T) {
	t.Parallel()
	fs := &fakeSender{}
	s := New(Config{RatePerSec: 1}, fs, nil, logx.Nop())
	// Drain the single token.
	if err := s.Deliver(context.Background(), "42", sampleReminder()); err != nil {
		t.Fatalf("first Deliver: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := s.Deliver(ctx, "42", sampleReminder()); err == nil {
		t.Fatal("expected rate wait to fail on short deadline")
	}
	if len(fs.sent) != 1 {
		t.Fatalf("sent %d, want 1", len(fs.sent))
	}
}
