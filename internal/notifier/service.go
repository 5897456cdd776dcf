package notifier

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"golang.org/x/time/rate"

	"remindbot/internal/reminder"
	kit "remindbot/internal/transport"
	logx "remindbot/pkg/logx"
)

// Service implements reminders.Notifier. It is safe for concurrent use.
type Service struct {
	log    logx.Logger
	sender Sender
	render Renderer

	mu      sync.RWMutex
	limiter *rate.Limiter

	sent   atomic.Uint64
	failed atomic.Uint64
}

func New(cfg Config, sender Sender, render Renderer, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	if render == nil {
		render = plainText
	}
	s := &Service{
		log:    log.With(logx.String("comp", "notifier")),
		sender: sender,
		render: render,
	}
	s.Apply(cfg)
	return s
}

// Apply swaps the rate limit; in-flight waits keep the old bucket.
func (s *Service) Apply(cfg Config) {
	rps := cfg.RatePerSec
	if rps <= 0 {
		rps = 20
	}
	lim := rate.NewLimiter(rate.Limit(rps), rps)
	s.mu.Lock()
	s.limiter = lim
	s.mu.Unlock()
}

func (s *Service) wait(ctx context.Context) error {
	s.mu.RLock()
	lim := s.limiter
	s.mu.RUnlock()
	return lim.Wait(ctx)
}

// Deliver sends one notification. The userID must be a numeric chat id.
func (s *Service) Deliver(ctx context.Context, userID string, r reminder.Reminder) error {
	chatID, ok := kit.ParseUserID(userID)
	if !ok {
		s.failed.Add(1)
		return fmt.Errorf("%w: %q", ErrBadRecipient, userID)
	}
	if err := s.wait(ctx); err != nil {
		s.failed.Add(1)
		return fmt.Errorf("rate wait: %w", err)
	}
	text, opt := s.render(r)
	if _, err := s.sender.SendText(ctx, kit.ChatTarget{ChatID: chatID}, text, opt); err != nil {
		s.failed.Add(1)
		return err
	}
	s.sent.Add(1)
	s.log.Debug("notification sent", logx.String("user", userID), logx.String("id", r.ID))
	return nil
}

// SendOps delivers a plain operator message through the same bucket. It
// matches logx.SendFunc.
func (s *Service) SendOps(ctx context.Context, chatID int64, text string) error {
	if err := s.wait(ctx); err != nil {
		return err
	}
	_, err := s.sender.SendText(ctx, kit.ChatTarget{ChatID: chatID}, text, &kit.SendOptions{DisablePreview: true})
	return err
}

func (s *Service) Stats() Stats {
	return Stats{Sent: s.sent.Load(), Failed: s.failed.Load()}
}

func plainText(r reminder.Reminder) (string, *kit.SendOptions) {
	return r.Task + "\n" + r.DueAt.Format("15:04 02.01"), nil
}
