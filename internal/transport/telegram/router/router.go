package router

import (
	"context"
	"hash/fnv"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"remindbot/internal/conversation"
	"remindbot/internal/reminder"
	"remindbot/internal/runtime/supervisor"
	"remindbot/internal/services/reminders"
	kit "remindbot/internal/transport"
	logx "remindbot/pkg/logx"
	"remindbot/pkg/tgui"
)

// Reminders is the service surface the router drives.
type Reminders interface {
	HandleEvent(ctx context.Context, userID string, ev conversation.Event) (reminders.Reply, error)
	HandleText(ctx context.Context, userID, text string) (reminders.Reply, error)
	ListActive(userID string) []reminder.Reminder
	FlowState(userID string) conversation.State
	Location() *time.Location
	PostponeOptions() []int
}

type Config struct {
	// AllowedUserIDs restricts the bot to these users; empty allows everyone.
	AllowedUserIDs []int64
	// Workers is the number of per-user shards. <=0 uses 4.
	Workers int
	// Timeout bounds one handler call. <=0 uses 15s.
	Timeout time.Duration
}

type Option func(*Router)

// WithClock replaces time.Now for the calendar's today mark.
func WithClock(now func() time.Time) Option {
	return func(r *Router) {
		if now != nil {
			r.now = now
		}
	}
}

type Request struct {
	Update    kit.Update
	UserID    string
	FromID    int64
	Chat      kit.ChatTarget
	MessageID int
	Command   string
	Text      string
	Data      tgui.Parsed
	Logger    logx.Logger

	// Answer is shown as the callback toast after the handler returns.
	Answer string
	Alert  bool
}

// Router maps Telegram updates to conversation events and renders replies.
type Router struct {
	log     logx.Logger
	adapter kit.Adapter
	svc     Reminders
	now     func() time.Time
	workers int
	timeout time.Duration

	allowMu sync.RWMutex
	allowed map[int64]struct{}

	runMu sync.Mutex
	sup   *supervisor.Supervisor

	dropped atomic.Uint64
}

func New(cfg Config, adapter kit.Adapter, svc Reminders, log logx.Logger, opts ...Option) *Router {
	if log.IsZero() {
		log = logx.Nop()
	}
	r := &Router{
		log:     log.With(logx.String("comp", "telegram.router")),
		adapter: adapter,
		svc:     svc,
		now:     time.Now,
		workers: cfg.Workers,
		timeout: cfg.Timeout,
	}
	if r.workers <= 0 {
		r.workers = 4
	}
	if r.timeout <= 0 {
		r.timeout = 15 * time.Second
	}
	for _, o := range opts {
		o(r)
	}
	r.SetAllowed(cfg.AllowedUserIDs)
	return r
}

// SetAllowed replaces the allow-list. Safe during hot reload.
func (r *Router) SetAllowed(ids []int64) {
	m := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		m[id] = struct{}{}
	}
	r.allowMu.Lock()
	r.allowed = m
	r.allowMu.Unlock()
}

func (r *Router) isAllowed(id int64) bool {
	r.allowMu.RLock()
	defer r.allowMu.RUnlock()
	if len(r.allowed) == 0 {
		return true
	}
	_, ok := r.allowed[id]
	return ok
}

// Supervisor returns the worker supervisor while DispatchLoop runs.
func (r *Router) Supervisor() *supervisor.Supervisor {
	r.runMu.Lock()
	defer r.runMu.Unlock()
	return r.sup
}

func (r *Router) Dropped() uint64 { return r.dropped.Load() }

// Commands lists the bot commands for the platform menu.
func (r *Router) Commands() []kit.BotCommand {
	return []kit.BotCommand{
		{Command: "start", Description: "Главное меню"},
		{Command: "new", Description: "Новое напоминание"},
		{Command: "list", Description: "Мои напоминания"},
	}
}

// PublishCommands updates the platform command menu when the adapter
// supports it.
func (r *Router) PublishCommands(ctx context.Context) error {
	up, ok := r.adapter.(kit.CommandMenuUpdater)
	if !ok {
		return nil
	}
	return up.UpdateMenuCommands(ctx, r.Commands())
}

// DispatchLoop reads updates until ctx ends or updates closes. Updates from
// one user always land on the same worker, so a user's inputs are handled
// in arrival order.
func (r *Router) DispatchLoop(ctx context.Context, updates <-chan kit.Update) error {
	sup := supervisor.New(ctx, supervisor.WithLogger(r.log), supervisor.WithCancelOnError(false))
	r.runMu.Lock()
	r.sup = sup
	r.runMu.Unlock()

	queues := make([]chan kit.Update, r.workers)
	for i := range queues {
		q := make(chan kit.Update, 64)
		queues[i] = q
		sup.GoRestart("router.worker."+strconv.Itoa(i), func(c context.Context) error {
			for {
				select {
				case <-c.Done():
					return nil
				case up, ok := <-q:
					if !ok {
						return nil
					}
					r.Route(c, up)
				}
			}
		},
			supervisor.WithRestartBackoff(200*time.Millisecond, 5*time.Second),
			supervisor.WithStopOnCleanExit(true),
		)
	}
	r.log.Info("dispatcher started", logx.Int("workers", r.workers))

	defer func() {
		for _, q := range queues {
			close(q)
		}
		wctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		_ = sup.Wait(wctx)
		cancel()
		sup.Cancel()
		r.runMu.Lock()
		r.sup = nil
		r.runMu.Unlock()
		r.log.Info("dispatcher stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case up, ok := <-updates:
			if !ok {
				return nil
			}
			q := queues[shard(up.UserID(), len(queues))]
			select {
			case q <- up:
			default:
				r.dropped.Add(1)
				if up.Callback != nil {
					_ = r.adapter.AnswerCallback(ctx, up.Callback.ID, "Занят, попробуй ещё раз", false)
				}
			}
		}
	}
}

func shard(userID string, n int) int {
	if n <= 1 {
		return 0
	}
	h := fnv.New32a()
	h.Write([]byte(userID))
	return int(h.Sum32() % uint32(n))
}

// Route handles one update synchronously.
func (r *Router) Route(ctx context.Context, up kit.Update) {
	req, h := r.request(up)
	if req == nil {
		return
	}
	if !r.isAllowed(req.FromID) {
		r.log.Debug("update from user not on allow-list", logx.Int64("from_id", req.FromID))
		if up.Callback != nil {
			_ = r.adapter.AnswerCallback(ctx, up.Callback.ID, textDenied, true)
			return
		}
		_, _ = r.adapter.SendText(ctx, req.Chat, textDenied, nil)
		return
	}

	final := Chain(h, MWPanicRecover(), MWRequestLog(), MWTimeout(r.timeout))
	_ = final(ctx, req)

	if up.Callback != nil {
		// Always answer so the client stops its spinner.
		_ = r.adapter.AnswerCallback(ctx, up.Callback.ID, req.Answer, req.Alert)
	}
}

func (r *Router) request(up kit.Update) (*Request, HandlerFunc) {
	switch {
	case up.Kind == kit.UpdateMessage && up.Message != nil:
		m := up.Message
		req := &Request{
			Update:    up,
			UserID:    up.UserID(),
			FromID:    m.FromID,
			Chat:      kit.ChatTarget{ChatID: m.ChatID},
			MessageID: m.ID,
			Text:      strings.TrimSpace(m.Text),
		}
		req.Command = commandName(req.Text)
		req.Logger = r.log.With(logx.Int64("from_id", m.FromID), logx.Int64("chat_id", m.ChatID))
		return req, r.messageHandler(req.Command)

	case up.Kind == kit.UpdateCallback && up.Callback != nil:
		cb := up.Callback
		parsed, ok := tgui.Parse(cb.Data)
		if !ok || parsed.NS != ns {
			return nil, nil
		}
		req := &Request{
			Update:    up,
			UserID:    up.UserID(),
			FromID:    cb.FromID,
			Chat:      kit.ChatTarget{ChatID: cb.ChatID},
			MessageID: cb.MessageID,
			Command:   "cb:" + parsed.NS + ":" + parsed.Action,
			Data:      parsed,
		}
		req.Logger = r.log.With(logx.Int64("from_id", cb.FromID), logx.Int64("chat_id", cb.ChatID))
		return req, r.callbackHandler(parsed.Action)
	}
	return nil, nil
}

// commandName returns "start" for "/start@bot args", "" for plain text.
func commandName(text string) string {
	if !strings.HasPrefix(text, "/") {
		return ""
	}
	word := strings.TrimPrefix(strings.Fields(text)[0], "/")
	if i := strings.IndexByte(word, '@'); i >= 0 {
		word = word[:i]
	}
	return strings.ToLower(word)
}
