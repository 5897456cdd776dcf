package app

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"remindbot/internal/config"
	kit "remindbot/internal/transport"
	logx "remindbot/pkg/logx"
)

type sentText struct {
	to   kit.ChatTarget
	text string
}

type fakeAdapter struct {
	mu      sync.Mutex
	out     chan<- kit.Update
	sent    chan sentText
	stopped bool
}

func newFakeAdapter() *fakeAdapter { return &fakeAdapter{sent: make(chan sentText, 16)} }

func (f *fakeAdapter) Start(_ context.Context, out chan<- kit.Update) error {
	f.mu.Lock()
	f.out = out
	f.mu.Unlock()
	return nil
}

func (f *fakeAdapter) Stop(context.Context) error {
	f.mu.Lock()
	f.stopped = true
	f.mu.Unlock()
	return nil
}

func (f *fakeAdapter) SendText(_ context.Context, to kit.ChatTarget, text string, _ *kit.SendOptions) (kit.MessageRef, error) {
	f.sent <- sentText{to: to, text: text}
	return kit.MessageRef{ChatID: to.ChatID, MessageID: 1}, nil
}

func (f *fakeAdapter) EditText(context.Context, kit.MessageRef, string, *kit.SendOptions) error {
	return nil
}

func (f *fakeAdapter) DeleteMessage(context.Context, kit.MessageRef) error { return nil }

func (f *fakeAdapter) AnswerCallback(context.Context, string, string, bool) error { return nil }

const testConfig = `{
  "telegram": {"token": "t"},
  "logging": {"level": "error"},
  "reminders": {"timezone": "UTC", "sweep": "off"},
  "storage": {"driver": "memory"}
}`

func newTestApp(t *testing.T) (*App, *fakeAdapter) {
	t.Helper()
	p := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(p, []byte(testConfig), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfgm := config.NewManager(p, logx.Nop())
	cfg, err := cfgm.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	ad := newFakeAdapter()
	a, err := build(cfgm, cfg, ad)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	return a, ad
}

func TestReminderDeliveredEndToEnd(t *testing.T) {
	a, ad := newTestApp(t)
	if err := a.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = a.Stop(ctx, StopUnknown)
	}()

	if _, err := a.svc.Create(context.Background(), "42", "buy milk", time.Now().Add(200*time.Millisecond)); err != nil {
		t.Fatalf("Create: %v", err)
	}
	select {
	case got := <-ad.sent:
		if got.to.ChatID != 42 || !strings.Contains(got.text, "buy milk") {
			t.Fatalf("sent = %+v", got)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("reminder not delivered")
	}
	if n := len(a.svc.ListActive("42")); n != 0 {
		t.Fatalf("fired reminder still active: %d", n)
	}
}

func TestStopIsBoundedAndStopsAdapter(t *testing.T) {
	a, ad := newTestApp(t)
	if err := a.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	start := time.Now()
	if err := a.Stop(ctx, StopSignal); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if time.Since(start) > 4*time.Second {
		t.Fatalf("Stop took %s", time.Since(start))
	}
	ad.mu.Lock()
	defer ad.mu.Unlock()
	if !ad.stopped {
		t.Fatal("adapter not stopped")
	}
	select {
	case <-a.Done():
	default:
		t.Fatal("Done not closed after Stop")
	}
}

func TestApplyConfigPushesRuntimeSettings(t *testing.T) {
	a, _ := newTestApp(t)
	defer a.logs.Close()

	old := a.cfgm.Get()
	next := *old
	next.Reminders.PostponeMinutes = []int{5, 60}
	next.Reminders.FireMissed = true
	a.applyConfig(old, &next)

	got := a.svc.PostponeOptions()
	if len(got) != 2 || got[0] != 5 || got[1] != 60 {
		t.Fatalf("postpone options = %v", got)
	}
}

func TestMapRemindersConfig(t *testing.T) {
	t.Parallel()
	cfg := &config.Config{Telegram: config.TelegramConfig{Token: "t"}}
	cfg.Reminders.Sweep = config.SweepOff
	cfg.ApplyDefaults()
	rc, err := mapRemindersConfig(cfg)
	if err != nil {
		t.Fatalf("map: %v", err)
	}
	if rc.Sweep != "" {
		t.Fatalf("sweep off should disable the job, got %q", rc.Sweep)
	}
	if rc.Location.String() != config.DefaultTimezone || rc.SnoozeWindow != time.Hour || rc.DeliveryTimeout != 10*time.Second {
		t.Fatalf("rc = %+v", rc)
	}

	cfg.Reminders.Timezone = "Nowhere/Special"
	if _, err := mapRemindersConfig(cfg); err == nil {
		t.Fatal("expected timezone error")
	}
}
