package reminders

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"remindbot/internal/conversation"
	"remindbot/internal/eventbus"
	"remindbot/internal/reminder"
	"remindbot/internal/scheduler"
	"remindbot/internal/storage"
	logx "remindbot/pkg/logx"
)

var msk = time.FixedZone("MSK", 3*3600)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

// fakeSched keeps jobs in a map and fires them only on demand.
type fakeSched struct {
	mu          sync.Mutex
	fn          scheduler.FireFunc
	jobs        map[reminder.Key]scheduler.Job
	scheduleErr error
	every       map[string]func(context.Context)
	firing      map[reminder.Key]bool
	started     bool
}

func newFakeSched() *fakeSched {
	return &fakeSched{
		jobs:   map[reminder.Key]scheduler.Job{},
		every:  map[string]func(context.Context){},
		firing: map[reminder.Key]bool{},
	}
}

func (f *fakeSched) Handle(fn scheduler.FireFunc) { f.mu.Lock(); f.fn = fn; f.mu.Unlock() }

func (f *fakeSched) Schedule(job scheduler.Job) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.scheduleErr != nil {
		return f.scheduleErr
	}
	f.jobs[job.Key] = job
	return nil
}

func (f *fakeSched) setScheduleErr(err error) { f.mu.Lock(); f.scheduleErr = err; f.mu.Unlock() }

func (f *fakeSched) Cancel(key reminder.Key) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.jobs[key]
	delete(f.jobs, key)
	return ok
}

func (f *fakeSched) Pending(key reminder.Key) (scheduler.Job, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	j, ok := f.jobs[key]
	return j, ok
}

func (f *fakeSched) Firing(key reminder.Key) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.firing[key]
}

func (f *fakeSched) Reconcile(list []reminder.Reminder, now time.Time) (kept, missed []reminder.Reminder) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.jobs = map[reminder.Key]scheduler.Job{}
	for _, r := range list {
		if r.Active(now) {
			kept = append(kept, r)
			f.jobs[r.Key()] = scheduler.Job{Key: r.Key(), DueAt: r.DueAt}
			continue
		}
		missed = append(missed, r)
	}
	return kept, missed
}

func (f *fakeSched) Every(name, spec string, fn func(context.Context)) error {
	f.mu.Lock()
	f.every[name] = fn
	f.mu.Unlock()
	return nil
}

func (f *fakeSched) Snapshot() []scheduler.Job {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]scheduler.Job, 0, len(f.jobs))
	for _, j := range f.jobs {
		out = append(out, j)
	}
	return out
}

func (f *fakeSched) Start(context.Context) { f.mu.Lock(); f.started = true; f.mu.Unlock() }
func (f *fakeSched) Stop(context.Context)  {}

func (f *fakeSched) len() int { f.mu.Lock(); defer f.mu.Unlock(); return len(f.jobs) }

// fire runs the job for key the way the real scheduler would: the entry is
// dropped first, then the handler runs.
func (f *fakeSched) fire(key reminder.Key) bool {
	f.mu.Lock()
	job, ok := f.jobs[key]
	delete(f.jobs, key)
	if ok {
		f.firing[key] = true
	}
	fn := f.fn
	f.mu.Unlock()
	if !ok {
		return false
	}
	fn(context.Background(), job)
	f.mu.Lock()
	delete(f.firing, key)
	f.mu.Unlock()
	return true
}

// fireBlocked starts fire(key) while the caller holds svc.mu and returns once
// the job has been dequeued. The handler is then parked on svc.mu.
func (f *fakeSched) fireBlocked(t *testing.T, key reminder.Key) <-chan bool {
	t.Helper()
	done := make(chan bool, 1)
	go func() { done <- f.fire(key) }()
	waitFor(t, func() bool { return f.Firing(key) })
	return done
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(time.Millisecond)
	}
}

type fakeNotifier struct {
	mu   sync.Mutex
	got  []reminder.Reminder
	err  error
	sent chan reminder.Reminder
}

func newFakeNotifier() *fakeNotifier { return &fakeNotifier{sent: make(chan reminder.Reminder, 16)} }

func (n *fakeNotifier) Deliver(ctx context.Context, userID string, r reminder.Reminder) error {
	n.mu.Lock()
	n.got = append(n.got, r)
	err := n.err
	n.mu.Unlock()
	n.sent <- r
	return err
}

func (n *fakeNotifier) count() int { n.mu.Lock(); defer n.mu.Unlock(); return len(n.got) }

type harness struct {
	svc   *Service
	mem   *storage.Memory
	sched *fakeSched
	notif *fakeNotifier
	clk   *clock
	bus   eventbus.Bus
}

func newHarness(t *testing.T, cfg Config, mem *storage.Memory) *harness {
	t.Helper()
	if mem == nil {
		mem = storage.NewMemory()
	}
	if cfg.Location == nil {
		cfg.Location = msk
	}
	h := &harness{
		mem:   mem,
		sched: newFakeSched(),
		notif: newFakeNotifier(),
		clk:   &clock{now: time.Date(2025, 3, 14, 12, 0, 0, 0, msk)},
		bus:   eventbus.New(),
	}
	st := storage.NewStore(mem, logx.Nop())
	h.svc = New(cfg, st, h.sched, h.notif, logx.Nop(), WithClock(h.clk.Now), WithBus(h.bus))
	if err := h.svc.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	return h
}

func (h *harness) event(t *testing.T, user string, ev conversation.Event) Reply {
	t.Helper()
	rep, err := h.svc.HandleEvent(context.Background(), user, ev)
	if err != nil {
		t.Fatalf("HandleEvent(%T): %v", ev, err)
	}
	return rep
}

func (h *harness) createFlow(t *testing.T, user, task string, d reminder.Date, hhmm string) Reply {
	t.Helper()
	h.event(t, user, conversation.CreateStart{MessageID: 1})
	h.event(t, user, conversation.TaskTextEntered{Text: task})
	h.event(t, user, conversation.DateSelected{Year: d.Year, Month: d.Month, Day: d.Day})
	return h.event(t, user, conversation.TimeTextEntered{Text: hhmm})
}

var today = reminder.Date{Year: 2025, Month: time.March, Day: 14}

func TestBuyMilkScenario(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Config{}, nil)
	rep := h.createFlow(t, "42", "buy milk", today, "18:30")
	if rep.Kind != KindCreated || rep.Degraded {
		t.Fatalf("reply = %+v", rep)
	}
	want := time.Date(2025, 3, 14, 18, 30, 0, 0, msk)
	if !rep.Reminder.DueAt.Equal(want) || rep.Reminder.DueAt.Format(time.RFC3339) != "2025-03-14T18:30:00+03:00" {
		t.Fatalf("due = %s", rep.Reminder.DueAt.Format(time.RFC3339))
	}
	if rep.Step != conversation.Idle {
		t.Fatalf("step = %v", rep.Step)
	}

	h.clk.Set(want)
	if !h.sched.fire(rep.Reminder.Key()) {
		t.Fatal("no job armed")
	}
	if h.notif.count() != 1 || h.notif.got[0].Task != "buy milk" {
		t.Fatalf("deliveries = %#v", h.notif.got)
	}
	if got := h.svc.ListActive("42"); len(got) != 0 {
		t.Fatalf("still active: %#v", got)
	}
	if _, err := h.svc.Get("42", rep.Reminder.ID); !errors.Is(err, reminder.ErrNotFound) {
		t.Fatalf("delivered reminder should be gone from the store: %v", err)
	}
}

func TestRestartKeepsScheduled(t *testing.T) {
	t.Parallel()
	mem := storage.NewMemory()
	h := newHarness(t, Config{}, mem)
	rep := h.createFlow(t, "42", "call mom", today, "1900")

	h2 := newHarness(t, Config{}, mem)
	active := h2.svc.ListActive("42")
	if len(active) != 1 || active[0].ID != rep.Reminder.ID {
		t.Fatalf("active after restart = %#v", active)
	}
	if _, ok := h2.sched.Pending(rep.Reminder.Key()); !ok {
		t.Fatal("reminder not re-armed after restart")
	}
}

func TestPostponeTwiceAddsToDue(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Config{}, nil)
	rep := h.createFlow(t, "42", "stretch", today, "1500")
	orig := rep.Reminder.DueAt

	for _, m := range []int{10, 30} {
		r := h.event(t, "42", conversation.PostponeRequested{ID: rep.Reminder.ID, Minutes: m})
		if r.Kind != KindPostponed || r.Minutes != m {
			t.Fatalf("reply = %+v", r)
		}
		if h.sched.len() != 1 {
			t.Fatalf("live jobs = %d, want 1", h.sched.len())
		}
	}
	got, _ := h.svc.Get("42", rep.Reminder.ID)
	if !got.DueAt.Equal(orig.Add(40 * time.Minute)) {
		t.Fatalf("due = %s, want %s", got.DueAt, orig.Add(40*time.Minute))
	}
	job, _ := h.sched.Pending(got.Key())
	if !job.DueAt.Equal(got.DueAt) {
		t.Fatalf("job due %s, store due %s", job.DueAt, got.DueAt)
	}
}

func TestCancelTwice(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Config{}, nil)
	rep := h.createFlow(t, "42", "gym", today, "2000")
	key := rep.Reminder.Key()

	r := h.event(t, "42", conversation.CancelRequested{ID: key.ID})
	if r.Kind != KindCancelled || r.Reminder.Task != "gym" {
		t.Fatalf("reply = %+v", r)
	}
	_, err := h.svc.HandleEvent(context.Background(), "42", conversation.CancelRequested{ID: key.ID})
	if !errors.Is(err, reminder.ErrNotFound) {
		t.Fatalf("second cancel err = %v", err)
	}
	if h.sched.fire(key) || h.notif.count() != 0 {
		t.Fatal("cancelled reminder fired")
	}
}

func TestCancelOtherUsersReminderIsNotFound(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Config{}, nil)
	rep := h.createFlow(t, "42", "mine", today, "2000")
	if _, err := h.svc.Cancel(context.Background(), "7", rep.Reminder.ID); !errors.Is(err, reminder.ErrNotFound) {
		t.Fatalf("err = %v", err)
	}
}

func TestEditTaskOnlyKeepsDue(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Config{}, nil)
	rep := h.createFlow(t, "42", "old", today, "1700")
	task := "new"
	got, err := h.svc.Edit(context.Background(), "42", rep.Reminder.ID, Edit{Task: &task})
	if err != nil {
		t.Fatalf("Edit: %v", err)
	}
	if got.Task != "new" || !got.DueAt.Equal(rep.Reminder.DueAt) {
		t.Fatalf("edited = %#v", got)
	}
	if h.sched.len() != 1 {
		t.Fatalf("jobs = %d", h.sched.len())
	}
}

func TestEditFlowKeepsDateAndName(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Config{}, nil)
	rep := h.createFlow(t, "42", "dentist", reminder.Date{Year: 2025, Month: time.April, Day: 2}, "0900")
	id := rep.Reminder.ID

	r := h.event(t, "42", conversation.EditStart{ID: id, MessageID: 5})
	if r.Kind != KindPrompt || r.Step != conversation.EditingTask || r.Reminder.Task != "dentist" {
		t.Fatalf("edit start = %+v", r)
	}
	r, err := h.svc.HandleText(context.Background(), "42", "   ")
	if err != nil || r.Step != conversation.EditingTime {
		t.Fatalf("blank task: %+v %v", r, err)
	}
	r, err = h.svc.HandleText(context.Background(), "42", "14 45")
	if err != nil || r.Kind != KindUpdated {
		t.Fatalf("time: %+v %v", r, err)
	}
	want := time.Date(2025, 4, 2, 14, 45, 0, 0, msk)
	if r.Reminder.Task != "dentist" || !r.Reminder.DueAt.Equal(want) {
		t.Fatalf("updated = %#v", r.Reminder)
	}
	job, ok := h.sched.Pending(r.Reminder.Key())
	if !ok || !job.DueAt.Equal(want) || h.sched.len() != 1 {
		t.Fatalf("job = %#v ok=%v len=%d", job, ok, h.sched.len())
	}
}

func TestEditStartMissing(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Config{}, nil)
	_, err := h.svc.HandleEvent(context.Background(), "42", conversation.EditStart{ID: "nope"})
	if !errors.Is(err, reminder.ErrNotFound) {
		t.Fatalf("err = %v", err)
	}
	if h.svc.FlowState("42").Step != conversation.Idle {
		t.Fatal("flow must not start for a missing reminder")
	}
}

func TestInvalidTimeReprompts(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Config{}, nil)
	h.event(t, "42", conversation.CreateStart{})
	h.event(t, "42", conversation.TaskTextEntered{Text: "x"})
	h.event(t, "42", conversation.DateSelected{Year: 2025, Month: time.March, Day: 20})
	r := h.event(t, "42", conversation.TimeTextEntered{Text: "7pm"})
	if r.Kind != KindInvalid || r.Step != conversation.AwaitingTime || !errors.Is(r.Err, reminder.ErrValidation) {
		t.Fatalf("reply = %+v", r)
	}
	if h.mem.Saves() != 1 {
		// Only the startup save so far.
		t.Fatalf("saves = %d", h.mem.Saves())
	}
}

func TestMissedAtStartupDropped(t *testing.T) {
	t.Parallel()
	mem := storage.NewMemory()
	past := reminder.Reminder{ID: "p", UserID: "42", Task: "late", DueAt: time.Date(2025, 3, 14, 11, 0, 0, 0, msk)}
	future := reminder.Reminder{ID: "f", UserID: "42", Task: "soon", DueAt: time.Date(2025, 3, 14, 13, 0, 0, 0, msk)}
	_ = mem.Save(context.Background(), storage.Snapshot{"42": {past, future}})

	h := newHarness(t, Config{}, mem)
	if got := h.svc.ListActive("42"); len(got) != 1 || got[0].ID != "f" {
		t.Fatalf("active = %#v", got)
	}
	if _, ok := h.sched.Pending(past.Key()); ok {
		t.Fatal("missed reminder armed")
	}
	snap, _ := mem.Load(context.Background())
	if snap.Len() != 1 {
		t.Fatalf("pruned store not saved: %#v", snap)
	}
	if h.notif.count() != 0 {
		t.Fatal("missed reminder delivered without fire_missed")
	}
}

func TestFireMissed(t *testing.T) {
	t.Parallel()
	mem := storage.NewMemory()
	past := reminder.Reminder{ID: "p", UserID: "42", Task: "late", DueAt: time.Date(2025, 3, 14, 11, 0, 0, 0, msk)}
	_ = mem.Save(context.Background(), storage.Snapshot{"42": {past}})

	h := newHarness(t, Config{FireMissed: true}, mem)
	select {
	case r := <-h.notif.sent:
		if r.ID != "p" {
			t.Fatalf("delivered %#v", r)
		}
	case <-time.After(time.Second):
		t.Fatal("missed reminder not delivered")
	}
	h.svc.Stop(context.Background())
	if h.svc.store.Len() != 0 {
		t.Fatal("fired reminder still stored")
	}
}

func TestPersistenceFailureAbortsBeforeScheduling(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Config{}, nil)
	h.event(t, "42", conversation.CreateStart{})
	h.event(t, "42", conversation.TaskTextEntered{Text: "x"})
	h.event(t, "42", conversation.DateSelected{Year: 2025, Month: time.March, Day: 20})

	h.mem.SetSaveErr(errors.New("disk full"))
	_, err := h.svc.HandleText(context.Background(), "42", "1830")
	if !errors.Is(err, reminder.ErrPersistence) {
		t.Fatalf("err = %v", err)
	}
	if h.sched.len() != 0 {
		t.Fatal("job armed after failed save")
	}
	if h.svc.FlowState("42").Step != conversation.AwaitingTime {
		t.Fatalf("flow not restored: %v", h.svc.FlowState("42").Step)
	}

	h.mem.SetSaveErr(nil)
	r, err := h.svc.HandleText(context.Background(), "42", "1830")
	if err != nil || r.Kind != KindCreated {
		t.Fatalf("retry: %+v %v", r, err)
	}
}

func TestSchedulingDegradedThenSweepRearms(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Config{}, nil)
	h.sched.setScheduleErr(errors.New("timer pool exhausted"))
	rep := h.createFlow(t, "42", "x", today, "1830")
	if rep.Kind != KindCreated || !rep.Degraded {
		t.Fatalf("reply = %+v", rep)
	}
	if len(h.svc.ListActive("42")) != 1 {
		t.Fatal("degraded reminder must stay persisted")
	}

	h.sched.setScheduleErr(nil)
	rep2 := h.svc.Sweep(context.Background())
	if rep2.Rearmed != 1 {
		t.Fatalf("sweep = %+v", rep2)
	}
	if _, ok := h.sched.Pending(rep.Reminder.Key()); !ok {
		t.Fatal("sweep did not re-arm")
	}
}

func TestSweepPurgesPastDueWithoutJob(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Config{}, nil)
	h.sched.setScheduleErr(errors.New("no timer"))
	rep := h.createFlow(t, "42", "x", today, "1230")
	h.sched.setScheduleErr(nil)

	events, unsub := h.bus.Subscribe(4, EventMissed)
	defer unsub()

	h.clk.Set(time.Date(2025, 3, 14, 13, 0, 0, 0, msk))
	if got := h.svc.Sweep(context.Background()); got.Purged != 1 || got.Rearmed != 0 {
		t.Fatalf("sweep = %+v", got)
	}
	if _, err := h.svc.Get("42", rep.Reminder.ID); !errors.Is(err, reminder.ErrNotFound) {
		t.Fatal("past-due reminder not purged")
	}
	select {
	case e := <-events:
		if e.ReminderID != rep.Reminder.ID {
			t.Fatalf("event = %+v", e)
		}
	default:
		t.Fatal("no missed event")
	}
}

func TestDeliveryFailureIsReportedNotRetried(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Config{}, nil)
	events, unsub := h.bus.Subscribe(8, EventDeliveryFailed)
	defer unsub()

	h.notif.err = errors.New("chat not found")
	rep := h.createFlow(t, "42", "x", today, "1830")
	h.sched.fire(rep.Reminder.Key())

	if h.notif.count() != 1 {
		t.Fatalf("deliveries = %d", h.notif.count())
	}
	if h.sched.len() != 0 || h.svc.store.Len() != 0 {
		t.Fatal("failed delivery must not re-arm or keep the reminder")
	}
	select {
	case e := <-events:
		if e.Data.(EventData).Error == "" {
			t.Fatalf("event = %+v", e)
		}
	default:
		t.Fatal("no delivery_failed event")
	}
	if h.svc.Sweep(context.Background()).Rearmed != 0 {
		t.Fatal("sweep re-armed a fired reminder")
	}
}

func TestStaleJobIgnored(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Config{}, nil)
	rep := h.createFlow(t, "42", "x", today, "1830")
	h.svc.onFire(context.Background(), scheduler.Job{Key: rep.Reminder.Key(), DueAt: rep.Reminder.DueAt.Add(-time.Minute)})
	if h.notif.count() != 0 {
		t.Fatal("stale job delivered")
	}
	if len(h.svc.ListActive("42")) != 1 {
		t.Fatal("stale job removed the reminder")
	}
}

func TestSnoozeAfterDelivery(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Config{SnoozeWindow: time.Hour}, nil)
	rep := h.createFlow(t, "42", "stand up", today, "1830")
	due := rep.Reminder.DueAt
	h.clk.Set(due)
	h.sched.fire(rep.Reminder.Key())

	if _, err := h.svc.Cancel(context.Background(), "42", rep.Reminder.ID); !errors.Is(err, reminder.ErrNotFound) {
		t.Fatalf("cancel after delivery: %v", err)
	}

	h.clk.Set(due.Add(2 * time.Minute))
	r := h.event(t, "42", conversation.PostponeRequested{ID: rep.Reminder.ID, Minutes: 10})
	if r.Kind != KindPostponed || r.Reminder.ID != rep.Reminder.ID || !r.Reminder.DueAt.Equal(due.Add(10*time.Minute)) {
		t.Fatalf("snooze = %+v", r)
	}
	if _, ok := h.sched.Pending(r.Reminder.Key()); !ok {
		t.Fatal("snoozed reminder not armed")
	}

	// A second snooze tap on the old notification postpones the live reminder.
	r = h.event(t, "42", conversation.PostponeRequested{ID: rep.Reminder.ID, Minutes: 30})
	if !r.Reminder.DueAt.Equal(due.Add(40 * time.Minute)) {
		t.Fatalf("second postpone due = %s", r.Reminder.DueAt)
	}
}

func TestSnoozeLateStartsFromNow(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Config{SnoozeWindow: time.Hour}, nil)
	rep := h.createFlow(t, "42", "x", today, "1830")
	due := rep.Reminder.DueAt
	h.clk.Set(due)
	h.sched.fire(rep.Reminder.Key())

	h.clk.Set(due.Add(25 * time.Minute))
	r := h.event(t, "42", conversation.PostponeRequested{ID: rep.Reminder.ID, Minutes: 10})
	if !r.Reminder.DueAt.Equal(due.Add(35 * time.Minute)) {
		t.Fatalf("due = %s", r.Reminder.DueAt)
	}
}

func TestSnoozeWindowExpired(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Config{SnoozeWindow: time.Hour}, nil)
	rep := h.createFlow(t, "42", "x", today, "1830")
	h.clk.Set(rep.Reminder.DueAt)
	h.sched.fire(rep.Reminder.Key())
	h.clk.Set(rep.Reminder.DueAt.Add(2 * time.Hour))
	if _, err := h.svc.Postpone(context.Background(), "42", rep.Reminder.ID, 10); !errors.Is(err, reminder.ErrNotFound) {
		t.Fatalf("err = %v", err)
	}
}

func TestBackReturnsMenuAndTextIgnored(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Config{}, nil)
	r, err := h.svc.HandleText(context.Background(), "42", "hello")
	if err != nil || r.Kind != KindIgnored {
		t.Fatalf("idle text: %+v %v", r, err)
	}
	h.event(t, "42", conversation.CreateStart{})
	if r := h.event(t, "42", conversation.BackRequested{}); r.Kind != KindMenu || r.Step != conversation.Idle {
		t.Fatalf("back = %+v", r)
	}
}

func TestCreateValidation(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Config{}, nil)
	if _, err := h.svc.Create(context.Background(), "42", "  ", time.Now()); !errors.Is(err, reminder.ErrValidation) {
		t.Fatalf("err = %v", err)
	}
	if _, err := h.svc.Postpone(context.Background(), "42", "x", 0); !errors.Is(err, reminder.ErrValidation) {
		t.Fatalf("err = %v", err)
	}
}

func TestSweepRegisteredAndStarted(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Config{Sweep: "@every 5m"}, nil)
	if _, ok := h.sched.every[sweepName]; !ok || !h.sched.started {
		t.Fatal("sweep not registered or scheduler not started")
	}
}

func TestWithRealScheduler(t *testing.T) {
	t.Parallel()
	sched := scheduler.New(logx.Nop())
	notif := newFakeNotifier()
	st := storage.NewStore(storage.NewMemory(), logx.Nop())
	svc := New(Config{Location: msk}, st, sched, notif, logx.Nop())
	if err := svc.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer svc.Stop(context.Background())

	r, err := svc.Create(context.Background(), "42", "tea", time.Now().Add(30*time.Millisecond))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	select {
	case got := <-notif.sent:
		if got.ID != r.ID {
			t.Fatalf("delivered %#v", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("not delivered")
	}
	time.Sleep(50 * time.Millisecond)
	if notif.count() != 1 || len(svc.ListActive("42")) != 0 {
		t.Fatalf("count=%d active=%d", notif.count(), len(svc.ListActive("42")))
	}
}

func TestStartWithFailedLoadKeepsDurableState(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	mem := storage.NewMemory()
	future := reminder.Reminder{ID: "f", UserID: "42", Task: "soon", DueAt: time.Date(2025, 3, 14, 13, 0, 0, 0, msk)}
	_ = mem.Save(ctx, storage.Snapshot{"42": {future}})
	mem.SetLoadErr(errors.New("connection reset"))

	h := newHarness(t, Config{}, mem)
	if h.mem.Saves() != 1 {
		t.Fatalf("saves = %d, startup must not write after a failed load", h.mem.Saves())
	}
	if _, err := h.svc.Create(ctx, "42", "new", time.Date(2025, 3, 14, 14, 0, 0, 0, msk)); !errors.Is(err, storage.ErrNotLoaded) {
		t.Fatalf("Create err = %v, want ErrNotLoaded", err)
	}
	mem.SetLoadErr(nil)
	if snap, _ := mem.Load(ctx); snap.Len() != 1 {
		t.Fatalf("durable reminders = %d, want 1", snap.Len())
	}

	if rep := h.svc.Sweep(ctx); rep.Rearmed != 1 {
		t.Fatalf("sweep = %+v, want the durable reminder re-armed", rep)
	}
	if _, ok := h.sched.Pending(future.Key()); !ok {
		t.Fatal("durable reminder not armed after recovery")
	}
	if got := h.svc.ListActive("42"); len(got) != 1 || got[0].ID != "f" {
		t.Fatalf("active = %#v", got)
	}
}

func TestStartPruneKeepsStoredOrder(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	mem := storage.NewMemory()
	late := reminder.Reminder{ID: "late", UserID: "42", Task: "b", DueAt: time.Date(2025, 3, 14, 20, 0, 0, 0, msk)}
	past := reminder.Reminder{ID: "past", UserID: "42", Task: "x", DueAt: time.Date(2025, 3, 14, 9, 0, 0, 0, msk)}
	early := reminder.Reminder{ID: "early", UserID: "42", Task: "a", DueAt: time.Date(2025, 3, 14, 13, 0, 0, 0, msk)}
	_ = mem.Save(ctx, storage.Snapshot{"42": {late, past, early}, "7": {early}})

	newHarness(t, Config{}, mem)
	snap, err := mem.Load(ctx)
	if err != nil {
		t.Fatal(err)
	}
	got := snap["42"]
	if len(got) != 2 || got[0].ID != "late" || got[1].ID != "early" {
		t.Fatalf("user 42 = %#v, want insertion order late, early", got)
	}
	if len(snap["7"]) != 1 {
		t.Fatalf("user 7 = %#v", snap["7"])
	}
}

func TestFireRacesCancel(t *testing.T) {
	t.Parallel()
	for i := 0; i < 20; i++ {
		h := newHarness(t, Config{}, nil)
		rep := h.createFlow(t, "42", "x", today, "1830")
		key := rep.Reminder.Key()

		h.svc.mu.Lock()
		fired := h.sched.fireBlocked(t, key)
		cancelled := make(chan error, 1)
		go func() {
			_, err := h.svc.Cancel(context.Background(), "42", key.ID)
			cancelled <- err
		}()
		h.svc.mu.Unlock()

		err := <-cancelled
		<-fired
		delivered := h.notif.count()
		switch {
		case err == nil && delivered == 0:
		case errors.Is(err, reminder.ErrNotFound) && delivered == 1:
		default:
			t.Fatalf("run %d: cancel err=%v deliveries=%d, want exactly one winner", i, err, delivered)
		}
		if h.svc.store.Len() != 0 || h.sched.len() != 0 {
			t.Fatalf("run %d: stored=%d pending=%d", i, h.svc.store.Len(), h.sched.len())
		}
	}
}

func TestFireRacesEdit(t *testing.T) {
	t.Parallel()
	for i := 0; i < 20; i++ {
		h := newHarness(t, Config{}, nil)
		rep := h.createFlow(t, "42", "x", today, "1830")
		key := rep.Reminder.Key()

		h.svc.mu.Lock()
		fired := h.sched.fireBlocked(t, key)
		type result struct {
			r   reminder.Reminder
			err error
		}
		edited := make(chan result, 1)
		go func() {
			r, err := h.svc.Edit(context.Background(), "42", key.ID, Edit{Clock: &reminder.Clock{Hour: 19, Minute: 0}})
			edited <- result{r, err}
		}()
		h.svc.mu.Unlock()

		res := <-edited
		<-fired
		delivered := h.notif.count()
		switch {
		case res.err == nil && delivered == 0:
			// The old job was stale; only the edited one may fire.
			job, ok := h.sched.Pending(key)
			if !ok || !job.DueAt.Equal(res.r.DueAt) || h.sched.len() != 1 {
				t.Fatalf("run %d: job=%#v ok=%v len=%d", i, job, ok, h.sched.len())
			}
		case errors.Is(res.err, reminder.ErrNotFound) && delivered == 1:
			if h.sched.len() != 0 || h.svc.store.Len() != 0 {
				t.Fatalf("run %d: fired reminder left state behind", i)
			}
		default:
			t.Fatalf("run %d: edit err=%v deliveries=%d, want exactly one winner", i, res.err, delivered)
		}
	}
}

func TestFireRacesPostpone(t *testing.T) {
	t.Parallel()
	for i := 0; i < 20; i++ {
		h := newHarness(t, Config{SnoozeWindow: time.Hour}, nil)
		rep := h.createFlow(t, "42", "x", today, "1830")
		key := rep.Reminder.Key()

		h.svc.mu.Lock()
		fired := h.sched.fireBlocked(t, key)
		type result struct {
			r   reminder.Reminder
			err error
		}
		postponed := make(chan result, 1)
		go func() {
			r, err := h.svc.Postpone(context.Background(), "42", key.ID, 10)
			postponed <- result{r, err}
		}()
		h.svc.mu.Unlock()

		res := <-postponed
		<-fired
		if res.err != nil {
			t.Fatalf("run %d: Postpone: %v", i, res.err)
		}
		if d := h.notif.count(); d > 1 {
			t.Fatalf("run %d: deliveries = %d", i, d)
		}
		if want := rep.Reminder.DueAt.Add(10 * time.Minute); !res.r.DueAt.Equal(want) {
			t.Fatalf("run %d: due = %v, want %v", i, res.r.DueAt, want)
		}
		job, ok := h.sched.Pending(key)
		if !ok || !job.DueAt.Equal(res.r.DueAt) || h.sched.len() != 1 {
			t.Fatalf("run %d: job=%#v ok=%v len=%d", i, job, ok, h.sched.len())
		}
	}
}

func TestSweepSkipsDequeuedJob(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	sched := scheduler.New(logx.Nop())
	notif := newFakeNotifier()
	st := storage.NewStore(storage.NewMemory(), logx.Nop())
	svc := New(Config{Location: msk}, st, sched, notif, logx.Nop())
	if err := svc.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer svc.Stop(ctx)

	r := reminder.Reminder{ID: reminder.NewID(), UserID: "42", Task: "late", DueAt: time.Now().Add(-2 * sweepGrace)}
	svc.mu.Lock()
	if _, err := svc.createLocked(ctx, r); err != nil {
		svc.mu.Unlock()
		t.Fatalf("create: %v", err)
	}
	// The past-due timer fires at once and its handler waits for svc.mu.
	waitFor(t, func() bool { return sched.Firing(r.Key()) })
	svc.mu.Unlock()

	if rep := svc.Sweep(ctx); rep.Purged != 0 {
		t.Fatalf("sweep purged a job that was about to fire: %+v", rep)
	}
	select {
	case got := <-notif.sent:
		if got.ID != r.ID {
			t.Fatalf("delivered %#v", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("dequeued reminder never delivered")
	}
	if notif.count() != 1 {
		t.Fatalf("deliveries = %d", notif.count())
	}
}
