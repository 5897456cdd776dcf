package eventbus

import "testing"

func TestPublishFiltersAndDrops(t *testing.T) {
	t.Parallel()
	b := New()
	all, unsubAll := b.Subscribe(1)
	fired, unsubFired := b.Subscribe(4, "reminder.fired")
	defer unsubFired()

	b.Publish(Event{Type: "reminder.created", UserID: "1"})
	b.Publish(Event{Type: "reminder.fired", UserID: "1"})

	if e := <-all; e.Type != "reminder.created" || e.Time.IsZero() {
		t.Fatalf("all got %+v", e)
	}
	if e := <-fired; e.Type != "reminder.fired" {
		t.Fatalf("filtered got %+v", e)
	}
	if b.Dropped() != 1 {
		t.Fatalf("dropped = %d, want 1", b.Dropped())
	}

	unsubAll()
	unsubAll()
	if _, ok := <-all; ok {
		t.Fatal("channel should be closed after unsubscribe")
	}
	// Publishing after unsubscribe must not panic.
	b.Publish(Event{Type: "reminder.created"})
}
