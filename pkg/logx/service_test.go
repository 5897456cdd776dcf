package logx

import (
	"strings"
	"testing"
)

func TestFormatOpsLine(t *testing.T) {
	t.Parallel()
	line := []byte(`{"level":"error","time":"x","message":"delivery failed","user":"42","comp":"reminders"}`)
	got := formatOpsLine(line)
	want := "[ERROR] delivery failed\n- comp=reminders\n- user=42"
	if got != want {
		t.Fatalf("formatOpsLine = %q, want %q", got, want)
	}

	raw := formatOpsLine([]byte("  not json  "))
	if raw != "not json" {
		t.Fatalf("raw fallback = %q", raw)
	}
}

func TestTruncate(t *testing.T) {
	t.Parallel()
	s := strings.Repeat("a", 50)
	if got := truncate(s, 20); len(got) != 20 || !strings.HasSuffix(got, "...") {
		t.Fatalf("truncate = %q", got)
	}
	if got := truncate("short", 20); got != "short" {
		t.Fatalf("truncate short = %q", got)
	}
}

func TestZeroLoggerIsNop(t *testing.T) {
	t.Parallel()
	var l Logger
	if !l.IsZero() {
		t.Fatal("zero logger should report IsZero")
	}
	// Must not panic.
	l.With(String("k", "v")).Info("hello", Int("n", 1))
	if Nop().IsZero() {
		t.Fatal("Nop logger should not be zero")
	}
}

func TestValidLevel(t *testing.T) {
	t.Parallel()
	for _, lv := range []string{"", "debug", "INFO", "warning", "Error"} {
		if !ValidLevel(lv) {
			t.Fatalf("ValidLevel(%q) = false", lv)
		}
	}
	if ValidLevel("trace-ish") {
		t.Fatal("unexpected valid level")
	}
}
