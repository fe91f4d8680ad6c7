package scheduler

import (
	"bytes"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"
)

var _ CronEngine = (*RobfigCronEngine)(nil)

func TestRobfigCronEngine_AddFunc_ShouldAcceptCronAndDescriptors(t *testing.T) {
	engine := NewRobfigCronEngine(nil)
	defer engine.Stop()

	for _, spec := range []string{"0 8 * * *", "*/5 * * * *", "@every 1h", "@daily"} {
		if _, err := engine.AddFunc(spec, func() {}); err != nil {
			t.Errorf("%q: %v", spec, err)
		}
	}
	for _, spec := range []string{"every tuesday", "0 8 * *", "* * * * * * *"} {
		if _, err := engine.AddFunc(spec, func() {}); err == nil {
			t.Errorf("%q: expected parse error", spec)
		}
	}
}

func TestRobfigCronEngine_ShouldFireUntilRemoved(t *testing.T) {
	engine := NewRobfigCronEngine(nil)
	fired := make(chan struct{}, 8)
	id, err := engine.AddFunc("@every 1s", func() { fired <- struct{}{} })
	if err != nil {
		t.Fatal(err)
	}
	engine.Start()
	defer engine.Stop()

	select {
	case <-fired:
	case <-time.After(3 * time.Second):
		t.Fatal("entry did not fire within 3s")
	}
	engine.Remove(id)
}

func TestRobfigCronEngine_Stop_WhenNeverStarted_ShouldReturn(t *testing.T) {
	done := make(chan struct{})
	go func() {
		NewRobfigCronEngine(nil).Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Stop blocked")
	}
}

func TestCronLogger_ShouldForwardToSlog(t *testing.T) {
	var buf bytes.Buffer
	cl := cronLogger{l: slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))}

	cl.Info("start", "entries", 2)
	cl.Error(errors.New("job panicked"), "panic", "entry", 7)

	out := buf.String()
	for _, want := range []string{"cron: start", "entries=2", "cron: panic", "job panicked", "entry=7", "level=ERROR"} {
		if !strings.Contains(out, want) {
			t.Errorf("log should contain %q, got %q", want, out)
		}
	}
	if (cronLogger{}).log() != slog.Default() {
		t.Error("nil logger should fall back to slog.Default")
	}
}
