package logging

import (
	"bytes"
	"log"
	"strings"
	"sync"
	"testing"
)

func TestOrNop(t *testing.T) {
	if OrNop(nil) == nil {
		t.Fatal("OrNop(nil) returned nil")
	}
	var typed *componentLogger
	if got := OrNop(typed); got == nil {
		t.Fatal("OrNop(typed nil) returned nil")
	}
	real := NewComponentLogger("test")
	if OrNop(real) != real {
		t.Fatal("OrNop should pass through a non-nil logger")
	}
}

func TestComponentLoggerLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	var mu sync.Mutex
	l := &componentLogger{
		mu:        &mu,
		out:       log.New(&buf, "", 0),
		level:     LevelInfo,
		component: "pipeline",
	}

	l.Debug("hidden %d", 1)
	l.Info("visible %d", 2)
	l.Warn("warned")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("debug line should be filtered at info level: %q", out)
	}
	if !strings.Contains(out, "visible 2") || !strings.Contains(out, "[pipeline]") {
		t.Errorf("missing info line or component tag: %q", out)
	}
	if !strings.Contains(out, "[WARN]") {
		t.Errorf("missing warn level tag: %q", out)
	}
}

func TestMultiFlattensAndSkipsNil(t *testing.T) {
	var buf bytes.Buffer
	var mu sync.Mutex
	a := &componentLogger{mu: &mu, out: log.New(&buf, "", 0), level: LevelDebug, component: "a"}
	b := &componentLogger{mu: &mu, out: log.New(&buf, "", 0), level: LevelDebug, component: "b"}

	m := Multi(nil, a, Multi(b))
	m.Info("hello")

	out := buf.String()
	if strings.Count(out, "hello") != 2 {
		t.Errorf("expected both loggers to emit, got %q", out)
	}

	if Multi() == nil {
		t.Fatal("Multi() should return a nop logger, not nil")
	}
	if single := Multi(a); single != a {
		t.Error("Multi with one logger should return it directly")
	}
}
