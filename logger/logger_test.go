package logger

import (
	"io"
	"os"
	"testing"
)

func TestWithComponent(t *testing.T) {
	log := Logger()
	entry := log.WithComponent("test")
	if v, ok := entry.Entry.Data["component"]; !ok || v != "test" {
		t.Fatalf("component field missing: %v", entry.Entry.Data)
	}
}

func TestWithField(t *testing.T) {
	log := Logger()
	entry := log.WithComponent("test").WithField("symbol", "BTCUSDT")
	if v, ok := entry.Entry.Data["symbol"]; !ok || v != "BTCUSDT" {
		t.Fatalf("field missing: %v", entry.Entry.Data)
	}
}

func TestConfigureInvalidLevel(t *testing.T) {
	// Ensure environment variables do not override the provided level
	t.Setenv("LOG_LEVEL", "")

	log := Logger()
	if err := log.Configure("invalid", "json", "stdout", 0); err == nil {
		t.Fatalf("expected error for invalid level")
	}
}

func TestWithEnv(t *testing.T) {
	os.Setenv("FOO", "bar")
	log := Logger()
	entry := log.WithEnv("FOO")
	if v, ok := entry.Entry.Data["FOO"]; !ok || v != "bar" {
		t.Fatalf("env field not set: %v", entry.Entry.Data)
	}
}

func TestCountersSnapshot(t *testing.T) {
	log := Logger()
	log.SetOutput(io.Discard)

	log.WithComponent("counter_probe").Warn("w1")
	log.WithComponent("counter_probe").Warn("w2")
	log.WithComponent("counter_probe").Error("e1")

	snap := CountersSnapshot()
	counts, ok := snap["counter_probe"]
	if !ok {
		t.Fatalf("component missing from snapshot: %v", snap)
	}
	if counts.Warns < 2 {
		t.Errorf("expected at least 2 warns, got %d", counts.Warns)
	}
	if counts.Errors < 1 {
		t.Errorf("expected at least 1 error, got %d", counts.Errors)
	}
}
