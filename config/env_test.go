package config

import (
	"strings"
	"testing"
	"time"

	"github.com/joeycumines/logiface"

	"github.com/MetaphysicsNecrosis/go-mainthread/core"
)

func TestLoadDefaults(t *testing.T) {
	e, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if e.WeightHigh != 5 || e.WeightNormal != 3 || e.WeightLow != 1 {
		t.Errorf("expected weights 5:3:1, got %d:%d:%d", e.WeightHigh, e.WeightNormal, e.WeightLow)
	}
	if e.TickInterval != 16*time.Millisecond {
		t.Errorf("expected 16ms tick interval, got %v", e.TickInterval)
	}
	if e.LogLevel.Level() != logiface.LevelInformational {
		t.Errorf("expected info level, got %v", e.LogLevel)
	}

	cfg := e.Config()
	def := core.DefaultConfig()
	if cfg.Weights != def.Weights {
		t.Errorf("expected default weights %v, got %v", def.Weights, cfg.Weights)
	}
	if cfg.Starvation != def.Starvation {
		t.Errorf("expected default starvation config %+v, got %+v", def.Starvation, cfg.Starvation)
	}
	if cfg.MaxPassesPerTick != def.MaxPassesPerTick || cfg.HistorySize != def.HistorySize {
		t.Errorf("unexpected config %+v", cfg)
	}
	if cfg.Logger == nil || cfg.PanicHandler == nil || cfg.RejectedTaskHandler == nil {
		t.Error("expected handlers to be set")
	}
}

func TestFromEnvOverrides(t *testing.T) {
	t.Setenv("MAINTHREAD_WEIGHT_HIGH", "50")
	t.Setenv("MAINTHREAD_WEIGHT_NORMAL", "4")
	t.Setenv("MAINTHREAD_WEIGHT_LOW", "0")
	t.Setenv("MAINTHREAD_TICK_BUDGET", "3ms")
	t.Setenv("MAINTHREAD_STARVATION_MAX_AGE", "250ms")
	t.Setenv("MAINTHREAD_STARVATION_BACKLOG", "80")
	t.Setenv("MAINTHREAD_HEALTH_WARNING", "10")
	t.Setenv("MAINTHREAD_HEALTH_CRITICAL", "20")
	t.Setenv("MAINTHREAD_LOG_LEVEL", "DEBUG")

	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("from env: %v", err)
	}

	want := core.Weights{High: 10, Normal: 4, Low: 1}
	if cfg.Weights != want {
		t.Errorf("expected clamped weights %v, got %v", want, cfg.Weights)
	}
	if cfg.TickBudget != 3*time.Millisecond {
		t.Errorf("expected 3ms budget, got %v", cfg.TickBudget)
	}
	if cfg.Starvation.MaxTaskAge != 250*time.Millisecond || cfg.Starvation.BacklogCeiling != 80 {
		t.Errorf("unexpected starvation config %+v", cfg.Starvation)
	}
	if cfg.HealthWarningThreshold != 10 || cfg.HealthCriticalThreshold != 20 {
		t.Errorf("unexpected health thresholds %d/%d", cfg.HealthWarningThreshold, cfg.HealthCriticalThreshold)
	}

	s := core.NewScheduler(cfg)
	defer s.Shutdown()
	if s.Weights() != want {
		t.Errorf("scheduler weights %v, want %v", s.Weights(), want)
	}
}

func TestParseEnvError(t *testing.T) {
	t.Setenv("MAINTHREAD_WEIGHT_HIGH", "not-an-int")

	_, err := FromEnv()
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "parse env:") {
		t.Fatalf("expected parse env prefix, got %v", err)
	}
}

func TestLoadRejectsInvertedHealthThresholds(t *testing.T) {
	t.Setenv("MAINTHREAD_HEALTH_WARNING", "100")
	t.Setenv("MAINTHREAD_HEALTH_CRITICAL", "50")

	if _, err := Load(); err == nil {
		t.Fatal("expected error for critical below warning")
	}
}

func TestLogLevelUnmarshal(t *testing.T) {
	tests := []struct {
		in   string
		want logiface.Level
	}{
		{"trace", logiface.LevelTrace},
		{"debug", logiface.LevelDebug},
		{"Info", logiface.LevelInformational},
		{"warn", logiface.LevelWarning},
		{"error", logiface.LevelError},
		{"off", logiface.LevelDisabled},
	}
	for _, tt := range tests {
		var l LogLevel
		if err := l.UnmarshalText([]byte(tt.in)); err != nil {
			t.Errorf("%q: %v", tt.in, err)
			continue
		}
		if l.Level() != tt.want {
			t.Errorf("%q: got %v, want %v", tt.in, l.Level(), tt.want)
		}
	}

	var l LogLevel
	if err := l.UnmarshalText([]byte("loud")); err == nil {
		t.Error("expected error for unknown level")
	}
}

func TestWeightPresetOverridesWeights(t *testing.T) {
	t.Setenv("MAINTHREAD_WEIGHT_HIGH", "9")
	t.Setenv("MAINTHREAD_WEIGHT_PRESET", "background")

	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("from env: %v", err)
	}
	if want := core.BackgroundFocusedWeights(); cfg.Weights != want {
		t.Errorf("expected preset weights %v, got %v", want, cfg.Weights)
	}
}

func TestLoadRejectsUnknownWeightPreset(t *testing.T) {
	t.Setenv("MAINTHREAD_WEIGHT_PRESET", "turbo")

	_, err := Load()
	if err == nil || !strings.Contains(err.Error(), "MAINTHREAD_WEIGHT_PRESET") {
		t.Errorf("expected preset error, got %v", err)
	}
}
