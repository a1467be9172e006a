// Package config loads scheduler settings from MAINTHREAD_* environment
// variables.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joeycumines/logiface"

	"github.com/MetaphysicsNecrosis/go-mainthread/core"
)

// Env mirrors core.Config plus the settings of the tick driver.
type Env struct {
	WeightHigh   int `env:"MAINTHREAD_WEIGHT_HIGH"   envDefault:"5"`
	WeightNormal int `env:"MAINTHREAD_WEIGHT_NORMAL" envDefault:"3"`
	WeightLow    int `env:"MAINTHREAD_WEIGHT_LOW"    envDefault:"1"`

	// WeightPreset, when set, replaces the three weights above.
	WeightPreset string `env:"MAINTHREAD_WEIGHT_PRESET"`

	MaxPassesPerTick int           `env:"MAINTHREAD_MAX_PASSES_PER_TICK" envDefault:"20"`
	TickBudget       time.Duration `env:"MAINTHREAD_TICK_BUDGET"         envDefault:"0s"`
	TickInterval     time.Duration `env:"MAINTHREAD_TICK_INTERVAL"       envDefault:"16ms"`

	StarvationMaxTicks  int           `env:"MAINTHREAD_STARVATION_MAX_TICKS"  envDefault:"20"`
	StarvationMaxAge    time.Duration `env:"MAINTHREAD_STARVATION_MAX_AGE"    envDefault:"5s"`
	StarvationBacklog   int           `env:"MAINTHREAD_STARVATION_BACKLOG"    envDefault:"50"`
	StarvationMaxForced int           `env:"MAINTHREAD_STARVATION_MAX_FORCED" envDefault:"10"`

	SlowTaskThreshold     time.Duration `env:"MAINTHREAD_SLOW_TASK_THRESHOLD"     envDefault:"1ms"`
	OverflowWarnThreshold int           `env:"MAINTHREAD_OVERFLOW_WARN_THRESHOLD" envDefault:"1000"`
	HealthWarning         int           `env:"MAINTHREAD_HEALTH_WARNING"          envDefault:"500"`
	HealthCritical        int           `env:"MAINTHREAD_HEALTH_CRITICAL"         envDefault:"1000"`
	HistorySize           int           `env:"MAINTHREAD_HISTORY_SIZE"            envDefault:"100"`

	LogLevel    LogLevel `env:"MAINTHREAD_LOG_LEVEL"    envDefault:"info"`
	MetricsAddr string   `env:"MAINTHREAD_METRICS_ADDR" envDefault:":9090"`
}

// ParseEnv loads configuration from environment variables.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// Load parses the MAINTHREAD_* variables.
func Load() (Env, error) {
	var e Env
	if err := ParseEnv(&e); err != nil {
		return Env{}, err
	}
	if e.WeightPreset != "" {
		if _, err := core.WeightPreset(e.WeightPreset); err != nil {
			return Env{}, fmt.Errorf("parse env: MAINTHREAD_WEIGHT_PRESET: %w", err)
		}
	}
	if e.HealthCritical < e.HealthWarning {
		return Env{}, fmt.Errorf("parse env: MAINTHREAD_HEALTH_CRITICAL (%d) below MAINTHREAD_HEALTH_WARNING (%d)", e.HealthCritical, e.HealthWarning)
	}
	return e, nil
}

// FromEnv builds a scheduler config from the environment.
func FromEnv() (*core.Config, error) {
	e, err := Load()
	if err != nil {
		return nil, err
	}
	return e.Config(), nil
}

// Config converts e into a core.Config logging to stderr at e.LogLevel.
// Weights are clamped into their allowed ranges. A preset that does not
// resolve is ignored; Load rejects it.
func (e Env) Config() *core.Config {
	logger := core.NewWriterLogger(os.Stderr, e.LogLevel.Level())

	cfg := core.DefaultConfig()
	cfg.Weights = core.Weights{High: e.WeightHigh, Normal: e.WeightNormal, Low: e.WeightLow}.Clamp()
	if w, err := core.WeightPreset(e.WeightPreset); err == nil {
		cfg.Weights = w
	}
	cfg.Starvation = core.StarvationConfig{
		MaxTicksWithoutLow: e.StarvationMaxTicks,
		MaxTaskAge:         e.StarvationMaxAge,
		BacklogCeiling:     e.StarvationBacklog,
		MaxForcedPerTick:   e.StarvationMaxForced,
	}
	cfg.MaxPassesPerTick = e.MaxPassesPerTick
	cfg.TickBudget = e.TickBudget
	cfg.SlowTaskThreshold = e.SlowTaskThreshold
	cfg.OverflowWarnThreshold = e.OverflowWarnThreshold
	cfg.HealthWarningThreshold = e.HealthWarning
	cfg.HealthCriticalThreshold = e.HealthCritical
	cfg.HistorySize = e.HistorySize
	cfg.Logger = logger
	cfg.PanicHandler = &core.DefaultPanicHandler{Logger: logger}
	cfg.RejectedTaskHandler = &core.DefaultRejectedTaskHandler{Logger: logger}
	return cfg
}

// LogLevel is a logiface level parsed from its syslog-style name.
type LogLevel logiface.Level

func (l LogLevel) Level() logiface.Level {
	return logiface.Level(l)
}

func (l LogLevel) String() string {
	return logiface.Level(l).String()
}

func (l *LogLevel) UnmarshalText(text []byte) error {
	switch strings.ToLower(strings.TrimSpace(string(text))) {
	case "off", "disabled", "none":
		*l = LogLevel(logiface.LevelDisabled)
	case "emerg", "emergency":
		*l = LogLevel(logiface.LevelEmergency)
	case "alert":
		*l = LogLevel(logiface.LevelAlert)
	case "crit", "critical":
		*l = LogLevel(logiface.LevelCritical)
	case "err", "error":
		*l = LogLevel(logiface.LevelError)
	case "warn", "warning":
		*l = LogLevel(logiface.LevelWarning)
	case "notice":
		*l = LogLevel(logiface.LevelNotice)
	case "info", "informational":
		*l = LogLevel(logiface.LevelInformational)
	case "debug":
		*l = LogLevel(logiface.LevelDebug)
	case "trace":
		*l = LogLevel(logiface.LevelTrace)
	default:
		return fmt.Errorf("unknown log level %q", text)
	}
	return nil
}
