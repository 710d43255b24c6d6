package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	c, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if c.Backend.Type != "memory" {
		t.Fatalf("backend = %q, want memory", c.Backend.Type)
	}
	if c.Simulation.GeneratorVersion != 3 || c.Simulation.Workers != 8 {
		t.Fatalf("unexpected simulation defaults: %+v", c.Simulation)
	}
	if c.Simulation.Regime.CrashProb != 0.002 || c.Simulation.Regime.CrashMaxTicks != 15 {
		t.Fatalf("unexpected regime defaults: %+v", c.Simulation.Regime)
	}
	if c.Scheduler.Interval != 5*time.Second || !c.Scheduler.Enabled {
		t.Fatalf("unexpected scheduler defaults: %+v", c.Scheduler)
	}
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
environment: test
backend:
  type: sqlite
scheduler:
  enabled: false
simulation:
  seed: 42
  generator_version: 2
  regime:
    crash_prob: 0.1
instruments:
  - symbol: AAA
    exchange: X
    price: "100.00"
    volatility: 2.0
`)
	c, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if c.Environment != "test" || c.Backend.Type != "sqlite" || c.Scheduler.Enabled {
		t.Fatalf("file values not applied: %+v", c)
	}
	if c.Simulation.Seed != 42 || c.Simulation.GeneratorVersion != 2 {
		t.Fatalf("simulation not applied: %+v", c.Simulation)
	}
	if c.Simulation.Regime.CrashProb != 0.1 || c.Simulation.Regime.BoomProb != 0.003 {
		t.Fatalf("regime merge wrong: %+v", c.Simulation.Regime)
	}
	if len(c.Instruments) != 1 || c.Instruments[0].Volatility != 2.0 {
		t.Fatalf("instruments = %+v", c.Instruments)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	cases := map[string]string{
		"backend":       "backend:\n  type: postgres\n",
		"probabilities": "simulation:\n  regime:\n    crash_prob: 0.6\n    boom_prob: 0.6\n",
		"durations":     "simulation:\n  regime:\n    crash_min_ticks: 10\n    crash_max_ticks: 5\n",
		"version":       "simulation:\n  generator_version: 7\n",
		"instrument":    "instruments:\n  - symbol: AAA\n    exchange: X\n    price: abc\n",
		"lock":          "tick_lock:\n  enabled: true\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := Load(writeConfig(t, body)); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
}

func TestLoadWithEnvOverrides(t *testing.T) {
	t.Setenv("ALCHEMIST_BACKEND", "cluster")
	t.Setenv("ALCHEMIST_SEED", "7")
	t.Setenv("ALCHEMIST_KAFKA_BROKERS", "k1:9092,k2:9092")
	t.Setenv("ALCHEMIST_TICK_INTERVAL", "250ms")

	c, err := LoadWithEnv(writeConfig(t, "environment: test\n"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if c.Backend.Type != "cluster" || c.Simulation.Seed != 7 {
		t.Fatalf("env not applied: backend=%q seed=%d", c.Backend.Type, c.Simulation.Seed)
	}
	if !c.Kafka.Enabled || len(c.Kafka.Brokers) != 2 {
		t.Fatalf("kafka brokers = %v", c.Kafka.Brokers)
	}
	if c.Scheduler.Interval != 250*time.Millisecond {
		t.Fatalf("interval = %v", c.Scheduler.Interval)
	}
}
