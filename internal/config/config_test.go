package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "app:\n  name: perftrend\n"))
	if err != nil {
		t.Fatalf("defaults must be valid: %v", err)
	}

	if cfg.Analysis.Days != 20 || cfg.Analysis.Window != 10 {
		t.Fatalf("unexpected analysis defaults: %+v", cfg.Analysis)
	}
	if cfg.Analysis.Algorithm != "ema" {
		t.Fatalf("default algorithm should be ema, got %q", cfg.Analysis.Algorithm)
	}
	if cfg.Thresholds.InstantPct != 3 || cfg.Thresholds.SustainedPct != 15 {
		t.Fatalf("unexpected thresholds: %+v", cfg.Thresholds)
	}
	if cfg.Store.Backend != BackendElasticsearch || cfg.Store.MaxDocuments != 50000 {
		t.Fatalf("unexpected store defaults: %+v", cfg.Store)
	}
	if cfg.Scheduler.Interval != 24*time.Hour {
		t.Fatalf("unexpected scheduler interval: %s", cfg.Scheduler.Interval)
	}
	if cfg.Report.OutputDir != ".results" {
		t.Fatalf("unexpected output dir: %q", cfg.Report.OutputDir)
	}
}

func TestLoadFileOverrides(t *testing.T) {
	body := `
analysis:
  window: 5
  algorithm: holt_winters
  beta: 0.5
  trend_normalization: mean
  exclusions:
    - match: equals
      value: "tc by us list - treeView # basic_load_cat"
    - match: prefix
      value: notifications
thresholds:
  instant_pct: 2
store:
  backend: influxdb
  influxdb:
    url: http://influx:8086
    bucket: perf
`
	cfg, err := Load(writeConfig(t, body))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Analysis.Window != 5 || cfg.Analysis.Algorithm != "holt_winters" || cfg.Analysis.Beta != 0.5 {
		t.Fatalf("analysis overrides not applied: %+v", cfg.Analysis)
	}
	if len(cfg.Analysis.Exclusions) != 2 || cfg.Analysis.Exclusions[1].Value != "notifications" {
		t.Fatalf("exclusions not decoded: %+v", cfg.Analysis.Exclusions)
	}
	if cfg.Thresholds.InstantPct != 2 || cfg.Thresholds.SustainedPct != 15 {
		t.Fatalf("threshold merge wrong: %+v", cfg.Thresholds)
	}
	if cfg.Store.InfluxDB.Bucket != "perf" {
		t.Fatalf("influx bucket not applied: %+v", cfg.Store.InfluxDB)
	}
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("PERFTREND_ANALYSIS_DAYS", "45")
	cfg, err := Load(writeConfig(t, "{}\n"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Analysis.Days != 45 {
		t.Fatalf("env override ignored: %d", cfg.Analysis.Days)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := map[string]string{
		"zero window":      "analysis:\n  window: 0\n",
		"negative window":  "analysis:\n  window: -3\n",
		"zero days":        "analysis:\n  days: 0\n",
		"bad algorithm":    "analysis:\n  algorithm: median\n",
		"bad beta":         "analysis:\n  beta: 1.5\n",
		"bad norm":         "analysis:\n  trend_normalization: last\n",
		"bad variant":      "analysis:\n  sustained_variant: widest\n",
		"bad exclusion":    "analysis:\n  exclusions:\n    - match: regex\n      value: x\n",
		"negative instant": "thresholds:\n  instant_pct: -1\n",
		"unknown backend":  "store:\n  backend: mongo\n",
		"postgres no dsn":  "store:\n  backend: postgres\n",
		"persist no dsn":   "report:\n  persist: true\n",
		"negative keep":    "report:\n  retention: -24h\n",
		"slack no webhook": "alerting:\n  slack:\n    enabled: true\n    channel: perf\n",
	}

	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeConfig(t, body))
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !errors.Is(err, ErrInvalid) {
				t.Fatalf("error should wrap ErrInvalid: %v", err)
			}
		})
	}
}

func TestResolveMaxPoints(t *testing.T) {
	cfg := &Config{Export: ExportConfig{MaxDataPoints: 100}}
	if got := cfg.ResolveMaxPoints(0); got != 100 {
		t.Fatalf("expected config default, got %d", got)
	}
	if got := cfg.ResolveMaxPoints(7); got != 7 {
		t.Fatalf("expected override, got %d", got)
	}
}
