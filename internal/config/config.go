package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"perf-trend-alerts/internal/logging"
	"perf-trend-alerts/internal/smoothing"
	"perf-trend-alerts/internal/trend"
)

// ErrInvalid marks configuration values that must abort startup.
var ErrInvalid = errors.New("invalid configuration")

// Store backends.
const (
	BackendElasticsearch = "elasticsearch"
	BackendInfluxDB      = "influxdb"
	BackendPostgres      = "postgres"
)

// Config materialises application configuration.
type Config struct {
	App        AppConfig        `mapstructure:"app"`
	Logging    logging.Config   `mapstructure:"logging"`
	Store      StoreConfig      `mapstructure:"store"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Analysis   AnalysisConfig   `mapstructure:"analysis"`
	Thresholds ThresholdsConfig `mapstructure:"thresholds"`
	Report     ReportConfig     `mapstructure:"report"`
	Alerting   AlertingConfig   `mapstructure:"alerting"`
	Scheduler  SchedulerConfig  `mapstructure:"scheduler"`
	Export     ExportConfig     `mapstructure:"export"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// StoreConfig selects and configures the metric store backend.
type StoreConfig struct {
	Backend       string              `mapstructure:"backend"`
	MaxDocuments  int                 `mapstructure:"max_documents"`
	MetricType    string              `mapstructure:"metric_type"`
	Elasticsearch ElasticsearchConfig `mapstructure:"elasticsearch"`
	InfluxDB      InfluxDBConfig      `mapstructure:"influxdb"`
}

// ElasticsearchConfig covers the run-report index.
type ElasticsearchConfig struct {
	Addresses      []string      `mapstructure:"addresses"`
	Index          string        `mapstructure:"index"`
	Username       string        `mapstructure:"username"`
	Password       string        `mapstructure:"password"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// InfluxDBConfig covers the InfluxDB v2 bucket holding measurements.
type InfluxDBConfig struct {
	URL            string        `mapstructure:"url"`
	Token          string        `mapstructure:"token"`
	Org            string        `mapstructure:"org"`
	Bucket         string        `mapstructure:"bucket"`
	Measurement    string        `mapstructure:"measurement"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// DatabaseConfig encapsulates PostgreSQL connectivity.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// AnalysisConfig tunes the trend engine.
type AnalysisConfig struct {
	Days               int               `mapstructure:"days"`
	Window             int               `mapstructure:"window"`
	Algorithm          string            `mapstructure:"algorithm"`
	Beta               float64           `mapstructure:"beta"`
	TrendNormalization string            `mapstructure:"trend_normalization"`
	SustainedVariant   string            `mapstructure:"sustained_variant"`
	Exclusions         []ExclusionConfig `mapstructure:"exclusions"`
}

// ExclusionConfig names one unstable metric (or metric family) to skip.
type ExclusionConfig struct {
	Match string `mapstructure:"match"`
	Value string `mapstructure:"value"`
}

// ThresholdsConfig holds the pass/fail limits in percent.
type ThresholdsConfig struct {
	InstantPct   float64 `mapstructure:"instant_pct"`
	SustainedPct float64 `mapstructure:"sustained_pct"`
}

// ReportConfig controls the JUnit output.
type ReportConfig struct {
	OutputDir string `mapstructure:"output_dir"`
	MergeFile string `mapstructure:"merge_file"`
	Persist   bool   `mapstructure:"persist"`

	// Retention prunes persisted runs older than this after each insert;
	// zero keeps everything.
	Retention time.Duration `mapstructure:"retention"`
}

// AlertingConfig defines regression notification routing.
type AlertingConfig struct {
	Enabled       bool                `mapstructure:"enabled"`
	BuildURL      string              `mapstructure:"build_url"`
	Timeout       time.Duration       `mapstructure:"timeout"`
	Slack         SlackConfig         `mapstructure:"slack"`
	Targetprocess TargetprocessConfig `mapstructure:"targetprocess"`
}

// SlackConfig describes the Slack notification service.
type SlackConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	WebhookURL string `mapstructure:"webhook_url"`
	Channel    string `mapstructure:"channel"`
	Username   string `mapstructure:"username"`
}

// TargetprocessConfig describes the bug tracker.
type TargetprocessConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	URL     string `mapstructure:"url"`
	Token   string `mapstructure:"token"`
	Project string `mapstructure:"project"`
	Tags    string `mapstructure:"tags"`
}

// SchedulerConfig governs the watch cadence.
type SchedulerConfig struct {
	Interval        time.Duration `mapstructure:"interval"`
	AlignToBucket   bool          `mapstructure:"align_to_bucket"`
	AdvisoryLockKey int64         `mapstructure:"advisory_lock_key"`
	StartupDelay    time.Duration `mapstructure:"startup_delay"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxDataPoints int `mapstructure:"max_data_points"`
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("PERFTREND")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "perftrend")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stderr")

	v.SetDefault("store.backend", BackendElasticsearch)
	v.SetDefault("store.max_documents", 50000)
	v.SetDefault("store.metric_type", "http_metric")
	v.SetDefault("store.elasticsearch.addresses", []string{"http://localhost:9200"})
	v.SetDefault("store.elasticsearch.index", "performance_tests_run_reports")
	v.SetDefault("store.elasticsearch.request_timeout", "60s")
	v.SetDefault("store.influxdb.url", "http://localhost:8086")
	v.SetDefault("store.influxdb.bucket", "performance_tests")
	v.SetDefault("store.influxdb.measurement", "run_reports")
	v.SetDefault("store.influxdb.request_timeout", "60s")

	v.SetDefault("database.max_open_conns", 4)
	v.SetDefault("database.max_idle_conns", 1)
	v.SetDefault("database.conn_max_lifetime", "30m")

	v.SetDefault("analysis.days", 20)
	v.SetDefault("analysis.window", 10)
	v.SetDefault("analysis.algorithm", string(smoothing.AlgorithmEMA))
	v.SetDefault("analysis.beta", 0.3)
	v.SetDefault("analysis.trend_normalization", string(trend.NormalizeFirst))
	v.SetDefault("analysis.sustained_variant", string(trend.VariantWindowMin))

	v.SetDefault("thresholds.instant_pct", 3.0)
	v.SetDefault("thresholds.sustained_pct", 15.0)

	v.SetDefault("report.output_dir", ".results")
	v.SetDefault("report.persist", false)
	v.SetDefault("report.retention", "0s")

	v.SetDefault("alerting.enabled", false)
	v.SetDefault("alerting.timeout", "10s")
	v.SetDefault("alerting.slack.enabled", false)
	v.SetDefault("alerting.slack.username", "Targetprocess")
	v.SetDefault("alerting.targetprocess.enabled", false)
	v.SetDefault("alerting.targetprocess.project", "TP3")
	v.SetDefault("alerting.targetprocess.tags", "maintenance")

	v.SetDefault("scheduler.interval", "24h")
	v.SetDefault("scheduler.align_to_bucket", true)
	v.SetDefault("scheduler.advisory_lock_key", int64(0x70657266))
	v.SetDefault("scheduler.startup_delay", "0s")

	v.SetDefault("export.max_data_points", 5000)
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

// Validate performs sanity checks on the configuration values. Nothing is
// coerced: every violation is reported as ErrInvalid.
func (c *Config) Validate() error {
	if c.Analysis.Days <= 0 {
		return invalid("analysis.days must be greater than zero")
	}
	if c.Analysis.Window <= 0 {
		return invalid("analysis.window must be greater than zero")
	}
	if _, err := smoothing.ParseAlgorithm(c.Analysis.Algorithm); err != nil {
		return invalid("analysis.algorithm: %v", err)
	}
	if c.Analysis.Beta <= 0 || c.Analysis.Beta > 1 {
		return invalid("analysis.beta must be in (0, 1]")
	}
	if _, err := trend.ParseNormalization(c.Analysis.TrendNormalization); err != nil {
		return invalid("analysis.trend_normalization: %v", err)
	}
	if _, err := trend.ParseVariant(c.Analysis.SustainedVariant); err != nil {
		return invalid("analysis.sustained_variant: %v", err)
	}
	for i, ex := range c.Analysis.Exclusions {
		switch strings.ToLower(ex.Match) {
		case "equals", "prefix":
		default:
			return invalid("analysis.exclusions[%d].match must be equals or prefix", i)
		}
		if ex.Value == "" {
			return invalid("analysis.exclusions[%d].value must not be empty", i)
		}
	}
	if c.Thresholds.InstantPct < 0 {
		return invalid("thresholds.instant_pct cannot be negative")
	}
	if c.Thresholds.SustainedPct < 0 {
		return invalid("thresholds.sustained_pct cannot be negative")
	}
	if c.Store.MaxDocuments <= 0 {
		return invalid("store.max_documents must be greater than zero")
	}
	switch c.Store.Backend {
	case BackendElasticsearch:
		if len(c.Store.Elasticsearch.Addresses) == 0 {
			return invalid("store.elasticsearch.addresses must be configured")
		}
		if c.Store.Elasticsearch.Index == "" {
			return invalid("store.elasticsearch.index must be configured")
		}
	case BackendInfluxDB:
		if c.Store.InfluxDB.URL == "" || c.Store.InfluxDB.Bucket == "" {
			return invalid("store.influxdb.url and store.influxdb.bucket must be configured")
		}
	case BackendPostgres:
		if c.Database.DSN == "" {
			return invalid("database.dsn is required for the postgres store backend")
		}
	default:
		return invalid("store.backend %q is not supported", c.Store.Backend)
	}
	if c.Report.OutputDir == "" {
		return invalid("report.output_dir must not be empty")
	}
	if c.Report.Retention < 0 {
		return invalid("report.retention cannot be negative")
	}
	if c.Report.Persist && c.Database.DSN == "" {
		return invalid("report.persist requires database.dsn")
	}
	if c.Scheduler.Interval <= 0 {
		return invalid("scheduler.interval must be greater than zero")
	}
	if c.Export.MaxDataPoints <= 0 {
		return invalid("export.max_data_points must be greater than zero")
	}
	if c.Alerting.Slack.Enabled {
		if c.Alerting.Slack.WebhookURL == "" {
			return invalid("alerting.slack.webhook_url must be configured")
		}
		if c.Alerting.Slack.Channel == "" {
			return invalid("alerting.slack.channel must be configured")
		}
	}
	if c.Alerting.Targetprocess.Enabled {
		if c.Alerting.Targetprocess.URL == "" {
			return invalid("alerting.targetprocess.url must be configured")
		}
		if c.Alerting.Targetprocess.Token == "" {
			return invalid("alerting.targetprocess.token must be configured")
		}
	}
	return nil
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalid, fmt.Sprintf(format, args...))
}

// ResolveMaxPoints returns either the CLI override or config default.
func (c *Config) ResolveMaxPoints(override int) int {
	if override > 0 {
		return override
	}
	return c.Export.MaxDataPoints
}
