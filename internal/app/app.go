package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"

	"perf-trend-alerts/internal/alerting"
	"perf-trend-alerts/internal/analysis"
	"perf-trend-alerts/internal/config"
	"perf-trend-alerts/internal/metricstore"
	"perf-trend-alerts/internal/storage"
	"perf-trend-alerts/internal/version"
)

// ErrRegressionFound is returned by Analyze when asked to fail on a failed
// verdict.
var ErrRegressionFound = errors.New("performance regression found")

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
	// Out receives tabular command output.
	Out io.Writer

	openSource func(ctx context.Context, store *storage.Store) (metricstore.Source, func(), error)
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	a := &App{
		Config: cfg,
		Logger: logger.With().Str("component", "app").Logger(),
		Out:    os.Stdout,
	}
	a.openSource = a.newSource
	return a
}

// newSource builds the configured metric store. The postgres backend reads
// the measurements mirrored by backfill and needs an open store.
func (a *App) newSource(ctx context.Context, store *storage.Store) (metricstore.Source, func(), error) {
	cfg := a.Config.Store
	switch cfg.Backend {
	case config.BackendElasticsearch:
		es, err := metricstore.NewElastic(metricstore.ElasticOptions{
			Addresses:    cfg.Elasticsearch.Addresses,
			Index:        cfg.Elasticsearch.Index,
			Username:     cfg.Elasticsearch.Username,
			Password:     cfg.Elasticsearch.Password,
			MaxDocuments: cfg.MaxDocuments,
			Timeout:      cfg.Elasticsearch.RequestTimeout,
		}, a.Logger)
		if err != nil {
			return nil, nil, err
		}
		return es, func() {}, nil
	case config.BackendInfluxDB:
		influx, err := metricstore.NewInflux(metricstore.InfluxOptions{
			URL:          cfg.InfluxDB.URL,
			Token:        cfg.InfluxDB.Token,
			Org:          cfg.InfluxDB.Org,
			Bucket:       cfg.InfluxDB.Bucket,
			Measurement:  cfg.InfluxDB.Measurement,
			MaxDocuments: cfg.MaxDocuments,
			Timeout:      cfg.InfluxDB.RequestTimeout,
		}, a.Logger)
		if err != nil {
			return nil, nil, err
		}
		return influx, influx.Close, nil
	case config.BackendPostgres:
		if store == nil {
			return nil, nil, errors.New("store.backend postgres requires database.dsn")
		}
		return metricstore.NewPostgres(store, cfg.MaxDocuments, a.Logger), func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}
}

func (a *App) newAnalyzer(source metricstore.Source) (*analysis.Analyzer, error) {
	opts, err := analysis.OptionsFromConfig(a.Config)
	if err != nil {
		return nil, err
	}
	return analysis.New(source, opts, a.Logger)
}

// newNotifier returns the enabled notifiers, or nil when none is.
func (a *App) newNotifier() alerting.Notifier {
	cfg := a.Config.Alerting
	var notifiers alerting.Multi
	if cfg.Slack.Enabled {
		notifiers = append(notifiers, alerting.NewSlackNotifier(cfg.Slack.WebhookURL, cfg.Slack.Channel, cfg.Slack.Username, cfg.Timeout, a.Logger))
	}
	if cfg.Targetprocess.Enabled {
		tp := cfg.Targetprocess
		notifiers = append(notifiers, alerting.NewTargetprocessNotifier(tp.URL, tp.Token, tp.Project, tp.Tags, cfg.Timeout, a.Logger))
	}
	switch len(notifiers) {
	case 0:
		return nil
	case 1:
		return notifiers[0]
	default:
		return notifiers
	}
}

// openStore returns a nil store when no database is configured.
func (a *App) openStore(ctx context.Context) (*storage.Store, func(), error) {
	if a.Config.Database.DSN == "" {
		return nil, nil, nil
	}

	pool, err := storage.NewPool(ctx, a.Config.Database, a.applicationName())
	if err != nil {
		return nil, nil, err
	}

	store := storage.NewStore(pool)
	if err := store.Migrate(ctx); err != nil {
		store.Close()
		return nil, nil, err
	}
	closer := func() {
		store.Close()
	}
	return store, closer, nil
}

func (a *App) applicationName() string {
	name := a.Config.App.Name
	if name == "" {
		name = "perftrend"
	}
	return name + "/" + version.Version
}

// AnalyzeOptions configure one analysis run.
type AnalyzeOptions struct {
	OutputDir        string
	MergeFile        string
	Persist          bool
	Notify           bool
	FailOnRegression bool
}

// ExportOptions select one series to export.
type ExportOptions struct {
	Branch    string
	Metric    string
	PNGPath   string
	CSVPath   string
	MaxPoints int
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Limit      int
	FailedOnly bool
}

// BackfillOptions configure the backfill job.
type BackfillOptions struct {
	Days   int
	DryRun bool
}

// NotifyOptions configure notification from a written report.
type NotifyOptions struct {
	ReportPath string
	BuildURL   string
}
