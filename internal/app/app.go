// Package app wires configuration, data providers, strategies, the
// backtest orchestrator and result storage together.
package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/newthinker/quantsim/internal/backtest"
	"github.com/newthinker/quantsim/internal/collector"
	"github.com/newthinker/quantsim/internal/collector/csvfile"
	"github.com/newthinker/quantsim/internal/collector/parquetfile"
	"github.com/newthinker/quantsim/internal/collector/yahoo"
	"github.com/newthinker/quantsim/internal/config"
	"github.com/newthinker/quantsim/internal/core"
	"github.com/newthinker/quantsim/internal/metrics"
	"github.com/newthinker/quantsim/internal/notifier"
	"github.com/newthinker/quantsim/internal/notifier/email"
	"github.com/newthinker/quantsim/internal/notifier/telegram"
	"github.com/newthinker/quantsim/internal/notifier/webhook"
	"github.com/newthinker/quantsim/internal/storage/archive"
	"github.com/newthinker/quantsim/internal/storage/runindex"
	"github.com/newthinker/quantsim/internal/strategy"
	"github.com/newthinker/quantsim/internal/strategy/catalog"
)

// App is the main application orchestrator
type App struct {
	cfg          *config.Config
	logger       *zap.Logger
	metrics      *metrics.Registry
	providers    *collector.Registry
	provider     collector.Provider
	orchestrator *backtest.Orchestrator
	notifiers    *notifier.Registry

	// Optional persistence, nil when disabled
	archiver *archive.Archiver
	index    *runindex.Index

	now func() time.Time
}

// NewProviders registers every bar provider, configured from cfg
func NewProviders(cfg config.DataConfig) *collector.Registry {
	r := collector.NewRegistry()
	r.Register(csvfile.New(cfg.Dir))
	r.Register(parquetfile.New(cfg.Dir))
	r.Register(yahoo.New(collector.Config{BaseURL: cfg.BaseURL, Timeout: cfg.Timeout}))
	return r
}

// NewStorage builds the archive backend selected by cfg. It returns nil when
// archiving is disabled.
func NewStorage(cfg config.ArchiveConfig) (archive.Storage, error) {
	switch cfg.Type {
	case "", "none":
		return nil, nil
	case "localfs":
		return archive.NewLocalFS(cfg.Path)
	case "s3":
		return archive.NewS3(archive.S3Config{
			Bucket:    cfg.S3.Bucket,
			Endpoint:  cfg.S3.Endpoint,
			Region:    cfg.S3.Region,
			AccessKey: cfg.S3.AccessKey,
			SecretKey: cfg.S3.SecretKey,
			Prefix:    cfg.S3.Prefix,
		})
	default:
		return nil, core.Errorf(core.ErrConfigInvalid, "unknown archive type %q", cfg.Type)
	}
}

// NewNotifiers registers the notifiers enabled in cfg
func NewNotifiers(cfg config.NotifyConfig) (*notifier.Registry, error) {
	r := notifier.NewRegistry()
	if cfg.Webhook.URL != "" {
		if err := r.Register(webhook.New(cfg.Webhook.URL, cfg.Webhook.Headers)); err != nil {
			return nil, err
		}
	}
	if cfg.Telegram.BotToken != "" {
		if err := r.Register(telegram.New(cfg.Telegram.BotToken, cfg.Telegram.ChatID)); err != nil {
			return nil, err
		}
	}
	if cfg.Email.Host != "" {
		mailer, err := email.New(email.Config{
			Host:     cfg.Email.Host,
			Port:     cfg.Email.Port,
			Username: cfg.Email.Username,
			Password: cfg.Email.Password,
			From:     cfg.Email.From,
			To:       cfg.Email.To,
		})
		if err != nil {
			return nil, err
		}
		if err := r.Register(mailer); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// New creates a new App instance. Close releases the run index.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	providers := NewProviders(cfg.Data)
	provider, ok := providers.Get(cfg.Data.Provider)
	if !ok {
		return nil, core.Errorf(core.ErrConfigInvalid, "unknown data provider %q", cfg.Data.Provider)
	}

	notifiers, err := NewNotifiers(cfg.Notify)
	if err != nil {
		return nil, err
	}

	reg := metrics.NewRegistry()
	orchestrator := backtest.New(backtest.WithLogger(logger), backtest.WithRecorder(reg))

	a := &App{
		cfg:          cfg,
		logger:       logger,
		metrics:      reg,
		providers:    providers,
		provider:     provider,
		orchestrator: orchestrator,
		notifiers:    notifiers,
		now:          func() time.Time { return time.Now().UTC() },
	}

	store, err := NewStorage(cfg.Storage.Archive)
	if err != nil {
		return nil, err
	}
	if store != nil {
		a.archiver = archive.NewArchiver(store, logger)
	}

	if cfg.Storage.IndexPath != "" {
		idx, err := runindex.Open(ctx, cfg.Storage.IndexPath)
		if err != nil {
			return nil, fmt.Errorf("opening run index: %w", err)
		}
		a.index = idx
	}

	logger.Debug("app initialized",
		zap.String("provider", provider.Name()),
		zap.String("archive", cfg.Storage.Archive.Type),
		zap.Bool("index", a.index != nil),
		zap.Strings("notifiers", notifiers.Names()),
	)
	return a, nil
}

// Close flushes metrics and closes the run index.
func (a *App) Close() error {
	var errs []error
	if a.cfg.Metrics.Enabled && a.cfg.Metrics.TextfilePath != "" {
		if err := a.metrics.WriteTextfile(a.cfg.Metrics.TextfilePath); err != nil {
			errs = append(errs, fmt.Errorf("writing metrics: %w", err))
		}
	}
	if a.index != nil {
		if err := a.index.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Config returns the validated configuration.
func (a *App) Config() *config.Config {
	return a.cfg
}

// Provider returns the configured bar provider.
func (a *App) Provider() collector.Provider {
	return a.provider
}

// Providers returns the names of every available bar provider.
func (a *App) Providers() []string {
	return a.providers.Names()
}

// Metrics returns the metrics registry.
func (a *App) Metrics() *metrics.Registry {
	return a.metrics
}

// LoadBars fetches and normalizes bars for the configured symbols and window
func (a *App) LoadBars(ctx context.Context) (map[string][]core.Bar, error) {
	return a.LoadBarsFor(ctx, nil, time.Time{}, time.Time{})
}

// LoadBarsFor is LoadBars over explicit symbols and bounds. Empty symbols and
// zero bounds fall back to the data section; a missing end means now.
func (a *App) LoadBarsFor(ctx context.Context, symbols []string, start, end time.Time) (map[string][]core.Bar, error) {
	cfgStart, cfgEnd, err := a.cfg.Data.Window()
	if err != nil {
		return nil, err
	}
	if len(symbols) == 0 {
		symbols = a.cfg.Data.Symbols
	}
	if start.IsZero() {
		start = cfgStart
	}
	if end.IsZero() {
		end = cfgEnd
	}
	if end.IsZero() {
		end = a.now()
	}
	if !start.IsZero() && !end.After(start) {
		return nil, core.Errorf(core.ErrConfigInvalid, "end %s must be after start %s",
			end.Format("2006-01-02"), start.Format("2006-01-02"))
	}

	began := time.Now()
	bars, err := collector.FetchAll(ctx, a.provider, symbols, start, end, a.cfg.Data.Parallelism)
	count := 0
	for _, b := range bars {
		count += len(b)
	}
	a.metrics.RecordFetch(a.provider.Name(), count, time.Since(began), err)
	if err != nil {
		return nil, err
	}

	a.logger.Info("bars loaded",
		zap.String("provider", a.provider.Name()),
		zap.Int("symbols", len(bars)),
		zap.Int("bars", count),
	)
	return bars, nil
}

// engine builds a strategy engine holding the given configurations, keyed by display name
func (a *App) engine(entries ...config.StrategyConfig) (*strategy.Engine, error) {
	e := strategy.NewEngine(a.logger)
	for _, sc := range entries {
		s, err := catalog.Lookup(sc.Name, sc.Params)
		if err != nil {
			return nil, err
		}
		if _, dup := e.Get(sc.DisplayName()); dup {
			return nil, core.Errorf(core.ErrConfigInvalid, "strategy %q configured twice", sc.DisplayName())
		}
		e.Register(sc.DisplayName(), s)
	}
	return e, nil
}

// Signals generates the per-symbol signal streams of one strategy
// configuration without running a backtest.
func (a *App) Signals(ctx context.Context, sc config.StrategyConfig, bars map[string][]core.Bar) (map[string][]core.SignalEvent, error) {
	e, err := a.engine(sc)
	if err != nil {
		return nil, err
	}
	label := sc.DisplayName()

	signals, err := e.Signals(ctx, label, bars)
	if err != nil {
		return nil, err
	}
	a.metrics.RecordSignals(label, countSignals(signals))
	return signals, nil
}

// SaveBars writes one file per symbol into dir in the given format (csv or
// parquet) and returns the written paths in symbol order. The files can be
// read back by the provider of the same name.
func SaveBars(dir, format string, bars map[string][]core.Bar) ([]string, error) {
	symbols := make([]string, 0, len(bars))
	for sym := range bars {
		symbols = append(symbols, sym)
	}
	sort.Strings(symbols)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	paths := make([]string, 0, len(symbols))
	for _, sym := range symbols {
		var path string
		switch format {
		case "csv":
			path = csvfile.New(dir).Path(sym)
			if err := writeCSV(path, bars[sym]); err != nil {
				return paths, fmt.Errorf("writing %s: %w", path, err)
			}
		case "parquet":
			p := parquetfile.New(dir)
			path = p.Path(sym)
			if err := p.WriteBars(sym, bars[sym]); err != nil {
				return paths, fmt.Errorf("writing %s: %w", path, err)
			}
		default:
			return nil, core.Errorf(core.ErrConfigInvalid, "output format must be csv or parquet, got %q", format)
		}
		paths = append(paths, path)
	}
	return paths, nil
}

func writeCSV(path string, bars []core.Bar) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := csvfile.Write(f, bars); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// Backtest generates signals for one strategy and runs it over bars. The
// completed result is archived and indexed when storage is configured.
func (a *App) Backtest(ctx context.Context, sc config.StrategyConfig, bars map[string][]core.Bar) (*backtest.Result, error) {
	signals, err := a.Signals(ctx, sc, bars)
	if err != nil {
		return nil, err
	}
	label := sc.DisplayName()

	res, err := a.orchestrator.Run(ctx, backtest.Input{
		Strategy: label,
		Bars:     bars,
		Signals:  signals,
	}, a.cfg.Backtest.Settings())
	if err != nil {
		var failed *backtest.FailedRun
		if errors.As(err, &failed) {
			a.logger.Warn("backtest failed",
				zap.String("strategy", label),
				zap.Time("at", failed.At),
				zap.Int("trades", len(failed.Trades)),
				zap.Error(failed.Err),
			)
		}
		return nil, err
	}

	rec, err := a.persist(ctx, res)
	if err != nil {
		return res, err
	}
	a.notify(ctx, notifier.NewReport(rec.ID, rec.Path, res))
	return res, nil
}

// Compare runs several strategy configurations over the same bars in
// parallel. A failed run is reported in its BatchResult and does not stop
// the others.
func (a *App) Compare(ctx context.Context, entries []config.StrategyConfig, bars map[string][]core.Bar) ([]backtest.BatchResult, error) {
	if len(entries) == 0 {
		return nil, core.Errorf(core.ErrConfigMissing, "no strategies to compare")
	}
	e, err := a.engine(entries...)
	if err != nil {
		return nil, err
	}

	all, err := e.SignalsAll(ctx, bars)
	if err != nil {
		return nil, err
	}

	settings := a.cfg.Backtest.Settings()
	jobs := make([]backtest.Job, 0, len(entries))
	for _, sc := range entries {
		label := sc.DisplayName()
		signals := all[label]
		a.metrics.RecordSignals(label, countSignals(signals))
		jobs = append(jobs, backtest.Job{
			Name:     label,
			Input:    backtest.Input{Strategy: label, Bars: bars, Signals: signals},
			Settings: settings,
		})
	}

	results, err := a.orchestrator.RunBatch(ctx, jobs, a.cfg.Backtest.Parallelism)
	if err != nil {
		return nil, err
	}
	var reports []notifier.Report
	for _, r := range results {
		if r.Err != nil {
			continue
		}
		rec, err := a.persist(ctx, r.Result)
		if err != nil {
			return results, err
		}
		reports = append(reports, notifier.NewReport(rec.ID, rec.Path, r.Result))
	}
	a.notify(ctx, reports...)
	return results, nil
}

// notify sends reports to every configured notifier. Delivery failures are
// logged and never fail the run.
func (a *App) notify(ctx context.Context, reports ...notifier.Report) {
	for name, err := range a.notifiers.NotifyAll(ctx, reports...) {
		a.logger.Warn("notification failed", zap.String("notifier", name), zap.Error(err))
	}
}

// persist archives res and records it in the run index. Either step is
// skipped when its storage is not configured.
func (a *App) persist(ctx context.Context, res *backtest.Result) (archive.Record, error) {
	var rec archive.Record
	if a.archiver != nil {
		saved, err := a.archiver.Save(ctx, res)
		if err != nil {
			return rec, err
		}
		rec = saved
	} else {
		rec = archive.Record{ID: uuid.NewString(), Strategy: res.Strategy, SavedAt: a.now()}
	}

	if a.index != nil {
		if err := a.index.SaveRun(ctx, rec, res); err != nil {
			return rec, fmt.Errorf("indexing run %s: %w", rec.ID, err)
		}
	}
	if a.archiver != nil || a.index != nil {
		a.logger.Info("run stored",
			zap.String("id", rec.ID),
			zap.String("strategy", rec.Strategy),
			zap.String("path", rec.Path),
		)
	}
	return rec, nil
}

// Runs lists indexed runs, newest first.
func (a *App) Runs(ctx context.Context, f runindex.Filter) ([]runindex.RunSummary, error) {
	if a.index == nil {
		return nil, core.Errorf(core.ErrConfigMissing, "storage.index_path is not configured")
	}
	return a.index.ListRuns(ctx, f)
}

// Trades returns the trade log of an indexed run.
func (a *App) Trades(ctx context.Context, runID string) ([]runindex.TradeRow, error) {
	if a.index == nil {
		return nil, core.Errorf(core.ErrConfigMissing, "storage.index_path is not configured")
	}
	return a.index.Trades(ctx, runID)
}

// LoadRun reads an archived run back.
func (a *App) LoadRun(ctx context.Context, path string) (archive.Record, *backtest.Result, error) {
	if a.archiver == nil {
		return archive.Record{}, nil, core.Errorf(core.ErrConfigMissing, "storage.archive is not configured")
	}
	return a.archiver.Load(ctx, path)
}

// ArchivedRuns lists archive paths for a strategy, or every run when strategy is empty.
func (a *App) ArchivedRuns(ctx context.Context, strategyName string) ([]string, error) {
	if a.archiver == nil {
		return nil, core.Errorf(core.ErrConfigMissing, "storage.archive is not configured")
	}
	return a.archiver.List(ctx, strategyName)
}

func countSignals(signals map[string][]core.SignalEvent) int {
	n := 0
	for _, events := range signals {
		n += len(events)
	}
	return n
}
