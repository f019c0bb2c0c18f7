package main

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	_ "github.com/microsoft/go-mssqldb"

	"github.com/renalreg/timeline-sync/internal/audit"
	"github.com/renalreg/timeline-sync/internal/config"
	"github.com/renalreg/timeline-sync/internal/db"
	"github.com/renalreg/timeline-sync/internal/pipeline"
	"github.com/renalreg/timeline-sync/internal/reconcile"
	"github.com/renalreg/timeline-sync/internal/resilience"
	"github.com/renalreg/timeline-sync/internal/runlog"
	"github.com/renalreg/timeline-sync/internal/source"
	"github.com/renalreg/timeline-sync/internal/store"
)

// pipelineEnv holds the connections behind a constructed pipeline. Snapshot
// replays leave the UKRDC and registry handles nil.
type pipelineEnv struct {
	Radar    *pgxpool.Pool
	UKRDC    *pgxpool.Pool
	Registry *sql.DB
	Runs     *runlog.Log
	Sources  pipeline.Extractor
	Pipeline *pipeline.Pipeline
}

// Close releases the connections held by the environment.
func (pe *pipelineEnv) Close() {
	if pe.Registry != nil {
		_ = pe.Registry.Close()
	}
	if pe.UKRDC != nil {
		pe.UKRDC.Close()
	}
	if pe.Radar != nil {
		pe.Radar.Close()
	}
}

// initPipeline connects the stores and builds the pipeline. Callers should
// defer env.Close(). Replay runs skip the UKRDC and registry connections;
// the radar pool is still needed for the run log and the writes.
func initPipeline(ctx context.Context, opts pipeline.Options) (*pipelineEnv, error) {
	pool, err := radarPool(ctx)
	if err != nil {
		return nil, err
	}
	env := &pipelineEnv{Radar: pool, Runs: runlog.New(pool)}

	var (
		radarSrc    pipeline.RadarSource
		ukrdcSrc    pipeline.UKRDCSource
		registrySrc pipeline.RegistrySource
	)
	if opts.SnapshotPath == "" {
		radarSrc = source.NewRadar(pool, opts.Patients, zap.L())

		ukrdcPool, err := pgPool(ctx, "ukrdc", cfg.UKRDC.DatabaseURL)
		if err != nil {
			env.Close()
			return nil, err
		}
		env.UKRDC = ukrdcPool
		ukrdcSrc = source.NewUKRDC(ukrdcPool, zap.L())

		rrDB, err := registryDB(ctx)
		if err != nil {
			env.Close()
			return nil, err
		}
		env.Registry = rrDB
		limiter := rate.NewLimiter(rate.Limit(cfg.RR.QueriesPerSecond), cfg.RR.Burst)
		registrySrc = source.NewRR(rrDB, limiter, zap.L())

		env.Sources = pipeline.Extractor{
			Radar:    radarSrc,
			UKRDC:    ukrdcSrc,
			Registry: registrySrc,
			Log:      zap.L(),
		}
	}

	prof, err := loadProfile()
	if err != nil {
		env.Close()
		return nil, err
	}

	env.Pipeline = pipeline.New(radarSrc, ukrdcSrc, registrySrc, env.Runs,
		writerFactory(pool), recorderFactory(), prof, retryFromConfig(cfg.Retry), opts)
	return env, nil
}

func radarPool(ctx context.Context) (*pgxpool.Pool, error) {
	return pgPool(ctx, "radar", cfg.Radar.DatabaseURL)
}

// pgPool opens a pinged postgres pool for the named store.
func pgPool(ctx context.Context, name, dsn string) (*pgxpool.Pool, error) {
	if dsn == "" {
		return nil, eris.Errorf("%s: no database_url configured (set TIMELINE_%s_DATABASE_URL)",
			name, strings.ToUpper(name))
	}
	pool, err := db.Connect(ctx, dsn)
	if err != nil {
		return nil, eris.Wrapf(err, "%s: connect", name)
	}
	return pool, nil
}

// registryDB opens the UK Renal Registry SQL Server connection.
func registryDB(ctx context.Context) (*sql.DB, error) {
	if cfg.RR.DatabaseURL == "" {
		return nil, eris.New("rr: no database_url configured (set TIMELINE_RR_DATABASE_URL)")
	}
	sqlDB, err := sql.Open("sqlserver", cfg.RR.DatabaseURL)
	if err != nil {
		return nil, eris.Wrap(err, "rr: open connection")
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, eris.Wrap(err, "rr: ping database")
	}
	return sqlDB, nil
}

func writerFactory(pool db.Pool) pipeline.WriterFactory {
	return func(wcfg store.Config) pipeline.EpisodeWriter {
		return store.NewWriter(pool, wcfg, zap.L())
	}
}

// recorderFactory returns xlsx workbook recorders, or no-ops when auditing
// is off.
func recorderFactory() pipeline.RecorderFactory {
	if runNoAudit || !cfg.Audit.Enabled {
		return func(string, uuid.UUID) (audit.Recorder, error) {
			return audit.NopRecorder{}, nil
		}
	}
	dir := cfg.Audit.Dir
	return func(name string, runID uuid.UUID) (audit.Recorder, error) {
		return audit.NewWorkbookRecorder(dir, name, runID)
	}
}

// loadProfile resolves the reconciliation profile: flag over config file
// over code defaults.
func loadProfile() (reconcile.Profile, error) {
	path := runProfile
	if path == "" {
		path = cfg.Profile.Path
	}
	if path == "" {
		return reconcile.DefaultProfile(), nil
	}
	return reconcile.LoadProfile(path)
}

// retryFromConfig maps the config millisecond fields onto the retry policy.
func retryFromConfig(rc config.RetryConfig) resilience.RetryConfig {
	return resilience.RetryConfig{
		MaxAttempts:    rc.MaxAttempts,
		InitialBackoff: time.Duration(rc.InitialBackoffMs) * time.Millisecond,
		MaxBackoff:     time.Duration(rc.MaxBackoffMs) * time.Millisecond,
		Multiplier:     rc.Multiplier,
		JitterFraction: rc.JitterFraction,
	}
}
