// Package di wires the application object graph: databases, repositories,
// clients, services, and background jobs.
package di

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/riskline/internal/clients/calibration"
	"github.com/aristath/riskline/internal/clients/pricesource"
	"github.com/aristath/riskline/internal/config"
	"github.com/aristath/riskline/internal/database"
	"github.com/aristath/riskline/internal/modules/assessment"
	"github.com/aristath/riskline/internal/modules/matrix"
	"github.com/aristath/riskline/internal/modules/regression"
	"github.com/aristath/riskline/internal/modules/timespent"
	"github.com/aristath/riskline/internal/modules/universe"
	"github.com/aristath/riskline/internal/reliability"
	"github.com/aristath/riskline/internal/scheduler"
	"github.com/aristath/riskline/internal/work"
)

// Job schedules. Heavy work runs in the small hours; rotation and backup
// are staggered so they never overlap the recalculation sweep.
const (
	scheduleHistory    = "0 2 * * *"
	scheduleRecalcAll  = "0 3 * * *"
	scheduleBackup     = "30 4 * * *"
	scheduleIntegrity  = "0 5 * * *"
	scheduleCachePrune = "@hourly"

	historyTimeout = 10 * time.Minute
	recalcTimeout  = 30 * time.Minute
	backupTimeout  = 15 * time.Minute
)

// Container holds the wired application graph.
type Container struct {
	Config *config.Config
	Log    zerolog.Logger

	UniverseDB *database.DB
	LedgerDB   *database.DB
	HistoryDB  *database.DB
	CacheDB    *database.DB

	SymbolRepo     *universe.SymbolRepository
	OverrideRepo   *universe.OverrideRepository
	MatrixRepo     *matrix.Repository
	RegressionRepo *regression.Repository
	BandsRepo      *timespent.Repository
	HistoryRepo    *timespent.HistoryRepository

	Cache *work.Cache

	PriceStream *pricesource.Stream // nil when no websocket URL is configured
	PriceClient *pricesource.Client

	SnapshotStore *assessment.SnapshotStore
	Recalc        *work.RecalcService
	Assessments   *assessment.Service
	Bounds        *universe.BoundsService
	Recorder      *work.HistoryRecorder

	Backup    *reliability.BackupService // nil when backups are not configured
	Scheduler *scheduler.Scheduler
}

// New builds the full object graph. The context bounds external client
// initialization, not the container's lifetime.
func New(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*Container, error) {
	c := &Container{Config: cfg, Log: log}

	if err := c.initDatabases(); err != nil {
		return nil, err
	}
	c.initRepositories()
	c.initClients()
	c.initServices()
	if err := c.initBackup(ctx); err != nil {
		return nil, err
	}
	if err := c.initScheduler(); err != nil {
		return nil, err
	}

	return c, nil
}

// initDatabases opens and migrates the four engine databases.
func (c *Container) initDatabases() error {
	open := func(name string, profile database.DatabaseProfile) (*database.DB, error) {
		db, err := database.New(database.Config{
			Path:    filepath.Join(c.Config.DataDir, name+".db"),
			Profile: profile,
			Name:    name,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to open %s database: %w", name, err)
		}
		if err := db.Migrate(); err != nil {
			return nil, fmt.Errorf("failed to migrate %s database: %w", name, err)
		}
		return db, nil
	}

	var err error
	if c.UniverseDB, err = open("universe", database.ProfileStandard); err != nil {
		return err
	}
	if c.LedgerDB, err = open("ledger", database.ProfileLedger); err != nil {
		return err
	}
	if c.HistoryDB, err = open("history", database.ProfileStandard); err != nil {
		return err
	}
	if c.CacheDB, err = open("cache", database.ProfileCache); err != nil {
		return err
	}
	return nil
}

func (c *Container) initRepositories() {
	c.SymbolRepo = universe.NewSymbolRepository(c.UniverseDB.Conn(), c.Log)
	c.OverrideRepo = universe.NewOverrideRepository(c.LedgerDB.Conn(), c.Log)
	c.MatrixRepo = matrix.NewRepository(c.UniverseDB.Conn(), c.Log)
	c.RegressionRepo = regression.NewRepository(c.UniverseDB.Conn(), c.Log)
	c.BandsRepo = timespent.NewRepository(c.HistoryDB.Conn(), c.Log)
	c.HistoryRepo = timespent.NewHistoryRepository(c.HistoryDB.Conn(), c.Log)
	c.Cache = work.NewCache(c.CacheDB.Conn())
}

func (c *Container) initClients() {
	if c.Config.PriceSourceWSURL != "" {
		c.PriceStream = pricesource.NewStream(c.Config.PriceSourceWSURL, c.Log)
	}
	c.PriceClient = pricesource.NewClient(
		c.Config.PriceSourceURL,
		c.Config.PriceSourceTimeout,
		c.PriceStream,
		c.Log,
	)
}

func (c *Container) initServices() {
	c.SnapshotStore = assessment.NewSnapshotStore()

	// The calibration authority is optional; without it, matrices are
	// whatever was last persisted.
	var calibrationSource work.CalibrationSource
	if c.Config.CalibrationURL != "" {
		calibrationSource = calibration.NewClient(c.Config.CalibrationURL, c.Log)
	}

	c.Recalc = work.NewRecalcService(
		c.SymbolRepo,
		c.MatrixRepo,
		c.RegressionRepo,
		regression.NewFitter(),
		c.HistoryRepo,
		c.BandsRepo,
		timespent.NewAnalyzer(nil),
		c.SnapshotStore,
		c.Cache,
		calibrationSource,
		c.Log,
	)

	c.Assessments = assessment.NewService(
		c.SnapshotStore,
		c.Recalc,
		c.PriceClient,
		c.Cache,
		c.HistoryRepo,
		nil,
		c.Config.AssessmentCacheTTL,
		c.Config.BatchWorkers,
		c.Log,
	)

	c.Bounds = universe.NewBoundsService(c.SymbolRepo, c.OverrideRepo, c.Recalc, c.Log)
	c.Recorder = work.NewHistoryRecorder(c.SymbolRepo, c.HistoryRepo, c.Assessments, c.Log)
}

// initBackup wires the S3 backup service when a bucket is configured.
func (c *Container) initBackup(ctx context.Context) error {
	backupCfg := c.Config.Backup
	if backupCfg == nil {
		c.Log.Info().Msg("Backups not configured, skipping")
		return nil
	}

	store, err := reliability.NewS3Client(
		ctx,
		backupCfg.Endpoint,
		backupCfg.Region,
		backupCfg.AccessKeyID,
		backupCfg.SecretAccessKey,
		backupCfg.Bucket,
		c.Log,
	)
	if err != nil {
		return fmt.Errorf("failed to initialize backup storage: %w", err)
	}

	c.Backup = reliability.NewBackupService(
		c.databaseConns(),
		c.Config.DataDir,
		store,
		backupCfg.Retention,
		c.Log,
	)
	return nil
}

// initScheduler registers the background jobs.
func (c *Container) initScheduler() error {
	c.Scheduler = scheduler.New(c.Log)

	jobs := []struct {
		schedule string
		job      scheduler.Job
	}{
		{scheduleHistory, scheduler.NewHistoryRecordJob(c.Recorder, historyTimeout, c.Log)},
		{scheduleRecalcAll, scheduler.NewRecalcAllJob(c.Recalc, recalcTimeout, c.Log)},
		{scheduleCachePrune, scheduler.NewCachePruneJob(c.Cache, c.Log)},
		{scheduleIntegrity, scheduler.NewIntegrityCheckJob(c.databaseConns(), c.Log)},
	}
	if c.Backup != nil {
		jobs = append(jobs, struct {
			schedule string
			job      scheduler.Job
		}{scheduleBackup, scheduler.NewBackupJob(c.Backup, backupTimeout, c.Log)})
	}

	for _, j := range jobs {
		if err := c.Scheduler.AddJob(j.schedule, j.job); err != nil {
			return fmt.Errorf("failed to register job %s: %w", j.job.Name(), err)
		}
	}
	return nil
}

func (c *Container) databaseConns() map[string]*sql.DB {
	return map[string]*sql.DB{
		"universe": c.UniverseDB.Conn(),
		"ledger":   c.LedgerDB.Conn(),
		"history":  c.HistoryDB.Conn(),
		"cache":    c.CacheDB.Conn(),
	}
}

// Close releases the container's resources. Safe to call on a partially
// initialized container.
func (c *Container) Close() {
	for _, db := range []*database.DB{c.CacheDB, c.HistoryDB, c.LedgerDB, c.UniverseDB} {
		if db == nil {
			continue
		}
		if err := db.Close(); err != nil {
			c.Log.Error().Err(err).Str("database", db.Name()).Msg("Failed to close database")
		}
	}
}
