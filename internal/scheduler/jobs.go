package scheduler

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// Recalculator rebuilds derived models for every active symbol.
type Recalculator interface {
	RecalculateAll(ctx context.Context) error
}

// RecalcAllJob refreshes every symbol's models nightly so regression fits
// and time-spent bands track newly ingested history.
type RecalcAllJob struct {
	service Recalculator
	timeout time.Duration
	log     zerolog.Logger
}

// NewRecalcAllJob creates the nightly recalculation job.
func NewRecalcAllJob(service Recalculator, timeout time.Duration, log zerolog.Logger) *RecalcAllJob {
	return &RecalcAllJob{
		service: service,
		timeout: timeout,
		log:     log.With().Str("job", "recalc_all").Logger(),
	}
}

// Name returns the job name.
func (j *RecalcAllJob) Name() string { return "recalc_all" }

// Run executes the full recalculation sweep.
func (j *RecalcAllJob) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
	defer cancel()
	return j.service.RecalculateAll(ctx)
}

// HistoryRecorder appends today's risk values to the daily history.
type HistoryRecorder interface {
	RecordToday(ctx context.Context) error
}

// HistoryRecordJob captures one daily risk observation per active symbol
// ahead of the nightly recalculation.
type HistoryRecordJob struct {
	recorder HistoryRecorder
	timeout  time.Duration
	log      zerolog.Logger
}

// NewHistoryRecordJob creates the daily history recording job.
func NewHistoryRecordJob(recorder HistoryRecorder, timeout time.Duration, log zerolog.Logger) *HistoryRecordJob {
	return &HistoryRecordJob{
		recorder: recorder,
		timeout:  timeout,
		log:      log.With().Str("job", "history_record").Logger(),
	}
}

// Name returns the job name.
func (j *HistoryRecordJob) Name() string { return "history_record" }

// Run records today's risk values.
func (j *HistoryRecordJob) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
	defer cancel()
	return j.recorder.RecordToday(ctx)
}

// CachePruner removes expired cache entries.
type CachePruner interface {
	Prune() (int64, error)
}

// CachePruneJob keeps cache.db from accumulating dead rows.
type CachePruneJob struct {
	cache CachePruner
	log   zerolog.Logger
}

// NewCachePruneJob creates the hourly cache prune job.
func NewCachePruneJob(cache CachePruner, log zerolog.Logger) *CachePruneJob {
	return &CachePruneJob{
		cache: cache,
		log:   log.With().Str("job", "cache_prune").Logger(),
	}
}

// Name returns the job name.
func (j *CachePruneJob) Name() string { return "cache_prune" }

// Run deletes expired cache entries.
func (j *CachePruneJob) Run() error {
	pruned, err := j.cache.Prune()
	if err != nil {
		return err
	}
	if pruned > 0 {
		j.log.Info().Int64("pruned", pruned).Msg("Expired cache entries removed")
	}
	return nil
}

// IntegrityCheckJob runs SQLite integrity checks and passive WAL
// checkpoints across all engine databases.
type IntegrityCheckJob struct {
	databases map[string]*sql.DB
	log       zerolog.Logger
}

// NewIntegrityCheckJob creates the database integrity job.
func NewIntegrityCheckJob(databases map[string]*sql.DB, log zerolog.Logger) *IntegrityCheckJob {
	return &IntegrityCheckJob{
		databases: databases,
		log:       log.With().Str("job", "integrity_check").Logger(),
	}
}

// Name returns the job name.
func (j *IntegrityCheckJob) Name() string { return "integrity_check" }

// Run verifies every database and checkpoints its WAL.
func (j *IntegrityCheckJob) Run() error {
	for name, db := range j.databases {
		if db == nil {
			continue
		}

		var result string
		if err := db.QueryRow("PRAGMA integrity_check").Scan(&result); err != nil {
			return fmt.Errorf("integrity check on %s failed: %w", name, err)
		}
		if result != "ok" {
			return fmt.Errorf("database %s is corrupted: %s", name, result)
		}

		var busy, walFrames, checkpointed int
		err := db.QueryRow("PRAGMA wal_checkpoint(PASSIVE)").Scan(&busy, &walFrames, &checkpointed)
		if err != nil {
			j.log.Warn().Err(err).Str("database", name).Msg("Failed to checkpoint WAL")
			continue
		}
		if walFrames > 1000 {
			j.log.Warn().
				Str("database", name).
				Int("wal_frames", walFrames).
				Int("checkpointed", checkpointed).
				Msg("WAL file is large")
		}
	}
	return nil
}

// BackupRunner uploads database backups to remote storage.
type BackupRunner interface {
	BackupAll(ctx context.Context) error
}

// BackupJob triggers the daily remote backup.
type BackupJob struct {
	runner  BackupRunner
	timeout time.Duration
	log     zerolog.Logger
}

// NewBackupJob creates the daily backup job.
func NewBackupJob(runner BackupRunner, timeout time.Duration, log zerolog.Logger) *BackupJob {
	return &BackupJob{
		runner:  runner,
		timeout: timeout,
		log:     log.With().Str("job", "backup").Logger(),
	}
}

// Name returns the job name.
func (j *BackupJob) Name() string { return "backup" }

// Run performs the backup.
func (j *BackupJob) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
	defer cancel()
	return j.runner.BackupAll(ctx)
}
