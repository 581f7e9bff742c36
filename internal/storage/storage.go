package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/chainpulse/chainpulse/internal/config"
	"github.com/chainpulse/chainpulse/internal/insight"
	"github.com/chainpulse/chainpulse/internal/metrics"
	"github.com/chainpulse/chainpulse/internal/signal"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// DB wraps the GORM database connection
type DB struct {
	conn *gorm.DB
	log  *logrus.Logger
}

// New creates a new database connection with GORM
func New(cfg *config.Config, log *logrus.Logger) (*DB, error) {
	gormLogger := logger.New(
		&gormLogAdapter{log: log},
		logger.Config{
			SlowThreshold:             200 * time.Millisecond,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)

	conn, err := gorm.Open(mysql.Open(cfg.DatabaseDSN), &gorm.Config{
		Logger: gormLogger,
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	sqlDB, err := conn.DB()
	if err != nil {
		return nil, fmt.Errorf("get sql.DB: %w", err)
	}

	sqlDB.SetMaxOpenConns(cfg.DatabaseMaxConns)
	sqlDB.SetMaxIdleConns(cfg.DatabaseMaxConns / 2)
	sqlDB.SetConnMaxIdleTime(cfg.DatabaseMaxIdleTime)

	// Verify connection; an unreachable store at startup is fatal
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := sqlDB.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	log.Info("Database connection established")

	return &DB{conn: conn, log: log}, nil
}

// Close closes the database connection
func (db *DB) Close() error {
	sqlDB, err := db.conn.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// AutoMigrate runs GORM auto-migration (for development only)
func (db *DB) AutoMigrate() error {
	return db.conn.AutoMigrate(
		&AppState{},
		&SignalRecord{},
		&InsightRecord{},
		&InsightSignalRef{},
		&PredictionRecord{},
		&AccuracyFeedback{},
		&ReorgMark{},
	)
}

// GetState retrieves a state value by key
func (db *DB) GetState(ctx context.Context, key string) (string, error) {
	var state AppState
	result := db.conn.WithContext(ctx).Where("state_key = ?", key).First(&state)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return "", nil
	}
	if result.Error != nil {
		return "", result.Error
	}
	return state.StateValue, nil
}

// SetState sets a state value
func (db *DB) SetState(ctx context.Context, key, value string) error {
	state := AppState{
		StateKey:   key,
		StateValue: value,
		UpdatedTS:  time.Now().Unix(),
	}
	return db.conn.WithContext(ctx).Save(&state).Error
}

// InsertSignal persists a signal. A signal that already exists (backfill
// rerun, overlapping ingest cycles; ids are deterministic) is a no-op.
func (db *DB) InsertSignal(ctx context.Context, sig *signal.Signal) error {
	start := time.Now()
	rec, err := signalToRecord(sig)
	if err != nil {
		return err
	}

	result := db.conn.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(rec)
	metrics.RecordDatabaseQuery("insert_signal", time.Since(start), result.Error)
	return result.Error
}

// GetUnprocessedSignals selects signals where processed = false, oldest
// first, up to limit
func (db *DB) GetUnprocessedSignals(ctx context.Context, limit int) ([]*signal.Signal, error) {
	start := time.Now()
	var recs []SignalRecord
	result := db.conn.WithContext(ctx).
		Where("processed = ?", false).
		Order("created_ts ASC, signal_id ASC").
		Limit(limit).
		Find(&recs)
	metrics.RecordDatabaseQuery("get_unprocessed_signals", time.Since(start), result.Error)
	if result.Error != nil {
		return nil, result.Error
	}

	signals := make([]*signal.Signal, 0, len(recs))
	for i := range recs {
		sig, err := recordToSignal(&recs[i])
		if err != nil {
			db.log.WithError(err).WithField("signal_id", recs[i].SignalID).Warn("Skipping undecodable signal")
			continue
		}
		signals = append(signals, sig)
	}
	return signals, nil
}

// MarkSignalProcessed flips processed to true with a single conditional
// update. A signal already marked by a racing poller is a no-op: the call
// still succeeds and reports marked=false.
func (db *DB) MarkSignalProcessed(ctx context.Context, signalID string) (bool, error) {
	start := time.Now()
	result := db.conn.WithContext(ctx).
		Model(&SignalRecord{}).
		Where("signal_id = ? AND processed = ?", signalID, false).
		Update("processed", true)
	metrics.RecordDatabaseQuery("mark_signal_processed", time.Since(start), result.Error)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// MarkSignalsProcessedBatch marks a batch of signals processed and returns
// how many rows actually transitioned
func (db *DB) MarkSignalsProcessedBatch(ctx context.Context, signalIDs []string) (int64, error) {
	if len(signalIDs) == 0 {
		return 0, nil
	}
	start := time.Now()
	result := db.conn.WithContext(ctx).
		Model(&SignalRecord{}).
		Where("signal_id IN ? AND processed = ?", signalIDs, false).
		Update("processed", true)
	metrics.RecordDatabaseQuery("mark_signals_batch", time.Since(start), result.Error)
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}

// GetUnprocessedSignalCount is a read-only monitoring query
func (db *DB) GetUnprocessedSignalCount(ctx context.Context) (int64, error) {
	var count int64
	result := db.conn.WithContext(ctx).
		Model(&SignalRecord{}).
		Where("processed = ?", false).
		Count(&count)
	return count, result.Error
}

// GetStaleSignals returns signals unprocessed longer than maxAge, used for
// alerting rather than control flow
func (db *DB) GetStaleSignals(ctx context.Context, maxAge time.Duration) ([]*signal.Signal, error) {
	cutoff := time.Now().Add(-maxAge).Unix()
	var recs []SignalRecord
	result := db.conn.WithContext(ctx).
		Where("processed = ? AND created_ts < ?", false, cutoff).
		Order("created_ts ASC").
		Find(&recs)
	if result.Error != nil {
		return nil, result.Error
	}

	signals := make([]*signal.Signal, 0, len(recs))
	for i := range recs {
		sig, err := recordToSignal(&recs[i])
		if err != nil {
			continue
		}
		signals = append(signals, sig)
	}
	return signals, nil
}

// HasInsightForSignal checks whether an insight already references a signal
func (db *DB) HasInsightForSignal(ctx context.Context, signalID string) (bool, error) {
	var count int64
	result := db.conn.WithContext(ctx).
		Model(&InsightSignalRef{}).
		Where("signal_id = ?", signalID).
		Count(&count)
	if result.Error != nil {
		return false, result.Error
	}
	return count > 0, nil
}

// SaveInsight persists an insight together with its signal references in
// one transaction. The refs' primary key enforces the no-double-insight
// invariant: if a racing generator already claimed any of the signals the
// whole transaction rolls back with ErrDuplicateInsight.
func (db *DB) SaveInsight(ctx context.Context, ins *insight.Insight, signalIDs []string) error {
	rec, err := insightToRecord(ins)
	if err != nil {
		return err
	}

	start := time.Now()
	err = db.conn.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(rec).Error; err != nil {
			return fmt.Errorf("insert insight: %w", err)
		}

		now := time.Now().Unix()
		refs := make([]InsightSignalRef, 0, len(signalIDs))
		for _, id := range signalIDs {
			refs = append(refs, InsightSignalRef{SignalID: id, InsightID: rec.ID, CreatedTS: now})
		}

		result := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&refs)
		if result.Error != nil {
			return fmt.Errorf("insert signal refs: %w", result.Error)
		}
		if result.RowsAffected < int64(len(refs)) {
			return insight.ErrDuplicateInsight
		}
		return nil
	})
	metrics.RecordDatabaseQuery("save_insight", time.Since(start), err)
	if err != nil {
		return err
	}

	ins.ID = rec.ID
	return nil
}

// GetInsightByID retrieves one insight
func (db *DB) GetInsightByID(ctx context.Context, id int64) (*insight.Insight, error) {
	var rec InsightRecord
	result := db.conn.WithContext(ctx).Where("id = ?", id).First(&rec)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if result.Error != nil {
		return nil, result.Error
	}
	return recordToInsight(&rec)
}

// GetRecentInsights retrieves the most recently created insights
func (db *DB) GetRecentInsights(ctx context.Context, limit int) ([]*insight.Insight, error) {
	var recs []InsightRecord
	result := db.conn.WithContext(ctx).
		Order("created_ts DESC").
		Limit(limit).
		Find(&recs)
	if result.Error != nil {
		return nil, result.Error
	}
	return recordsToInsights(recs)
}

// GetInsightsByMinConfidence retrieves recent insights at or above a
// confidence floor
func (db *DB) GetInsightsByMinConfidence(ctx context.Context, min float64, limit int) ([]*insight.Insight, error) {
	var recs []InsightRecord
	result := db.conn.WithContext(ctx).
		Where("confidence >= ?", min).
		Order("created_ts DESC").
		Limit(limit).
		Find(&recs)
	if result.Error != nil {
		return nil, result.Error
	}
	return recordsToInsights(recs)
}

func recordsToInsights(recs []InsightRecord) ([]*insight.Insight, error) {
	insights := make([]*insight.Insight, 0, len(recs))
	for i := range recs {
		ins, err := recordToInsight(&recs[i])
		if err != nil {
			return nil, err
		}
		insights = append(insights, ins)
	}
	return insights, nil
}

// InsertAccuracyFeedback appends a post-hoc feedback record for an insight
func (db *DB) InsertAccuracyFeedback(ctx context.Context, fb *AccuracyFeedback) error {
	return db.conn.WithContext(ctx).Create(fb).Error
}

// HasAccuracyFeedback reports whether an insight already carries a
// feedback record
func (db *DB) HasAccuracyFeedback(ctx context.Context, insightID int64) (bool, error) {
	var count int64
	err := db.conn.WithContext(ctx).
		Model(&AccuracyFeedback{}).
		Where("insight_id = ?", insightID).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("count accuracy feedback: %w", err)
	}
	return count > 0, nil
}

// InsertPrediction stores a prediction for later accuracy scoring
func (db *DB) InsertPrediction(ctx context.Context, rec *PredictionRecord) error {
	return db.conn.WithContext(ctx).Create(rec).Error
}

// GetUnresolvedPredictions returns predictions whose target height has been
// reached and which have not yet been scored
func (db *DB) GetUnresolvedPredictions(ctx context.Context, upToHeight int64) ([]PredictionRecord, error) {
	var recs []PredictionRecord
	result := db.conn.WithContext(ctx).
		Where("resolved = ? AND target_height <= ?", false, upToHeight).
		Order("target_height ASC").
		Find(&recs)
	return recs, result.Error
}

// ResolvePrediction records the observed actual value and accuracy score
func (db *DB) ResolvePrediction(ctx context.Context, id int64, actual, accuracy float64) error {
	return db.conn.WithContext(ctx).
		Model(&PredictionRecord{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"actual":      actual,
			"accuracy":    accuracy,
			"resolved":    true,
			"resolved_ts": time.Now().Unix(),
		}).Error
}

// GetAverageAccuracy averages realized accuracy for a prediction kind over
// the most recent resolved predictions. Returns found=false when nothing
// has been resolved yet, so callers fall back to the configured default.
func (db *DB) GetAverageAccuracy(ctx context.Context, kind string, limit int) (float64, bool, error) {
	var recs []PredictionRecord
	result := db.conn.WithContext(ctx).
		Where("kind = ? AND resolved = ?", kind, true).
		Order("resolved_ts DESC").
		Limit(limit).
		Find(&recs)
	if result.Error != nil {
		return 0, false, result.Error
	}
	if len(recs) == 0 {
		return 0, false, nil
	}

	var sum float64
	for _, rec := range recs {
		if rec.Accuracy != nil {
			sum += *rec.Accuracy
		}
	}
	return sum / float64(len(recs)), true, nil
}

// MarkReorg records a detected chain reorganization at a block height
func (db *DB) MarkReorg(ctx context.Context, blockHeight int64) error {
	mark := ReorgMark{BlockHeight: blockHeight, DetectedTS: time.Now().Unix()}
	return db.conn.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&mark).Error
}

// HasReorgAtHeight checks whether a reorg was recorded at a block height
func (db *DB) HasReorgAtHeight(ctx context.Context, blockHeight int64) (bool, error) {
	var count int64
	result := db.conn.WithContext(ctx).
		Model(&ReorgMark{}).
		Where("block_height = ?", blockHeight).
		Count(&count)
	if result.Error != nil {
		return false, result.Error
	}
	return count > 0, nil
}

// gormLogAdapter adapts logrus to GORM's logger interface
type gormLogAdapter struct {
	log *logrus.Logger
}

func (l *gormLogAdapter) Printf(format string, args ...interface{}) {
	l.log.Debugf(format, args...)
}
