package storage

import (
	"time"

	"gorm.io/gorm"
)

// AppState stores application state for checkpointing
type AppState struct {
	StateKey   string `gorm:"primaryKey;size:64"`
	StateValue string `gorm:"type:text;not null"`
	UpdatedTS  int64  `gorm:"not null;index"`
}

func (AppState) TableName() string {
	return "app_state"
}

// SignalRecord persists a generated signal. The processed flag is the only
// mutable column and only ever flips false to true.
type SignalRecord struct {
	SignalID       string   `gorm:"primaryKey;size:64"`
	SignalType     string   `gorm:"size:16;not null;index:idx_signals_type_height"`
	BlockHeight    int64    `gorm:"not null;index:idx_signals_type_height"`
	TimestampSec   int64    `gorm:"not null;index"`
	Strength       float64  `gorm:"type:decimal(5,4);not null"`
	IsAnomaly      bool     `gorm:"not null;default:false"`
	IsPredictive   bool     `gorm:"not null;default:false"`
	IntervalLower  *float64 `gorm:"type:decimal(20,6)"`
	IntervalUpper  *float64 `gorm:"type:decimal(20,6)"`
	Metadata       string   `gorm:"type:text"` // JSON, shape keyed by signal_type
	EntityIDs      string   `gorm:"type:text"` // JSON array
	TransactionIDs string   `gorm:"type:text"` // JSON array, bounded
	Processed      bool     `gorm:"not null;default:false;index:idx_signals_unprocessed"`
	CreatedTS      int64    `gorm:"not null;index:idx_signals_unprocessed"`
}

func (SignalRecord) TableName() string {
	return "signals"
}

// InsightRecord persists a published insight
type InsightRecord struct {
	ID             int64   `gorm:"primaryKey;autoIncrement"`
	SignalType     string  `gorm:"size:16;not null;index"`
	Headline       string  `gorm:"size:128;not null"`
	Summary        string  `gorm:"type:text;not null"`
	Confidence     float64 `gorm:"type:decimal(5,4);not null;index"`
	TimestampSec   int64   `gorm:"not null;index"`
	BlockHeight    int64   `gorm:"not null;index"`
	Evidence       string  `gorm:"type:text"` // JSON array of citations
	ChartURL       string  `gorm:"size:512"`
	Tags           string  `gorm:"type:text"` // JSON array
	IsPredictive   bool    `gorm:"not null;default:false"`
	PredictionKind string  `gorm:"size:32"`
	Explainability string  `gorm:"type:text"` // JSON
	CreatedTS      int64   `gorm:"not null;index"`
}

func (InsightRecord) TableName() string {
	return "insights"
}

// InsightSignalRef maps an underlying signal to the insight that consumed
// it. The signal_id primary key is what makes insight generation
// idempotent: the loser of a duplicate-generation race hits the key
// conflict and backs off.
type InsightSignalRef struct {
	SignalID  string `gorm:"primaryKey;size:64"`
	InsightID int64  `gorm:"not null;index"`
	CreatedTS int64  `gorm:"not null"`
}

func (InsightSignalRef) TableName() string {
	return "insight_signal_refs"
}

// PredictionRecord tracks stored predictions so realized accuracy can be
// scored once the actual value is observed
type PredictionRecord struct {
	ID           int64    `gorm:"primaryKey;autoIncrement"`
	Kind         string   `gorm:"size:32;not null;index:idx_predictions_kind_resolved"`
	BlockHeight  int64    `gorm:"not null"`
	TargetHeight int64    `gorm:"not null;index"`
	Predicted    float64  `gorm:"type:decimal(20,6);not null"`
	Actual       *float64 `gorm:"type:decimal(20,6)"`
	Accuracy     *float64 `gorm:"type:decimal(5,4)"`
	Resolved     bool     `gorm:"not null;default:false;index:idx_predictions_kind_resolved"`
	CreatedTS    int64    `gorm:"not null"`
	ResolvedTS   int64    `gorm:"default:0"`
}

func (PredictionRecord) TableName() string {
	return "prediction_records"
}

// AccuracyFeedback is an append-only feedback record attached to an
// insight by downstream consumers
type AccuracyFeedback struct {
	ID        int64   `gorm:"primaryKey;autoIncrement"`
	InsightID int64   `gorm:"not null;index"`
	Score     float64 `gorm:"type:decimal(5,4);not null"`
	Note      string  `gorm:"size:512"`
	CreatedTS int64   `gorm:"not null"`
}

func (AccuracyFeedback) TableName() string {
	return "accuracy_feedback"
}

// ReorgMark records a detected chain reorganization; quiet mode consults
// these by block height
type ReorgMark struct {
	BlockHeight int64 `gorm:"primaryKey"`
	DetectedTS  int64 `gorm:"not null;index"`
}

func (ReorgMark) TableName() string {
	return "reorg_marks"
}

// BeforeCreate hooks for timestamps
func (a *AppState) BeforeCreate(tx *gorm.DB) error {
	if a.UpdatedTS == 0 {
		a.UpdatedTS = time.Now().Unix()
	}
	return nil
}

func (s *SignalRecord) BeforeCreate(tx *gorm.DB) error {
	if s.CreatedTS == 0 {
		s.CreatedTS = time.Now().Unix()
	}
	return nil
}

func (i *InsightRecord) BeforeCreate(tx *gorm.DB) error {
	if i.CreatedTS == 0 {
		i.CreatedTS = time.Now().Unix()
	}
	return nil
}

func (r *InsightSignalRef) BeforeCreate(tx *gorm.DB) error {
	if r.CreatedTS == 0 {
		r.CreatedTS = time.Now().Unix()
	}
	return nil
}

func (p *PredictionRecord) BeforeCreate(tx *gorm.DB) error {
	if p.CreatedTS == 0 {
		p.CreatedTS = time.Now().Unix()
	}
	return nil
}

func (f *AccuracyFeedback) BeforeCreate(tx *gorm.DB) error {
	if f.CreatedTS == 0 {
		f.CreatedTS = time.Now().Unix()
	}
	return nil
}

func (r *ReorgMark) BeforeCreate(tx *gorm.DB) error {
	if r.DetectedTS == 0 {
		r.DetectedTS = time.Now().Unix()
	}
	return nil
}
