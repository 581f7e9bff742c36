package confidence

import (
	"fmt"
	"math"
	"strconv"

	"github.com/chainpulse/chainpulse/internal/config"
	"github.com/chainpulse/chainpulse/internal/signal"
)

// Level is a confidence band
type Level string

const (
	LevelLow    Level = "LOW"
	LevelMedium Level = "MEDIUM"
	LevelHigh   Level = "HIGH"
)

// Factors are the pure inputs to confidence scoring, each in [0,1]
type Factors struct {
	SignalStrength     float64
	HistoricalAccuracy float64
	DataQuality        float64
}

// Score is the derived confidence result. Recomputed per signal, never
// stored standalone; its fields are folded into the insight on publish.
type Score struct {
	Score          float64
	Level          Level
	Factors        Factors
	ShouldPublish  bool
	SuppressReason string // empty when publishable
}

// Required numeric metadata fields per signal type, checked by DataQuality
var requiredNumericFields = map[signal.Type][]string{
	signal.TypeMempool:    {"avg_fee_rate", "change_24h"},
	signal.TypeExchange:   {"inflow", "outflow", "z_score"},
	signal.TypeMiner:      {"balance", "balance_delta", "z_score"},
	signal.TypeWhale:      {"balance", "daily_change", "z_score"},
	signal.TypePredictive: {"prediction", "current_value"},
}

// Scorer computes confidence scores and evaluates suppression rules
type Scorer struct {
	cfg *config.Config
}

// NewScorer creates a new confidence scorer
func NewScorer(cfg *config.Config) *Scorer {
	return &Scorer{cfg: cfg}
}

// Calculate produces a confidence score from the three factors. The weights
// are fixed so that a HIGH score requires all three factors to be high. An
// anomalous signal takes a fixed penalty and is never publishable,
// regardless of the resulting score.
func (s *Scorer) Calculate(f Factors, isAnomaly bool) Score {
	f.SignalStrength = clamp01(f.SignalStrength)
	f.HistoricalAccuracy = clamp01(f.HistoricalAccuracy)
	f.DataQuality = clamp01(f.DataQuality)

	score := s.cfg.StrengthWeight*f.SignalStrength +
		s.cfg.AccuracyWeight*f.HistoricalAccuracy +
		s.cfg.QualityWeight*f.DataQuality

	if isAnomaly {
		score -= s.cfg.AnomalyPenalty
	}
	score = clamp01(score)

	level := s.levelFor(score)

	result := Score{
		Score:         score,
		Level:         level,
		Factors:       f,
		ShouldPublish: level != LevelLow,
	}

	if isAnomaly {
		result.ShouldPublish = false
		result.SuppressReason = "anomaly"
	} else if level == LevelLow {
		result.SuppressReason = "low_confidence"
	}

	return result
}

func (s *Scorer) levelFor(score float64) Level {
	switch {
	case score >= s.cfg.HighBand:
		return LevelHigh
	case score >= s.cfg.MediumBand:
		return LevelMedium
	default:
		return LevelLow
	}
}

// DataQuality starts at 1.0 and deducts a fixed amount for each missing
// required numeric metadata field, and for an empty transaction-id evidence
// list on flow signals. Never below 0.
func (s *Scorer) DataQuality(sig *signal.Signal) float64 {
	quality := 1.0

	fields := map[string]string{}
	if sig.Metadata != nil {
		fields = sig.Metadata.PromptFields()
	}

	for _, name := range requiredNumericFields[sig.Type] {
		raw, ok := fields[name]
		if !ok {
			quality -= s.cfg.DataQualityDeduction
			continue
		}
		if _, err := strconv.ParseFloat(raw, 64); err != nil {
			quality -= s.cfg.DataQualityDeduction
		}
	}

	if sig.Type == signal.TypeExchange && len(sig.TransactionIDs) == 0 {
		quality -= s.cfg.DataQualityDeduction
	}

	if quality < 0 {
		return 0
	}
	return quality
}

// DetectQuietMode returns true when publication should be suppressed due to
// extreme volatility (a type-specific change magnitude beyond the extreme
// threshold combined with an anomaly or std-dev flag) or a chain
// reorganization at the signal's block height. Quiet mode overrides
// ShouldPublish independent of score.
func (s *Scorer) DetectQuietMode(sig *signal.Signal, reorgAtHeight bool) (bool, string) {
	if reorgAtHeight {
		return true, fmt.Sprintf("reorg detected at block height %d", sig.BlockHeight)
	}

	change, flagged := changeAndFlag(sig)
	if math.Abs(change) > s.cfg.QuietModeExtremeChange && flagged {
		return true, fmt.Sprintf("extreme volatility: 24h change %.1f%% with anomaly flag", change)
	}

	return false, ""
}

// Suppress applies the quiet-mode override to an already-computed score
func Suppress(score Score, reason string) Score {
	score.ShouldPublish = false
	score.SuppressReason = reason
	return score
}

func changeAndFlag(sig *signal.Signal) (float64, bool) {
	switch md := sig.Metadata.(type) {
	case signal.MempoolMetadata:
		return md.Change24h, sig.IsAnomaly || md.IsSpike
	case signal.ExchangeMetadata:
		return md.Change24h, sig.IsAnomaly
	case signal.MinerMetadata:
		return md.Change24h, sig.IsAnomaly
	default:
		var change float64
		if sig.Metadata != nil {
			if raw, ok := sig.Metadata.PromptFields()["change_24h"]; ok {
				change, _ = strconv.ParseFloat(raw, 64)
			}
		}
		return change, sig.IsAnomaly
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
