package signal

import (
	"math"
	"time"

	"github.com/chainpulse/chainpulse/internal/chain"
	"github.com/chainpulse/chainpulse/internal/config"
)

// Streak length at which the streak component of whale strength saturates
const whaleStreakSaturation = 7

// Weighting between streak length and current-period change in whale strength
const (
	whaleStreakWeight = 0.6
	whaleChangeWeight = 0.4
)

// WhaleProcessor converts whale address activity snapshots into signals
type WhaleProcessor struct {
	cfg *config.Config
}

// NewWhaleProcessor creates a new whale activity processor
func NewWhaleProcessor(cfg *config.Config) *WhaleProcessor {
	return &WhaleProcessor{cfg: cfg}
}

// AccumulationStreak counts consecutive periods ending at current whose
// daily change has the same sign as the current change. Zero-change periods
// break the streak.
func AccumulationStreak(current *chain.AddressActivity, history []*chain.AddressActivity) int {
	if current.DailyChange == 0 {
		return 0
	}

	streak := 1
	sign := current.DailyChange > 0
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].DailyChange == 0 || (history[i].DailyChange > 0) != sign {
			break
		}
		streak++
	}
	return streak
}

// Process converts one address activity snapshot plus multi-day history
// into a signal. Strength weights streak length and the current-period
// change magnitude.
func (p *WhaleProcessor) Process(current *chain.AddressActivity, history []*chain.AddressActivity) *Signal {
	var histChanges []float64
	for _, h := range history {
		histChanges = append(histChanges, h.DailyChange)
	}

	z := zScore(current.DailyChange, histChanges)
	streak := AccumulationStreak(current, history)

	isAnomaly := math.Abs(z) > p.cfg.AnomalyZScoreCutoff

	var anomalyType string
	if isAnomaly {
		if current.DailyChange > 0 {
			anomalyType = "accumulation_streak"
		} else {
			anomalyType = "distribution_streak"
		}
	}

	streakFrac := clamp01(float64(streak) / whaleStreakSaturation)
	changeFrac := clamp01(math.Abs(z) / (2 * p.cfg.AnomalyZScoreCutoff))
	strength := clamp01(whaleStreakWeight*streakFrac + whaleChangeWeight*changeFrac)

	return &Signal{
		ID:          NewID(TypeWhale, current.BlockHeight, current.Address),
		Type:        TypeWhale,
		BlockHeight: current.BlockHeight,
		Timestamp:   current.Timestamp,
		Strength:    strength,
		IsAnomaly:   isAnomaly,
		Metadata: WhaleMetadata{
			Address:     current.Address,
			Balance:     current.Balance,
			DailyChange: current.DailyChange,
			StreakDays:  streak,
			ZScore:      z,
			AnomalyType: anomalyType,
		},
		EntityIDs: []string{current.Address},
		CreatedAt: time.Now().UTC(),
	}
}
